// Copyright 2019 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reftable

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Code classifies a reftable error into one of the five taxonomy
// buckets from the original C library. The numeric values match the
// exit-visible integers of the reference implementation.
type Code int

const (
	// CodeIO covers unexpected failure of a file-system primitive.
	CodeIO Code = -2
	// CodeFormat covers a table or list file that violates the format contract.
	CodeFormat Code = -3
	// CodeNotExist covers a referenced file that is missing.
	CodeNotExist Code = -4
	// CodeLock covers detected concurrent-writer contention.
	CodeLock Code = -5
	// CodeAPI covers caller misuse of the ordering/range contract.
	CodeAPI Code = -6
)

func (c Code) String() string {
	switch c {
	case CodeIO:
		return "io"
	case CodeFormat:
		return "format"
	case CodeNotExist:
		return "not-exist"
	case CodeLock:
		return "lock"
	case CodeAPI:
		return "api"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is the sum type surfaced by every fallible operation in this
// package. It always carries a Code drawn from the taxonomy in
// SPEC_FULL.md §9, and wraps the underlying cause (if any) in Err, so
// that errors.Unwrap, or pkg/errors.Cause applied to Err, recovers the
// original error for diagnostics. Error itself has no Cause method.
type Error struct {
	Code Code
	msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reftable: %s: %s: %v", e.Code, e.msg, e.Err)
	}
	return fmt.Sprintf("reftable: %s: %s", e.Code, e.msg)
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// ExitCode returns the numeric code a C caller of the original library
// would have observed.
func (e *Error) ExitCode() int { return int(e.Code) }

func newErr(code Code, msg string, cause error) *Error {
	var wrapped error
	if cause != nil {
		wrapped = pkgerrors.Wrap(cause, msg)
	}
	return &Error{Code: code, msg: msg, Err: wrapped}
}

func ioErrorf(cause error, format string, args ...interface{}) *Error {
	return newErr(CodeIO, fmt.Sprintf(format, args...), cause)
}

func formatErrorf(cause error, format string, args ...interface{}) *Error {
	return newErr(CodeFormat, fmt.Sprintf(format, args...), cause)
}

func apiErrorf(format string, args ...interface{}) *Error {
	return newErr(CodeAPI, fmt.Sprintf(format, args...), nil)
}

// ErrLockFailure is returned for failed writes that lose a race against
// another writer or compactor. On a failed write the stack is reloaded,
// so the transaction may be retried by the caller.
var ErrLockFailure = newErr(CodeLock, "lock contention", nil)

// ErrNotExist is the sentinel that distinguishes "file genuinely
// missing" from other I/O failures in the reload retry loop.
var ErrNotExist = newErr(CodeNotExist, "file does not exist", nil)

// IsNotExist reports whether err is (or wraps) a CodeNotExist error.
func IsNotExist(err error) bool {
	var e *Error
	return pkgerrors.As(err, &e) && e.Code == CodeNotExist
}

// IsLockFailure reports whether err is (or wraps) a CodeLock error.
func IsLockFailure(err error) bool {
	var e *Error
	return pkgerrors.As(err, &e) && e.Code == CodeLock
}
