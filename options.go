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

const (
	// defaultBlockSize is used when Config.BlockSize is zero.
	defaultBlockSize = 4096
	// defaultRestartInterval is used when Config.RestartInterval is zero.
	defaultRestartInterval = 16
	// maxBlockSize is the hard ceiling from the original write_options
	// contract ("should be less than 2^24").
	maxBlockSize = 1 << 24

	// SHA1Size is the width in bytes of a SHA-1 object id.
	SHA1Size = 20
	// SHA256Size is the width in bytes of a SHA-256 object id.
	SHA256Size = 32
)

// Config controls how a Writer lays out a table, and is threaded
// through a Stack to every table it writes. It corresponds to
// write_options in the original C interface.
type Config struct {
	// Unpadded is carried for interface compatibility with the original
	// write_options. The Writer never pads blocks out to BlockSize, so
	// this flag has no effect.
	Unpadded bool

	// BlockSize is the size, in bytes, of each data block. Must be
	// less than 2^24. Zero means defaultBlockSize.
	BlockSize uint32

	// SkipIndexObjects disables building a SHA1/SHA256 -> ref secondary
	// index. This implementation never builds one regardless (see
	// SPEC_FULL.md §5.6); the flag is preserved for interface compatibility and
	// to silence callers relying on its presence.
	SkipIndexObjects bool

	// RestartInterval controls how often a full (unshared) key is
	// written within a block, trading block size for seek cost. Zero
	// means defaultRestartInterval.
	RestartInterval int

	// HashSize is the width of object ids stored in ref records.
	// Zero means SHA1Size.
	HashSize int
}

// Option mutates a Config; used by the functional-option constructors
// below, following the options pattern used throughout the storage
// engines in the retrieval pack (e.g. aalhour-rockyardkv's options.go).
type Option func(*Config)

// WithBlockSize sets Config.BlockSize.
func WithBlockSize(sz uint32) Option {
	return func(c *Config) { c.BlockSize = sz }
}

// WithUnpadded sets Config.Unpadded.
func WithUnpadded(v bool) Option {
	return func(c *Config) { c.Unpadded = v }
}

// WithRestartInterval sets Config.RestartInterval.
func WithRestartInterval(n int) Option {
	return func(c *Config) { c.RestartInterval = n }
}

// WithSkipIndexObjects sets Config.SkipIndexObjects.
func WithSkipIndexObjects(v bool) Option {
	return func(c *Config) { c.SkipIndexObjects = v }
}

// WithHashSize sets Config.HashSize.
func WithHashSize(n int) Option {
	return func(c *Config) { c.HashSize = n }
}

// NewConfig returns a Config with the defaults applied, as overridden
// by opts.
func NewConfig(opts ...Option) Config {
	c := Config{
		BlockSize:       defaultBlockSize,
		RestartInterval: defaultRestartInterval,
		HashSize:        SHA1Size,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *Config) normalized() Config {
	out := *c
	if out.BlockSize == 0 {
		out.BlockSize = defaultBlockSize
	}
	if out.RestartInterval == 0 {
		out.RestartInterval = defaultRestartInterval
	}
	if out.HashSize == 0 {
		out.HashSize = SHA1Size
	}
	return out
}
