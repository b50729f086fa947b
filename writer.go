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
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
)

const (
	tableMagic      = "RfTb"
	tableVersion    = 1
	fileHeaderSize  = 8
	footerSize      = 84
	blockFrameSize  = 4 // 1 type byte + 3-byte big-endian length
	tableFixedBytes = fileHeaderSize + footerSize
)

// Writer serializes a sorted sequence of RefRecords and LogRecords
// into a single immutable table, implementing the consumed
// writer interface of SPEC_FULL.md §5.6. Unlike the original C
// interface, records are buffered in memory and the whole table is
// emitted on Close; reftable tables are small (one write batch),
// so this trades a little memory for a much simpler implementation.
type Writer struct {
	sink io.Writer
	cfg  Config

	MinUpdateIndex uint64
	MaxUpdateIndex uint64
	limitsSet      bool

	refBlocks [][]byte
	logBlocks [][]byte

	curRefBlock *blockWriter
	curLogBlock *blockWriter
	lastRefKey  string
	lastLogKey  string
	haveLastRef bool
	haveLastLog bool

	closed bool
}

// NewWriter returns a Writer that will serialize into sink once
// Close is called.
func NewWriter(sink io.Writer, cfg *Config) (*Writer, error) {
	c := cfg.normalized()
	if c.BlockSize >= maxBlockSize {
		return nil, apiErrorf("block size %d exceeds maximum %d", c.BlockSize, maxBlockSize)
	}
	return &Writer{
		sink:        sink,
		cfg:         c,
		curRefBlock: newBlockWriter(c.RestartInterval),
		curLogBlock: newBlockWriter(c.RestartInterval),
	}, nil
}

// SetLimits records the [min, max] update-index range this table's
// records will carry. Must be called before the first Add call.
func (w *Writer) SetLimits(min, max uint64) {
	w.MinUpdateIndex = min
	w.MaxUpdateIndex = max
	w.limitsSet = true
}

func (w *Writer) checkOrder(have bool, last, key string) error {
	if have && key <= last {
		return apiErrorf("records must be added in strictly ascending order (got %q after %q)", key, last)
	}
	return nil
}

func (w *Writer) checkIndex(idx uint64) error {
	if !w.limitsSet {
		return apiErrorf("SetLimits must be called before adding records")
	}
	if idx < w.MinUpdateIndex || idx > w.MaxUpdateIndex {
		return apiErrorf("update index %d outside limits [%d, %d]", idx, w.MinUpdateIndex, w.MaxUpdateIndex)
	}
	return nil
}

// AddRef appends a ref record. Records must arrive in ascending
// RefName order and carry an UpdateIndex within the limits set by
// SetLimits, or an *Error with CodeAPI is returned.
func (w *Writer) AddRef(rec *RefRecord) error {
	if err := w.checkOrder(w.haveLastRef, w.lastRefKey, rec.RefName); err != nil {
		return err
	}
	if err := w.checkIndex(rec.UpdateIndex); err != nil {
		return err
	}
	value := encodeRefValue(rec, w.cfg.HashSize)
	w.curRefBlock.add(rec.RefName, value)
	w.lastRefKey, w.haveLastRef = rec.RefName, true

	if w.curRefBlock.estimatedSize() >= int(w.cfg.BlockSize) {
		w.flushRefBlock()
	}
	return nil
}

// AddLog appends a log record. Records must arrive in ascending
// RefName order and carry an UpdateIndex within the limits set by
// SetLimits, or an *Error with CodeAPI is returned.
func (w *Writer) AddLog(rec *LogRecord) error {
	if err := w.checkOrder(w.haveLastLog, w.lastLogKey, rec.RefName); err != nil {
		return err
	}
	if err := w.checkIndex(rec.UpdateIndex); err != nil {
		return err
	}
	value := encodeLogValue(rec, w.cfg.HashSize)
	w.curLogBlock.add(rec.RefName, value)
	w.lastLogKey, w.haveLastLog = rec.RefName, true

	if w.curLogBlock.estimatedSize() >= int(w.cfg.BlockSize) {
		w.flushLogBlock()
	}
	return nil
}

func (w *Writer) flushRefBlock() {
	if w.curRefBlock.empty() {
		return
	}
	w.refBlocks = append(w.refBlocks, w.curRefBlock.finish())
	w.curRefBlock.reset()
}

func (w *Writer) flushLogBlock() {
	if w.curLogBlock.empty() {
		return
	}
	w.logBlocks = append(w.logBlocks, w.curLogBlock.finish())
	w.curLogBlock.reset()
}

// Close finalizes the table: flushes any buffered block, writes the
// file header, every data block framed with its type and length, and
// a checksummed footer, then writes it all to sink.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.flushRefBlock()
	w.flushLogBlock()

	var body []byte
	body = append(body, tableMagic...)
	body = append(body, tableVersion)
	body = append(body, byte(w.cfg.BlockSize>>16), byte(w.cfg.BlockSize>>8), byte(w.cfg.BlockSize))

	refOffset := uint64(len(body))
	for _, b := range w.refBlocks {
		body = appendBlock(body, blockTypeRef, b)
	}
	logOffset := uint64(0)
	if len(w.logBlocks) > 0 {
		logOffset = uint64(len(body))
	}
	for _, b := range w.logBlocks {
		body = appendBlock(body, blockTypeLog, b)
	}

	footer := make([]byte, footerSize)
	binary.BigEndian.PutUint64(footer[0:8], w.MinUpdateIndex)
	binary.BigEndian.PutUint64(footer[8:16], w.MaxUpdateIndex)
	binary.BigEndian.PutUint64(footer[16:24], uint64(len(w.refBlocks)))
	binary.BigEndian.PutUint64(footer[24:32], refOffset)
	binary.BigEndian.PutUint64(footer[32:40], uint64(len(w.logBlocks)))
	binary.BigEndian.PutUint64(footer[40:48], logOffset)
	footer[48] = byte(w.cfg.HashSize)
	// footer[49:76] reserved, left zero.
	sum := xxhash.Sum64(append(body, footer[:76]...))
	binary.BigEndian.PutUint64(footer[76:84], sum)

	body = append(body, footer...)
	_, err := w.sink.Write(body)
	if err != nil {
		return ioErrorf(err, "writing table")
	}
	return nil
}

func appendBlock(body []byte, typ byte, block []byte) []byte {
	n := len(block)
	body = append(body, typ, byte(n>>16), byte(n>>8), byte(n))
	return append(body, block...)
}
