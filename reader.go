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
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// BlockSource is a generic wrapper for a seekable, readable table file,
// consumed by NewReader (SPEC_FULL.md §5.6).
type BlockSource interface {
	io.ReaderAt
	Size() int64
	Close() error
}

// fileBlockSource is the default, file-backed BlockSource.
type fileBlockSource struct {
	f    *os.File
	size int64
}

// NewFileBlockSource opens name as a BlockSource. A missing file
// surfaces as a CodeNotExist *Error, matching block_source_from_file's
// documented special case that the Stack reload loop depends on.
func NewFileBlockSource(name string) (BlockSource, error) {
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newErr(CodeNotExist, "open table "+name, err)
		}
		return nil, ioErrorf(err, "open table %s", name)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioErrorf(err, "stat table %s", name)
	}
	return &fileBlockSource{f: f, size: st.Size()}, nil
}

func (s *fileBlockSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *fileBlockSource) Size() int64                             { return s.size }
func (s *fileBlockSource) Close() error                            { return s.f.Close() }

// Reader opens an immutable table for reading, implementing the
// consumed reader interface of SPEC_FULL.md §5.6. The whole body is
// parsed into sorted in-memory slices at open time: reftables in this
// system are single write-batches, small enough that this trades a
// constant memory cost for a much simpler seek/iterate implementation
// than a disk-resident secondary index would need.
type Reader struct {
	src  BlockSource
	name string
	size int64

	minUpdateIndex uint64
	maxUpdateIndex uint64

	refs []*RefRecord
	logs []*LogRecord
}

// NewReader parses src as a table. name identifies the table within a
// Stack (typically its file's base name) and is used only for
// diagnostics and for matching readers across reloads.
func NewReader(src BlockSource, name string) (*Reader, error) {
	size := src.Size()
	if size < int64(tableFixedBytes) {
		return nil, formatErrorf(nil, "table %s too small (%d bytes)", name, size)
	}

	body := make([]byte, size)
	if _, err := src.ReadAt(body, 0); err != nil && err != io.EOF {
		return nil, ioErrorf(err, "reading table %s", name)
	}

	if string(body[:4]) != tableMagic {
		return nil, formatErrorf(nil, "table %s: bad magic", name)
	}
	if body[4] != tableVersion {
		return nil, formatErrorf(nil, "table %s: unsupported version %d", name, body[4])
	}

	footer := body[size-footerSize:]
	minIdx := binary.BigEndian.Uint64(footer[0:8])
	maxIdx := binary.BigEndian.Uint64(footer[8:16])
	refBlockCount := binary.BigEndian.Uint64(footer[16:24])
	refOffset := binary.BigEndian.Uint64(footer[24:32])
	logBlockCount := binary.BigEndian.Uint64(footer[32:40])
	logOffset := binary.BigEndian.Uint64(footer[40:48])
	hashSize := int(footer[48])
	if hashSize == 0 {
		hashSize = SHA1Size
	}
	wantSum := binary.BigEndian.Uint64(footer[76:84])

	gotSum := xxhash.Sum64(body[:size-8])
	if gotSum != wantSum {
		return nil, formatErrorf(nil, "table %s: checksum mismatch", name)
	}

	r := &Reader{
		src:            src,
		name:           name,
		size:           size,
		minUpdateIndex: minIdx,
		maxUpdateIndex: maxIdx,
	}

	if refBlockCount > 0 {
		refs, err := decodeRefBlocks(body, refOffset, refBlockCount, hashSize)
		if err != nil {
			return nil, err
		}
		r.refs = refs
	}
	if logBlockCount > 0 {
		logs, err := decodeLogBlocks(body, logOffset, logBlockCount, hashSize)
		if err != nil {
			return nil, err
		}
		r.logs = logs
	}
	return r, nil
}

func decodeRefBlocks(body []byte, offset, count uint64, hashSize int) ([]*RefRecord, error) {
	var out []*RefRecord
	off := int(offset)
	for i := uint64(0); i < count; i++ {
		blk, next, err := readBlockFrame(body, off, blockTypeRef)
		if err != nil {
			return nil, err
		}
		br, err := newBlockReader(blk)
		if err != nil {
			return nil, err
		}
		entries, err := br.all()
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			rec, err := decodeRefValue(string(e.key), e.value, hashSize)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		off = next
	}
	return out, nil
}

func decodeLogBlocks(body []byte, offset, count uint64, hashSize int) ([]*LogRecord, error) {
	var out []*LogRecord
	off := int(offset)
	for i := uint64(0); i < count; i++ {
		blk, next, err := readBlockFrame(body, off, blockTypeLog)
		if err != nil {
			return nil, err
		}
		br, err := newBlockReader(blk)
		if err != nil {
			return nil, err
		}
		entries, err := br.all()
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			rec, err := decodeLogValue(string(e.key), e.value, hashSize)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		off = next
	}
	return out, nil
}

func readBlockFrame(body []byte, off int, want byte) (block []byte, next int, err error) {
	if off+blockFrameSize > len(body) {
		return nil, 0, formatErrorf(nil, "truncated block frame at %d", off)
	}
	typ := body[off]
	if typ != want {
		return nil, 0, formatErrorf(nil, "unexpected block type %q at %d", typ, off)
	}
	n := int(body[off+1])<<16 | int(body[off+2])<<8 | int(body[off+3])
	start := off + blockFrameSize
	if start+n > len(body) {
		return nil, 0, formatErrorf(nil, "truncated block body at %d", off)
	}
	return body[start : start+n], start + n, nil
}

// Name returns the table's identifying name, as passed to NewReader.
func (r *Reader) Name() string { return r.name }

// Size returns the table file's size in bytes.
func (r *Reader) Size() int64 { return r.size }

// MinUpdateIndex returns the lowest update index held in this table.
func (r *Reader) MinUpdateIndex() uint64 { return r.minUpdateIndex }

// MaxUpdateIndex returns the highest update index held in this table.
func (r *Reader) MaxUpdateIndex() uint64 { return r.maxUpdateIndex }

// Close releases the underlying block source.
func (r *Reader) Close() error {
	if r.src == nil {
		return nil
	}
	err := r.src.Close()
	r.src = nil
	return err
}

// RefIterator walks a sorted run of RefRecords.
type RefIterator struct {
	entries []*RefRecord
	pos     int
}

// NextRef advances the iterator, reporting false once exhausted.
func (it *RefIterator) NextRef(out *RefRecord) (bool, error) {
	if it == nil || it.pos >= len(it.entries) {
		return false, nil
	}
	*out = *it.entries[it.pos]
	it.pos++
	return true, nil
}

// LogIterator walks a sorted run of LogRecords.
type LogIterator struct {
	entries []*LogRecord
	pos     int
}

// NextLog advances the iterator, reporting false once exhausted.
func (it *LogIterator) NextLog(out *LogRecord) (bool, error) {
	if it == nil || it.pos >= len(it.entries) {
		return false, nil
	}
	*out = *it.entries[it.pos]
	it.pos++
	return true, nil
}

// SeekRef returns an iterator positioned at the first ref whose name
// is >= name.
func (r *Reader) SeekRef(name string) (*RefIterator, error) {
	i := sort.Search(len(r.refs), func(i int) bool { return r.refs[i].RefName >= name })
	return &RefIterator{entries: r.refs, pos: i}, nil
}

// SeekLog returns an iterator positioned at the first log record whose
// name is >= name. updateIndex is accepted for interface parity with
// the original reader_seek_log (which in a multi-entry-per-name
// reflog would also seek within ties); this codec permits only one
// log record per name per table (see Writer.AddLog), so it is unused.
func (r *Reader) SeekLog(name string, updateIndex uint64) (*LogIterator, error) {
	i := sort.Search(len(r.logs), func(i int) bool { return r.logs[i].RefName >= name })
	return &LogIterator{entries: r.logs, pos: i}, nil
}

// RefsFor returns an iterator over every ref whose Value or
// TargetValue equals oid. There is no secondary hash index (see
// SPEC_FULL.md §5.6), so this is a linear scan over the table.
func (r *Reader) RefsFor(oid []byte) (*RefIterator, error) {
	var matches []*RefRecord
	for _, rec := range r.refs {
		if bytesEqual(rec.Value, oid) || bytesEqual(rec.TargetValue, oid) {
			matches = append(matches, rec)
		}
	}
	return &RefIterator{entries: matches}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
