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
)

// blockTypeRef and blockTypeLog tag the two kinds of data blocks a
// table can contain.
const (
	blockTypeRef byte = 'r'
	blockTypeLog byte = 'g'
)

// sharedPrefixLen returns how many leading bytes a and b have in
// common, ported from the block-prefix-compression idiom in
// dialtr-pebble/sstable/block.go.
func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// blockWriter accumulates (key, value) entries into a single
// restart-pointed block, following the record layout of
// dialtr-pebble/sstable/block.go: a varint-prefixed (shared, unshared,
// value-len) header per entry, with a full key written every
// restartInterval entries.
type blockWriter struct {
	restartInterval int
	nEntries        int
	buf             []byte
	restarts        []uint32
	curKey          []byte
	prevKey         []byte
	tmp             [binary.MaxVarintLen64 * 3]byte
}

func newBlockWriter(restartInterval int) *blockWriter {
	if restartInterval <= 0 {
		restartInterval = defaultRestartInterval
	}
	return &blockWriter{restartInterval: restartInterval}
}

func (w *blockWriter) add(key string, value []byte) {
	w.curKey, w.prevKey = w.prevKey, []byte(key)

	shared := 0
	if w.nEntries%w.restartInterval == 0 {
		w.restarts = append(w.restarts, uint32(len(w.buf)))
	} else {
		shared = sharedPrefixLen(w.prevKey, w.curKey)
	}

	n := binary.PutUvarint(w.tmp[0:], uint64(shared))
	n += binary.PutUvarint(w.tmp[n:], uint64(len(w.prevKey)-shared))
	n += binary.PutUvarint(w.tmp[n:], uint64(len(value)))
	w.buf = append(w.buf, w.tmp[:n]...)
	w.buf = append(w.buf, w.prevKey[shared:]...)
	w.buf = append(w.buf, value...)
	w.nEntries++
}

// estimatedSize returns the byte size the block would occupy if
// finished right now; the writer flushes once this crosses the
// configured block size.
func (w *blockWriter) estimatedSize() int {
	return len(w.buf) + 4*(len(w.restarts)+1)
}

// finish appends the restart-offset table and count, returning the
// block's entry-section bytes (without the leading type/length framing
// added by the table Writer).
func (w *blockWriter) finish() []byte {
	if w.nEntries == 0 {
		return w.buf
	}
	tmp4 := make([]byte, 4)
	for _, x := range w.restarts {
		binary.LittleEndian.PutUint32(tmp4, x)
		w.buf = append(w.buf, tmp4...)
	}
	binary.LittleEndian.PutUint32(tmp4, uint32(len(w.restarts)))
	w.buf = append(w.buf, tmp4...)
	return w.buf
}

func (w *blockWriter) reset() {
	w.nEntries = 0
	// finish handed the old buffer to the caller; start a fresh one
	// rather than overwrite the bytes of the block just flushed.
	w.buf = nil
	w.restarts = w.restarts[:0]
	w.curKey = nil
	w.prevKey = nil
}

func (w *blockWriter) empty() bool { return w.nEntries == 0 }

// blockEntry is a single decoded (key, value) pair plus its byte
// offset within the block, cached so forward iteration doesn't
// re-decode the restart prefix chain on every step.
type blockEntry struct {
	offset int
	key    []byte
	value  []byte
}

// blockReader parses a finished block's bytes as produced by
// blockWriter: all decodes every entry in order, and seekIndex
// binary-searches the decoded entries. The restart table is read only
// to find where the entries end.
type blockReader struct {
	data        []byte
	restarts    int // byte offset of the restart table
	numRestarts int
}

func newBlockReader(data []byte) (*blockReader, error) {
	if len(data) < 4 {
		return nil, formatErrorf(nil, "block too small (%d bytes)", len(data))
	}
	numRestarts := int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	restarts := len(data) - 4*(1+numRestarts)
	if numRestarts < 0 || restarts < 0 {
		return nil, formatErrorf(nil, "corrupt block restart table")
	}
	return &blockReader{data: data, restarts: restarts, numRestarts: numRestarts}, nil
}

func (b *blockReader) restartOffset(i int) int {
	return int(binary.LittleEndian.Uint32(b.data[b.restarts+4*i:]))
}

// decodeAt parses one entry starting at offset, given the previous
// entry's key (unused by an entry at a restart point, whose shared
// length is 0), returning the entry and the offset of the next one.
func (b *blockReader) decodeAt(offset int, prevKey []byte) (blockEntry, int, error) {
	data := b.data
	shared, n := binary.Uvarint(data[offset:])
	if n <= 0 {
		return blockEntry{}, 0, formatErrorf(nil, "corrupt entry header at %d", offset)
	}
	offset += n
	unshared, n := binary.Uvarint(data[offset:])
	if n <= 0 {
		return blockEntry{}, 0, formatErrorf(nil, "corrupt entry header at %d", offset)
	}
	offset += n
	valLen, n := binary.Uvarint(data[offset:])
	if n <= 0 {
		return blockEntry{}, 0, formatErrorf(nil, "corrupt entry header at %d", offset)
	}
	offset += n

	if int(shared) > len(prevKey) {
		return blockEntry{}, 0, formatErrorf(nil, "corrupt shared-prefix length at %d", offset)
	}
	key := make([]byte, 0, int(shared)+int(unshared))
	key = append(key, prevKey[:shared]...)
	key = append(key, data[offset:offset+int(unshared)]...)
	offset += int(unshared)

	value := data[offset : offset+int(valLen)]
	offset += int(valLen)

	return blockEntry{key: key, value: value}, offset, nil
}

// all decodes every entry in the block, in order. Used by seek (to
// build the forward iterator state) and by full-table scans.
func (b *blockReader) all() ([]blockEntry, error) {
	entries := make([]blockEntry, 0, b.numRestarts*defaultRestartInterval)
	var prevKey []byte
	offset := 0
	for offset < b.restarts {
		e, next, err := b.decodeAt(offset, prevKey)
		if err != nil {
			return nil, err
		}
		e.offset = offset
		entries = append(entries, e)
		prevKey = e.key
		offset = next
	}
	return entries, nil
}

// seekIndex returns the index into all() entries of the first entry
// whose key is >= target, or len(entries) if there is none.
func (b *blockReader) seekIndex(entries []blockEntry, target string) int {
	// Entries are sorted, so a plain binary search over the fully
	// decoded slice finds the position without consulting the restart
	// points once all() has paid the decode cost.
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if string(entries[mid].key) < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
