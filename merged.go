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

// Merged presents a stack of tables, ordered oldest (index 0) to
// newest, as a single sorted view: a record in a higher-indexed table
// shadows one with the same key in a lower-indexed table. This is the
// Go analogue of merged_table in original_source/c/reftable.h, built
// on the pqueue ported from pq.c.
type Merged struct {
	tables []*Reader
}

// NewMerged wraps tables (oldest first) as a single merged view.
func NewMerged(tables []*Reader) *Merged {
	return &Merged{tables: tables}
}

// refSource advances one table's contribution to a ref merge.
type refSource struct {
	it    *RefIterator
	index int
}

func (s *refSource) advance() (pqKeyed, bool) {
	var rec RefRecord
	ok, err := s.it.NextRef(&rec)
	if err != nil || !ok {
		return nil, false
	}
	return &rec, true
}

// logSource advances one table's contribution to a log merge.
type logSource struct {
	it    *LogIterator
	index int
}

func (s *logSource) advance() (pqKeyed, bool) {
	var rec LogRecord
	ok, err := s.it.NextLog(&rec)
	if err != nil || !ok {
		return nil, false
	}
	return &rec, true
}

// advancer is satisfied by refSource and logSource: "give me your next
// record, or report you're exhausted."
type advancer interface {
	advance() (pqKeyed, bool)
}

// MergedIterator walks the deduplicated, shadowed view of one merge
// key range across every underlying table.
type MergedIterator struct {
	sources []advancer
	queue   pqueue
	lastKey string
	haveKey bool
}

func newMergedIterator(sources []advancer) *MergedIterator {
	it := &MergedIterator{sources: sources}
	for i, s := range sources {
		if rec, ok := s.advance(); ok {
			it.queue.push(pqEntry{rec: rec, index: i})
		}
	}
	return it
}

// next returns the next record in the merged view, or nil once
// exhausted. Records whose key matches the previously returned one are
// skipped: they come from an older table and are shadowed by
// definition, since pqLess breaks ties toward the higher index.
func (it *MergedIterator) next() pqKeyed {
	for !it.queue.empty() {
		top := it.queue.pop()
		if rec, ok := it.sources[top.index].advance(); ok {
			it.queue.push(pqEntry{rec: rec, index: top.index})
		}

		if it.haveKey && top.rec.key() == it.lastKey {
			continue
		}
		it.lastKey = top.rec.key()
		it.haveKey = true
		return top.rec
	}
	return nil
}

// NextRef advances the iterator and decodes the next ref into out,
// reporting false once the merge is exhausted. Tombstones are
// returned to the caller (as a RefRecord with IsDeletion true); Stack
// compaction (writeCompact in stack.go) is responsible for dropping
// them at the base of a stack.
func (it *MergedIterator) NextRef(out *RefRecord) (bool, error) {
	rec := it.next()
	if rec == nil {
		return false, nil
	}
	*out = *rec.(*RefRecord)
	return true, nil
}

// NextLog advances the iterator and decodes the next log entry into
// out, reporting false once the merge is exhausted.
func (it *MergedIterator) NextLog(out *LogRecord) (bool, error) {
	rec := it.next()
	if rec == nil {
		return false, nil
	}
	*out = *rec.(*LogRecord)
	return true, nil
}

// SeekRef returns a merged iterator over every ref >= name, across all
// tables, newest-shadows-oldest.
func (m *Merged) SeekRef(name string) (*MergedIterator, error) {
	sources := make([]advancer, 0, len(m.tables))
	for i, t := range m.tables {
		it, err := t.SeekRef(name)
		if err != nil {
			return nil, err
		}
		sources = append(sources, &refSource{it: it, index: i})
	}
	return newMergedIterator(sources), nil
}

// SeekLog returns a merged iterator over every log record >= name,
// across all tables. updateIndex is passed to each Reader.SeekLog,
// which does not use it, so records are not filtered by update index.
func (m *Merged) SeekLog(name string, updateIndex uint64) (*MergedIterator, error) {
	sources := make([]advancer, 0, len(m.tables))
	for i, t := range m.tables {
		it, err := t.SeekLog(name, updateIndex)
		if err != nil {
			return nil, err
		}
		sources = append(sources, &logSource{it: it, index: i})
	}
	return newMergedIterator(sources), nil
}

// RefsFor returns a merged iterator over every ref pointing at oid.
func (m *Merged) RefsFor(oid []byte) (*MergedIterator, error) {
	sources := make([]advancer, 0, len(m.tables))
	for i, t := range m.tables {
		it, err := t.RefsFor(oid)
		if err != nil {
			return nil, err
		}
		sources = append(sources, &refSource{it: it, index: i})
	}
	return newMergedIterator(sources), nil
}

// MinUpdateIndex returns the lowest update index visible across every
// table in the merge.
func (m *Merged) MinUpdateIndex() uint64 {
	var min uint64
	for i, t := range m.tables {
		if i == 0 || t.MinUpdateIndex() < min {
			min = t.MinUpdateIndex()
		}
	}
	return min
}

// MaxUpdateIndex returns the highest update index visible across every
// table in the merge.
func (m *Merged) MaxUpdateIndex() uint64 {
	var max uint64
	for _, t := range m.tables {
		if t.MaxUpdateIndex() > max {
			max = t.MaxUpdateIndex()
		}
	}
	return max
}
