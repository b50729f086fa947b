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

// segment is a maximal run of adjacent tables sharing the same
// log2(size) bucket, the unit the size-tiered compaction planner
// reasons about.
type segment struct {
	start int
	end   int // exclusive
	log   int
	bytes uint64
}

func (s *segment) size() int { return s.end - s.start }

// log2 returns floor(log2(sz)), the bucket a table's payload size
// falls into for compaction planning. Ported from stack.c's
// fastlog2; sz must be nonzero (a table can't have a zero-byte
// payload once the fixed header/footer overhead is subtracted).
func log2(sz uint64) int {
	if sz == 0 {
		panic("reftable: log2(0)")
	}
	l := 0
	for sz > 0 {
		l++
		sz /= 2
	}
	return l - 1
}

// sizesToSegments partitions sizes into maximal runs sharing the same
// log2 bucket, in stack order.
func sizesToSegments(sizes []uint64) []segment {
	var cur segment
	var res []segment
	for i, sz := range sizes {
		l := log2(sz)
		if cur.log != l && cur.bytes > 0 {
			res = append(res, cur)
			cur = segment{start: i}
		}
		cur.log = l
		cur.end = i + 1
		cur.bytes += sz
	}
	res = append(res, cur)
	return res
}

// suggestCompactionSegment picks the compaction candidate: the
// smallest-log, non-singleton segment, then left-extends it while
// doing so keeps growing the log bucket monotonically. Returns nil
// when the stack is already balanced (every segment a singleton).
func suggestCompactionSegment(sizes []uint64) *segment {
	segs := sizesToSegments(sizes)

	minSeg := segment{log: 64}
	for _, s := range segs {
		if s.size() == 1 {
			continue
		}
		if s.log < minSeg.log {
			minSeg = s
		}
	}
	if minSeg.size() == 0 {
		return nil
	}

	for minSeg.start > 0 {
		prev := minSeg.start - 1
		if log2(minSeg.bytes) < log2(sizes[prev]) {
			break
		}
		minSeg.start = prev
		minSeg.bytes += sizes[prev]
	}

	return &minSeg
}
