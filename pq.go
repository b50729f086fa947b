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

// pqKeyed is satisfied by *RefRecord and *LogRecord: anything the
// merge queue can order by key.
type pqKeyed interface {
	key() string
}

// pqEntry is a single slot in the priority queue: a record snapshot
// plus the stack position (0 = oldest) it came from. The snapshot is
// owned by the entry from the moment it is pushed until it is popped
// and either re-emitted to the caller or dropped by clear.
type pqEntry struct {
	rec   pqKeyed
	index int
}

// pqLess implements the ordering from SPEC_FULL.md §5.1: ascending
// key, and on a tie the entry from the higher (newer) stack position
// sorts first so that it shadows the older one when popped.
func pqLess(a, b pqEntry) bool {
	ak, bk := a.rec.key(), b.rec.key()
	if ak == bk {
		return a.index > b.index
	}
	return ak < bk
}

// pqueue is an array-backed binary min-heap (by pqLess) of pqEntry,
// ported from original_source/c/pq.c. It is not safe for concurrent
// use; each Merged iterator owns one.
type pqueue struct {
	heap []pqEntry
}

func (pq *pqueue) empty() bool { return len(pq.heap) == 0 }

func (pq *pqueue) peek() pqEntry { return pq.heap[0] }

// push adds e to the queue, growing the backing slice geometrically.
func (pq *pqueue) push(e pqEntry) {
	pq.heap = append(pq.heap, e)
	i := len(pq.heap) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if pqLess(pq.heap[parent], pq.heap[i]) {
			break
		}
		pq.heap[parent], pq.heap[i] = pq.heap[i], pq.heap[parent]
		i = parent
	}
}

// pop removes and returns the minimum entry, restoring the heap
// invariant by sifting the displaced last element down.
func (pq *pqueue) pop() pqEntry {
	top := pq.heap[0]
	n := len(pq.heap) - 1
	pq.heap[0] = pq.heap[n]
	pq.heap = pq.heap[:n]

	i := 0
	for {
		min := i
		l, r := 2*i+1, 2*i+2
		if l < n && pqLess(pq.heap[l], pq.heap[min]) {
			min = l
		}
		if r < n && pqLess(pq.heap[r], pq.heap[min]) {
			min = r
		}
		if min == i {
			break
		}
		pq.heap[min], pq.heap[i] = pq.heap[i], pq.heap[min]
		i = min
	}
	return top
}

// clear releases every contained record.
func (pq *pqueue) clear() {
	pq.heap = nil
}

// check verifies the heap invariant at every non-root position; used
// only from tests, mirroring merged_iter_pqueue_check in pq.c.
func (pq *pqueue) check() bool {
	for i := 1; i < len(pq.heap); i++ {
		parent := (i - 1) / 2
		if !pqLess(pq.heap[parent], pq.heap[i]) {
			return false
		}
	}
	return true
}
