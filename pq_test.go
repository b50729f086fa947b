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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPqueueOrdersByKeyThenIndex(t *testing.T) {
	var pq pqueue

	pq.push(pqEntry{rec: &RefRecord{RefName: "b"}, index: 0})
	pq.push(pqEntry{rec: &RefRecord{RefName: "a"}, index: 1})
	pq.push(pqEntry{rec: &RefRecord{RefName: "a"}, index: 3})
	pq.push(pqEntry{rec: &RefRecord{RefName: "c"}, index: 0})
	require.True(t, pq.check())

	first := pq.pop()
	require.Equal(t, "a", first.rec.key())
	require.Equal(t, 3, first.index, "tie on key should favor the higher (newer) stack index")
	require.True(t, pq.check())

	second := pq.pop()
	require.Equal(t, "a", second.rec.key())
	require.Equal(t, 1, second.index)

	third := pq.pop()
	require.Equal(t, "b", third.rec.key())

	fourth := pq.pop()
	require.Equal(t, "c", fourth.rec.key())

	require.True(t, pq.empty())
}

func TestPqueueClear(t *testing.T) {
	var pq pqueue
	pq.push(pqEntry{rec: &RefRecord{RefName: "x"}})
	require.False(t, pq.empty())
	pq.clear()
	require.True(t, pq.empty())
}

func TestPqueueManyEntriesStaysHeapOrdered(t *testing.T) {
	var pq pqueue
	names := []string{"m", "a", "z", "q", "b", "k", "d", "y", "c"}
	for i, n := range names {
		pq.push(pqEntry{rec: &RefRecord{RefName: n}, index: i})
	}
	require.True(t, pq.check())

	var out []string
	for !pq.empty() {
		out = append(out, pq.pop().rec.key())
		require.True(t, pq.check())
	}
	require.IsIncreasing(t, out)
}
