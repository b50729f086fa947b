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

func TestLog2(t *testing.T) {
	require.Equal(t, 0, log2(1))
	require.Equal(t, 1, log2(2))
	require.Equal(t, 1, log2(3))
	require.Equal(t, 2, log2(4))
	require.Equal(t, 6, log2(100))
}

func TestSuggestCompactionSegmentBalancedStack(t *testing.T) {
	sizes := []uint64{100, 100, 100, 1000000}
	seg := suggestCompactionSegment(sizes)
	require.NotNil(t, seg)
	require.Equal(t, 0, seg.start)
	require.Equal(t, 3, seg.end)
	require.Equal(t, 6, seg.log)
	require.Equal(t, uint64(300), seg.bytes)
}

func TestSuggestCompactionSegmentAlreadyBalanced(t *testing.T) {
	// Every table its own log2 bucket: nothing to compact.
	seg := suggestCompactionSegment([]uint64{1, 2, 4, 8, 16})
	require.Nil(t, seg)
}

func TestSuggestCompactionSegmentPicksLowestLogBucket(t *testing.T) {
	// [50, 60] share log2 bucket 5 (non-singleton); 70 alone is bucket 6.
	// The planner picks the smaller-log non-singleton segment.
	sizes := []uint64{50, 60, 70}
	seg := suggestCompactionSegment(sizes)
	require.NotNil(t, seg)
	require.Equal(t, 0, seg.start)
	require.Equal(t, 2, seg.end)
	require.Equal(t, 5, seg.log)
}

func TestSuggestCompactionSegmentLeftExtensionStopsAtLargerTable(t *testing.T) {
	// [1000, 2, 3] -> bucket(1000)=9, bucket(2)=1, bucket(3)=1. The
	// non-singleton segment is [2,3] at indices 1..2; left-extending
	// into index 0 would need log2(2+3)=2 >= log2(1000)=9, which it
	// isn't, so the segment must NOT absorb index 0.
	sizes := []uint64{1000, 2, 3}
	seg := suggestCompactionSegment(sizes)
	require.NotNil(t, seg)
	require.Equal(t, 1, seg.start)
	require.Equal(t, 3, seg.end)
}
