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

func TestRefRecordIsDeletion(t *testing.T) {
	require.True(t, (&RefRecord{RefName: "refs/heads/x"}).IsDeletion())
	require.False(t, (&RefRecord{RefName: "refs/heads/x", Value: []byte{1}}).IsDeletion())
	require.False(t, (&RefRecord{RefName: "refs/heads/x", Target: "refs/heads/main"}).IsDeletion())
}

func TestRefRecordEqualAndClone(t *testing.T) {
	a := &RefRecord{RefName: "refs/heads/x", UpdateIndex: 3, Value: []byte{1, 2, 3}}
	b := a.clone()
	require.True(t, a.Equal(b))

	b.Value[0] = 9
	require.False(t, a.Equal(b), "clone must deep-copy Value")
}

func TestLogRecordIsDeletion(t *testing.T) {
	require.True(t, (&LogRecord{RefName: "refs/heads/x"}).IsDeletion())
	require.False(t, (&LogRecord{RefName: "refs/heads/x", Message: "commit"}).IsDeletion())
}
