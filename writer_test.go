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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func hashOf(size int, b byte) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestWriterReaderRefRoundTripWithTargetValueAndSymref(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewConfig()
	w, err := NewWriter(&buf, &cfg)
	require.NoError(t, err)
	w.SetLimits(1, 3)

	// AddRef requires strictly ascending key order; uppercase "HEAD"
	// sorts before lowercase "refs/..." in byte order.
	require.NoError(t, w.AddRef(&RefRecord{
		RefName:     "HEAD",
		UpdateIndex: 1,
		Target:      "refs/heads/main",
	}))
	require.NoError(t, w.AddRef(&RefRecord{
		RefName:     "refs/heads/main",
		UpdateIndex: 2,
		Value:       hashOf(SHA1Size, 0xaa),
	}))
	require.NoError(t, w.AddRef(&RefRecord{
		RefName:     "refs/tags/v1",
		UpdateIndex: 3,
		Value:       hashOf(SHA1Size, 0xbb),
		TargetValue: hashOf(SHA1Size, 0xcc), // peeled annotated-tag id
	}))
	require.NoError(t, w.Close())

	r, err := NewReader(&memBlockSource{data: buf.Bytes()}, "t")
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, uint64(1), r.MinUpdateIndex())
	require.Equal(t, uint64(3), r.MaxUpdateIndex())

	it, err := r.SeekRef("")
	require.NoError(t, err)

	var got []RefRecord
	for {
		var rec RefRecord
		ok, err := it.NextRef(&rec)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, rec)
	}
	require.Len(t, got, 3)
	require.Equal(t, "HEAD", got[0].RefName)
	require.Equal(t, "refs/heads/main", got[0].Target)
	require.Equal(t, "refs/heads/main", got[1].RefName)
	require.Equal(t, hashOf(SHA1Size, 0xaa), got[1].Value)
	require.Equal(t, "refs/tags/v1", got[2].RefName)
	require.Equal(t, hashOf(SHA1Size, 0xbb), got[2].Value)
	require.Equal(t, hashOf(SHA1Size, 0xcc), got[2].TargetValue)
}

func TestWriterReaderLogRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewConfig()
	w, err := NewWriter(&buf, &cfg)
	require.NoError(t, err)
	w.SetLimits(5, 5)

	rec := &LogRecord{
		RefName:     "refs/heads/main",
		UpdateIndex: 5,
		NewHash:     hashOf(SHA1Size, 0x11),
		OldHash:     hashOf(SHA1Size, 0x22),
		Name:        "Jane Doe",
		Email:       "jane@example.com",
		Time:        1700000000,
		TZOffset:    -420,
		Message:     "commit: update main",
	}
	require.NoError(t, w.AddLog(rec))
	require.NoError(t, w.Close())

	r, err := NewReader(&memBlockSource{data: buf.Bytes()}, "t")
	require.NoError(t, err)
	defer r.Close()

	it, err := r.SeekLog("refs/heads/main", 5)
	require.NoError(t, err)

	var got LogRecord
	ok, err := it.NextLog(&got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, *rec, got)

	ok, err = it.NextLog(&got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriterReaderSHA256HashSize(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewConfig(WithHashSize(SHA256Size))
	w, err := NewWriter(&buf, &cfg)
	require.NoError(t, err)
	w.SetLimits(1, 1)

	want := hashOf(SHA256Size, 0x42)
	require.NoError(t, w.AddRef(&RefRecord{RefName: "refs/heads/main", UpdateIndex: 1, Value: want}))
	require.NoError(t, w.Close())

	r, err := NewReader(&memBlockSource{data: buf.Bytes()}, "t")
	require.NoError(t, err)
	defer r.Close()

	it, err := r.SeekRef("")
	require.NoError(t, err)
	var got RefRecord
	ok, err := it.NextRef(&got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got.Value)
	require.Len(t, got.Value, SHA256Size)
}

func TestWriterRejectsOutOfOrderKeys(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewConfig()
	w, err := NewWriter(&buf, &cfg)
	require.NoError(t, err)
	w.SetLimits(1, 2)

	require.NoError(t, w.AddRef(&RefRecord{RefName: "refs/heads/b", UpdateIndex: 1}))
	err = w.AddRef(&RefRecord{RefName: "refs/heads/a", UpdateIndex: 2})
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, CodeAPI, apiErr.Code)
}

func TestWriterRejectsUpdateIndexOutsideLimits(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewConfig()
	w, err := NewWriter(&buf, &cfg)
	require.NoError(t, err)
	w.SetLimits(5, 10)

	err = w.AddRef(&RefRecord{RefName: "refs/heads/a", UpdateIndex: 1})
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, CodeAPI, apiErr.Code)
}

// memBlockSource is an in-memory BlockSource, used so reader tests
// don't need a real file on disk.
type memBlockSource struct {
	data []byte
}

func (s *memBlockSource) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, s.data[off:])
	return n, nil
}

func (s *memBlockSource) Size() int64 { return int64(len(s.data)) }
func (s *memBlockSource) Close() error { return nil }
