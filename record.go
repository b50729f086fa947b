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

// RefRecord holds a single ref database entry: a name, the update
// index at which it was last written, and a tagged payload. An empty
// payload (Value, TargetValue and Target all zero) marks a deletion.
type RefRecord struct {
	RefName     string
	UpdateIndex uint64
	Value       []byte // object id, or nil
	TargetValue []byte // peeled annotated-tag id, or nil
	Target      string // symbolic-ref target, or ""
}

// IsDeletion reports whether ref represents a tombstone: the
// authoritative answer "this name does not exist as of UpdateIndex".
func (r *RefRecord) IsDeletion() bool {
	return len(r.Value) == 0 && len(r.TargetValue) == 0 && r.Target == ""
}

func (r *RefRecord) key() string { return r.RefName }

func (r *RefRecord) clone() *RefRecord {
	out := *r
	out.Value = append([]byte(nil), r.Value...)
	out.TargetValue = append([]byte(nil), r.TargetValue...)
	return &out
}

// Equal reports whether a and b carry the same observable fields.
func (a *RefRecord) Equal(b *RefRecord) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.RefName == b.RefName &&
		a.UpdateIndex == b.UpdateIndex &&
		string(a.Value) == string(b.Value) &&
		string(a.TargetValue) == string(b.TargetValue) &&
		a.Target == b.Target
}

// LogRecord holds a single reflog entry for RefName at UpdateIndex.
// An entry with no NewHash, OldHash or Message is a tombstone, by the
// same convention as RefRecord.
type LogRecord struct {
	RefName     string
	UpdateIndex uint64
	NewHash     []byte
	OldHash     []byte
	Name        string
	Email       string
	Time        uint64
	TZOffset    int
	Message     string
}

// IsDeletion reports whether l represents a reflog tombstone.
func (l *LogRecord) IsDeletion() bool {
	return len(l.NewHash) == 0 && len(l.OldHash) == 0 && l.Message == ""
}

func (l *LogRecord) key() string { return l.RefName }

func (l *LogRecord) clone() *LogRecord {
	out := *l
	out.NewHash = append([]byte(nil), l.NewHash...)
	out.OldHash = append([]byte(nil), l.OldHash...)
	return &out
}
