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

import "encoding/binary"

const (
	refFlagValue       = 1 << 0
	refFlagTargetValue = 1 << 1
	refFlagTarget      = 1 << 2

	logFlagNewHash = 1 << 0
	logFlagOldHash = 1 << 1
	logFlagMessage = 1 << 2
)

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// encodeRefValue serializes everything about rec except its key
// (RefName), which the block layer already stores.
func encodeRefValue(rec *RefRecord, hashSize int) []byte {
	var buf []byte
	buf = appendUvarint(buf, rec.UpdateIndex)

	var flags byte
	if len(rec.Value) > 0 {
		flags |= refFlagValue
	}
	if len(rec.TargetValue) > 0 {
		flags |= refFlagTargetValue
	}
	if rec.Target != "" {
		flags |= refFlagTarget
	}
	buf = append(buf, flags)

	if flags&refFlagValue != 0 {
		buf = append(buf, padHash(rec.Value, hashSize)...)
	}
	if flags&refFlagTargetValue != 0 {
		buf = append(buf, padHash(rec.TargetValue, hashSize)...)
	}
	if flags&refFlagTarget != 0 {
		buf = appendString(buf, rec.Target)
	}
	return buf
}

func padHash(h []byte, size int) []byte {
	if len(h) == size {
		return h
	}
	out := make([]byte, size)
	copy(out, h)
	return out
}

func decodeRefValue(refName string, value []byte, hashSize int) (*RefRecord, error) {
	rec := &RefRecord{RefName: refName}
	idx, n := binary.Uvarint(value)
	if n <= 0 {
		return nil, formatErrorf(nil, "corrupt ref record for %q", refName)
	}
	rec.UpdateIndex = idx
	value = value[n:]

	if len(value) < 1 {
		return nil, formatErrorf(nil, "corrupt ref record flags for %q", refName)
	}
	flags := value[0]
	value = value[1:]

	if flags&refFlagValue != 0 {
		if len(value) < hashSize {
			return nil, formatErrorf(nil, "truncated ref value for %q", refName)
		}
		rec.Value = append([]byte(nil), value[:hashSize]...)
		value = value[hashSize:]
	}
	if flags&refFlagTargetValue != 0 {
		if len(value) < hashSize {
			return nil, formatErrorf(nil, "truncated ref target-value for %q", refName)
		}
		rec.TargetValue = append([]byte(nil), value[:hashSize]...)
		value = value[hashSize:]
	}
	if flags&refFlagTarget != 0 {
		l, n := binary.Uvarint(value)
		if n <= 0 || uint64(len(value)-n) < l {
			return nil, formatErrorf(nil, "truncated symref target for %q", refName)
		}
		value = value[n:]
		rec.Target = string(value[:l])
	}
	return rec, nil
}

func encodeLogValue(rec *LogRecord, hashSize int) []byte {
	var buf []byte
	buf = appendUvarint(buf, rec.UpdateIndex)

	var flags byte
	if len(rec.NewHash) > 0 {
		flags |= logFlagNewHash
	}
	if len(rec.OldHash) > 0 {
		flags |= logFlagOldHash
	}
	if rec.Message != "" {
		flags |= logFlagMessage
	}
	buf = append(buf, flags)

	if flags&logFlagNewHash != 0 {
		buf = append(buf, padHash(rec.NewHash, hashSize)...)
	}
	if flags&logFlagOldHash != 0 {
		buf = append(buf, padHash(rec.OldHash, hashSize)...)
	}
	buf = appendString(buf, rec.Name)
	buf = appendString(buf, rec.Email)
	buf = appendUvarint(buf, rec.Time)

	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], int64(rec.TZOffset))
	buf = append(buf, tmp[:n]...)

	if flags&logFlagMessage != 0 {
		buf = appendString(buf, rec.Message)
	}
	return buf
}

func decodeLogValue(refName string, value []byte, hashSize int) (*LogRecord, error) {
	rec := &LogRecord{RefName: refName}
	idx, n := binary.Uvarint(value)
	if n <= 0 {
		return nil, formatErrorf(nil, "corrupt log record for %q", refName)
	}
	rec.UpdateIndex = idx
	value = value[n:]

	if len(value) < 1 {
		return nil, formatErrorf(nil, "corrupt log record flags for %q", refName)
	}
	flags := value[0]
	value = value[1:]

	if flags&logFlagNewHash != 0 {
		if len(value) < hashSize {
			return nil, formatErrorf(nil, "truncated log new-hash for %q", refName)
		}
		rec.NewHash = append([]byte(nil), value[:hashSize]...)
		value = value[hashSize:]
	}
	if flags&logFlagOldHash != 0 {
		if len(value) < hashSize {
			return nil, formatErrorf(nil, "truncated log old-hash for %q", refName)
		}
		rec.OldHash = append([]byte(nil), value[:hashSize]...)
		value = value[hashSize:]
	}

	name, rest, err := decodeString(value)
	if err != nil {
		return nil, err
	}
	rec.Name = name
	value = rest

	email, rest, err := decodeString(value)
	if err != nil {
		return nil, err
	}
	rec.Email = email
	value = rest

	t, n := binary.Uvarint(value)
	if n <= 0 {
		return nil, formatErrorf(nil, "corrupt log time for %q", refName)
	}
	rec.Time = t
	value = value[n:]

	tz, n := binary.Varint(value)
	if n <= 0 {
		return nil, formatErrorf(nil, "corrupt log tz-offset for %q", refName)
	}
	rec.TZOffset = int(tz)
	value = value[n:]

	if flags&logFlagMessage != 0 {
		msg, _, err := decodeString(value)
		if err != nil {
			return nil, err
		}
		rec.Message = msg
	}
	return rec, nil
}

func decodeString(buf []byte) (string, []byte, error) {
	l, n := binary.Uvarint(buf)
	if n <= 0 || uint64(len(buf)-n) < l {
		return "", nil, formatErrorf(nil, "corrupt length-prefixed string")
	}
	buf = buf[n:]
	return string(buf[:l]), buf[l:], nil
}
