// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package message

import (
	"encoding/binary"
	"sort"

	"github.com/pingcap/pslite/pkg/keyrange"
	"github.com/pingcap/pslite/pkg/pserrors"
)

// SliceKeyOrdered is the default slicer for keyed messages. The key array
// must be sorted ascending, and krs must be contiguous partitions in the
// full-span shard coordinate system. It returns one sub-message per range,
// in range order; a sub-message whose range does not intersect the
// message's key range is marked invalid and carries no payload.
func SliceKeyOrdered(msg *Message, krs []keyrange.Range) ([]*Message, error) {
	width := msg.Task.KeyType.Width()
	if width == 0 {
		return nil, pserrors.ErrBadKeyType.GenWithStackByArgs(int32(msg.Task.KeyType))
	}
	numKeys := len(msg.Key) / width
	msgRange := msg.Task.KeyRange

	keyAt := func(i int) uint64 {
		switch width {
		case 1:
			return uint64(msg.Key[i])
		case 4:
			return uint64(binary.LittleEndian.Uint32(msg.Key[4*i:]))
		default:
			return binary.LittleEndian.Uint64(msg.Key[8*i:])
		}
	}
	lowerBound := func(k uint64) int {
		return sort.Search(numKeys, func(i int) bool { return keyAt(i) >= k })
	}

	n := len(krs)
	pos := make([]int, n+1)
	for i := 0; i < n; i++ {
		if i == 0 {
			pos[0] = lowerBound(msgRange.Project(krs[0].Lo))
		} else if krs[i-1].Hi != krs[i].Lo {
			return nil, pserrors.ErrBadSubRanges.GenWithStackByArgs(i)
		}
		pos[i+1] = lowerBound(msgRange.Project(krs[i].Hi))
	}

	out := make([]*Message, n)
	for i := 0; i < n; i++ {
		m := &Message{}
		m.MiniCopyFrom(msg)
		out[i] = m
		if krs[i].Intersect(msgRange).Empty() {
			// The remote node does not maintain this key range. Do not
			// send; the submitter marks the sent tracker finished instead.
			m.Valid = false
			continue
		}
		m.Valid = true
		if numKeys == 0 {
			continue
		}
		m.SetKey(msg.Key[pos[i]*width:pos[i+1]*width], msg.Task.KeyType)
		for _, v := range msg.Value {
			// Works for any fixed per-key stride, scalar included.
			bytesPerKey := len(v) / numKeys
			m.Value = append(m.Value, v[pos[i]*bytesPerKey:pos[i+1]*bytesPerKey])
		}
	}
	return out, nil
}

// Replicate is the default slicer for non-keyed messages: each range gets
// a copy sharing the original's header and payload arrays.
func Replicate(msg *Message, krs []keyrange.Range) []*Message {
	out := make([]*Message, len(krs))
	for i := range krs {
		cp := *msg
		cp.Task.WaitTime = append([]int32(nil), msg.Task.WaitTime...)
		cp.Task.ValueType = append([]DataType(nil), msg.Task.ValueType...)
		cp.Task.Filter = append([]FilterConfig(nil), msg.Task.Filter...)
		out[i] = &cp
	}
	return out
}
