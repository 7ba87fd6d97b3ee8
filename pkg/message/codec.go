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
	"math"

	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
)

// MarshalTask serializes a Task header for the wire.
func MarshalTask(t *Task) ([]byte, error) {
	buf, err := json.Marshal(t)
	return buf, errors.Trace(err)
}

// UnmarshalTask parses a Task header from the wire.
func UnmarshalTask(buf []byte, t *Task) error {
	return errors.Trace(json.Unmarshal(buf, t))
}

// Typed payload arrays travel little-endian regardless of host order.

// EncodeUint64s packs keys into a payload array.
func EncodeUint64s(ks []uint64) []byte {
	buf := make([]byte, 8*len(ks))
	for i, k := range ks {
		binary.LittleEndian.PutUint64(buf[8*i:], k)
	}
	return buf
}

// DecodeUint64s unpacks a payload array written by EncodeUint64s.
func DecodeUint64s(buf []byte) []uint64 {
	ks := make([]uint64, len(buf)/8)
	for i := range ks {
		ks[i] = binary.LittleEndian.Uint64(buf[8*i:])
	}
	return ks
}

// EncodeUint32s packs keys into a payload array.
func EncodeUint32s(ks []uint32) []byte {
	buf := make([]byte, 4*len(ks))
	for i, k := range ks {
		binary.LittleEndian.PutUint32(buf[4*i:], k)
	}
	return buf
}

// DecodeUint32s unpacks a payload array written by EncodeUint32s.
func DecodeUint32s(buf []byte) []uint32 {
	ks := make([]uint32, len(buf)/4)
	for i := range ks {
		ks[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return ks
}

// EncodeFloat64s packs values into a payload array.
func EncodeFloat64s(vs []float64) []byte {
	buf := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

// DecodeFloat64s unpacks a payload array written by EncodeFloat64s.
func DecodeFloat64s(buf []byte) []float64 {
	vs := make([]float64, len(buf)/8)
	for i := range vs {
		vs[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return vs
}
