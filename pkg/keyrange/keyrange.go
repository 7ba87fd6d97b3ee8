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

package keyrange

import (
	"fmt"
	"math"
	"math/bits"
)

// MaxKey is the upper bound of the global key space. The space is treated
// as [0, 2^64); a Range with Hi == MaxKey covers the right tail up to,
// but not including, the key MaxKey itself.
const MaxKey = math.MaxUint64

// Range is a half-open interval [Lo, Hi) over the uint64 key space.
// Server nodes are assigned disjoint Ranges that partition the space.
type Range struct {
	Lo uint64 `json:"lo"`
	Hi uint64 `json:"hi"`
}

// All returns the Range covering the whole key space.
func All() Range {
	return Range{Lo: 0, Hi: MaxKey}
}

// IsValid reports whether the range is well formed.
func (r Range) IsValid() bool {
	return r.Lo <= r.Hi
}

// Empty reports whether the range contains no keys.
func (r Range) Empty() bool {
	return r.Lo >= r.Hi
}

// Size returns the number of keys covered.
func (r Range) Size() uint64 {
	if r.Empty() {
		return 0
	}
	return r.Hi - r.Lo
}

// Contains reports whether k falls inside the range.
func (r Range) Contains(k uint64) bool {
	return k >= r.Lo && k < r.Hi
}

// Intersect returns the overlap of r and o, which may be empty.
func (r Range) Intersect(o Range) Range {
	out := Range{Lo: max(r.Lo, o.Lo), Hi: min(r.Hi, o.Hi)}
	if out.Lo > out.Hi {
		out.Hi = out.Lo
	}
	return out
}

// InLeft reports whether r orders before o when sub-nodes are kept sorted
// by the start of their range.
func (r Range) InLeft(o Range) bool {
	return r.Lo < o.Lo
}

// Project maps k, a coordinate in the full [0, 2^64) shard space, linearly
// onto this range: Lo + (Hi-Lo) * k / 2^64. The division by 2^64 is exact:
// it is the high word of the 128-bit product.
func (r Range) Project(k uint64) uint64 {
	span := r.Hi - r.Lo
	hi, _ := bits.Mul64(span, k)
	return r.Lo + hi
}

// EvenDivide splits the range into n contiguous pieces and returns the
// i-th. Piece boundaries are Lo + span*i/n, so adjacent pieces share their
// boundary and the union is exactly r.
func (r Range) EvenDivide(n, i int) Range {
	if n <= 0 || i < 0 || i >= n {
		panic(fmt.Sprintf("keyrange: bad division %d/%d", i, n))
	}
	span := r.Hi - r.Lo
	bound := func(j int) uint64 {
		h, l := bits.Mul64(span, uint64(j))
		q, _ := bits.Div64(h, l, uint64(n))
		return r.Lo + q
	}
	return Range{Lo: bound(i), Hi: bound(i + 1)}
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Lo, r.Hi)
}
