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

package executor

// tracker records the finished timestamps of one direction of one peer.
// Timestamps mostly finish in order, so a contiguous-prefix watermark
// absorbs the common case and a small overflow set holds the stragglers.
// Once finished, a timestamp never un-finishes.
//
// Not safe for concurrent use; the executor's node lock guards it.
type tracker struct {
	// watermark: every timestamp in [0, watermark] is finished.
	watermark int32
	overflow  map[int32]struct{}
}

// Finish marks ts finished. Idempotent; O(1) amortised.
func (t *tracker) Finish(ts int32) {
	if ts <= t.watermark {
		return
	}
	if ts == t.watermark+1 {
		t.watermark = ts
		for t.overflow != nil {
			if _, ok := t.overflow[t.watermark+1]; !ok {
				break
			}
			delete(t.overflow, t.watermark+1)
			t.watermark++
		}
		return
	}
	if t.overflow == nil {
		t.overflow = make(map[int32]struct{})
	}
	t.overflow[ts] = struct{}{}
}

// IsFinished reports whether ts has been finished. O(1).
func (t *tracker) IsFinished(ts int32) bool {
	if ts <= t.watermark {
		return true
	}
	_, ok := t.overflow[ts]
	return ok
}
