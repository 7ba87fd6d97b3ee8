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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerInOrder(t *testing.T) {
	var tr tracker
	for ts := int32(1); ts <= 100; ts++ {
		require.False(t, tr.IsFinished(ts))
		tr.Finish(ts)
		require.True(t, tr.IsFinished(ts))
	}
	require.Equal(t, int32(100), tr.watermark)
	require.Empty(t, tr.overflow)
}

func TestTrackerOutOfOrder(t *testing.T) {
	var tr tracker
	tr.Finish(3)
	tr.Finish(5)
	require.False(t, tr.IsFinished(1))
	require.True(t, tr.IsFinished(3))
	require.False(t, tr.IsFinished(4))
	require.True(t, tr.IsFinished(5))

	tr.Finish(1)
	require.Equal(t, int32(1), tr.watermark)
	tr.Finish(2)
	// the watermark swallows the stragglers
	require.Equal(t, int32(3), tr.watermark)
	tr.Finish(4)
	require.Equal(t, int32(5), tr.watermark)
	require.Empty(t, tr.overflow)
}

func TestTrackerIdempotent(t *testing.T) {
	var tr tracker
	tr.Finish(1)
	tr.Finish(1)
	tr.Finish(1)
	require.Equal(t, int32(1), tr.watermark)
	require.True(t, tr.IsFinished(1))
	// once finished, never un-finishes
	tr.Finish(3)
	tr.Finish(2)
	require.True(t, tr.IsFinished(1))
	require.True(t, tr.IsFinished(2))
	require.True(t, tr.IsFinished(3))
}
