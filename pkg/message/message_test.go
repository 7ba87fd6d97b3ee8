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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pingcap/pslite/pkg/keyrange"
	"github.com/pingcap/pslite/pkg/node"
)

func TestTaskRoundTrip(t *testing.T) {
	task := Task{
		Time:       42,
		WaitTime:   []int32{40, 41},
		Request:    true,
		CustomerID: 7,
		KeyRange:   keyrange.Range{Lo: 100, Hi: 2000},
		HasKey:     true,
		KeyType:    TypeUint64,
		ValueType:  []DataType{TypeDouble, TypeFloat},
		Filter:     []FilterConfig{{Type: FilterChecksum, Params: map[string]string{"crc32c": "abc"}}},
		Msg:        []byte("progress"),
	}
	buf, err := MarshalTask(&task)
	require.NoError(t, err)

	var got Task
	require.NoError(t, UnmarshalTask(buf, &got))
	require.Equal(t, task, got)
}

func TestControlTaskRoundTrip(t *testing.T) {
	task := Task{
		Time:    3,
		Request: true,
		Control: true,
		Ctrl: &Control{
			Cmd: CtrlAddNode,
			Node: []node.Node{
				{ID: "H", Role: node.Scheduler, Hostname: "127.0.0.1", Port: 8000},
				{ID: "S0", Role: node.Server, Hostname: "127.0.0.1", Port: 8001,
					Key: keyrange.All()},
			},
			AppConf: []byte("name = \"demo\""),
		},
	}
	buf, err := MarshalTask(&task)
	require.NoError(t, err)

	var got Task
	require.NoError(t, UnmarshalTask(buf, &got))
	require.Equal(t, task, got)
}

func TestMiniCopyFrom(t *testing.T) {
	src := New("S")
	src.SetKey(EncodeUint64s([]uint64{1, 2, 3}), TypeUint64)
	src.AddValue(EncodeFloat64s([]float64{0.5, 1.5, 2.5}), TypeDouble)
	src.Task.WaitTime = []int32{9}
	src.OriginalRecver = "S"
	src.FinHandle = func() {}

	var cp Message
	cp.MiniCopyFrom(src)
	// the header is carried over, minus the key mark
	require.False(t, cp.Task.HasKey)
	require.Empty(t, cp.Key)
	require.Equal(t, src.Task.ValueType, cp.Task.ValueType)
	require.Equal(t, src.Task.WaitTime, cp.Task.WaitTime)
	require.Equal(t, node.ID("S"), cp.OriginalRecver)
	require.NotNil(t, cp.FinHandle)

	// the copy's lists are independent
	cp.Task.WaitTime[0] = 100
	require.Equal(t, int32(9), src.Task.WaitTime[0])
}

func TestSetKeyDefaultsRange(t *testing.T) {
	m := New("S0")
	require.True(t, m.Task.KeyRange.Empty())
	m.SetKey(EncodeUint64s([]uint64{8}), TypeUint64)
	require.True(t, m.Task.HasKey)
	require.Equal(t, keyrange.All(), m.Task.KeyRange)
}

func TestPayloadCodecs(t *testing.T) {
	ks := []uint64{0, 1, uint64(1) << 63, ^uint64(0)}
	require.Equal(t, ks, DecodeUint64s(EncodeUint64s(ks)))

	vs := []float64{-1.5, 0, 3.25}
	require.Equal(t, vs, DecodeFloat64s(EncodeFloat64s(vs)))

	us := []uint32{7, 9}
	require.Equal(t, us, DecodeUint32s(EncodeUint32s(us)))
}

func TestDataTypeWidth(t *testing.T) {
	require.Equal(t, 8, TypeUint64.Width())
	require.Equal(t, 4, TypeFloat.Width())
	require.Equal(t, 1, TypeChar.Width())
	require.Equal(t, 0, TypeOther.Width())
}
