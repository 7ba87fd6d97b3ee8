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

package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pingcap/pslite/pkg/message"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFIFO(t *testing.T) {
	q := New()
	defer q.Close()
	for i := int32(0); i < 10; i++ {
		m := message.New("S0")
		m.Task.Time = i
		q.Push(m)
	}
	for i := int32(0); i < 10; i++ {
		m, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, m.Task.Time)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New()
	defer q.Close()
	var wg sync.WaitGroup
	wg.Add(1)
	var got *message.Message
	go func() {
		defer wg.Done()
		got, _ = q.Pop()
	}()
	m := message.New("W0")
	q.Push(m)
	wg.Wait()
	require.Same(t, m, got)
}

func TestCloseWakesConsumers(t *testing.T) {
	q := New()
	done := make(chan struct{})
	go func() {
		_, ok := q.Pop()
		require.False(t, ok)
		close(done)
	}()
	q.Close()
	<-done

	// pushes after close are dropped
	q.Push(message.New("S0"))
	_, ok := q.Pop()
	require.False(t, ok)
}

func TestCloseDrainsQueued(t *testing.T) {
	q := New()
	q.Push(message.New("S0"))
	q.Close()
	_, ok := q.Pop()
	require.True(t, ok)
	_, ok = q.Pop()
	require.False(t, ok)
}
