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

// Package queue provides the unbounded thread-safe outbound message
// queue feeding the Postoffice's sending loop.
package queue

import (
	"sync"

	"github.com/edwingeng/deque"

	"github.com/pingcap/pslite/pkg/message"
)

// Queue is an unbounded FIFO of outbound messages. Push never blocks;
// Pop blocks until a message is available or the queue is closed.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	dq     deque.Deque
	closed bool
}

// New returns an empty open queue.
func New() *Queue {
	q := &Queue{dq: deque.NewDeque()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a message. Pushing to a closed queue drops the message.
func (q *Queue) Push(m *message.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.dq.PushBack(m)
	q.cond.Signal()
}

// Pop removes the oldest message, blocking while the queue is empty.
// It returns false once the queue is closed and drained.
func (q *Queue) Pop() (*message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.dq.Empty() && !q.closed {
		q.cond.Wait()
	}
	if q.dq.Empty() {
		return nil, false
	}
	return q.dq.PopFront().(*message.Message), true
}

// Close wakes all blocked consumers. Already-queued messages can still be
// popped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
