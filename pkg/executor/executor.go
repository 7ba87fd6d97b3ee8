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

// Package executor implements the per-customer task engine: asynchronous
// submission with timestamp allocation, dependency-ordered processing of
// received messages, and group-aware completion tracking.
package executor

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/pingcap/pslite/pkg/keyrange"
	"github.com/pingcap/pslite/pkg/message"
	"github.com/pingcap/pslite/pkg/node"
)

// Customer is the application surface the executor drives. The process
// hooks run on the executor's worker goroutine and Slice runs on the
// goroutine calling Submit; all of them run outside the executor locks.
type Customer interface {
	// ProcessRequest handles one incoming request. Clearing msg.Finished
	// defers the finish mark to a later FinishRecvReq call.
	ProcessRequest(msg *message.Message)
	// ProcessResponse handles one incoming response.
	ProcessResponse(msg *message.Message)
	// Slice splits an outgoing message across the receiver's sub-ranges,
	// one sub-message per range, in range order.
	Slice(msg *message.Message, krs []keyrange.Range) ([]*message.Message, error)
}

// Sender enqueues outbound messages; the Postoffice implements it.
type Sender interface {
	Queue(m *message.Message)
}

// sentRequest tracks one Submit until the group-wide response completes.
type sentRequest struct {
	recver     node.ID
	recvHandle func()
	callback   func()
	fired      bool
}

// Executor runs one customer's task engine.
type Executor struct {
	id          int32
	obj         Customer
	sender      Sender
	numReplicas int

	// nodeMu guards the node table, trackers, the timestamp counter and
	// sentReqs. Held briefly, never across I/O or customer hooks.
	nodeMu      sync.Mutex
	sentReqCond *sync.Cond
	recvReqCond *sync.Cond
	myNode      node.Node
	nodes       map[node.ID]*RemoteNode
	time        int32
	sentReqs    map[int32]*sentRequest

	// msgMu guards the receive buffer and the worker lifecycle.
	msgMu        sync.Mutex
	dagCond      *sync.Cond
	recvMsgs     []*message.Message
	lastRequest  *message.Message
	lastResponse *message.Message
	done         bool

	stopping atomic.Bool
	stopped  chan struct{}
}

// New builds an executor for the given customer and starts its worker
// goroutine. The virtual group peers are pre-registered so that group
// sends work before the roster arrives.
func New(id int32, obj Customer, my node.Node, numReplicas int, sender Sender) *Executor {
	e := &Executor{
		id:          id,
		obj:         obj,
		sender:      sender,
		numReplicas: numReplicas,
		myNode:      my,
		nodes:       make(map[node.ID]*RemoteNode),
		sentReqs:    make(map[int32]*sentRequest),
		stopped:     make(chan struct{}),
	}
	e.sentReqCond = sync.NewCond(&e.nodeMu)
	e.recvReqCond = sync.NewCond(&e.nodeMu)
	e.dagCond = sync.NewCond(&e.msgMu)
	for _, gid := range node.GroupIDs() {
		e.nodes[gid] = newRemoteNode(node.Node{ID: gid, Role: node.Group})
	}
	go e.run()
	return e
}

// ID returns the customer id this executor serves.
func (e *Executor) ID() int32 {
	return e.id
}

// MyNode returns the local node as the roster last described it.
func (e *Executor) MyNode() node.Node {
	e.nodeMu.Lock()
	defer e.nodeMu.Unlock()
	return e.myNode
}

// Stop shuts the worker goroutine down and wakes every waiter.
func (e *Executor) Stop() {
	if !e.stopping.CompareAndSwap(false, true) {
		<-e.stopped
		return
	}
	e.msgMu.Lock()
	e.done = true
	e.dagCond.Broadcast()
	e.msgMu.Unlock()
	e.nodeMu.Lock()
	e.sentReqCond.Broadcast()
	e.recvReqCond.Broadcast()
	e.nodeMu.Unlock()
	<-e.stopped
}

// Submit assigns the next timestamp, records the request, slices the
// message across the receiver's members, and hands the valid pieces to
// the sender. A piece whose range misses the receiver is finished
// locally without touching the wire.
func (e *Executor) Submit(msg *message.Message) int32 {
	if msg.Recver == "" {
		log.Panic("submit without receiver", zap.Stringer("msg", msg))
	}

	e.nodeMu.Lock()
	ts := e.time + 1
	if msg.Task.Time > message.InvalidTime {
		ts = msg.Task.Time
	}
	if ts <= e.time {
		log.Panic("timestamp is not monotonic",
			zap.String("id", string(e.myNode.ID)),
			zap.Int32("ts", ts), zap.Int32("current", e.time))
	}
	e.time = ts
	msg.Task.Time = ts
	msg.Task.Request = true
	msg.Task.CustomerID = e.id
	e.sentReqs[ts] = &sentRequest{
		recver:     msg.Recver,
		recvHandle: msg.RecvHandle,
		callback:   msg.FinHandle,
	}
	rnode := e.getRNodeLocked(msg.Recver)
	subNodes := append([]*RemoteNode(nil), rnode.SubNodes...)
	krs := append([]keyrange.Range(nil), rnode.SubKeyRanges...)
	e.nodeMu.Unlock()

	msgs, err := e.obj.Slice(msg, krs)
	if err != nil {
		log.Panic("slice failed", zap.Stringer("msg", msg), zap.Error(err))
	}
	if len(msgs) != len(subNodes) {
		log.Panic("slice produced a wrong piece count",
			zap.Int("got", len(msgs)), zap.Int("want", len(subNodes)))
	}

	var send []*message.Message
	e.nodeMu.Lock()
	for i, m := range msgs {
		r := subNodes[i]
		if m == nil || !m.Valid {
			// do not send, just mark it as done
			r.SentReqTracker.Finish(ts)
			continue
		}
		r.EncodeMessage(m)
		m.Recver = r.Node.ID
		m.OriginalRecver = msg.Recver
		send = append(send, m)
	}
	e.nodeMu.Unlock()

	for _, m := range send {
		e.sender.Queue(m)
	}
	return ts
}

// Accept is the producer entry from the transport's recv loop. The
// message is buffered for the worker goroutine; nothing is processed on
// the caller's thread.
func (e *Executor) Accept(m *message.Message) {
	e.msgMu.Lock()
	defer e.msgMu.Unlock()
	if e.done {
		return
	}
	e.recvMsgs = append(e.recvMsgs, m)
	e.dagCond.Signal()
}

func (e *Executor) run() {
	defer close(e.stopped)
	for {
		m := e.pickActiveMsg()
		if m == nil {
			return
		}
		e.processActiveMsg(m)
	}
}

// pickActiveMsg blocks until an eligible message exists, removes it from
// the buffer and decodes it. It returns nil on shutdown.
func (e *Executor) pickActiveMsg() *message.Message {
	e.msgMu.Lock()
	defer e.msgMu.Unlock()
	for {
		if e.done {
			return nil
		}
		if m := e.scanLocked(); m != nil {
			return m
		}
		e.dagCond.Wait()
	}
}

// scanLocked walks the buffer in arrival order and returns the first
// message whose sender is alive, that is not a duplicate, and whose
// dependencies are satisfied. Caller holds msgMu.
func (e *Executor) scanLocked() *message.Message {
	for i := 0; i < len(e.recvMsgs); i++ {
		msg := e.recvMsgs[i]
		e.nodeMu.Lock()
		myID := e.myNode.ID
		rnode := e.getRNodeLocked(msg.Sender)
		if !rnode.Alive {
			e.nodeMu.Unlock()
			log.Warn("sender is dead, ignoring message",
				zap.String("id", string(myID)), zap.Stringer("msg", msg))
			e.recvMsgs = append(e.recvMsgs[:i], e.recvMsgs[i+1:]...)
			i--
			continue
		}
		req, ts := msg.Task.Request, msg.Task.Time
		if (req && rnode.RecvReqTracker.IsFinished(ts)) ||
			(!req && rnode.SentReqTracker.IsFinished(ts)) {
			e.nodeMu.Unlock()
			log.Warn("doubly received message, ignoring",
				zap.String("id", string(myID)), zap.Stringer("msg", msg))
			e.recvMsgs = append(e.recvMsgs[:i], e.recvMsgs[i+1:]...)
			i--
			continue
		}
		if req {
			blocked := false
			for _, wt := range msg.Task.WaitTime {
				if wt <= message.InvalidTime {
					continue
				}
				if !rnode.RecvReqTracker.IsFinished(wt) {
					blocked = true
					break
				}
			}
			if blocked {
				e.nodeMu.Unlock()
				continue
			}
		}
		rnode.DecodeMessage(msg)
		e.nodeMu.Unlock()
		e.recvMsgs = append(e.recvMsgs[:i], e.recvMsgs[i+1:]...)
		return msg
	}
	return nil
}

func (e *Executor) processActiveMsg(m *message.Message) {
	ts := m.Task.Time
	if m.Task.Request {
		e.msgMu.Lock()
		e.lastRequest = m
		e.msgMu.Unlock()

		e.obj.ProcessRequest(m)
		if m.Finished {
			// The handler left the finished mark in place; otherwise the
			// application calls FinishRecvReq itself later.
			e.FinishRecvReq(ts, m.Sender)
			if !m.Replied {
				e.replyEmpty(m)
			}
		}
		return
	}

	e.msgMu.Lock()
	e.lastResponse = m
	e.msgMu.Unlock()

	e.obj.ProcessResponse(m)

	// The per-response handle runs before the request is marked finished.
	e.nodeMu.Lock()
	var recvHandle func()
	if req, ok := e.sentReqs[ts]; ok {
		recvHandle = req.recvHandle
	}
	e.nodeMu.Unlock()
	if recvHandle != nil {
		recvHandle()
	}

	var fire func()
	e.nodeMu.Lock()
	rnode := e.getRNodeLocked(m.Sender)
	rnode.SentReqTracker.Finish(ts)
	if req, ok := e.sentReqs[ts]; ok {
		complete := true
		if req.recver != m.Sender {
			onode := e.nodes[req.recver]
			if onode != nil && onode.Node.IsGroup() {
				// the original receiver is a group; the callback waits for
				// replies from every alive member
				for _, r := range onode.SubNodes {
					if r.Alive && !r.SentReqTracker.IsFinished(ts) {
						complete = false
						break
					}
				}
				if complete {
					onode.SentReqTracker.Finish(ts)
				}
			}
			// otherwise the original receiver was replaced and the sender
			// answered on its behalf; the request is complete
		}
		if complete && !req.fired {
			req.fired = true
			fire = req.callback
			delete(e.sentReqs, ts)
		}
	} else {
		log.Warn("response without a pending request",
			zap.String("id", string(e.myNode.ID)), zap.Stringer("msg", m))
	}
	e.nodeMu.Unlock()

	e.sentReqCond.Broadcast()
	if fire != nil {
		fire()
	}
}

// Reply sends resp as the response to req and marks req replied.
func (e *Executor) Reply(req, resp *message.Message) {
	resp.Task.Time = req.Task.Time
	resp.Task.Request = false
	resp.Task.Control = false
	resp.Task.CustomerID = e.id
	resp.Recver = req.Sender
	req.Replied = true
	e.sender.Queue(resp)
}

func (e *Executor) replyEmpty(req *message.Message) {
	e.Reply(req, message.New(req.Sender))
}

// WaitSentReq blocks until the request submitted at ts has completed:
// the receiver responded, or every alive member of the receiver group
// responded, or the receiver died.
func (e *Executor) WaitSentReq(ts int32) {
	e.nodeMu.Lock()
	defer e.nodeMu.Unlock()
	for {
		req, ok := e.sentReqs[ts]
		if !ok {
			// completed and reaped, or never submitted
			return
		}
		rnode := e.nodes[req.recver]
		if rnode == nil || e.checkFinishedLocked(rnode, ts, true) {
			return
		}
		if e.stopping.Load() {
			return
		}
		e.sentReqCond.Wait()
	}
}

// WaitRecvReq blocks until the request at ts from sender has been
// processed locally (or the sender died).
func (e *Executor) WaitRecvReq(ts int32, sender node.ID) {
	e.nodeMu.Lock()
	defer e.nodeMu.Unlock()
	rnode := e.getRNodeLocked(sender)
	for !e.checkFinishedLocked(rnode, ts, false) && !e.stopping.Load() {
		e.recvReqCond.Wait()
	}
}

// FinishRecvReq marks the request at ts from sender processed. Called by
// the executor for handlers that finished inline, or by the application
// for deferred finishes.
func (e *Executor) FinishRecvReq(ts int32, sender node.ID) {
	e.nodeMu.Lock()
	if rnode, ok := e.nodes[sender]; ok {
		rnode.RecvReqTracker.Finish(ts)
	}
	e.recvReqCond.Broadcast()
	e.nodeMu.Unlock()
	// a tracker advanced; buffered requests may have become eligible
	e.msgMu.Lock()
	e.dagCond.Broadcast()
	e.msgMu.Unlock()
}

// checkFinishedLocked reports completion of ts toward rnode. A dead node
// counts as finished; a group is finished when every alive member is,
// and the members are then marked so late replies stay idempotent.
// Caller holds nodeMu.
func (e *Executor) checkFinishedLocked(rnode *RemoteNode, ts int32, sent bool) bool {
	if ts < 0 {
		return true
	}
	pick := func(r *RemoteNode) *tracker {
		if sent {
			return &r.SentReqTracker
		}
		return &r.RecvReqTracker
	}
	if !rnode.Alive || pick(rnode).IsFinished(ts) {
		return true
	}
	if rnode.Node.IsGroup() {
		for _, r := range rnode.SubNodes {
			if r.Alive && !pick(r).IsFinished(ts) {
				return false
			}
		}
		for _, r := range rnode.SubNodes {
			pick(r).Finish(ts)
		}
		return true
	}
	return false
}

// LastRequest returns the request most recently handed to the customer.
func (e *Executor) LastRequest() *message.Message {
	e.msgMu.Lock()
	defer e.msgMu.Unlock()
	return e.lastRequest
}

// LastResponse returns the response most recently handed to the customer.
func (e *Executor) LastResponse() *message.Message {
	e.msgMu.Lock()
	defer e.msgMu.Unlock()
	return e.lastResponse
}

func (e *Executor) getRNodeLocked(id node.ID) *RemoteNode {
	rnode, ok := e.nodes[id]
	if !ok {
		log.Panic("unknown node", zap.String("id", string(id)),
			zap.String("self", string(e.myNode.ID)))
	}
	return rnode
}
