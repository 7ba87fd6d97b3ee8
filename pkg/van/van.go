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

// Package van is the message transport: identity-addressed multipart
// frames over per-pair TCP channels, with a monitor that surfaces peer
// disconnects to the control plane.
package van

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/pingcap/pslite/pkg/message"
	"github.com/pingcap/pslite/pkg/node"
	"github.com/pingcap/pslite/pkg/pserrors"
)

const (
	dialTimeout     = 3 * time.Second
	dialMaxRetries  = 3
	dialInitialWait = 100 * time.Millisecond
	eventBacklog    = 64
)

// Van moves messages between nodes. Each outbound channel is tagged with
// the local identity at connect time; inbound channels report the dialer's
// identity, which Recv attaches as the message sender.
type Van struct {
	mu        sync.Mutex
	myNode    node.Node
	scheduler node.Node
	senders   map[node.ID]*conn
	hostnames map[node.ID]string
	inbound   map[net.Conn]node.ID

	listener net.Listener
	recvCh   chan *message.Message
	events   chan node.ID
	peerDown func(node.ID)
	stopCh   chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup

	sentToLocal   atomic.Uint64
	sentToOthers  atomic.Uint64
	recvFromLocal atomic.Uint64
	recvFromOther atomic.Uint64
}

// New returns a Van for the given local and scheduler nodes. Bind must be
// called before any traffic flows.
func New(my, scheduler node.Node) *Van {
	return &Van{
		myNode:    my,
		scheduler: scheduler,
		senders:   make(map[node.ID]*conn),
		hostnames: make(map[node.ID]string),
		inbound:   make(map[net.Conn]node.ID),
		recvCh:    make(chan *message.Message, eventBacklog),
		events:    make(chan node.ID, eventBacklog),
		stopCh:    make(chan struct{}),
	}
}

// MyNode returns the local node, which may have been updated by the
// scheduler's roster.
func (v *Van) MyNode() node.Node {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.myNode
}

// SetMyNode installs the scheduler-assigned identity. Channels opened
// after this carry the new identity.
func (v *Van) SetMyNode(n node.Node) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.myNode = n
}

// Scheduler returns the scheduler's node.
func (v *Van) Scheduler() node.Node {
	return v.scheduler
}

// SetPeerDownHandler installs the monitor callback. Must be called before
// Bind.
func (v *Van) SetPeerDownHandler(f func(node.ID)) {
	v.peerDown = f
}

// Bind listens on the local node's advertised port and starts the accept
// loop and the monitor. A port of 0 asks the kernel for a free port, and
// the local node is updated with the bound one.
func (v *Van) Bind() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	addr := fmt.Sprintf(":%d", v.myNode.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "bind to %s", addr)
	}
	v.listener = l
	v.myNode.Port = int32(l.Addr().(*net.TCPAddr).Port)
	log.Info("transport bound", zap.String("id", string(v.myNode.ID)),
		zap.Int32("port", v.myNode.Port))

	v.wg.Add(2)
	go v.acceptLoop()
	go v.monitor()
	return nil
}

// Connect establishes an identity-tagged channel to the node. It is
// idempotent and returns an error, without aborting, on transient dial
// failures.
func (v *Van) Connect(n node.Node) error {
	if n.ID == "" || n.IsGroup() {
		return pserrors.ErrBadConfig.GenWithStackByArgs("connect to non-concrete node " + string(n.ID))
	}
	v.mu.Lock()
	if n.ID == v.myNode.ID {
		v.myNode = n
	}
	if _, ok := v.senders[n.ID]; ok {
		v.mu.Unlock()
		return nil
	}
	myID := v.myNode.ID
	v.mu.Unlock()

	var raw net.Conn
	dial := func() error {
		var err error
		raw, err = net.DialTimeout("tcp", n.Addr(), dialTimeout)
		return err
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = dialInitialWait
	if err := backoff.Retry(dial, backoff.WithMaxRetries(expo, dialMaxRetries)); err != nil {
		log.Warn("connect failed", zap.String("to", string(n.ID)),
			zap.String("addr", n.Addr()), zap.Error(err))
		return pserrors.WrapError(pserrors.ErrDial, err, n.ID, n.Addr())
	}
	c := newConn(raw)
	if err := c.writeHandshake(myID); err != nil {
		c.close()
		return pserrors.WrapError(pserrors.ErrDial, err, n.ID, n.Addr())
	}

	v.mu.Lock()
	if _, ok := v.senders[n.ID]; ok {
		// lost the race with a concurrent Connect; keep the first channel
		v.mu.Unlock()
		c.close()
		return nil
	}
	v.senders[n.ID] = c
	v.hostnames[n.ID] = n.Hostname
	v.mu.Unlock()
	log.Debug("connected", zap.String("to", string(n.ID)), zap.String("addr", n.Addr()))
	return nil
}

// Disconnect drops the outbound channel to the node, if any.
func (v *Van) Disconnect(n node.Node) {
	v.mu.Lock()
	c, ok := v.senders[n.ID]
	delete(v.senders, n.ID)
	v.mu.Unlock()
	if ok {
		c.close()
		log.Debug("disconnected", zap.String("from", string(n.ID)))
	}
}

// Send serializes the task header plus, in order, the key array and each
// value array as one multipart frame to msg.Recver. It returns the
// payload size written.
func (v *Van) Send(m *message.Message) (int, error) {
	v.mu.Lock()
	c, ok := v.senders[m.Recver]
	local := v.hostnames[m.Recver] == v.myNode.Hostname
	v.mu.Unlock()
	if !ok {
		return 0, pserrors.ErrNotConnected.GenWithStackByArgs(m.Recver)
	}

	// Re-derive the payload layout so the receiver can trust the header.
	m.Task.HasKey = len(m.Key) > 0
	m.Task.DataSize = m.Task.DataSize[:0]
	if m.Task.HasKey {
		m.Task.DataSize = append(m.Task.DataSize, int32(len(m.Key)))
	}
	for _, val := range m.Value {
		m.Task.DataSize = append(m.Task.DataSize, int32(len(val)))
	}
	taskBuf, err := message.MarshalTask(&m.Task)
	if err != nil {
		log.Panic("cannot serialize task", zap.Stringer("msg", m), zap.Error(err))
	}

	n, err := c.writeMessage(taskBuf, m)
	if err != nil {
		return 0, pserrors.WrapError(pserrors.ErrSend, err, m.Recver)
	}
	if local {
		v.sentToLocal.Add(uint64(n))
	} else {
		v.sentToOthers.Add(uint64(n))
	}
	return n, nil
}

// Recv blocks until a complete message arrives. It returns false once the
// transport is stopped.
func (v *Van) Recv() (*message.Message, bool) {
	m, ok := <-v.recvCh
	return m, ok
}

func (v *Van) acceptLoop() {
	defer v.wg.Done()
	for {
		raw, err := v.listener.Accept()
		if err != nil {
			if v.closed.Load() {
				return
			}
			log.Warn("accept failed", zap.Error(err))
			continue
		}
		v.wg.Add(1)
		go v.readLoop(raw)
	}
}

func (v *Van) readLoop(raw net.Conn) {
	defer v.wg.Done()
	sender, err := readHandshake(raw)
	if err != nil {
		log.Warn("rejecting connection", zap.Stringer("addr", raw.RemoteAddr()), zap.Error(err))
		_ = raw.Close()
		return
	}
	v.mu.Lock()
	v.inbound[raw] = sender
	myID := v.myNode.ID
	local := v.hostnames[sender] == v.myNode.Hostname
	v.mu.Unlock()

	br := bufio.NewReader(raw)
	for {
		m, err := readMessage(br)
		if err != nil {
			break
		}
		m.Sender = sender
		m.Recver = myID
		if local {
			v.recvFromLocal.Add(uint64(m.MemSize()))
		} else {
			v.recvFromOther.Add(uint64(m.MemSize()))
		}
		select {
		case v.recvCh <- m:
		case <-v.stopCh:
			_ = raw.Close()
			return
		}
	}

	_ = raw.Close()
	v.mu.Lock()
	delete(v.inbound, raw)
	v.mu.Unlock()
	if !v.closed.Load() {
		select {
		case v.events <- sender:
		case <-v.stopCh:
		}
	}
}

// Stop tears the transport down: the listener, every channel, and the
// monitor. Pending Recv calls observe the closed state.
func (v *Van) Stop() {
	if !v.closed.CompareAndSwap(false, true) {
		return
	}
	close(v.stopCh)
	v.mu.Lock()
	if v.listener != nil {
		_ = v.listener.Close()
	}
	for _, c := range v.senders {
		c.close()
	}
	for raw := range v.inbound {
		_ = raw.Close()
	}
	v.mu.Unlock()
	v.wg.Wait()
	close(v.recvCh)

	gb := func(x uint64) float64 { return float64(x) / 1e9 }
	log.Info("transport stopped",
		zap.String("id", string(v.MyNode().ID)),
		zap.Float64("sentGB", gb(v.sentToLocal.Load()+v.sentToOthers.Load())),
		zap.Float64("sentLocalGB", gb(v.sentToLocal.Load())),
		zap.Float64("receivedGB", gb(v.recvFromLocal.Load()+v.recvFromOther.Load())),
		zap.Float64("receivedLocalGB", gb(v.recvFromLocal.Load())))
}
