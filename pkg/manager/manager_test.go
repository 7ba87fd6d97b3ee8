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

package manager

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pingcap/pslite/pkg/config"
	"github.com/pingcap/pslite/pkg/keyrange"
	"github.com/pingcap/pslite/pkg/message"
	"github.com/pingcap/pslite/pkg/node"
	"github.com/pingcap/pslite/pkg/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	mu       sync.Mutex
	my       node.Node
	sched    node.Node
	connects []node.ID
}

func (f *fakeTransport) MyNode() node.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.my
}

func (f *fakeTransport) SetMyNode(n node.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.my = n
}

func (f *fakeTransport) Scheduler() node.Node { return f.sched }

func (f *fakeTransport) Connect(n node.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, n.ID)
	return nil
}

func (f *fakeTransport) Disconnect(n node.Node) {}

type fakeCustomer struct {
	mu      sync.Mutex
	id      int32
	added   []node.ID
	removed []node.ID
	msgs    []*message.Message
}

func (c *fakeCustomer) ID() int32 { return c.id }
func (c *fakeCustomer) Accept(m *message.Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}
func (c *fakeCustomer) AddNode(n node.Node) {
	c.mu.Lock()
	c.added = append(c.added, n.ID)
	c.mu.Unlock()
}
func (c *fakeCustomer) RemoveNode(n node.Node) {
	c.mu.Lock()
	c.removed = append(c.removed, n.ID)
	c.mu.Unlock()
}
func (c *fakeCustomer) ReplaceNode(o, n node.Node) {}

func schedNode() node.Node {
	return node.Node{ID: node.SchedulerID, Role: node.Scheduler, Hostname: "127.0.0.1", Port: 8000}
}

func joiner(port int32) node.Node {
	n := node.Node{Role: node.Unused, Hostname: "127.0.0.1", Port: port}
	n.ID = node.AutoID(n)
	return n
}

func requestApp(n node.Node) *message.Message {
	m := message.NewTask(message.Task{Control: true, Request: true, Ctrl: &message.Control{
		Cmd:  message.CtrlRequestApp,
		Node: []node.Node{n},
	}}, node.SchedulerID)
	m.Sender = n.ID
	return m
}

func newSchedulerManager(t *testing.T) (*Manager, *fakeTransport, *queue.Queue) {
	cfg := &config.Config{NumWorkers: 1, NumServers: 2, App: "name = \"demo\""}
	tr := &fakeTransport{my: schedNode(), sched: schedNode()}
	q := queue.New()
	t.Cleanup(q.Close)
	return New(cfg, tr, q), tr, q
}

func TestSchedulerAssignsAndBroadcasts(t *testing.T) {
	m, tr, q := newSchedulerManager(t)
	cust := &fakeCustomer{id: 0}
	require.NoError(t, m.AddCustomer(cust))

	m.Process(requestApp(joiner(7001)))
	m.Process(requestApp(joiner(7002)))
	// roster is not broadcast while a joiner is missing
	require.Empty(t, tr.connects)

	m.Process(requestApp(joiner(7003)))

	// one ADD_NODE per peer, each carrying the full roster and app conf
	var recvers []node.ID
	for i := 0; i < 3; i++ {
		msg, ok := q.Pop()
		require.True(t, ok)
		require.True(t, msg.Task.Control)
		ctrl := msg.Task.Ctrl
		require.Equal(t, message.CtrlAddNode, ctrl.Cmd)
		require.Len(t, ctrl.Node, 4)
		require.Equal(t, []byte("name = \"demo\""), ctrl.AppConf)
		recvers = append(recvers, msg.Recver)
	}
	require.ElementsMatch(t, []node.ID{"W0", "S0", "S1"}, recvers)
	require.ElementsMatch(t, []node.ID{"W0", "S0", "S1"}, tr.connects)

	// the scheduler's own customers observed every join
	require.Contains(t, cust.added, node.ID("W0"))
	require.Contains(t, cust.added, node.ID("S0"))
	require.Contains(t, cust.added, node.ID("S1"))
}

func TestSchedulerAssignsByJoinOrder(t *testing.T) {
	a := newNodeAssigner(2, 2, 1)
	n1 := a.assign(joiner(1))
	n2 := a.assign(joiner(2))
	n3 := a.assign(joiner(3))
	n4 := a.assign(joiner(4))
	n5 := a.assign(joiner(5))

	require.Equal(t, node.Worker, n1.Role)
	require.Equal(t, node.ID("W0"), n1.ID)
	require.Equal(t, node.ID("W1"), n2.ID)
	require.Equal(t, node.Server, n3.Role)
	require.Equal(t, node.ID("S0"), n3.ID)
	require.Equal(t, node.ID("S1"), n4.ID)
	require.Equal(t, node.Unused, n5.Role)
	require.Equal(t, node.ID("U0"), n5.ID)

	// server ranges partition the key space evenly
	require.Equal(t, uint64(0), n3.Key.Lo)
	require.Equal(t, n3.Key.Hi, n4.Key.Lo)
	require.Equal(t, uint64(keyrange.MaxKey), n4.Key.Hi)

	// re-joining from the same address is idempotent
	again := a.assign(joiner(1))
	require.Equal(t, n1, again)
}

func TestDisconnectBroadcastsRemoveNode(t *testing.T) {
	m, _, q := newSchedulerManager(t)
	cust := &fakeCustomer{id: 0}
	require.NoError(t, m.AddCustomer(cust))

	m.Process(requestApp(joiner(7001)))
	m.Process(requestApp(joiner(7002)))
	m.Process(requestApp(joiner(7003)))
	for i := 0; i < 3; i++ {
		_, ok := q.Pop()
		require.True(t, ok)
	}

	// the monitor reports the provisional wire identity of the worker
	m.NodeDisconnected(joiner(7001).ID)

	var recvers []node.ID
	for i := 0; i < 2; i++ {
		msg, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, message.CtrlRemoveNode, msg.Task.Ctrl.Cmd)
		require.Equal(t, node.ID("W0"), msg.Task.Ctrl.Node[0].ID)
		recvers = append(recvers, msg.Recver)
	}
	require.ElementsMatch(t, []node.ID{"S0", "S1"}, recvers)
	require.Equal(t, []node.ID{"W0"}, cust.removed)

	// a second report for the same node is ignored
	m.NodeDisconnected(node.ID("W0"))
	require.Equal(t, []node.ID{"W0"}, cust.removed)
}

func TestPeerAdoptsAssignedIdentity(t *testing.T) {
	cfg := &config.Config{NumWorkers: 1, NumServers: 1}
	provisional := node.Node{ID: "W_127.0.0.1:7001", Role: node.Worker,
		Hostname: "127.0.0.1", Port: 7001}
	tr := &fakeTransport{my: provisional, sched: schedNode()}
	q := queue.New()
	t.Cleanup(q.Close)
	m := New(cfg, tr, q)

	ran := make(chan struct{})
	m.SetAppFactory(func(conf []byte) (AppHandle, error) {
		require.Equal(t, "name = \"x\"", string(conf))
		return appFunc(func(ctx context.Context) error {
			close(ran)
			return nil
		}), nil
	})

	assigned := node.Node{ID: "W0", Role: node.Worker, Hostname: "127.0.0.1", Port: 7001}
	server := node.Node{ID: "S0", Role: node.Server, Hostname: "127.0.0.1", Port: 7002,
		Key: keyrange.All()}
	m.Process(&message.Message{
		Sender: node.SchedulerID,
		Task: message.Task{Control: true, Request: true, Ctrl: &message.Control{
			Cmd:     message.CtrlAddNode,
			Node:    []node.Node{schedNode(), assigned, server},
			AppConf: []byte("name = \"x\""),
		}},
	})

	require.Equal(t, node.ID("W0"), tr.MyNode().ID)
	require.ElementsMatch(t, []node.ID{"H", "W0", "S0"}, tr.connects)
	<-ran

	// the finished app reports readiness to the scheduler
	msg, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, message.CtrlReadyToExit, msg.Task.Ctrl.Cmd)
	require.Equal(t, node.SchedulerID, msg.Recver)
	m.WaitServersReady()
	m.WaitWorkersReady()
}

type appFunc func(ctx context.Context) error

func (f appFunc) RunApp(ctx context.Context) error { return f(ctx) }

func TestDeliverBuffersUnknownCustomer(t *testing.T) {
	m, _, _ := newSchedulerManager(t)
	msg := message.New("H")
	msg.Task.CustomerID = 9
	m.Deliver(msg)

	cust := &fakeCustomer{id: 9}
	require.NoError(t, m.AddCustomer(cust))
	cust.mu.Lock()
	defer cust.mu.Unlock()
	require.Len(t, cust.msgs, 1)
}
