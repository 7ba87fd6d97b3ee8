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

// Package manager is the membership control plane: node registration and
// role assignment on the scheduler, roster replication and application
// lifecycle on every peer.
package manager

import (
	"context"
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/pingcap/pslite/pkg/config"
	"github.com/pingcap/pslite/pkg/message"
	"github.com/pingcap/pslite/pkg/node"
	"github.com/pingcap/pslite/pkg/pserrors"
	"github.com/pingcap/pslite/pkg/queue"
)

// maxPendingPerCustomer bounds messages buffered for a customer that has
// not been registered yet.
const maxPendingPerCustomer = 1024

// Customer is the per-customer surface the manager drives: message
// delivery plus membership updates.
type Customer interface {
	ID() int32
	Accept(m *message.Message)
	AddNode(n node.Node)
	RemoveNode(n node.Node)
	ReplaceNode(old, new node.Node)
}

// AppHandle runs the node's application once the roster is known.
type AppHandle interface {
	RunApp(ctx context.Context) error
}

// AppFactory builds the application from the relayed config document.
type AppFactory func(conf []byte) (AppHandle, error)

// Transport is the slice of the Van the manager drives.
type Transport interface {
	MyNode() node.Node
	SetMyNode(n node.Node)
	Scheduler() node.Node
	Connect(n node.Node) error
	Disconnect(n node.Node)
}

// Manager is the control plane of one process.
type Manager struct {
	cfg *config.Config
	tr  Transport
	q   *queue.Queue

	mu        sync.Mutex
	readyCond *sync.Cond
	nodes     map[node.ID]node.Node
	alive     map[node.ID]bool
	// aliases maps the provisional wire identity a peer joined with to
	// its assigned id. Scheduler only.
	aliases    map[node.ID]node.ID
	assigner   *nodeAssigner
	rosterSent bool
	appConf    []byte
	readyPeers map[node.ID]bool
	time       int32

	customers    map[int32]Customer
	nextCustomer int32
	pending      map[int32][]*message.Message

	appFactory AppFactory
	appOnce    sync.Once
	appDone    atomic.Bool
	appCtx     context.Context

	err      error
	doneCh   chan struct{}
	doneOnce sync.Once
}

// New builds a Manager over the given transport and outbound queue.
func New(cfg *config.Config, tr Transport, q *queue.Queue) *Manager {
	m := &Manager{
		cfg:        cfg,
		tr:         tr,
		q:          q,
		nodes:      make(map[node.ID]node.Node),
		alive:      make(map[node.ID]bool),
		aliases:    make(map[node.ID]node.ID),
		readyPeers: make(map[node.ID]bool),
		customers:  make(map[int32]Customer),
		pending:    make(map[int32][]*message.Message),
		doneCh:     make(chan struct{}),
	}
	m.readyCond = sync.NewCond(&m.mu)
	if cfg != nil {
		m.assigner = newNodeAssigner(cfg.NumWorkers, cfg.NumServers, cfg.NumUnused)
	}
	return m
}

// SetAppFactory installs the application factory. Must be called before
// Run.
func (m *Manager) SetAppFactory(f AppFactory) {
	m.appFactory = f
}

// IsScheduler reports whether this process is the scheduler.
func (m *Manager) IsScheduler() bool {
	return m.tr.MyNode().Role == node.Scheduler
}

// NumWorkers returns the configured worker count.
func (m *Manager) NumWorkers() int { return m.cfg.NumWorkers }

// NumServers returns the configured server count.
func (m *Manager) NumServers() int { return m.cfg.NumServers }

// NumReplicas returns the configured replication factor.
func (m *Manager) NumReplicas() int { return m.cfg.NumReplicas }

// Run drives the control plane until shutdown. The scheduler waits for
// the fleet to join; a peer announces itself and follows the scheduler's
// lead. Run returns after EXIT has been observed (or sent).
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.appCtx = ctx
	m.mu.Unlock()

	if m.IsScheduler() {
		my := m.tr.MyNode()
		m.mu.Lock()
		m.addNodeLocked(my)
		m.mu.Unlock()
		m.createApp([]byte(m.cfg.App))
		m.checkExit()
	} else {
		my := m.tr.MyNode()
		m.sendCtrl(m.tr.Scheduler().ID, &message.Control{
			Cmd:  message.CtrlRequestApp,
			Node: []node.Node{my},
		})
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.doneCh:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Stop forces shutdown without waiting for the control-plane handshake.
func (m *Manager) Stop() {
	m.shutdown()
}

// Process handles one control message. It runs on the Postoffice's recv
// loop; handlers must not block on the network.
func (m *Manager) Process(msg *message.Message) {
	ctrl := msg.Task.Ctrl
	if ctrl == nil {
		log.Warn("control message without body", zap.Stringer("msg", msg))
		return
	}
	switch ctrl.Cmd {
	case message.CtrlRequestApp:
		m.onRequestApp(ctrl)
	case message.CtrlAddNode:
		m.onAddNode(ctrl)
	case message.CtrlRemoveNode:
		m.mu.Lock()
		for _, n := range ctrl.Node {
			m.removeNodeLocked(n)
		}
		m.mu.Unlock()
	case message.CtrlReplaceNode:
		m.onReplaceNode(ctrl)
	case message.CtrlReadyToExit:
		m.onReadyToExit(msg.Sender)
	case message.CtrlExit:
		log.Info("exit received", zap.String("id", string(m.tr.MyNode().ID)))
		m.shutdown()
	default:
		log.Warn("unknown control command", zap.Int32("cmd", int32(ctrl.Cmd)))
	}
}

// onRequestApp registers a joiner on the scheduler and, once the whole
// fleet has joined, broadcasts the roster and the app config.
func (m *Manager) onRequestApp(ctrl *message.Control) {
	if !m.IsScheduler() || len(ctrl.Node) == 0 {
		log.Warn("unexpected REQUEST_APP")
		return
	}
	join := ctrl.Node[0]

	m.mu.Lock()
	// the roster always lists the scheduler itself, even when a joiner is
	// processed before Run registered it
	if my := m.tr.MyNode(); !m.alive[my.ID] {
		m.addNodeLocked(my)
	}
	assigned := m.assigner.assign(join)
	if assigned.ID != join.ID {
		m.aliases[join.ID] = assigned.ID
	}
	m.addNodeLocked(assigned)
	complete := m.assigner.registered() == m.assigner.expected() && !m.rosterSent
	if complete {
		m.rosterSent = true
	}
	roster := m.rosterLocked()
	m.mu.Unlock()

	log.Info("node joined", zap.String("provisional", string(join.ID)),
		zap.String("assigned", string(assigned.ID)), zap.Stringer("role", assigned.Role))

	if !complete {
		return
	}
	log.Info("fleet complete, broadcasting roster", zap.Int("nodes", len(roster)))
	for _, n := range roster {
		if n.Role == node.Scheduler {
			continue
		}
		if err := m.tr.Connect(n); err != nil {
			log.Warn("cannot connect to joined node", zap.String("id", string(n.ID)), zap.Error(err))
			continue
		}
		m.sendCtrl(n.ID, &message.Control{
			Cmd:     message.CtrlAddNode,
			Node:    roster,
			AppConf: []byte(m.cfg.App),
		})
	}
	m.mu.Lock()
	m.readyCond.Broadcast()
	m.mu.Unlock()
}

// onAddNode applies the scheduler's roster on a peer: adopt the assigned
// identity, connect to every member, update the customers, and start the
// application.
func (m *Manager) onAddNode(ctrl *message.Control) {
	my := m.tr.MyNode()
	for _, n := range ctrl.Node {
		if n.Role != node.Scheduler && n.Hostname == my.Hostname && n.Port == my.Port {
			m.tr.SetMyNode(n)
			my = n
			break
		}
	}

	for _, n := range ctrl.Node {
		if err := m.tr.Connect(n); err != nil {
			log.Warn("cannot connect to roster node", zap.String("id", string(n.ID)), zap.Error(err))
		}
	}
	m.mu.Lock()
	if len(ctrl.AppConf) > 0 {
		m.appConf = append([]byte(nil), ctrl.AppConf...)
	}
	conf := m.appConf
	for _, n := range ctrl.Node {
		m.addNodeLocked(n)
	}
	m.readyCond.Broadcast()
	m.mu.Unlock()

	m.createApp(conf)
}

func (m *Manager) onReplaceNode(ctrl *message.Control) {
	if len(ctrl.Node) != 2 {
		log.Warn("REPLACE_NODE needs the old and the new node")
		return
	}
	oldNode, newNode := ctrl.Node[0], ctrl.Node[1]
	if err := m.tr.Connect(newNode); err != nil {
		log.Warn("cannot connect to replacement node",
			zap.String("id", string(newNode.ID)), zap.Error(err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive[oldNode.ID] = false
	m.nodes[newNode.ID] = newNode
	m.alive[newNode.ID] = true
	for _, c := range m.customers {
		c.ReplaceNode(oldNode, newNode)
	}
	m.readyCond.Broadcast()
}

func (m *Manager) onReadyToExit(sender node.ID) {
	if !m.IsScheduler() {
		log.Warn("unexpected READY_TO_EXIT", zap.String("from", string(sender)))
		return
	}
	m.mu.Lock()
	m.readyPeers[m.resolveLocked(sender)] = true
	m.mu.Unlock()
	m.checkExit()
}

// NodeDisconnected is the monitor callback. On the scheduler it marks the
// node dead and broadcasts REMOVE_NODE; on a peer, losing the scheduler
// is fatal and everything else waits for the scheduler's verdict.
func (m *Manager) NodeDisconnected(id node.ID) {
	if !m.IsScheduler() {
		if id == m.tr.Scheduler().ID {
			m.mu.Lock()
			m.err = pserrors.ErrVanClosed.GenWithStack("scheduler is gone")
			m.mu.Unlock()
			log.Warn("lost the scheduler, shutting down")
			m.shutdown()
		}
		return
	}

	m.mu.Lock()
	rid := m.resolveLocked(id)
	n, known := m.nodes[rid]
	if !known || !m.alive[rid] {
		m.mu.Unlock()
		return
	}
	m.removeNodeLocked(n)
	peers := m.alivePeersLocked()
	m.mu.Unlock()

	log.Info("node dead, broadcasting removal", zap.String("id", string(rid)))
	for _, p := range peers {
		m.sendCtrl(p.ID, &message.Control{
			Cmd:  message.CtrlRemoveNode,
			Node: []node.Node{n},
		})
	}
	m.checkExit()
}

// BroadcastReplace announces a replacement for a dead node. Scheduler
// only; the replacement policy itself lives outside the core.
func (m *Manager) BroadcastReplace(oldNode, newNode node.Node) {
	m.onReplaceNode(&message.Control{
		Cmd:  message.CtrlReplaceNode,
		Node: []node.Node{oldNode, newNode},
	})
	m.mu.Lock()
	peers := m.alivePeersLocked()
	m.mu.Unlock()
	for _, p := range peers {
		m.sendCtrl(p.ID, &message.Control{
			Cmd:  message.CtrlReplaceNode,
			Node: []node.Node{oldNode, newNode},
		})
	}
}

// WaitServersReady blocks until every configured server is known and
// alive (or the control plane shuts down).
func (m *Manager) WaitServersReady() {
	m.waitRole(node.Server, m.cfg.NumServers)
}

// WaitWorkersReady blocks until every configured worker is known and
// alive (or the control plane shuts down).
func (m *Manager) WaitWorkersReady() {
	m.waitRole(node.Worker, m.cfg.NumWorkers)
}

func (m *Manager) waitRole(role node.Role, want int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.countRoleLocked(role) < want && !m.isDone() {
		m.readyCond.Wait()
	}
}

func (m *Manager) countRoleLocked(role node.Role) int {
	count := 0
	for id, n := range m.nodes {
		if n.Role == role && m.alive[id] {
			count++
		}
	}
	return count
}

// AddCustomer registers a customer, replays the known roster to it, and
// flushes any messages buffered for its id.
func (m *Manager) AddCustomer(c Customer) error {
	m.mu.Lock()
	id := c.ID()
	if _, dup := m.customers[id]; dup {
		m.mu.Unlock()
		return pserrors.ErrBadConfig.GenWithStackByArgs("duplicate customer id")
	}
	m.customers[id] = c
	for nid, n := range m.nodes {
		if m.alive[nid] {
			c.AddNode(n)
		}
	}
	buffered := m.pending[id]
	delete(m.pending, id)
	m.mu.Unlock()

	for _, msg := range buffered {
		c.Accept(msg)
	}
	return nil
}

// RemoveCustomer unregisters a customer id.
func (m *Manager) RemoveCustomer(id int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.customers, id)
}

// NextCustomerID allocates a fresh customer id.
func (m *Manager) NextCustomerID() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextCustomer
	m.nextCustomer++
	return id
}

// Deliver routes a data-plane message to its customer, buffering briefly
// when the customer has not been created yet.
func (m *Manager) Deliver(msg *message.Message) {
	id := msg.Task.CustomerID
	m.mu.Lock()
	c, ok := m.customers[id]
	if !ok {
		if len(m.pending[id]) >= maxPendingPerCustomer {
			m.mu.Unlock()
			log.Warn("dropping message for congested unknown customer",
				zap.Int32("customer", id), zap.Stringer("msg", msg))
			return
		}
		m.pending[id] = append(m.pending[id], msg)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	c.Accept(msg)
}

// AppDone marks this node's application finished and reports it to the
// scheduler (or, on the scheduler, re-checks the exit condition).
func (m *Manager) AppDone() {
	if !m.appDone.CompareAndSwap(false, true) {
		return
	}
	if m.IsScheduler() {
		m.checkExit()
		return
	}
	m.sendCtrl(m.tr.Scheduler().ID, &message.Control{Cmd: message.CtrlReadyToExit})
}

func (m *Manager) createApp(conf []byte) {
	if m.appFactory == nil {
		return
	}
	m.appOnce.Do(func() {
		app, err := m.appFactory(conf)
		if err != nil {
			log.Panic("cannot create app", zap.Error(err))
		}
		if app == nil {
			return
		}
		m.mu.Lock()
		ctx := m.appCtx
		m.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		go func() {
			if err := app.RunApp(ctx); err != nil {
				log.Warn("app run failed", zap.Error(err))
			}
			m.AppDone()
		}()
	})
}

// checkExit broadcasts EXIT once the scheduler's own app has returned and
// every alive compute node has reported ready.
func (m *Manager) checkExit() {
	if !m.IsScheduler() || !m.appDone.Load() {
		return
	}
	m.mu.Lock()
	if !m.rosterSent && m.assigner.expected() > 0 {
		m.mu.Unlock()
		return
	}
	for id, n := range m.nodes {
		if n.Role != node.Worker && n.Role != node.Server {
			continue
		}
		if m.alive[id] && !m.readyPeers[id] {
			m.mu.Unlock()
			return
		}
	}
	peers := m.alivePeersLocked()
	m.mu.Unlock()

	log.Info("all nodes done, broadcasting exit")
	for _, p := range peers {
		m.sendCtrl(p.ID, &message.Control{Cmd: message.CtrlExit})
	}
	m.shutdown()
}

func (m *Manager) addNodeLocked(n node.Node) {
	m.nodes[n.ID] = n
	m.alive[n.ID] = true
	for _, c := range m.customers {
		c.AddNode(n)
	}
	m.readyCond.Broadcast()
}

func (m *Manager) removeNodeLocked(n node.Node) {
	if !m.alive[n.ID] {
		return
	}
	m.alive[n.ID] = false
	for _, c := range m.customers {
		c.RemoveNode(n)
	}
	m.tr.Disconnect(n)
	m.readyCond.Broadcast()
}

func (m *Manager) rosterLocked() []node.Node {
	out := make([]node.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out
}

func (m *Manager) alivePeersLocked() []node.Node {
	out := make([]node.Node, 0, len(m.nodes))
	for id, n := range m.nodes {
		if n.Role != node.Scheduler && m.alive[id] {
			out = append(out, n)
		}
	}
	return out
}

func (m *Manager) resolveLocked(id node.ID) node.ID {
	if assigned, ok := m.aliases[id]; ok {
		return assigned
	}
	return id
}

func (m *Manager) sendCtrl(recver node.ID, ctrl *message.Control) {
	m.mu.Lock()
	m.time++
	ts := m.time
	m.mu.Unlock()
	msg := message.NewTask(message.Task{
		Time:    ts,
		Request: true,
		Control: true,
		Ctrl:    ctrl,
	}, recver)
	m.q.Push(msg)
}

func (m *Manager) isDone() bool {
	select {
	case <-m.doneCh:
		return true
	default:
		return false
	}
}

func (m *Manager) shutdown() {
	m.doneOnce.Do(func() {
		close(m.doneCh)
		m.mu.Lock()
		m.readyCond.Broadcast()
		m.mu.Unlock()
	})
}
