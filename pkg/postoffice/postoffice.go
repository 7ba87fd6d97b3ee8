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

// Package postoffice is the process-wide I/O driver: it owns the
// outbound queue, the sending loop and the receiving loop, and routes
// inbound traffic to the control plane or to the addressed customer.
package postoffice

import (
	"context"

	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pingcap/pslite/pkg/config"
	"github.com/pingcap/pslite/pkg/manager"
	"github.com/pingcap/pslite/pkg/message"
	"github.com/pingcap/pslite/pkg/node"
	"github.com/pingcap/pslite/pkg/queue"
	"github.com/pingcap/pslite/pkg/van"
)

// Postoffice wires one process into the system. It is built once by the
// entry point and passed to customers as a handle; nothing in the core
// reaches for it ambiently.
type Postoffice struct {
	cfg *config.Config
	v   *van.Van
	mgr *manager.Manager
	q   *queue.Queue
}

// New builds the transport, the queue and the control plane for the
// configured node.
func New(cfg *config.Config) (*Postoffice, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sched, err := cfg.SchedulerNode()
	if err != nil {
		return nil, err
	}
	my, err := cfg.LocalNode()
	if err != nil {
		return nil, err
	}
	v := van.New(my, sched)
	q := queue.New()
	mgr := manager.New(cfg, v, q)
	v.SetPeerDownHandler(mgr.NodeDisconnected)
	return &Postoffice{cfg: cfg, v: v, mgr: mgr, q: q}, nil
}

// Config returns the process configuration.
func (p *Postoffice) Config() *config.Config { return p.cfg }

// Van returns the transport.
func (p *Postoffice) Van() *van.Van { return p.v }

// Manager returns the control plane.
func (p *Postoffice) Manager() *manager.Manager { return p.mgr }

// Queue hands a message to the sending loop. Thread safe; never blocks.
func (p *Postoffice) Queue(m *message.Message) {
	queuedMessages.Inc()
	p.q.Push(m)
}

// Run drives the process until the control plane shuts down: bind,
// announce to the scheduler, then pump the send and recv loops. The
// teardown path is the reverse: a terminate message stops the sender and
// closing the transport stops the receiver.
func (p *Postoffice) Run(ctx context.Context) error {
	if err := p.v.Bind(); err != nil {
		return err
	}
	if p.v.MyNode().Role != node.Scheduler {
		if err := p.v.Connect(p.v.Scheduler()); err != nil {
			return err
		}
	}

	sendDone := make(chan error, 1)
	recvDone := make(chan error, 1)
	go func() { sendDone <- p.sendLoop() }()
	go func() { recvDone <- p.recvLoop() }()

	mgrErr := p.mgr.Run(ctx)

	// drain the queue (a final EXIT broadcast may still be in it) before
	// tearing the transport down
	p.q.Push(&message.Message{Terminate: true})
	loopErr := <-sendDone
	p.v.Stop()
	loopErr = multierr.Append(loopErr, <-recvDone)
	p.q.Close()
	return multierr.Append(mgrErr, loopErr)
}

// Stop forces shutdown; Run unwinds and returns.
func (p *Postoffice) Stop() {
	p.mgr.Stop()
}

func (p *Postoffice) sendLoop() error {
	for {
		m, ok := p.q.Pop()
		if !ok {
			return nil
		}
		if m.Terminate {
			return nil
		}
		n, err := p.v.Send(m)
		if err != nil {
			// transient: drop the message and keep going
			log.Warn("send failed, dropping message",
				zap.Stringer("msg", m), zap.Error(err))
			droppedMessages.Inc()
			continue
		}
		sentMessages.Inc()
		sentBytes.Add(float64(n))
	}
}

func (p *Postoffice) recvLoop() error {
	for {
		m, ok := p.v.Recv()
		if !ok {
			return nil
		}
		recvMessages.Inc()
		recvBytes.Add(float64(m.MemSize()))
		if m.Task.Control {
			p.mgr.Process(m)
			continue
		}
		p.mgr.Deliver(m)
	}
}
