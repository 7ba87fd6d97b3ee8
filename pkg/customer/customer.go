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

// Package customer is the capability surface consumed by user code: a
// durable per-process object that submits timestamped requests, waits on
// them, and handles its protocol's requests and responses.
package customer

import (
	"github.com/pingcap/pslite/pkg/executor"
	"github.com/pingcap/pslite/pkg/keyrange"
	"github.com/pingcap/pslite/pkg/message"
	"github.com/pingcap/pslite/pkg/node"
	"github.com/pingcap/pslite/pkg/postoffice"
)

// Processor holds the application's message hooks. Both run on the
// customer's worker goroutine.
type Processor interface {
	ProcessRequest(msg *message.Message)
	ProcessResponse(msg *message.Message)
}

// Slicer lets a processor override how keyed messages are split across a
// receiver group. Sub-message order must match the given ranges.
type Slicer interface {
	Slice(msg *message.Message, krs []keyrange.Range) ([]*message.Message, error)
}

// Customer owns one executor and dispatches its hooks to the processor.
type Customer struct {
	id   int32
	po   *postoffice.Postoffice
	exec *executor.Executor
	proc Processor
}

// New registers a customer with the given id on the postoffice.
func New(id int32, proc Processor, po *postoffice.Postoffice) (*Customer, error) {
	c := newDetached(id, proc, po)
	if err := c.register(); err != nil {
		return nil, err
	}
	return c, nil
}

// newDetached builds the customer and its executor without registering
// for delivery, so the processor can still be swapped in. No message can
// arrive before register.
func newDetached(id int32, proc Processor, po *postoffice.Postoffice) *Customer {
	c := &Customer{id: id, po: po, proc: proc}
	c.exec = executor.New(id, c, po.Van().MyNode(), po.Config().NumReplicas, po)
	return c
}

// register announces the customer to the manager; buffered messages for
// its id are flushed to it.
func (c *Customer) register() error {
	if err := c.po.Manager().AddCustomer(c.exec); err != nil {
		c.exec.Stop()
		return err
	}
	return nil
}

// ID returns the customer id.
func (c *Customer) ID() int32 { return c.id }

// NodeID returns this process's node id.
func (c *Customer) NodeID() node.ID { return c.exec.MyNode().ID }

// Executor exposes the underlying task engine.
func (c *Customer) Executor() *executor.Executor { return c.exec }

// Submit sends msg asynchronously and returns its timestamp.
func (c *Customer) Submit(msg *message.Message) int32 {
	return c.exec.Submit(msg)
}

// SubmitTask sends a bare task to recver and returns its timestamp.
func (c *Customer) SubmitTask(task message.Task, recver node.ID) int32 {
	return c.exec.Submit(message.NewTask(task, recver))
}

// Wait blocks until the request at ts has completed.
func (c *Customer) Wait(ts int32) {
	c.exec.WaitSentReq(ts)
}

// WaitRecvReq blocks until the request at ts from sender has been
// processed locally.
func (c *Customer) WaitRecvReq(ts int32, sender node.ID) {
	c.exec.WaitRecvReq(ts, sender)
}

// FinishRecvReq marks a deferred request finished.
func (c *Customer) FinishRecvReq(ts int32, sender node.ID) {
	c.exec.FinishRecvReq(ts, sender)
}

// Reply answers req with resp.
func (c *Customer) Reply(req, resp *message.Message) {
	c.exec.Reply(req, resp)
}

// LastRequest returns the request most recently processed.
func (c *Customer) LastRequest() *message.Message { return c.exec.LastRequest() }

// LastResponse returns the response most recently processed.
func (c *Customer) LastResponse() *message.Message { return c.exec.LastResponse() }

// WaitServersReady blocks until every configured server is known alive.
func (c *Customer) WaitServersReady() {
	c.po.Manager().WaitServersReady()
}

// WaitWorkersReady blocks until every configured worker is known alive.
func (c *Customer) WaitWorkersReady() {
	c.po.Manager().WaitWorkersReady()
}

// Close unregisters the customer and stops its worker.
func (c *Customer) Close() {
	c.po.Manager().RemoveCustomer(c.id)
	c.exec.Stop()
}

// ProcessRequest implements executor.Customer.
func (c *Customer) ProcessRequest(msg *message.Message) {
	if c.proc != nil {
		c.proc.ProcessRequest(msg)
	}
}

// ProcessResponse implements executor.Customer.
func (c *Customer) ProcessResponse(msg *message.Message) {
	if c.proc != nil {
		c.proc.ProcessResponse(msg)
	}
}

// Slice implements executor.Customer: the processor's slicer when it has
// one, else the keyed binary-search split, else plain replication.
func (c *Customer) Slice(msg *message.Message, krs []keyrange.Range) ([]*message.Message, error) {
	if s, ok := c.proc.(Slicer); ok {
		return s.Slice(msg, krs)
	}
	if msg.Task.HasKey {
		return message.SliceKeyOrdered(msg, krs)
	}
	return message.Replicate(msg, krs), nil
}
