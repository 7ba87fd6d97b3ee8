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
	"github.com/pingcap/pslite/pkg/node"
)

// AddNode installs or updates a concrete peer and refreshes the virtual
// groups it belongs to.
func (e *Executor) AddNode(n node.Node) {
	e.nodeMu.Lock()
	defer e.nodeMu.Unlock()

	if n.ID == e.myNode.ID {
		e.myNode = n
	}
	r, exists := e.nodes[n.ID]
	if exists {
		r.Node = n
		for _, gid := range node.GroupIDs() {
			e.nodes[gid].RemoveSubNode(r)
		}
	} else {
		r = newRemoteNode(n)
		e.nodes[n.ID] = r
	}
	if n.IsGroup() {
		return
	}

	// every concrete peer is its own single member, so slicing treats
	// concrete and group receivers the same way
	r.ClearSubNodes()
	r.AddSubNode(r)
	if n.Role != node.Scheduler {
		e.nodes[node.LiveGroup].AddSubNode(r)
	}
	if n.Role == node.Server {
		e.nodes[node.ServerGroup].AddSubNode(r)
		e.nodes[node.CompGroup].AddSubNode(r)
	}
	if n.Role == node.Worker {
		e.nodes[node.WorkerGroup].AddSubNode(r)
		e.nodes[node.CompGroup].AddSubNode(r)
	}
	e.updateReplicaGroupsLocked()
}

// RemoveNode marks a peer dead, prunes it from the groups, and completes
// every pending request that no longer waits on an alive peer. The
// record itself is never erased, so late replies stay idempotent.
func (e *Executor) RemoveNode(n node.Node) {
	e.nodeMu.Lock()
	r, ok := e.nodes[n.ID]
	if !ok || !r.Alive {
		e.nodeMu.Unlock()
		return
	}
	for _, gid := range node.GroupIDs() {
		e.nodes[gid].RemoveSubNode(r)
	}
	r.Alive = false

	var fires []func()
	for ts, req := range e.sentReqs {
		rnode, known := e.nodes[req.recver]
		if !known {
			continue
		}
		if rnode.Node.IsGroup() {
			if e.checkFinishedLocked(rnode, ts, true) && !req.fired {
				// a group request completes when its last alive member has
				// answered; the dead member counts as done
				req.fired = true
				if req.callback != nil {
					fires = append(fires, req.callback)
				}
				delete(e.sentReqs, ts)
			}
		} else if !rnode.Alive {
			// a concrete receiver died before answering: waiters observe
			// completion but the finish callback never runs
			delete(e.sentReqs, ts)
		}
	}
	e.updateReplicaGroupsLocked()
	e.sentReqCond.Broadcast()
	e.recvReqCond.Broadcast()
	e.nodeMu.Unlock()

	e.msgMu.Lock()
	e.dagCond.Broadcast()
	e.msgMu.Unlock()

	for _, f := range fires {
		f()
	}
}

// ReplaceNode swaps a dead peer for its replacement. The old id keeps
// its tracker state so replayed responses stay idempotent.
func (e *Executor) ReplaceNode(oldNode, newNode node.Node) {
	e.RemoveNode(oldNode)
	e.AddNode(newNode)
}

// updateReplicaGroupsLocked recomputes the replica and owner groups of a
// server: the replicas are the servers just before it in key order, the
// owners the servers just after it. Caller holds nodeMu.
func (e *Executor) updateReplicaGroupsLocked() {
	if e.myNode.Role != node.Server || e.numReplicas <= 0 {
		return
	}
	servers := e.nodes[node.ServerGroup]
	self := -1
	for i, s := range servers.SubNodes {
		if s.Node.ID == e.myNode.ID {
			self = i
			break
		}
	}
	if self < 0 {
		return
	}

	replicas := e.nodes[node.ReplicaGroup]
	replicas.ClearSubNodes()
	for j := max(self-e.numReplicas, 0); j < self; j++ {
		replicas.AddSubNode(servers.SubNodes[j])
	}

	owners := e.nodes[node.OwnerGroup]
	owners.ClearSubNodes()
	for j := self + 1; j <= min(self+e.numReplicas, len(servers.SubNodes)-1); j++ {
		owners.AddSubNode(servers.SubNodes[j])
	}
}
