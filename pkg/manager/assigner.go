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
	"fmt"

	"github.com/pingcap/pslite/pkg/keyrange"
	"github.com/pingcap/pslite/pkg/node"
)

// nodeAssigner hands out ids, roles and key ranges on the scheduler, by
// join order: the first numWorkers joiners become workers, the next
// numServers become servers with an even partition of the key space, the
// rest are unused spares.
type nodeAssigner struct {
	numWorkers int
	numServers int
	numUnused  int

	workers int
	servers int
	unused  int

	byAddr map[string]node.Node
}

func newNodeAssigner(numWorkers, numServers, numUnused int) *nodeAssigner {
	return &nodeAssigner{
		numWorkers: numWorkers,
		numServers: numServers,
		numUnused:  numUnused,
		byAddr:     make(map[string]node.Node),
	}
}

// assign returns the canonical node for a joiner. Re-joining from the
// same address yields the previously assigned node.
func (a *nodeAssigner) assign(join node.Node) node.Node {
	if n, ok := a.byAddr[join.Addr()]; ok {
		return n
	}
	switch {
	case a.workers < a.numWorkers:
		join.Role = node.Worker
		join.ID = node.ID(fmt.Sprintf("W%d", a.workers))
		a.workers++
	case a.servers < a.numServers:
		join.Role = node.Server
		join.ID = node.ID(fmt.Sprintf("S%d", a.servers))
		join.Key = keyrange.All().EvenDivide(a.numServers, a.servers)
		a.servers++
	default:
		join.Role = node.Unused
		join.ID = node.ID(fmt.Sprintf("U%d", a.unused))
		a.unused++
	}
	a.byAddr[join.Addr()] = join
	return join
}

// expected is the number of joiners the roster waits for.
func (a *nodeAssigner) expected() int {
	return a.numWorkers + a.numServers + a.numUnused
}

// registered is the number of joiners assigned so far.
func (a *nodeAssigner) registered() int {
	return len(a.byAddr)
}
