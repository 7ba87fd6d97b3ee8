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

package node

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pingcap/pslite/pkg/keyrange"
	"github.com/pingcap/pslite/pkg/pserrors"
)

// ID identifies a node. Concrete nodes carry unique ids assigned by the
// scheduler; virtual group nodes use the single-letter well-known ids below.
type ID string

// Well-known ids. No concrete node may use one of these.
const (
	// SchedulerID is the fixed id of the scheduler node.
	SchedulerID ID = "H"
	// ServerGroup addresses all server nodes.
	ServerGroup ID = "S"
	// WorkerGroup addresses all worker nodes.
	WorkerGroup ID = "W"
	// CompGroup addresses servers and workers together.
	CompGroup ID = "C"
	// LiveGroup addresses every non-scheduler node.
	LiveGroup ID = "L"
	// ReplicaGroup addresses the servers replicating this server's range.
	ReplicaGroup ID = "R"
	// OwnerGroup addresses the servers whose ranges this server replicates.
	OwnerGroup ID = "O"
)

// GroupIDs lists every virtual group id an executor pre-populates.
func GroupIDs() []ID {
	return []ID{ServerGroup, WorkerGroup, CompGroup, LiveGroup, ReplicaGroup, OwnerGroup}
}

// Role is the function a node plays in the system.
type Role int32

// Node roles.
const (
	Scheduler Role = iota
	Worker
	Server
	Group
	Unused
)

var roleNames = map[string]Role{
	"SCHEDULER": Scheduler,
	"WORKER":    Worker,
	"SERVER":    Server,
	"GROUP":     Group,
	"UNUSED":    Unused,
}

func (r Role) String() string {
	for name, role := range roleNames {
		if role == r {
			return name
		}
	}
	return fmt.Sprintf("ROLE(%d)", int32(r))
}

// Node describes one member of the system. Group nodes are virtual and
// carry neither address nor key range.
type Node struct {
	ID       ID             `json:"id"`
	Role     Role           `json:"role"`
	Hostname string         `json:"hostname,omitempty"`
	Port     int32          `json:"port,omitempty"`
	Key      keyrange.Range `json:"key"`
}

// Addr returns the dialable address of a concrete node.
func (n Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.Hostname, n.Port)
}

// IsGroup reports whether the node is a virtual group.
func (n Node) IsGroup() bool {
	return n.Role == Group
}

func (n Node) String() string {
	return fmt.Sprintf("role:%s,hostname:%s,port:%d,id:'%s'", n.Role, n.Hostname, n.Port, n.ID)
}

// Parse decodes a bootstrap string such as
// "role:SCHEDULER,hostname:127.0.0.1,port:8000,id:'H'". The id field is
// optional; a missing id is auto-assembled by AutoID, the same way
// rank-launched nodes get their provisional id.
func Parse(s string) (Node, error) {
	var n Node
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		kv := strings.SplitN(field, ":", 2)
		if len(kv) != 2 {
			return Node{}, pserrors.ErrBadBootstrap.GenWithStackByArgs(s, field)
		}
		key, val := strings.TrimSpace(kv[0]), strings.Trim(strings.TrimSpace(kv[1]), "'\"")
		switch key {
		case "role":
			role, ok := roleNames[val]
			if !ok {
				return Node{}, pserrors.ErrBadBootstrap.GenWithStackByArgs(s, "role "+val)
			}
			n.Role = role
		case "hostname":
			n.Hostname = val
		case "port":
			p, err := strconv.ParseInt(val, 10, 32)
			if err != nil {
				return Node{}, pserrors.ErrBadBootstrap.GenWithStackByArgs(s, "port "+val)
			}
			n.Port = int32(p)
		case "id":
			n.ID = ID(val)
		default:
			return Node{}, pserrors.ErrBadBootstrap.GenWithStackByArgs(s, "field "+key)
		}
	}
	if n.ID == "" {
		n.ID = AutoID(n)
	}
	return n, nil
}

// AutoID assembles the provisional id of a node that was launched without
// one: "H" for the scheduler, otherwise a role prefix plus the address.
func AutoID(n Node) ID {
	switch n.Role {
	case Scheduler:
		return SchedulerID
	case Worker:
		return ID("W_" + n.Addr())
	case Server:
		return ID("S_" + n.Addr())
	default:
		return ID("U_" + n.Addr())
	}
}
