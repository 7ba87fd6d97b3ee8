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

// Package config carries the process configuration consumed by the core
// and the TOML application config relayed by the scheduler.
package config

import (
	"net"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"

	"github.com/pingcap/pslite/pkg/node"
	"github.com/pingcap/pslite/pkg/pserrors"
)

// Config is the process configuration, normally populated from flags.
type Config struct {
	NumWorkers  int
	NumServers  int
	NumUnused   int
	NumReplicas int

	// MyNode is this node's bootstrap string. Leave empty and set MyRank
	// to auto-assemble one from the local interface instead.
	MyNode string
	// Scheduler is the scheduler's bootstrap string, e.g.
	// "role:SCHEDULER,hostname:127.0.0.1,port:8000,id:'H'".
	Scheduler string
	MyRank    int
	BindTo    int
	Interface string

	// App is the application config: a TOML document, passed through to
	// every node by the scheduler.
	App string
}

// Validate checks the fleet shape.
func (c *Config) Validate() error {
	if c.NumWorkers < 0 || c.NumServers < 0 || c.NumUnused < 0 || c.NumReplicas < 0 {
		return pserrors.ErrBadConfig.GenWithStackByArgs("negative fleet count")
	}
	if c.Scheduler == "" {
		return pserrors.ErrBadConfig.GenWithStackByArgs("scheduler bootstrap string is required")
	}
	if c.MyNode == "" && c.MyRank < 0 {
		return pserrors.ErrBadConfig.GenWithStackByArgs("one of my_node and my_rank is required")
	}
	return nil
}

// SchedulerNode parses the scheduler bootstrap string.
func (c *Config) SchedulerNode() (node.Node, error) {
	return node.Parse(c.Scheduler)
}

// LocalNode resolves this process's node: the parsed bootstrap string, or
// a rank-assembled provisional node. A zero port is filled in after Bind.
func (c *Config) LocalNode() (node.Node, error) {
	if c.MyNode != "" {
		n, err := node.Parse(c.MyNode)
		if err != nil {
			return node.Node{}, err
		}
		if c.BindTo != 0 {
			n.Port = int32(c.BindTo)
		}
		return n, nil
	}

	n := node.Node{Role: node.Unused, Port: int32(c.BindTo)}
	switch {
	case c.MyRank < c.NumWorkers:
		n.Role = node.Worker
	case c.MyRank < c.NumWorkers+c.NumServers:
		n.Role = node.Server
	}
	host, err := interfaceAddr(c.Interface)
	if err != nil {
		return node.Node{}, err
	}
	n.Hostname = host
	n.ID = node.AutoID(n)
	return n, nil
}

func interfaceAddr(name string) (string, error) {
	if name == "" {
		return "127.0.0.1", nil
	}
	ifc, err := net.InterfaceByName(name)
	if err != nil {
		return "", pserrors.WrapError(pserrors.ErrBadConfig, err, "interface "+name)
	}
	addrs, err := ifc.Addrs()
	if err != nil {
		return "", pserrors.WrapError(pserrors.ErrBadConfig, err, "interface "+name)
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
			return ipn.IP.String(), nil
		}
	}
	return "", pserrors.ErrBadConfig.GenWithStackByArgs("no IPv4 address on interface " + name)
}

// AppConfig is the application document the scheduler relays in ADD_NODE.
// The core does not interpret Params; they belong to the application.
type AppConfig struct {
	Name   string            `toml:"name"`
	Params map[string]string `toml:"params"`
}

// ParseAppConfig decodes an application TOML document.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var ac AppConfig
	if err := toml.Unmarshal(data, &ac); err != nil {
		return nil, pserrors.WrapError(pserrors.ErrAppConfig, errors.Trace(err), err.Error())
	}
	return &ac, nil
}
