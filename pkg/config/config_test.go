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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pingcap/pslite/pkg/node"
)

func TestValidate(t *testing.T) {
	cfg := &Config{Scheduler: "role:SCHEDULER,hostname:h,port:1,id:'H'", MyRank: 0}
	require.NoError(t, cfg.Validate())

	require.Error(t, (&Config{MyRank: 0}).Validate())
	require.Error(t, (&Config{Scheduler: "x", MyRank: -1}).Validate())
	require.Error(t, (&Config{Scheduler: "x", MyRank: 0, NumWorkers: -1}).Validate())
}

func TestLocalNodeFromBootstrap(t *testing.T) {
	cfg := &Config{
		Scheduler: "role:SCHEDULER,hostname:h,port:1,id:'H'",
		MyNode:    "role:WORKER,hostname:10.0.0.9,port:7000",
	}
	n, err := cfg.LocalNode()
	require.NoError(t, err)
	require.Equal(t, node.Worker, n.Role)
	require.Equal(t, int32(7000), n.Port)

	cfg.BindTo = 7777
	n, err = cfg.LocalNode()
	require.NoError(t, err)
	require.Equal(t, int32(7777), n.Port)
}

func TestLocalNodeFromRank(t *testing.T) {
	cfg := &Config{
		NumWorkers: 2,
		NumServers: 1,
		Scheduler:  "role:SCHEDULER,hostname:h,port:1,id:'H'",
	}
	cfg.MyRank = 0
	n, err := cfg.LocalNode()
	require.NoError(t, err)
	require.Equal(t, node.Worker, n.Role)
	require.Equal(t, "127.0.0.1", n.Hostname)

	cfg.MyRank = 2
	n, err = cfg.LocalNode()
	require.NoError(t, err)
	require.Equal(t, node.Server, n.Role)

	cfg.MyRank = 3
	n, err = cfg.LocalNode()
	require.NoError(t, err)
	require.Equal(t, node.Unused, n.Role)
}

func TestParseAppConfig(t *testing.T) {
	ac, err := ParseAppConfig([]byte("name = \"linear\"\n[params]\nlambda = \"0.1\"\n"))
	require.NoError(t, err)
	require.Equal(t, "linear", ac.Name)
	require.Equal(t, "0.1", ac.Params["lambda"])

	_, err = ParseAppConfig([]byte("= broken"))
	require.Error(t, err)

	ac, err = ParseAppConfig(nil)
	require.NoError(t, err)
	require.Empty(t, ac.Name)
}
