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

package customer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/pingcap/pslite/pkg/config"
	"github.com/pingcap/pslite/pkg/message"
	"github.com/pingcap/pslite/pkg/node"
)

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

type helloResults struct {
	mu          sync.Mutex
	serverReqs  []int32
	workerResps []int32
	fins        atomic.Int32
	confName    string
}

type helloWorker struct {
	c   *Customer
	res *helloResults
}

func (w *helloWorker) ProcessRequest(m *message.Message) {}

func (w *helloWorker) ProcessResponse(m *message.Message) {
	w.res.mu.Lock()
	defer w.res.mu.Unlock()
	w.res.workerResps = append(w.res.workerResps, m.Task.Time)
}

func (w *helloWorker) Run(ctx context.Context) error {
	w.c.WaitServersReady()
	for i := 0; i < 3; i++ {
		msg := message.New(node.ServerGroup)
		if i == 2 {
			msg.FinHandle = func() { w.res.fins.Inc() }
		}
		ts := w.c.Submit(msg)
		w.c.Wait(ts)
	}
	return nil
}

type helloServer struct {
	c   *Customer
	res *helloResults
}

func (s *helloServer) ProcessRequest(m *message.Message) {
	s.res.mu.Lock()
	defer s.res.mu.Unlock()
	s.res.serverReqs = append(s.res.serverReqs, m.Task.Time)
}

func (s *helloServer) ProcessResponse(m *message.Message) {}

func (s *helloServer) Run(ctx context.Context) error { return nil }

func TestHelloThreeNodes(t *testing.T) {
	schedPort := freePort(t)
	schedStr := fmt.Sprintf("role:SCHEDULER,hostname:127.0.0.1,port:%d,id:'H'", schedPort)
	mkCfg := func(myNode string) *config.Config {
		return &config.Config{
			NumWorkers: 1,
			NumServers: 1,
			Scheduler:  schedStr,
			MyNode:     myNode,
			App:        "name = \"hello\"",
		}
	}

	res := &helloResults{}
	build := func(c *Customer, conf *config.AppConfig) (App, error) {
		res.mu.Lock()
		res.confName = conf.Name
		res.mu.Unlock()
		switch c.Executor().MyNode().Role {
		case node.Worker:
			return &helloWorker{c: c, res: res}, nil
		case node.Server:
			return &helloServer{c: c, res: res}, nil
		default:
			return nil, nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	g := &errgroup.Group{}
	g.Go(func() error { return RunSystem(ctx, mkCfg(schedStr), build) })
	g.Go(func() error {
		return RunSystem(ctx, mkCfg("role:WORKER,hostname:127.0.0.1,port:0"), build)
	})
	g.Go(func() error {
		return RunSystem(ctx, mkCfg("role:SERVER,hostname:127.0.0.1,port:0"), build)
	})
	require.NoError(t, g.Wait())

	res.mu.Lock()
	defer res.mu.Unlock()
	require.Equal(t, []int32{1, 2, 3}, res.serverReqs)
	require.Equal(t, []int32{1, 2, 3}, res.workerResps)
	require.Equal(t, int32(1), res.fins.Load())
	require.Equal(t, "hello", res.confName)
}

func TestHelloKeyedSliceAcrossServers(t *testing.T) {
	schedPort := freePort(t)
	schedStr := fmt.Sprintf("role:SCHEDULER,hostname:127.0.0.1,port:%d,id:'H'", schedPort)
	mkCfg := func(myNode string) *config.Config {
		return &config.Config{
			NumWorkers: 1,
			NumServers: 2,
			Scheduler:  schedStr,
			MyNode:     myNode,
			App:        "name = \"slice\"",
		}
	}

	var mu sync.Mutex
	gotKeys := map[node.ID][]uint64{}
	gotVals := map[node.ID][]float64{}

	build := func(c *Customer, conf *config.AppConfig) (App, error) {
		switch c.Executor().MyNode().Role {
		case node.Worker:
			return appFuncs{run: func(ctx context.Context) error {
				c.WaitServersReady()
				half := uint64(1) << 63
				msg := message.New(node.ServerGroup)
				msg.SetKey(message.EncodeUint64s([]uint64{10, half, half + 5}), message.TypeUint64)
				msg.AddValue(message.EncodeFloat64s([]float64{1.0, 2.0, 3.0}), message.TypeDouble)
				c.Wait(c.Submit(msg))
				return nil
			}}, nil
		case node.Server:
			return appFuncs{onRequest: func(m *message.Message) {
				mu.Lock()
				defer mu.Unlock()
				id := c.NodeID()
				gotKeys[id] = append(gotKeys[id], message.DecodeUint64s(m.Key)...)
				if len(m.Value) > 0 {
					gotVals[id] = append(gotVals[id], message.DecodeFloat64s(m.Value[0])...)
				}
			}}, nil
		default:
			return nil, nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	g := &errgroup.Group{}
	peers := []string{
		fmt.Sprintf("role:WORKER,hostname:127.0.0.1,port:%d", freePort(t)),
		fmt.Sprintf("role:SERVER,hostname:127.0.0.1,port:%d", freePort(t)),
		fmt.Sprintf("role:SERVER,hostname:127.0.0.1,port:%d", freePort(t)),
	}
	g.Go(func() error { return RunSystem(ctx, mkCfg(schedStr), build) })
	for _, p := range peers {
		spec := p
		g.Go(func() error { return RunSystem(ctx, mkCfg(spec), build) })
	}
	require.NoError(t, g.Wait())

	mu.Lock()
	defer mu.Unlock()
	half := uint64(1) << 63
	var allKeys []uint64
	for _, ks := range gotKeys {
		allKeys = append(allKeys, ks...)
	}
	require.ElementsMatch(t, []uint64{10, half, half + 5}, allKeys)
	// each server saw only keys inside its own range
	require.Equal(t, []uint64{10}, gotKeys["S0"])
	require.Equal(t, []uint64{half, half + 5}, gotKeys["S1"])
	require.Equal(t, []float64{1.0}, gotVals["S0"])
	require.Equal(t, []float64{2.0, 3.0}, gotVals["S1"])
}

// appFuncs adapts plain functions to the App interface.
type appFuncs struct {
	run        func(ctx context.Context) error
	onRequest  func(m *message.Message)
	onResponse func(m *message.Message)
}

func (a appFuncs) ProcessRequest(m *message.Message) {
	if a.onRequest != nil {
		a.onRequest(m)
	}
}

func (a appFuncs) ProcessResponse(m *message.Message) {
	if a.onResponse != nil {
		a.onResponse(m)
	}
}

func (a appFuncs) Run(ctx context.Context) error {
	if a.run == nil {
		return nil
	}
	return a.run(ctx)
}
