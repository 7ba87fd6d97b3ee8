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
	"sync"

	"github.com/pingcap/pslite/pkg/config"
	"github.com/pingcap/pslite/pkg/manager"
	"github.com/pingcap/pslite/pkg/postoffice"
)

// App is the application a node runs once the scheduler has relayed the
// config: message hooks plus a Run body that drives the node's work.
// Run returning signals the node is ready to exit.
type App interface {
	Processor
	Run(ctx context.Context) error
}

// Builder creates the node's application. It receives the app's already
// registered customer and the parsed config document.
type Builder func(c *Customer, conf *config.AppConfig) (App, error)

// RunSystem boots a node: build the postoffice, install the app factory,
// and drive the process until the control plane shuts down. A nil
// builder runs the bare runtime, which exits as soon as the scheduler
// observes every node idle.
func RunSystem(ctx context.Context, cfg *config.Config, build Builder) error {
	po, err := postoffice.New(cfg)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var owned []*Customer
	po.Manager().SetAppFactory(func(raw []byte) (manager.AppHandle, error) {
		ac, err := config.ParseAppConfig(raw)
		if err != nil {
			return nil, err
		}
		c := newDetached(po.Manager().NextCustomerID(), nil, po)
		mu.Lock()
		owned = append(owned, c)
		mu.Unlock()
		var app App
		if build != nil {
			if app, err = build(c, ac); err != nil {
				c.exec.Stop()
				return nil, err
			}
			c.proc = app
		}
		// register only once the hooks are in place, so flushed messages
		// are not lost to a nil processor
		if err := c.register(); err != nil {
			return nil, err
		}
		return &appHandle{app: app}, nil
	})

	runErr := po.Run(ctx)
	mu.Lock()
	defer mu.Unlock()
	for _, c := range owned {
		c.Close()
	}
	return runErr
}

type appHandle struct {
	app App
}

// RunApp implements manager.AppHandle.
func (h *appHandle) RunApp(ctx context.Context) error {
	if h.app == nil {
		return nil
	}
	return h.app.Run(ctx)
}
