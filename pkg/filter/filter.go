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

// Package filter defines the pluggable message codecs applied before
// transmission and after reception. Concrete compression or key-caching
// filters plug in through Register; the runtime only drives the chain.
package filter

import (
	"sync"

	"github.com/pingcap/pslite/pkg/message"
	"github.com/pingcap/pslite/pkg/pserrors"
)

// Filter transforms a message in place. Encode runs on the sender in
// config order; Decode runs on the receiver in reverse order and must
// undo Encode exactly.
type Filter interface {
	Encode(msg *message.Message) error
	Decode(msg *message.Message) error
}

// Factory builds a filter from its per-message config.
type Factory func(conf *message.FilterConfig) Filter

var (
	registryMu sync.RWMutex
	registry   = map[message.FilterType]Factory{}
)

// Register installs a factory for a filter type. Later registrations for
// the same type win, so applications can override the built-ins.
func Register(ft message.FilterType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[ft] = f
}

// Create builds a filter for the given config.
func Create(conf *message.FilterConfig) (Filter, error) {
	registryMu.RLock()
	f, ok := registry[conf.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, pserrors.ErrUnknownFilter.GenWithStackByArgs(int32(conf.Type))
	}
	return f(conf), nil
}
