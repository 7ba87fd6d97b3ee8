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
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/pingcap/pslite/pkg/filter"
	"github.com/pingcap/pslite/pkg/keyrange"
	"github.com/pingcap/pslite/pkg/message"
	"github.com/pingcap/pslite/pkg/node"
)

// RemoteNode is the executor's per-peer record: liveness, the sent and
// received request trackers, the lazily created filter cache, and, for
// group peers, the member list kept sorted by key range.
type RemoteNode struct {
	Node  node.Node
	Alive bool

	SentReqTracker tracker
	RecvReqTracker tracker

	// SubNodes and SubKeyRanges are index-aligned and sorted by the start
	// of each member's range. A concrete peer lists itself as its only
	// member so that slicing treats every receiver uniformly.
	SubNodes     []*RemoteNode
	SubKeyRanges []keyrange.Range

	filters map[message.FilterType]filter.Filter
}

func newRemoteNode(n node.Node) *RemoteNode {
	return &RemoteNode{Node: n, Alive: true}
}

// AddSubNode inserts a member keeping the range order. Group sizes are
// bounded by the fleet, so a linear scan is fine.
func (r *RemoteNode) AddSubNode(sub *RemoteNode) {
	pos := 0
	for pos < len(r.SubNodes) && !sub.Node.Key.InLeft(r.SubNodes[pos].Node.Key) {
		pos++
	}
	r.SubNodes = append(r.SubNodes, nil)
	copy(r.SubNodes[pos+1:], r.SubNodes[pos:])
	r.SubNodes[pos] = sub
	r.SubKeyRanges = append(r.SubKeyRanges, keyrange.Range{})
	copy(r.SubKeyRanges[pos+1:], r.SubKeyRanges[pos:])
	r.SubKeyRanges[pos] = sub.Node.Key
}

// RemoveSubNode drops a member, keeping the lists aligned.
func (r *RemoteNode) RemoveSubNode(sub *RemoteNode) {
	for i, s := range r.SubNodes {
		if s == sub {
			r.SubNodes = append(r.SubNodes[:i], r.SubNodes[i+1:]...)
			r.SubKeyRanges = append(r.SubKeyRanges[:i], r.SubKeyRanges[i+1:]...)
			return
		}
	}
}

// ClearSubNodes resets the member lists.
func (r *RemoteNode) ClearSubNodes() {
	r.SubNodes = nil
	r.SubKeyRanges = nil
}

func (r *RemoteNode) findFilterOrCreate(conf *message.FilterConfig) filter.Filter {
	if r.filters == nil {
		r.filters = make(map[message.FilterType]filter.Filter)
	}
	if f, ok := r.filters[conf.Type]; ok {
		return f
	}
	f, err := filter.Create(conf)
	if err != nil {
		log.Panic("cannot create filter", zap.Int32("type", int32(conf.Type)), zap.Error(err))
	}
	r.filters[conf.Type] = f
	return f
}

// EncodeMessage applies the message's filters in config order.
func (r *RemoteNode) EncodeMessage(m *message.Message) {
	for i := range m.Task.Filter {
		conf := &m.Task.Filter[i]
		if err := r.findFilterOrCreate(conf).Encode(m); err != nil {
			log.Panic("filter encode failed", zap.Int32("type", int32(conf.Type)), zap.Error(err))
		}
	}
}

// DecodeMessage applies the message's filters in reverse order.
func (r *RemoteNode) DecodeMessage(m *message.Message) {
	for i := len(m.Task.Filter) - 1; i >= 0; i-- {
		conf := &m.Task.Filter[i]
		if err := r.findFilterOrCreate(conf).Decode(m); err != nil {
			log.Panic("filter decode failed", zap.Int32("type", int32(conf.Type)), zap.Error(err))
		}
	}
}
