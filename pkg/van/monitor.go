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

package van

import (
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/pingcap/pslite/pkg/node"
)

// monitor observes channel events and surfaces peer disconnects to the
// control plane. Each inbound channel carries the peer identity from its
// handshake, so no descriptor bookkeeping is needed to resolve the node.
func (v *Van) monitor() {
	defer v.wg.Done()
	log.Debug("monitor started", zap.String("id", string(v.MyNode().ID)))
	seen := make(map[node.ID]struct{})
	for {
		var id node.ID
		select {
		case id = <-v.events:
		case <-v.stopCh:
			log.Debug("monitor stopped", zap.String("id", string(v.MyNode().ID)))
			return
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		log.Info("peer channel lost", zap.String("peer", string(id)))
		if v.peerDown != nil {
			v.peerDown(id)
		}
	}
}
