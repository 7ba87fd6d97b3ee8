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

package postoffice

import "github.com/prometheus/client_golang/prometheus"

var (
	queuedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pslite",
		Subsystem: "postoffice",
		Name:      "queued_messages_total",
		Help:      "messages handed to the sending queue through Postoffice.Queue (control messages excluded)",
	})
	sentMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pslite",
		Subsystem: "postoffice",
		Name:      "sent_messages_total",
		Help:      "messages written to the transport",
	})
	sentBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pslite",
		Subsystem: "postoffice",
		Name:      "sent_bytes_total",
		Help:      "payload bytes written to the transport",
	})
	recvMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pslite",
		Subsystem: "postoffice",
		Name:      "received_messages_total",
		Help:      "messages read from the transport",
	})
	recvBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pslite",
		Subsystem: "postoffice",
		Name:      "received_bytes_total",
		Help:      "payload bytes read from the transport",
	})
	droppedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pslite",
		Subsystem: "postoffice",
		Name:      "dropped_messages_total",
		Help:      "outbound messages dropped on transport failure",
	})
)

func init() {
	prometheus.MustRegister(
		queuedMessages, sentMessages, sentBytes,
		recvMessages, recvBytes, droppedMessages,
	)
}
