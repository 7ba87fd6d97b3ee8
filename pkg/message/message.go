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

// Package message defines the envelope exchanged between nodes: an
// immutable Task header plus raw key and value payload arrays.
package message

import (
	"fmt"
	"strings"

	"github.com/pingcap/pslite/pkg/keyrange"
	"github.com/pingcap/pslite/pkg/node"
)

// InvalidTime is the sentinel timestamp. It never blocks a dependency
// wait and marks a Task whose time has not been assigned yet.
const InvalidTime int32 = -1

// DataType tags the element type of a key or value payload array.
type DataType int32

// Payload element types.
const (
	TypeOther DataType = iota
	TypeChar
	TypeInt8
	TypeUint8
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat
	TypeDouble
)

// Width returns the byte width of one element, or 0 for TypeOther.
func (t DataType) Width() int {
	switch t {
	case TypeChar, TypeInt8, TypeUint8:
		return 1
	case TypeInt32, TypeUint32, TypeFloat:
		return 4
	case TypeInt64, TypeUint64, TypeDouble:
		return 8
	}
	return 0
}

// FilterType selects a pluggable message codec.
type FilterType int32

// Built-in filter types.
const (
	FilterKeyCaching FilterType = iota + 1
	FilterCompressing
	FilterFixingFloat
	FilterNoise
	FilterChecksum
)

// FilterConfig configures one filter application on a message. Filters
// may stash per-message state in Params during encode and read it back
// during decode.
type FilterConfig struct {
	Type   FilterType        `json:"type"`
	Params map[string]string `json:"params,omitempty"`
}

// ControlCmd enumerates control-plane commands.
type ControlCmd int32

// Control commands.
const (
	CtrlRequestApp ControlCmd = iota + 1
	CtrlAddNode
	CtrlRemoveNode
	CtrlReplaceNode
	CtrlReadyToExit
	CtrlExit
)

// Control is the body of a control-plane Task.
type Control struct {
	Cmd     ControlCmd  `json:"cmd"`
	Node    []node.Node `json:"node,omitempty"`
	AppConf []byte      `json:"app_conf,omitempty"`
}

// Task is the message header. It is the only structured part on the wire;
// key and value arrays travel as raw frames behind it.
type Task struct {
	Time       int32          `json:"time"`
	WaitTime   []int32        `json:"wait_time,omitempty"`
	Request    bool           `json:"request"`
	Control    bool           `json:"control,omitempty"`
	CustomerID int32          `json:"customer_id"`
	KeyRange   keyrange.Range `json:"key_range"`
	HasKey     bool           `json:"has_key,omitempty"`
	KeyType    DataType       `json:"key_type,omitempty"`
	ValueType  []DataType     `json:"value_type,omitempty"`
	DataSize   []int32        `json:"data_size,omitempty"`
	Filter     []FilterConfig `json:"filter,omitempty"`
	Ctrl       *Control       `json:"ctrl,omitempty"`
	Msg        []byte         `json:"msg,omitempty"`
}

// FindFilter returns the config entry for the given filter type, or nil.
func (t *Task) FindFilter(ft FilterType) *FilterConfig {
	for i := range t.Filter {
		if t.Filter[i].Type == ft {
			return &t.Filter[i]
		}
	}
	return nil
}

// Message wraps a Task with its payload arrays and local routing state.
// The local fields after Task never travel on the wire.
type Message struct {
	Task  Task
	Key   []byte
	Value [][]byte

	Sender node.ID
	Recver node.ID
	// OriginalRecver preserves the group id when a message submitted to a
	// group is split into per-member pieces.
	OriginalRecver node.ID

	// Replied is set once a reply for this request has been sent, so the
	// executor does not double-reply.
	Replied bool
	// Finished defaults to true. A request handler that clears it takes
	// over the obligation to call FinishRecvReq later.
	Finished bool
	// Valid defaults to true. An invalid message is not transmitted; the
	// sender marks the sub-peer's sent tracker finished instead.
	Valid bool
	// Terminate stops the sending loop when popped from the queue.
	Terminate bool

	// RecvHandle runs on the submitting side for every response that
	// comes back, before the request is marked finished. For a group
	// receiver it may run once per member.
	RecvHandle func()
	// FinHandle runs exactly once when the request is finished: for a
	// group receiver, after replies from every alive member are in.
	FinHandle func()
}

// New returns a message addressed to recver with an unassigned timestamp.
func New(recver node.ID) *Message {
	m := &Message{Recver: recver, Finished: true, Valid: true}
	m.Task.Time = InvalidTime
	return m
}

// NewTask returns a message carrying the given header.
func NewTask(task Task, recver node.ID) *Message {
	return &Message{Task: task, Recver: recver, Finished: true, Valid: true}
}

// MiniCopyFrom copies the header and the local control state of src but
// none of its payload. HasKey is cleared so the copy can grow its own key
// array; the value type list is carried over and stays aligned with value
// slices pushed directly onto Value.
func (m *Message) MiniCopyFrom(src *Message) {
	m.Task = src.Task
	m.Task.HasKey = false
	m.Task.ValueType = append([]DataType(nil), src.Task.ValueType...)
	m.Task.WaitTime = append([]int32(nil), src.Task.WaitTime...)
	m.Task.Filter = append([]FilterConfig(nil), src.Task.Filter...)
	m.Terminate = src.Terminate
	m.RecvHandle = src.RecvHandle
	m.FinHandle = src.FinHandle
	m.OriginalRecver = src.OriginalRecver
	m.Finished = src.Finished
	m.Valid = src.Valid
}

// SetKey installs the key array. The key range defaults to the full key
// space when the task does not declare one.
func (m *Message) SetKey(key []byte, t DataType) {
	m.Task.HasKey = true
	m.Task.KeyType = t
	m.Key = key
	if m.Task.KeyRange.Empty() {
		m.Task.KeyRange = keyrange.All()
	}
}

// ClearKey drops the key array.
func (m *Message) ClearKey() {
	m.Task.HasKey = false
	m.Key = nil
}

// AddValue appends a value array.
func (m *Message) AddValue(v []byte, t DataType) {
	m.Task.ValueType = append(m.Task.ValueType, t)
	m.Value = append(m.Value, v)
}

// ClearValue drops all value arrays.
func (m *Message) ClearValue() {
	m.Task.ValueType = nil
	m.Value = nil
}

// AddFilter appends a filter config of the given type and returns it for
// further population.
func (m *Message) AddFilter(ft FilterType) *FilterConfig {
	m.Task.Filter = append(m.Task.Filter, FilterConfig{Type: ft})
	return &m.Task.Filter[len(m.Task.Filter)-1]
}

// MemSize returns the payload byte count, used for accounting.
func (m *Message) MemSize() int {
	n := len(m.Key)
	for _, v := range m.Value {
		n += len(v)
	}
	return n
}

func (m *Message) String() string {
	var b strings.Builder
	kind := "RLY"
	if m.Task.Request {
		kind = "REQ"
	}
	if m.Task.Control {
		kind = "CTL"
	}
	fmt.Fprintf(&b, "%s T=%d %s=>%s", kind, m.Task.Time, m.Sender, m.Recver)
	if m.OriginalRecver != "" {
		fmt.Fprintf(&b, "(%s)", m.OriginalRecver)
	}
	if len(m.Key) > 0 {
		fmt.Fprintf(&b, " key[%d]", len(m.Key))
	}
	if len(m.Value) > 0 {
		sizes := make([]string, len(m.Value))
		for i, v := range m.Value {
			sizes[i] = fmt.Sprint(len(v))
		}
		fmt.Fprintf(&b, " value[%s]", strings.Join(sizes, ","))
	}
	return b.String()
}
