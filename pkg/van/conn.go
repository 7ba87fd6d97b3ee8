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
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/pingcap/pslite/pkg/message"
	"github.com/pingcap/pslite/pkg/node"
	"github.com/pingcap/pslite/pkg/pserrors"
)

var handshakeMagic = [4]byte{'P', 'S', 'L', 'T'}

const (
	wireVersion      = 1
	maxIdentityLen   = 256
	maxParts         = 2 + 128
	maxPartLen       = 1 << 30
	handshakeTimeout = 10 * time.Second
)

// conn wraps one direction of a channel between two nodes. An outbound
// conn is write-only; the peer reads it as its inbound conn.
type conn struct {
	raw net.Conn

	wmu sync.Mutex
	bw  *bufio.Writer
}

func newConn(raw net.Conn) *conn {
	return &conn{raw: raw, bw: bufio.NewWriter(raw)}
}

func (c *conn) close() {
	_ = c.raw.Close()
}

// writeHandshake sends the dialer's identity, the one piece of state the
// socket layer attaches to a channel.
func (c *conn) writeHandshake(id node.ID) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.bw.Write(handshakeMagic[:]); err != nil {
		return errors.Trace(err)
	}
	var hdr [6]byte
	binary.BigEndian.PutUint16(hdr[0:], wireVersion)
	binary.BigEndian.PutUint32(hdr[2:], uint32(len(id)))
	if _, err := c.bw.Write(hdr[:]); err != nil {
		return errors.Trace(err)
	}
	if _, err := c.bw.WriteString(string(id)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.bw.Flush())
}

// readHandshake validates the magic and returns the peer identity.
func readHandshake(raw net.Conn) (node.ID, error) {
	_ = raw.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = raw.SetReadDeadline(time.Time{}) }()

	var hdr [10]byte
	if _, err := io.ReadFull(raw, hdr[:]); err != nil {
		return "", errors.Trace(err)
	}
	if [4]byte(hdr[:4]) != handshakeMagic {
		return "", pserrors.ErrBadFrame.GenWithStackByArgs(raw.RemoteAddr(), "bad magic")
	}
	if v := binary.BigEndian.Uint16(hdr[4:]); v != wireVersion {
		return "", pserrors.ErrBadFrame.GenWithStackByArgs(raw.RemoteAddr(), "wire version skew")
	}
	idLen := binary.BigEndian.Uint32(hdr[6:])
	if idLen == 0 || idLen > maxIdentityLen {
		return "", pserrors.ErrBadFrame.GenWithStackByArgs(raw.RemoteAddr(), "bad identity length")
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(raw, id); err != nil {
		return "", errors.Trace(err)
	}
	return node.ID(id), nil
}

// writeMessage frames the task plus payload parts as one multipart unit.
// It returns the payload bytes written.
func (c *conn) writeMessage(taskBuf []byte, m *message.Message) (int, error) {
	parts := make([][]byte, 0, 2+len(m.Value))
	parts = append(parts, taskBuf)
	if m.Task.HasKey {
		parts = append(parts, m.Key)
	}
	parts = append(parts, m.Value...)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(parts)))
	if _, err := c.bw.Write(hdr[:]); err != nil {
		return 0, errors.Trace(err)
	}
	total := 0
	for i, p := range parts {
		binary.BigEndian.PutUint32(hdr[:], uint32(len(p)))
		if _, err := c.bw.Write(hdr[:]); err != nil {
			return 0, errors.Trace(err)
		}
		if _, err := c.bw.Write(p); err != nil {
			return 0, errors.Trace(err)
		}
		if i > 0 {
			// part 0 is the task header, not payload
			total += len(p)
		}
	}
	return total, errors.Trace(c.bw.Flush())
}

// readMessage reads one multipart unit and reassembles the Message. The
// sender identity is attached by the caller from the handshake.
func readMessage(br *bufio.Reader) (*message.Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, errors.Trace(err)
	}
	numParts := binary.BigEndian.Uint32(hdr[:])
	if numParts == 0 || numParts > maxParts {
		return nil, pserrors.ErrBadFrame.GenWithStackByArgs("peer", "bad part count")
	}
	parts := make([][]byte, numParts)
	for i := range parts {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			return nil, errors.Trace(err)
		}
		partLen := binary.BigEndian.Uint32(hdr[:])
		if partLen > maxPartLen {
			return nil, pserrors.ErrBadFrame.GenWithStackByArgs("peer", "oversized part")
		}
		parts[i] = make([]byte, partLen)
		if _, err := io.ReadFull(br, parts[i]); err != nil {
			return nil, errors.Trace(err)
		}
	}

	m := &message.Message{Finished: true, Valid: true}
	if err := message.UnmarshalTask(parts[0], &m.Task); err != nil {
		// Version skew or a bug; the process cannot safely continue.
		log.Panic("cannot parse task header", zap.Error(err))
	}
	want := 1 + len(m.Task.ValueType)
	if m.Task.HasKey {
		want++
	}
	if int(numParts) != want {
		log.Panic("message part count does not match its task",
			zap.Uint32("got", numParts), zap.Int("want", want))
	}
	rest := parts[1:]
	if m.Task.HasKey {
		m.Key = rest[0]
		rest = rest[1:]
	}
	m.Value = rest
	return m, nil
}
