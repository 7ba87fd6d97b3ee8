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

// Package pserrors holds the normalized errors of the runtime, one
// variable per failure kind, with RFC-style codes.
package pserrors

import "github.com/pingcap/errors"

// Transport errors. These are transient: the caller logs and drops.
var (
	ErrNotConnected = errors.Normalize(
		"no channel to node %s",
		errors.RFCCodeText("PS:van:ErrNotConnected"),
	)
	ErrDial = errors.Normalize(
		"dial node %s at %s failed",
		errors.RFCCodeText("PS:van:ErrDial"),
	)
	ErrSend = errors.Normalize(
		"send to node %s failed",
		errors.RFCCodeText("PS:van:ErrSend"),
	)
	ErrVanClosed = errors.Normalize(
		"transport is closed",
		errors.RFCCodeText("PS:van:ErrVanClosed"),
	)
)

// Protocol violations. A bad frame closes the connection it arrived on;
// the executor aborts the process on a checksum mismatch.
var (
	ErrBadFrame = errors.Normalize(
		"malformed frame from %s: %s",
		errors.RFCCodeText("PS:van:ErrBadFrame"),
	)
	ErrNonMonotonicTime = errors.Normalize(
		"timestamp %d is not newer than %d",
		errors.RFCCodeText("PS:executor:ErrNonMonotonicTime"),
	)
	ErrChecksumMismatch = errors.Normalize(
		"message checksum mismatch: got %08x, want %08x",
		errors.RFCCodeText("PS:filter:ErrChecksumMismatch"),
	)
)

// Configuration errors. Fatal at construction.
var (
	ErrBadBootstrap = errors.Normalize(
		"bad bootstrap string %q: %s",
		errors.RFCCodeText("PS:node:ErrBadBootstrap"),
	)
	ErrUnknownNode = errors.Normalize(
		"unknown node %s",
		errors.RFCCodeText("PS:executor:ErrUnknownNode"),
	)
	ErrBadSubRanges = errors.Normalize(
		"sub key ranges are not contiguous at index %d",
		errors.RFCCodeText("PS:message:ErrBadSubRanges"),
	)
	ErrBadKeyType = errors.Normalize(
		"cannot slice keys of type %d",
		errors.RFCCodeText("PS:message:ErrBadKeyType"),
	)
	ErrUnknownFilter = errors.Normalize(
		"no filter registered for type %d",
		errors.RFCCodeText("PS:filter:ErrUnknownFilter"),
	)
	ErrBadConfig = errors.Normalize(
		"invalid configuration: %s",
		errors.RFCCodeText("PS:config:ErrBadConfig"),
	)
	ErrAppConfig = errors.Normalize(
		"cannot parse app config: %s",
		errors.RFCCodeText("PS:config:ErrAppConfig"),
	)
)

// WrapError wraps an external error into a normalized one, keeping the
// original as the cause. A nil cause returns nil.
func WrapError(rfc *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return rfc.Wrap(err).GenWithStackByArgs(args...)
}
