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

package filter

import (
	"hash/crc32"
	"strconv"

	"github.com/pingcap/pslite/pkg/message"
	"github.com/pingcap/pslite/pkg/pserrors"
)

const checksumParam = "crc32c"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// checksum guards payload integrity with a crc32c over the key and value
// arrays, carried in the filter config's params.
type checksum struct {
	conf *message.FilterConfig
}

func init() {
	Register(message.FilterChecksum, func(conf *message.FilterConfig) Filter {
		return &checksum{conf: conf}
	})
}

func digest(msg *message.Message) uint32 {
	sum := crc32.Checksum(msg.Key, castagnoli)
	for _, v := range msg.Value {
		sum = crc32.Update(sum, castagnoli, v)
	}
	return sum
}

func (c *checksum) Encode(msg *message.Message) error {
	conf := msg.Task.FindFilter(message.FilterChecksum)
	if conf == nil {
		return nil
	}
	if conf.Params == nil {
		conf.Params = map[string]string{}
	}
	conf.Params[checksumParam] = strconv.FormatUint(uint64(digest(msg)), 16)
	return nil
}

func (c *checksum) Decode(msg *message.Message) error {
	conf := msg.Task.FindFilter(message.FilterChecksum)
	if conf == nil || conf.Params == nil {
		return nil
	}
	want, err := strconv.ParseUint(conf.Params[checksumParam], 16, 32)
	if err != nil {
		return pserrors.ErrChecksumMismatch.GenWithStackByArgs(digest(msg), 0)
	}
	if got := digest(msg); got != uint32(want) {
		return pserrors.ErrChecksumMismatch.GenWithStackByArgs(got, uint32(want))
	}
	return nil
}
