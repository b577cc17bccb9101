// Copyright 2026 The stagemux Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package muxer

import (
	"sort"

	"github.com/stagemux/stagemux/pkg/bitval"
	"github.com/stagemux/stagemux/pkg/pipeline"
)

// TraceHit is a header match entry that matches a packet.
type TraceHit struct {
	Stage  int
	Entry  TableEntry
	Result uint16
}

// Trace evaluates the header match entries of an instance against the raw
// bytes of a packet, starting at the first header. Hits are ordered by stage
// and by descending priority. Entries of other instances are ignored.
func Trace(entries []TableEntry, instance uint32, packet []byte) []TraceHit {
	id := bitval.FromUint32(instance)
	var hits []TraceHit
	for _, e := range entries {
		kind, stage, ok := pipeline.Locate(e.Table)
		if !ok || kind != pipeline.HeaderMatch {
			continue
		}
		owner, ok := e.Criterion(pipeline.HdrInstance, pipeline.FieldID)
		if !ok || !owner.Value.Equal(id) {
			continue
		}
		c, ok := e.Criterion(pipeline.HdrMatch, pipeline.FieldHeader)
		if !ok || len(packet) < c.Value.ByteLen() {
			continue
		}
		data, err := bitval.FromBytes(packet[:c.Value.ByteLen()], c.Value.Len())
		if err != nil {
			continue
		}
		mask := c.Mask
		if c.Exact() {
			mask = bitval.Ones(c.Value.Len())
		}
		if !c.Value.MatchesTernary(data, mask) {
			continue
		}
		result, _ := e.Action.Param(pipeline.HdrResult, pipeline.FieldResultHeader)
		hits = append(hits, TraceHit{
			Stage:  stage,
			Entry:  e,
			Result: uint16(result.Uint64()),
		})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Stage != hits[b].Stage {
			return hits[a].Stage < hits[b].Stage
		}
		return hits[a].Entry.Priority > hits[b].Entry.Priority
	})
	return hits
}
