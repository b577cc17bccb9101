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

package muxer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagemux/stagemux/muxer"
	"github.com/stagemux/stagemux/pkg/matchresult"
	"github.com/stagemux/stagemux/pkg/program"
)

func keyNames(keys []*program.MatchKey) []string {
	var names []string
	for _, k := range keys {
		names = append(names, k.FullName())
	}
	return names
}

func TestNewStage(t *testing.T) {
	prog, err := program.Load("testdata/l3.json")
	require.NoError(t, err)

	testCases := map[string]struct {
		header, metadata, std, valid []string
		headerBits, metadataBits     int
		stdBits                      int
		bitmap                       uint8
		next                         string
	}{
		"ipv4_lpm": {
			header:       []string{"ipv4.dstAddr"},
			metadata:     []string{"meta.vrf"},
			headerBits:   272,
			metadataBits: 48,
			bitmap:       muxer.MatchHeader | muxer.MatchMetadata,
			next:         "node_3",
		},
		"forward": {
			header:       []string{"ethernet.etherType"},
			metadata:     []string{"meta.nhop_ipv4"},
			std:          []string{"standard_metadata.ingress_port"},
			headerBits:   112,
			metadataBits: 32,
			stdBits:      9,
			bitmap:       0b111,
			next:         "filter",
		},
		"filter": {
			header:     []string{"tcp.dstPort"},
			valid:      []string{"ipv4.$valid$", "udp.$valid$"},
			headerBits: 304,
			bitmap:     muxer.MatchHeader,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			tbl, ok := prog.Tables.Lookup(name)
			require.True(t, ok)
			s, err := muxer.NewStage(tbl)
			require.NoError(t, err)
			assert.Equal(t, tbl.ID, s.ID)
			assert.Equal(t, tc.header, keyNames(s.HeaderKeys))
			assert.Equal(t, tc.metadata, keyNames(s.MetadataKeys))
			assert.Equal(t, tc.std, keyNames(s.StdKeys))
			assert.Equal(t, tc.valid, keyNames(s.ValidKeys))
			assert.Equal(t, tc.headerBits, s.HeaderBits)
			assert.Equal(t, tc.metadataBits, s.MetadataBits)
			assert.Equal(t, tc.stdBits, s.StdBits)
			assert.Equal(t, tc.bitmap, s.MatchBitmap())
			assert.Equal(t, matchresult.Category(tc.bitmap), s.Categories())
			assert.Equal(t, tc.next, s.Next())
		})
	}
}

func TestNewStageUnknownStdField(t *testing.T) {
	doc := loadDoc(t, "testdata/l3.json")
	ht := at(t, doc, "header_types", 0).(map[string]any)
	ht["fields"] = append(ht["fields"].([]any), []any{"mcast_grp", 16, false})
	key := at(t, doc, "pipelines", 0, "tables", 1, "key", 1).(map[string]any)
	key["target"] = []any{"standard_metadata", "mcast_grp"}
	prog := parseDoc(t, doc)

	tbl, ok := prog.Tables.Lookup("forward")
	require.True(t, ok)
	_, err := muxer.NewStage(tbl)
	assert.ErrorIs(t, err, muxer.ErrUnknownKey)
}
