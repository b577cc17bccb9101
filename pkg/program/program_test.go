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

package program_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagemux/stagemux/pkg/program"
)

func TestLoadEthernet(t *testing.T) {
	p, err := program.Load("testdata/eth.json")
	require.NoError(t, err)

	assert.Equal(t, 2, p.HeaderTypes.Len())
	assert.Equal(t, 2, p.Headers.Len())
	assert.Equal(t, 1, p.ParserStates.Len())
	assert.Equal(t, 3, p.Actions.Len())
	assert.Equal(t, 1, p.Tables.Len())
	assert.Equal(t, 0, p.Conditionals.Len())

	eth, ok := p.Headers.Lookup("ethernet")
	require.True(t, ok)
	assert.Equal(t, 1, eth.ID)
	assert.False(t, eth.Metadata)
	assert.Equal(t, 112, eth.BitLength())
	assert.Equal(t, 0, eth.Offset())
	assert.Nil(t, eth.PreHeader())

	etherType, ok := eth.Field("etherType")
	require.True(t, ok)
	assert.Equal(t, 96, etherType.AbsOffset())
	assert.Equal(t, 16, etherType.Width())
	assert.Equal(t, "ethernet.etherType", etherType.FullName())

	std, ok := p.Headers.Lookup(program.StandardMetadata)
	require.True(t, ok)
	assert.True(t, std.Standard())
	assert.True(t, std.Metadata)

	tbl := p.FirstTable()
	require.NotNil(t, tbl)
	assert.Equal(t, "t_eth", tbl.Name)
	assert.Equal(t, program.Exact, tbl.MatchType)
	assert.Equal(t, 1024, tbl.MaxSize)
	assert.Empty(t, tbl.Next)
	require.Len(t, tbl.Keys, 1)
	assert.Equal(t, "ethernet.etherType", tbl.Keys[0].FullName())
	assert.True(t, tbl.Keys[0].Field.Equal(etherType))
	assert.Equal(t, "0xffff", tbl.Keys[0].Mask().String())

	setDmac, ok := tbl.Action("set_dmac")
	require.True(t, ok)
	require.Len(t, setDmac.Primitives, 1)
	prim := setDmac.Primitives[0]
	assert.Equal(t, program.ModifyField, prim.Type)
	assert.Equal(t, "assign", prim.Op)
	require.Len(t, prim.Params, 2)
	assert.Equal(t, program.PacketField, prim.Params[0].Kind)
	assert.Equal(t, "ethernet.dstAddr", prim.Params[0].Field.FullName())
	assert.Equal(t, program.Constant, prim.Params[1].Kind)
	assert.Equal(t, "0x00000000cafe", prim.Params[1].Literal)

	_, ok = tbl.Action("set_nhop")
	assert.False(t, ok)
}

func TestLoadL3(t *testing.T) {
	p, err := program.Load("testdata/l3.json")
	require.NoError(t, err)

	offsets := map[string]int{
		"ethernet": 0,
		"ipv4":     112,
		"tcp":      272,
		"udp":      272,
		"meta":     0,
		"routing":  48,
	}
	for name, want := range offsets {
		h, ok := p.Headers.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, want, h.Offset(), name)
	}
	tcp, _ := p.Headers.Lookup("tcp")
	assert.Equal(t, "ipv4", tcp.PreHeader().Name)
	assert.True(t, tcp.Extracted())
	meta, _ := p.Headers.Lookup("meta")
	assert.False(t, meta.Extracted())
	assert.Equal(t, "ipv4_lpm", p.InitTable)

	for i, name := range []string{"ipv4_lpm", "forward", "filter"} {
		tbl, ok := p.Tables.Get(i)
		require.True(t, ok)
		assert.Equal(t, name, tbl.Name)
	}
	lpm, _ := p.Tables.Lookup("ipv4_lpm")
	assert.Equal(t, "node_3", lpm.Next)
	assert.True(t, lpm.WithCounters)
	assert.Equal(t, program.LPM, lpm.Keys[1].Kind)

	cond, ok := p.Conditionals.Lookup("node_3")
	require.True(t, ok)
	assert.Equal(t, "forward", cond.TrueNext)
	assert.Empty(t, cond.FalseNext)

	filter, _ := p.Tables.Lookup("filter")
	require.Len(t, filter.Keys, 3)
	assert.Equal(t, "ipv4.$valid$", filter.Keys[1].FullName())
	assert.Equal(t, "udp.$valid$", filter.Keys[2].FullName())
	assert.Equal(t, program.Valid, filter.Keys[2].Kind)
	assert.Nil(t, filter.Keys[2].Field)
	assert.Equal(t, 1, filter.Keys[2].Width())

	setNhop, _ := p.Actions.Lookup("set_nhop")
	idx, ok := setNhop.Param("port")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, program.RuntimeData, setNhop.Primitives[1].Params[1].Kind)
	assert.Equal(t, program.MetadataField, setNhop.Primitives[1].Params[0].Kind)

	strip, _ := p.Actions.Lookup("strip_tcp")
	assert.Equal(t, program.RemoveHeader, strip.Primitives[0].Type)
	assert.Equal(t, program.PacketHeader, strip.Primitives[0].Params[0].Kind)
}

func TestFirstTable(t *testing.T) {
	testCases := map[string]struct {
		initTable any
		want      string
	}{
		"declared":    {initTable: "forward", want: "forward"},
		"conditional": {initTable: "node_3"},
		"unset":       {initTable: nil, want: "ipv4_lpm"},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			doc := loadDoc(t, "testdata/l3.json")
			at(t, doc, "pipelines", 0).(map[string]any)["init_table"] = tc.initTable
			p, err := program.Parse(encode(t, doc))
			require.NoError(t, err)
			tbl := p.FirstTable()
			if tc.want == "" {
				assert.Nil(t, tbl)
				return
			}
			require.NotNil(t, tbl)
			assert.Equal(t, tc.want, tbl.Name)
		})
	}
}

// TestHeaderOffsetChaining checks that every header directly following
// another one in the parser graph starts where its predecessor ends.
func TestHeaderOffsetChaining(t *testing.T) {
	for _, file := range []string{"eth.json", "l3.json"} {
		t.Run(file, func(t *testing.T) {
			p, err := program.Load(filepath.Join("testdata", file))
			require.NoError(t, err)
			for _, s := range p.ParserStates.All() {
				pre := s.Header()
				if pre == nil {
					continue
				}
				for _, name := range s.Next {
					next, ok := p.ParserStates.Lookup(name)
					require.True(t, ok)
					if len(next.Extracts) == 0 {
						continue
					}
					h := next.Extracts[0]
					assert.Same(t, pre, h.PreHeader())
					assert.Equal(t, pre.Offset()+pre.BitLength(), h.Offset(), h.Name)
				}
			}
		})
	}
}

func TestActionBitmap(t *testing.T) {
	testCases := map[string]struct {
		ops  []string
		want uint64
	}{
		"modify and drop": {
			ops:  []string{"assign", "mark_to_drop"},
			want: 1<<program.ModifyField | 1<<program.Drop,
		},
		"repeated kinds": {
			ops:  []string{"modify_field", "assign", "drop", "drop"},
			want: 0b110,
		},
		"header ops": {
			ops:  []string{"setValid", "remove_header"},
			want: 0b11000,
		},
		"no op": {
			ops:  []string{"no_op"},
			want: 1,
		},
		"empty": {
			want: 0,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			doc := loadDoc(t, "testdata/eth.json")
			var prims []any
			for _, op := range tc.ops {
				var params []any
				switch op {
				case "assign", "modify_field":
					params = []any{
						map[string]any{"type": "field", "value": []any{"ethernet", "dstAddr"}},
						map[string]any{"type": "hexstr", "value": "0x1"},
					}
				case "setValid", "remove_header":
					params = []any{map[string]any{"type": "header", "value": "ethernet"}}
				}
				prims = append(prims, map[string]any{"op": op, "parameters": params})
			}
			at(t, doc, "actions", 0).(map[string]any)["primitives"] = prims
			p, err := program.Parse(encode(t, doc))
			require.NoError(t, err)
			a, ok := p.Actions.Lookup("set_dmac")
			require.True(t, ok)
			assert.Equal(t, tc.want, a.Bitmap())
		})
	}
}

func TestParseErrors(t *testing.T) {
	testCases := map[string]struct {
		file   string
		mutate func(t *testing.T, doc map[string]any)
		want   error
	}{
		"unknown match kind": {
			file: "eth.json",
			mutate: func(t *testing.T, doc map[string]any) {
				key := at(t, doc, "pipelines", 0, "tables", 0, "key", 0).(map[string]any)
				key["match_type"] = "range"
			},
			want: program.ErrUnknownMatchKind,
		},
		"unknown header type": {
			file: "eth.json",
			mutate: func(t *testing.T, doc map[string]any) {
				at(t, doc, "headers", 1).(map[string]any)["header_type"] = "vlan_t"
			},
			want: program.ErrUnknownReference,
		},
		"unknown key field": {
			file: "eth.json",
			mutate: func(t *testing.T, doc map[string]any) {
				key := at(t, doc, "pipelines", 0, "tables", 0, "key", 0).(map[string]any)
				key["target"] = []any{"ethernet", "vlan"}
			},
			want: program.ErrUnknownReference,
		},
		"unknown table action": {
			file: "eth.json",
			mutate: func(t *testing.T, doc map[string]any) {
				tbl := at(t, doc, "pipelines", 0, "tables", 0).(map[string]any)
				tbl["actions"] = []any{"set_dmac", "rewrite"}
			},
			want: program.ErrUnknownReference,
		},
		"unknown successor": {
			file: "eth.json",
			mutate: func(t *testing.T, doc map[string]any) {
				tbl := at(t, doc, "pipelines", 0, "tables", 0).(map[string]any)
				tbl["base_default_next"] = "egress_table"
			},
			want: program.ErrUnknownReference,
		},
		"unknown init table": {
			file: "eth.json",
			mutate: func(t *testing.T, doc map[string]any) {
				at(t, doc, "pipelines", 0).(map[string]any)["init_table"] = "t_vlan"
			},
			want: program.ErrUnknownReference,
		},
		"variable width field": {
			file: "eth.json",
			mutate: func(t *testing.T, doc map[string]any) {
				ht := at(t, doc, "header_types", 1).(map[string]any)
				ht["fields"] = append(ht["fields"].([]any), []any{"options", "*"})
			},
			want: program.ErrVariableWidth,
		},
		"duplicate header": {
			file: "eth.json",
			mutate: func(t *testing.T, doc map[string]any) {
				doc["headers"] = append(doc["headers"].([]any), at(t, doc, "headers", 1))
			},
			want: program.ErrDuplicateName,
		},
		"unknown primitive": {
			file: "eth.json",
			mutate: func(t *testing.T, doc map[string]any) {
				at(t, doc, "actions", 0, "primitives", 0).(map[string]any)["op"] = "count"
			},
			want: program.ErrUnknownPrimitive,
		},
		"unknown parameter type": {
			file: "eth.json",
			mutate: func(t *testing.T, doc map[string]any) {
				param := at(t, doc, "actions", 0, "primitives", 0, "parameters", 1)
				param.(map[string]any)["type"] = "expression"
			},
			want: program.ErrInvalidParameter,
		},
		"runtime data out of range": {
			file: "l3.json",
			mutate: func(t *testing.T, doc map[string]any) {
				param := at(t, doc, "actions", 1, "primitives", 0, "parameters", 1)
				param.(map[string]any)["value"] = 3
			},
			want: program.ErrUnknownReference,
		},
		"unknown next state": {
			file: "eth.json",
			mutate: func(t *testing.T, doc map[string]any) {
				state := at(t, doc, "parsers", 0, "parse_states", 0).(map[string]any)
				state["transitions"] = []any{map[string]any{"next_state": "parse_vlan"}}
			},
			want: program.ErrUnknownReference,
		},
		"parser cycle": {
			file: "eth.json",
			mutate: func(t *testing.T, doc map[string]any) {
				state := at(t, doc, "parsers", 0, "parse_states", 0).(map[string]any)
				state["transitions"] = []any{map[string]any{"next_state": "start"}}
			},
			want: program.ErrParserGraph,
		},
		"multiple predecessors": {
			file: "l3.json",
			mutate: func(t *testing.T, doc map[string]any) {
				state := at(t, doc, "parsers", 0, "parse_states", 2).(map[string]any)
				state["transitions"] = []any{map[string]any{"next_state": "parse_udp"}}
			},
			want: program.ErrParserGraph,
		},
		"header extracted twice": {
			file: "l3.json",
			mutate: func(t *testing.T, doc map[string]any) {
				op := at(t, doc, "parsers", 0, "parse_states", 3, "parser_ops", 0, "parameters", 0)
				op.(map[string]any)["value"] = "tcp"
			},
			want: program.ErrParserGraph,
		},
		"key on header not extracted": {
			file: "l3.json",
			mutate: func(t *testing.T, doc map[string]any) {
				state := at(t, doc, "parsers", 0, "parse_states", 3).(map[string]any)
				state["parser_ops"] = []any{}
				key := at(t, doc, "pipelines", 0, "tables", 2, "key", 0).(map[string]any)
				key["target"] = []any{"udp", "dstPort"}
			},
			want: program.ErrNotExtracted,
		},
		"metadata extracted": {
			file: "eth.json",
			mutate: func(t *testing.T, doc map[string]any) {
				op := at(t, doc, "parsers", 0, "parse_states", 0, "parser_ops", 0, "parameters", 0)
				op.(map[string]any)["value"] = "standard_metadata"
			},
			want: program.ErrParserGraph,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			doc := loadDoc(t, filepath.Join("testdata", tc.file))
			tc.mutate(t, doc)
			p, err := program.Parse(encode(t, doc))
			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, p)
		})
	}
}

func TestParseInvalidJSON(t *testing.T) {
	p, err := program.Parse([]byte(`{"header_types": [`))
	assert.Error(t, err)
	assert.Nil(t, p)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := program.Load("testdata/missing.json")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func loadDoc(t *testing.T, file string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func encode(t *testing.T, doc map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return raw
}

// at walks doc along path, where strings index objects and ints index arrays.
func at(t *testing.T, doc any, path ...any) any {
	t.Helper()
	cur := doc
	for _, step := range path {
		switch s := step.(type) {
		case string:
			m, ok := cur.(map[string]any)
			require.True(t, ok, "not an object at %v", step)
			cur = m[s]
		case int:
			a, ok := cur.([]any)
			require.True(t, ok, "not an array at %v", step)
			require.Less(t, s, len(a))
			cur = a[s]
		}
	}
	return cur
}
