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
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/stagemux/stagemux/pkg/bitval"
	"github.com/stagemux/stagemux/pkg/matchresult"
	"github.com/stagemux/stagemux/pkg/pipeline"
)

// Criterion matches a logical field of the physical pipeline. A zero width
// mask denotes an exact match.
type Criterion struct {
	Header string
	Field  string
	Value  bitval.Value
	Mask   bitval.Value
}

// Exact reports whether the criterion matches all bits of its value.
func (c Criterion) Exact() bool {
	return c.Mask.Len() == 0
}

func (c Criterion) String() string {
	if c.Exact() {
		return fmt.Sprintf("%s.%s=%s", c.Header, c.Field, c.Value)
	}
	return fmt.Sprintf("%s.%s=%s&&&%s", c.Header, c.Field, c.Value, c.Mask)
}

// Param is an action parameter written to a logical field of the physical
// pipeline.
type Param struct {
	Header string
	Field  string
	Value  bitval.Value
}

func (p Param) String() string {
	return fmt.Sprintf("%s.%s=%s", p.Header, p.Field, p.Value)
}

// Treatment is the action of a table entry.
type Treatment struct {
	Params []Param
}

// Param returns the value of the parameter for the given field.
func (t Treatment) Param(header, field string) (bitval.Value, bool) {
	for _, p := range t.Params {
		if p.Header == header && p.Field == field {
			return p.Value, true
		}
	}
	return bitval.Value{}, false
}

func (t Treatment) String() string {
	s := make([]string, 0, len(t.Params))
	for _, p := range t.Params {
		s = append(s, p.String())
	}
	return strings.Join(s, " ")
}

// TableEntry is an entry of a physical table.
type TableEntry struct {
	Device   string
	Table    int
	Priority int
	Match    []Criterion
	Action   Treatment
}

// Criterion returns the criterion for the given field.
func (e TableEntry) Criterion(header, field string) (Criterion, bool) {
	for _, c := range e.Match {
		if c.Header == header && c.Field == field {
			return c, true
		}
	}
	return Criterion{}, false
}

// TableName returns the name of the physical table of the entry.
func (e TableEntry) TableName() string {
	name, ok := pipeline.Name(e.Table)
	if !ok {
		return fmt.Sprintf("table(%d)", e.Table)
	}
	return name
}

// Kind returns the per-stage table kind of the entry. ok is false for entries
// of tables outside the stages.
func (e TableEntry) Kind() (pipeline.Kind, bool) {
	kind, _, ok := pipeline.Locate(e.Table)
	return kind, ok
}

// Batch is the set of entries installed for one rule, or for the start of an
// instance. A sink installs or removes a batch as a whole.
type Batch struct {
	ID       uuid.UUID
	Device   string
	Instance uint32
	Entries  []TableEntry
}

// MatchResults returns the match results keying the dispatch entries of the
// batch.
func (b Batch) MatchResults() []matchresult.MatchResult {
	var results []matchresult.MatchResult
	for _, e := range b.Entries {
		if kind, ok := e.Kind(); !ok || kind != pipeline.MatchResult {
			continue
		}
		if c, ok := e.Criterion(pipeline.HdrMatch, pipeline.FieldResult); ok {
			results = append(results, matchresult.FromToken(c.Value.Uint64()))
		}
	}
	return results
}

func exact(header, field string, v bitval.Value) Criterion {
	return Criterion{Header: header, Field: field, Value: v}
}

func ternary(header, field string, v, mask bitval.Value) Criterion {
	return Criterion{Header: header, Field: field, Value: v, Mask: mask}
}

func param(header, field string, v bitval.Value) Param {
	return Param{Header: header, Field: field, Value: v}
}
