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

package program

import (
	"encoding/json"

	"github.com/stagemux/stagemux/pkg/private/serrors"
)

type jsonProgram struct {
	HeaderTypes []jsonHeaderType `json:"header_types"`
	Headers     []jsonHeader     `json:"headers"`
	Parsers     []jsonParser     `json:"parsers"`
	Actions     []jsonAction     `json:"actions"`
	Pipelines   []jsonPipeline   `json:"pipelines"`
}

type jsonHeaderType struct {
	Name   string              `json:"name"`
	Fields [][]json.RawMessage `json:"fields"`
}

type jsonHeader struct {
	Name       string `json:"name"`
	HeaderType string `json:"header_type"`
	Metadata   bool   `json:"metadata"`
}

type jsonParser struct {
	Name        string           `json:"name"`
	ParseStates []jsonParseState `json:"parse_states"`
}

type jsonParseState struct {
	Name        string           `json:"name"`
	ParserOps   []jsonOp         `json:"parser_ops"`
	Transitions []jsonTransition `json:"transitions"`
}

type jsonOp struct {
	Op         string           `json:"op"`
	Parameters []jsonTypedValue `json:"parameters"`
}

type jsonTypedValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type jsonTransition struct {
	NextState *string `json:"next_state"`
}

type jsonAction struct {
	Name        string            `json:"name"`
	RuntimeData []jsonRuntimeData `json:"runtime_data"`
	Primitives  []jsonOp          `json:"primitives"`
}

type jsonRuntimeData struct {
	Name     string `json:"name"`
	Bitwidth int    `json:"bitwidth"`
}

type jsonPipeline struct {
	Name         string            `json:"name"`
	InitTable    *string           `json:"init_table"`
	Tables       []jsonTable       `json:"tables"`
	Conditionals []jsonConditional `json:"conditionals"`
}

type jsonTable struct {
	Name            string    `json:"name"`
	Key             []jsonKey `json:"key"`
	MatchType       string    `json:"match_type"`
	Type            string    `json:"type"`
	MaxSize         int       `json:"max_size"`
	WithCounters    bool      `json:"with_counters"`
	SupportTimeout  bool      `json:"support_timeout"`
	Actions         []string  `json:"actions"`
	BaseDefaultNext *string   `json:"base_default_next"`
}

type jsonKey struct {
	MatchType string          `json:"match_type"`
	Target    json.RawMessage `json:"target"`
}

type jsonConditional struct {
	Name      string  `json:"name"`
	TrueNext  *string `json:"true_next"`
	FalseNext *string `json:"false_next"`
}

func decodeJSON(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return serrors.Wrap("decoding JSON", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (p *Program) parseHeaderTypes(doc *jsonProgram) error {
	for _, jt := range doc.HeaderTypes {
		ht := newHeaderType(jt.Name)
		for i, jf := range jt.Fields {
			if len(jf) < 2 {
				return serrors.New("field needs name and width",
					"header_type", jt.Name, "index", i)
			}
			var name string
			if err := json.Unmarshal(jf[0], &name); err != nil {
				return serrors.Wrap("decoding field name", err,
					"header_type", jt.Name, "index", i)
			}
			var width int
			if err := json.Unmarshal(jf[1], &width); err != nil {
				return serrors.JoinNoStack(ErrVariableWidth, nil,
					"header_type", jt.Name, "field", name, "width", string(jf[1]))
			}
			var signed bool
			if len(jf) > 2 {
				if err := json.Unmarshal(jf[2], &signed); err != nil {
					return serrors.Wrap("decoding field signedness", err,
						"header_type", jt.Name, "field", name)
				}
			}
			if err := ht.addField(name, width, signed); err != nil {
				return err
			}
		}
		id, err := p.HeaderTypes.add(ht.Name, ht)
		if err != nil {
			return err
		}
		ht.ID = id
	}
	return nil
}

func (p *Program) parseHeaders(doc *jsonProgram) error {
	for _, jh := range doc.Headers {
		ht, ok := p.HeaderTypes.Lookup(jh.HeaderType)
		if !ok {
			return serrors.JoinNoStack(ErrUnknownReference, nil,
				"header", jh.Name, "header_type", jh.HeaderType)
		}
		h := newHeader(jh.Name, ht, jh.Metadata)
		id, err := p.Headers.add(h.Name, h)
		if err != nil {
			return err
		}
		h.ID = id
	}
	// Metadata headers share one contiguous space in declaration order. The
	// standard metadata is positioned by the device and stays at 0.
	offset := 0
	for _, h := range p.Headers.All() {
		if !h.Metadata || h.Standard() {
			continue
		}
		h.offset = offset
		offset += h.BitLength()
	}
	return nil
}

func (p *Program) parseParsers(doc *jsonProgram) error {
	for _, jp := range doc.Parsers {
		for _, js := range jp.ParseStates {
			s := &ParserState{Name: js.Name}
			for _, op := range js.ParserOps {
				if op.Op != "extract" {
					continue
				}
				h, err := p.extractTarget(js.Name, op)
				if err != nil {
					return err
				}
				s.Extracts = append(s.Extracts, h)
			}
			seen := make(map[string]bool)
			for _, tr := range js.Transitions {
				next := deref(tr.NextState)
				if next == "" || seen[next] {
					continue
				}
				seen[next] = true
				s.Next = append(s.Next, next)
			}
			id, err := p.ParserStates.add(s.Name, s)
			if err != nil {
				return err
			}
			s.ID = id
		}
	}
	return resolveParserGraph(&p.ParserStates)
}

func (p *Program) extractTarget(state string, op jsonOp) (*Header, error) {
	if len(op.Parameters) != 1 || op.Parameters[0].Type != "regular" {
		return nil, serrors.JoinNoStack(ErrInvalidParameter, nil,
			"state", state, "op", op.Op)
	}
	var name string
	if err := json.Unmarshal(op.Parameters[0].Value, &name); err != nil {
		return nil, serrors.JoinNoStack(ErrInvalidParameter, err,
			"state", state, "op", op.Op)
	}
	h, ok := p.Headers.Lookup(name)
	if !ok {
		return nil, serrors.JoinNoStack(ErrUnknownReference, nil,
			"state", state, "header", name)
	}
	return h, nil
}

func (p *Program) parseActions(doc *jsonProgram) error {
	for _, ja := range doc.Actions {
		a := &Action{Name: ja.Name}
		for _, rd := range ja.RuntimeData {
			if rd.Bitwidth <= 0 {
				return serrors.JoinNoStack(ErrVariableWidth, nil,
					"action", ja.Name, "runtime_data", rd.Name)
			}
			a.Params = append(a.Params, RuntimeParam{Name: rd.Name, Width: rd.Bitwidth})
		}
		for _, jp := range ja.Primitives {
			prim, err := p.parsePrimitive(a, jp)
			if err != nil {
				return serrors.WrapNoStack("parsing primitive", err, "action", ja.Name)
			}
			a.Primitives = append(a.Primitives, prim)
		}
		id, err := p.Actions.add(a.Name, a)
		if err != nil {
			return err
		}
		a.ID = id
	}
	return nil
}

func (p *Program) parsePrimitive(a *Action, jp jsonOp) (*Primitive, error) {
	t, err := ParsePrimitiveType(jp.Op)
	if err != nil {
		return nil, err
	}
	prim := &Primitive{Type: t, Op: jp.Op}
	for i, jv := range jp.Parameters {
		param, err := p.parseParameter(a, jv)
		if err != nil {
			return nil, serrors.WrapNoStack("parsing parameter", err,
				"op", jp.Op, "index", i)
		}
		prim.Params = append(prim.Params, param)
	}
	return prim, nil
}

func (p *Program) parseParameter(a *Action, jv jsonTypedValue) (Parameter, error) {
	switch jv.Type {
	case "hexstr":
		var lit string
		if err := json.Unmarshal(jv.Value, &lit); err != nil {
			return Parameter{}, serrors.JoinNoStack(ErrInvalidParameter, err, "type", jv.Type)
		}
		return Parameter{Kind: Constant, Literal: lit}, nil
	case "runtime_data":
		var idx int
		if err := json.Unmarshal(jv.Value, &idx); err != nil {
			return Parameter{}, serrors.JoinNoStack(ErrInvalidParameter, err, "type", jv.Type)
		}
		if idx < 0 || idx >= len(a.Params) {
			return Parameter{}, serrors.JoinNoStack(ErrUnknownReference, nil,
				"runtime_data", idx)
		}
		return Parameter{Kind: RuntimeData, RuntimeIndex: idx}, nil
	case "field":
		var ref []string
		if err := json.Unmarshal(jv.Value, &ref); err != nil || len(ref) != 2 {
			return Parameter{}, serrors.JoinNoStack(ErrInvalidParameter, err,
				"type", jv.Type, "value", string(jv.Value))
		}
		f, err := p.Field(ref[0], ref[1])
		if err != nil {
			return Parameter{}, err
		}
		kind := PacketField
		if f.Header.Metadata {
			kind = MetadataField
		}
		return Parameter{Kind: kind, Field: f}, nil
	case "header":
		var name string
		if err := json.Unmarshal(jv.Value, &name); err != nil {
			return Parameter{}, serrors.JoinNoStack(ErrInvalidParameter, err, "type", jv.Type)
		}
		h, ok := p.Headers.Lookup(name)
		if !ok {
			return Parameter{}, serrors.JoinNoStack(ErrUnknownReference, nil, "header", name)
		}
		kind := PacketHeader
		if h.Metadata {
			kind = MetadataHeader
		}
		return Parameter{Kind: kind, Header: h}, nil
	default:
		return Parameter{}, serrors.JoinNoStack(ErrInvalidParameter, nil, "type", jv.Type)
	}
}

func (p *Program) parseTables(doc *jsonProgram) error {
	for _, jpl := range doc.Pipelines {
		if p.InitTable == "" {
			p.InitTable = deref(jpl.InitTable)
		}
		for _, jt := range jpl.Tables {
			t, err := p.parseTable(jt)
			if err != nil {
				return serrors.WrapNoStack("parsing table", err,
					"pipeline", jpl.Name, "table", jt.Name)
			}
			id, err := p.Tables.add(t.Name, t)
			if err != nil {
				return err
			}
			t.ID = id
		}
	}
	return nil
}

func (p *Program) parseTable(jt jsonTable) (*Table, error) {
	t := &Table{
		Name:           jt.Name,
		Type:           jt.Type,
		MaxSize:        jt.MaxSize,
		WithCounters:   jt.WithCounters,
		SupportTimeout: jt.SupportTimeout,
		Next:           deref(jt.BaseDefaultNext),
	}
	if jt.MatchType != "" {
		mt, err := ParseMatchKind(jt.MatchType)
		if err != nil {
			return nil, err
		}
		t.MatchType = mt
	}
	for _, jk := range jt.Key {
		k, err := p.parseKey(jk)
		if err != nil {
			return nil, err
		}
		t.Keys = append(t.Keys, k)
	}
	for _, name := range jt.Actions {
		a, ok := p.Actions.Lookup(name)
		if !ok {
			return nil, serrors.JoinNoStack(ErrUnknownReference, nil, "action", name)
		}
		t.Actions = append(t.Actions, a)
	}
	return t, nil
}

// parseKey accepts a [header, field] target, and for valid keys also a bare
// header name or [header, "$valid$"].
func (p *Program) parseKey(jk jsonKey) (*MatchKey, error) {
	kind, err := ParseMatchKind(jk.MatchType)
	if err != nil {
		return nil, err
	}
	var ref []string
	if err := json.Unmarshal(jk.Target, &ref); err != nil {
		var name string
		if err := json.Unmarshal(jk.Target, &name); err != nil || kind != Valid {
			return nil, serrors.JoinNoStack(ErrInvalidParameter, nil,
				"target", string(jk.Target))
		}
		ref = []string{name}
	}
	if kind == Valid {
		if len(ref) == 0 || len(ref) > 2 || (len(ref) == 2 && ref[1] != "$valid$") {
			return nil, serrors.JoinNoStack(ErrInvalidParameter, nil,
				"target", string(jk.Target))
		}
		h, ok := p.Headers.Lookup(ref[0])
		if !ok {
			return nil, serrors.JoinNoStack(ErrUnknownReference, nil, "header", ref[0])
		}
		return &MatchKey{Kind: kind, Header: h}, nil
	}
	if len(ref) != 2 {
		return nil, serrors.JoinNoStack(ErrInvalidParameter, nil,
			"target", string(jk.Target))
	}
	f, err := p.Field(ref[0], ref[1])
	if err != nil {
		return nil, err
	}
	if !f.Header.Metadata && !f.Header.Extracted() {
		return nil, serrors.JoinNoStack(ErrNotExtracted, nil, "header", f.Header.Name)
	}
	return &MatchKey{Kind: kind, Header: f.Header, Field: f}, nil
}

func (p *Program) parseConditionals(doc *jsonProgram) error {
	for _, jpl := range doc.Pipelines {
		for _, jc := range jpl.Conditionals {
			c := &Conditional{
				Name:      jc.Name,
				TrueNext:  deref(jc.TrueNext),
				FalseNext: deref(jc.FalseNext),
			}
			id, err := p.Conditionals.add(c.Name, c)
			if err != nil {
				return err
			}
			c.ID = id
		}
	}
	return nil
}
