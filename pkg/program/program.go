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

// Package program models packet processing programs described in the bmv2
// JSON format.
//
// A Program is built in one pass over the document: header types, headers,
// the parser graph, actions, tables and conditionals, in that order. Later
// sections reference earlier ones by name. Once the parser graph is complete,
// every packet header is assigned its bit offset in the packet by walking the
// graph from its root states.
//
// Programs are immutable after parsing and safe for concurrent use.
package program

import (
	"errors"
	"os"

	"github.com/stagemux/stagemux/pkg/private/serrors"
)

var (
	// ErrDuplicateName indicates two entities of the same kind sharing a name.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrUnknownReference indicates a reference to an entity that is not
	// declared.
	ErrUnknownReference = errors.New("unknown reference")
	// ErrUnknownMatchKind indicates an unsupported match kind.
	ErrUnknownMatchKind = errors.New("unknown match kind")
	// ErrUnknownPrimitive indicates an unsupported primitive op.
	ErrUnknownPrimitive = errors.New("unknown primitive")
	// ErrInvalidParameter indicates a malformed primitive parameter.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrVariableWidth indicates a field without a fixed width.
	ErrVariableWidth = errors.New("variable width field")
	// ErrParserGraph indicates a parser graph that cannot be linearized.
	ErrParserGraph = errors.New("invalid parser graph")
	// ErrNotExtracted indicates a match key on a packet header that no parser
	// state extracts.
	ErrNotExtracted = errors.New("header not extracted by the parser")
)

// Program is a parsed packet processing program.
type Program struct {
	HeaderTypes  Registry[*HeaderType]
	Headers      Registry[*Header]
	ParserStates Registry[*ParserState]
	Actions      Registry[*Action]
	Tables       Registry[*Table]
	Conditionals Registry[*Conditional]
	// InitTable names the table or conditional the first pipeline starts
	// with. If empty, the first declared table is executed first.
	InitTable string
}

// Load reads and parses the program stored in file.
func Load(file string) (*Program, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, serrors.Wrap("reading program", err, "file", file)
	}
	p, err := Parse(raw)
	if err != nil {
		return nil, serrors.WrapNoStack("parsing program", err, "file", file)
	}
	return p, nil
}

// Parse builds a program from its JSON description. On error no program is
// returned.
func Parse(raw []byte) (*Program, error) {
	var doc jsonProgram
	if err := decodeJSON(raw, &doc); err != nil {
		return nil, err
	}
	p := &Program{}
	steps := []struct {
		name string
		fn   func(*jsonProgram) error
	}{
		{"header_types", p.parseHeaderTypes},
		{"headers", p.parseHeaders},
		{"parsers", p.parseParsers},
		{"actions", p.parseActions},
		{"tables", p.parseTables},
		{"conditionals", p.parseConditionals},
		{"successors", p.checkSuccessors},
	}
	for _, step := range steps {
		if err := step.fn(&doc); err != nil {
			return nil, serrors.WrapNoStack("parsing program", err, "section", step.name)
		}
	}
	return p, nil
}

// FirstTable returns the table executed first, or nil if the program has no
// tables or starts with a conditional.
func (p *Program) FirstTable() *Table {
	if p.InitTable == "" {
		t, _ := p.Tables.Get(0)
		return t
	}
	t, _ := p.Tables.Lookup(p.InitTable)
	return t
}

// Field resolves a "<header>.<field>" reference.
func (p *Program) Field(header, field string) (*Field, error) {
	h, ok := p.Headers.Lookup(header)
	if !ok {
		return nil, serrors.JoinNoStack(ErrUnknownReference, nil, "header", header)
	}
	f, ok := h.Field(field)
	if !ok {
		return nil, serrors.JoinNoStack(ErrUnknownReference, nil,
			"header", header, "field", field)
	}
	return f, nil
}

func (p *Program) checkSuccessors(*jsonProgram) error {
	known := func(name string) bool {
		if name == "" {
			return true
		}
		if _, ok := p.Tables.Lookup(name); ok {
			return true
		}
		_, ok := p.Conditionals.Lookup(name)
		return ok
	}
	if !known(p.InitTable) {
		return serrors.JoinNoStack(ErrUnknownReference, nil, "init_table", p.InitTable)
	}
	for _, t := range p.Tables.All() {
		if !known(t.Next) {
			return serrors.JoinNoStack(ErrUnknownReference, nil,
				"table", t.Name, "next", t.Next)
		}
	}
	for _, c := range p.Conditionals.All() {
		for _, next := range []string{c.TrueNext, c.FalseNext} {
			if !known(next) {
				return serrors.JoinNoStack(ErrUnknownReference, nil,
					"conditional", c.Name, "next", next)
			}
		}
	}
	return nil
}
