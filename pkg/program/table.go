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
	"github.com/stagemux/stagemux/pkg/bitval"
	"github.com/stagemux/stagemux/pkg/private/serrors"
)

// MatchKind is the kind of a match key.
type MatchKind uint8

const (
	Undefined MatchKind = iota
	Exact
	Ternary
	LPM
	Valid
)

// ParseMatchKind parses the JSON spelling of a match kind.
func ParseMatchKind(s string) (MatchKind, error) {
	switch s {
	case "exact":
		return Exact, nil
	case "ternary":
		return Ternary, nil
	case "lpm":
		return LPM, nil
	case "valid":
		return Valid, nil
	case "undefined":
		return Undefined, nil
	default:
		return 0, serrors.JoinNoStack(ErrUnknownMatchKind, nil, "kind", s)
	}
}

func (k MatchKind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Ternary:
		return "ternary"
	case LPM:
		return "lpm"
	case Valid:
		return "valid"
	default:
		return "undefined"
	}
}

// MatchKey is one key of a table. Valid keys target a header, all other keys
// target a field.
type MatchKey struct {
	Kind   MatchKind
	Header *Header
	Field  *Field
}

// FullName returns "<header>.<field>", or "<header>.$valid$" for valid keys.
func (k *MatchKey) FullName() string {
	if k.Field == nil {
		return k.Header.Name + ".$valid$"
	}
	return k.Field.FullName()
}

// Width returns the key width in bits. Valid keys are one bit wide.
func (k *MatchKey) Width() int {
	if k.Field == nil {
		return 1
	}
	return k.Field.Width()
}

// Mask returns a value with all bits set over the key width.
func (k *MatchKey) Mask() bitval.Value {
	return bitval.Ones(k.Width())
}

// Table is a match-action table of the program.
type Table struct {
	ID             int
	Name           string
	MatchType      MatchKind
	Type           string
	MaxSize        int
	WithCounters   bool
	SupportTimeout bool
	Keys           []*MatchKey
	Actions        []*Action
	// Next names the successor table or conditional. It is empty if the
	// table is the last of its pipeline.
	Next string
}

// Action returns the permitted action with the given name.
func (t *Table) Action(name string) (*Action, bool) {
	for _, a := range t.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// Key returns the key with the given full name.
func (t *Table) Key(fullName string) (*MatchKey, bool) {
	for _, k := range t.Keys {
		if k.FullName() == fullName {
			return k, true
		}
	}
	return nil, false
}

// Conditional is a branch node of a pipeline.
type Conditional struct {
	ID        int
	Name      string
	TrueNext  string
	FalseNext string
}
