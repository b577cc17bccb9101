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
	"github.com/stagemux/stagemux/pkg/private/serrors"
)

// PrimitiveType identifies a primitive operation. The numeric value is the
// bit position of the primitive in an action bitmap.
type PrimitiveType uint8

const (
	NoOp PrimitiveType = iota
	Drop
	ModifyField
	AddHeader
	RemoveHeader
)

var primitiveOps = map[string]PrimitiveType{
	"no_op":         NoOp,
	"drop":          Drop,
	"mark_to_drop":  Drop,
	"modify_field":  ModifyField,
	"assign":        ModifyField,
	"add_header":    AddHeader,
	"setValid":      AddHeader,
	"remove_header": RemoveHeader,
	"setInvalid":    RemoveHeader,
}

// ParsePrimitiveType maps an op spelling to its primitive type.
func ParsePrimitiveType(op string) (PrimitiveType, error) {
	t, ok := primitiveOps[op]
	if !ok {
		return 0, serrors.JoinNoStack(ErrUnknownPrimitive, nil, "op", op)
	}
	return t, nil
}

func (t PrimitiveType) String() string {
	switch t {
	case NoOp:
		return "no_op"
	case Drop:
		return "drop"
	case ModifyField:
		return "modify_field"
	case AddHeader:
		return "add_header"
	case RemoveHeader:
		return "remove_header"
	default:
		return "unknown"
	}
}

// ParamKind tags a primitive parameter.
type ParamKind uint8

const (
	Constant ParamKind = iota
	RuntimeData
	PacketField
	MetadataField
	PacketHeader
	MetadataHeader
)

func (k ParamKind) String() string {
	switch k {
	case Constant:
		return "constant"
	case RuntimeData:
		return "runtime_data"
	case PacketField:
		return "packet_field"
	case MetadataField:
		return "metadata_field"
	case PacketHeader:
		return "packet_header"
	case MetadataHeader:
		return "metadata_header"
	default:
		return "unknown"
	}
}

// Parameter is a primitive operand. Exactly one of Literal, RuntimeIndex,
// Field, Header is meaningful, depending on Kind.
type Parameter struct {
	Kind ParamKind
	// Literal is the hex literal of a constant.
	Literal string
	// RuntimeIndex indexes the runtime parameters of the action.
	RuntimeIndex int
	Field        *Field
	Header       *Header
}

// Primitive is one operation of an action.
type Primitive struct {
	Type PrimitiveType
	// Op is the op spelling used in the program.
	Op     string
	Params []Parameter
}

// RuntimeParam is a parameter supplied by a rule when the action is invoked.
type RuntimeParam struct {
	Name  string
	Width int
}

// Action is a named sequence of primitives.
type Action struct {
	ID         int
	Name       string
	Params     []RuntimeParam
	Primitives []*Primitive
}

// Param returns the index of the runtime parameter with the given name.
func (a *Action) Param(name string) (int, bool) {
	for i, p := range a.Params {
		if p.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Bitmap has bit 1<<t set for every distinct primitive type t of the action.
func (a *Action) Bitmap() uint64 {
	var b uint64
	for _, p := range a.Primitives {
		b |= 1 << p.Type
	}
	return b
}
