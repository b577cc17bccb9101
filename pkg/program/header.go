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

// StandardMetadata is the name of the device defined metadata header.
const StandardMetadata = "standard_metadata"

// FieldType is a field of a header type. Offset is the bit offset of the
// field within the header; it is assigned once, when the field is added.
type FieldType struct {
	Name   string
	Width  int
	Offset int
	Signed bool
}

// HeaderType is a named field layout.
type HeaderType struct {
	ID   int
	Name string

	fields []*FieldType
	byName map[string]*FieldType
	bits   int
}

func newHeaderType(name string) *HeaderType {
	return &HeaderType{Name: name, byName: make(map[string]*FieldType)}
}

func (t *HeaderType) addField(name string, width int, signed bool) error {
	if width <= 0 {
		return serrors.JoinNoStack(ErrVariableWidth, nil,
			"header_type", t.Name, "field", name)
	}
	if _, ok := t.byName[name]; ok {
		return serrors.JoinNoStack(ErrDuplicateName, nil,
			"header_type", t.Name, "field", name)
	}
	ft := &FieldType{Name: name, Width: width, Offset: t.bits, Signed: signed}
	t.fields = append(t.fields, ft)
	t.byName[name] = ft
	t.bits += width
	return nil
}

// Fields returns the field types in declaration order.
func (t *HeaderType) Fields() []*FieldType {
	return append([]*FieldType(nil), t.fields...)
}

// Field returns the field type with the given name.
func (t *HeaderType) Field(name string) (*FieldType, bool) {
	ft, ok := t.byName[name]
	return ft, ok
}

// BitLength is the sum of all field widths.
func (t *HeaderType) BitLength() int {
	return t.bits
}

// Header is an instance of a header type, either extracted from the packet or
// carried as metadata.
type Header struct {
	ID       int
	Name     string
	Type     *HeaderType
	Metadata bool

	fields []*Field
	byName map[string]*Field

	pre       *Header
	offset    int
	extracted bool
}

func newHeader(name string, ht *HeaderType, metadata bool) *Header {
	h := &Header{
		Name:     name,
		Type:     ht,
		Metadata: metadata,
		byName:   make(map[string]*Field, len(ht.fields)),
	}
	for _, ft := range ht.fields {
		f := &Field{Header: h, Type: ft}
		h.fields = append(h.fields, f)
		h.byName[ft.Name] = f
	}
	return h
}

// Standard reports whether h is the device defined standard metadata.
func (h *Header) Standard() bool {
	return h.Name == StandardMetadata
}

// Fields returns the header fields in declaration order.
func (h *Header) Fields() []*Field {
	return append([]*Field(nil), h.fields...)
}

// Field returns the field with the given name.
func (h *Header) Field(name string) (*Field, bool) {
	f, ok := h.byName[name]
	return f, ok
}

// BitLength returns the bit length of the header type.
func (h *Header) BitLength() int {
	return h.Type.BitLength()
}

// PreHeader returns the header extracted immediately before h, or nil if h is
// the first header of the packet or not a packet header.
func (h *Header) PreHeader() *Header {
	return h.pre
}

// Extracted reports whether a parser state extracts the packet header.
// Headers that are never extracted have no packet offset.
func (h *Header) Extracted() bool {
	return h.extracted
}

// Offset returns the absolute bit offset of the header. For packet headers
// this is the offset in the packet as given by the parser graph, for metadata
// headers it is the offset in the metadata space.
func (h *Header) Offset() int {
	return h.offset
}

// Field is a field of a header instance.
type Field struct {
	Header *Header
	Type   *FieldType
}

// Name returns the field name.
func (f *Field) Name() string {
	return f.Type.Name
}

// Width returns the field width in bits.
func (f *Field) Width() int {
	return f.Type.Width
}

// Offset returns the bit offset of the field within its header.
func (f *Field) Offset() int {
	return f.Type.Offset
}

// AbsOffset returns the bit offset of the field within the packet or the
// metadata space.
func (f *Field) AbsOffset() int {
	return f.Header.Offset() + f.Type.Offset
}

// FullName returns "<header>.<field>".
func (f *Field) FullName() string {
	return f.Header.Name + "." + f.Type.Name
}

// Equal reports whether both fields refer to the same field of the same
// header.
func (f *Field) Equal(o *Field) bool {
	return f.Header == o.Header && f.Type == o.Type
}

// Mask returns a value with all bits set over the field width.
func (f *Field) Mask() bitval.Value {
	return bitval.Ones(f.Width())
}
