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

package pipeline

import (
	"errors"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/stagemux/stagemux/pkg/private/serrors"
)

// Logical headers and fields of the physical pipeline. Match criteria and
// treatment parameters of table entries are addressed by these names.
const (
	HdrInstance   = "instance"
	FieldID       = "id"
	FieldStage    = "stage"
	HdrMatch      = "match"
	FieldHeader   = "header_value"
	FieldMetadata = "metadata_value"
	FieldStd      = "std_metadata_value"
	FieldResult   = "result"

	HdrDispatch          = "dispatch"
	FieldActionBitmap    = "action_bitmap"
	FieldNextMatchBitmap = "next_match_bitmap"
	FieldNextStage       = "next_stage"
	FieldInstanceID      = "instance_id"

	HdrModify      = "modify"
	FieldDstOffset = "dst_offset"
	FieldDstWidth  = "dst_width"
	FieldSrcOffset = "src_offset"
	FieldSrcWidth  = "src_width"
	FieldValue     = "value"

	HdrHeaderOp = "header_op"
	FieldOffset = "offset"
	FieldLength = "length"
	FieldKind   = "kind"

	HdrResult           = "result"
	FieldResultHeader   = "header"
	FieldResultMetadata = "metadata"
	FieldResultStd      = "std_metadata"
)

// ErrUnknownField indicates a header or field the layout does not offer.
var ErrUnknownField = errors.New("unknown layout field")

// ErrFieldWidth indicates a value wider than its layout field.
var ErrFieldWidth = errors.New("value exceeds layout field")

// LayoutField is a field of a logical header. A width of 0 denotes a
// variable width field.
type LayoutField struct {
	Name  string `yaml:"name"`
	Width int    `yaml:"width"`
}

// LayoutHeader is a logical header of the physical pipeline.
type LayoutHeader struct {
	Name   string        `yaml:"name"`
	Fields []LayoutField `yaml:"fields"`
}

// Layout describes the logical headers and fields the physical tables match
// on and write to.
type Layout struct {
	Headers []LayoutHeader `yaml:"headers"`
}

// DefaultLayout returns the layout of the reference pipeline.
func DefaultLayout() *Layout {
	return &Layout{
		Headers: []LayoutHeader{
			{Name: HdrInstance, Fields: []LayoutField{
				{Name: FieldID, Width: 32},
				{Name: FieldStage, Width: 8},
			}},
			{Name: HdrMatch, Fields: []LayoutField{
				{Name: FieldHeader},
				{Name: FieldMetadata},
				{Name: FieldStd},
				{Name: FieldResult, Width: 48},
			}},
			{Name: HdrDispatch, Fields: []LayoutField{
				{Name: FieldActionBitmap, Width: 64},
				{Name: FieldNextMatchBitmap, Width: 3},
				{Name: FieldNextStage, Width: 8},
				{Name: FieldInstanceID, Width: 32},
			}},
			{Name: HdrModify, Fields: []LayoutField{
				{Name: FieldDstOffset, Width: 16},
				{Name: FieldDstWidth, Width: 16},
				{Name: FieldSrcOffset, Width: 16},
				{Name: FieldSrcWidth, Width: 16},
				{Name: FieldValue},
			}},
			{Name: HdrHeaderOp, Fields: []LayoutField{
				{Name: FieldOffset, Width: 16},
				{Name: FieldLength, Width: 16},
				{Name: FieldKind, Width: 8},
			}},
			{Name: HdrResult, Fields: []LayoutField{
				{Name: FieldResultHeader, Width: 16},
				{Name: FieldResultMetadata, Width: 16},
				{Name: FieldResultStd, Width: 16},
			}},
		},
	}
}

// ParseLayout parses a YAML layout description and validates it.
func ParseLayout(raw []byte) (*Layout, error) {
	l := &Layout{}
	if err := yaml.UnmarshalStrict(raw, l); err != nil {
		return nil, serrors.Wrap("parsing layout", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// LoadLayout reads a YAML layout description from file.
func LoadLayout(file string) (*Layout, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, serrors.Wrap("reading layout", err, "file", file)
	}
	return ParseLayout(raw)
}

// Validate checks that names are unique and widths are not negative.
func (l *Layout) Validate() error {
	headers := make(map[string]bool, len(l.Headers))
	for _, h := range l.Headers {
		if h.Name == "" {
			return serrors.New("layout header without name")
		}
		if headers[h.Name] {
			return serrors.New("duplicate layout header", "header", h.Name)
		}
		headers[h.Name] = true
		fields := make(map[string]bool, len(h.Fields))
		for _, f := range h.Fields {
			if fields[f.Name] {
				return serrors.New("duplicate layout field", "header", h.Name, "field", f.Name)
			}
			if f.Width < 0 {
				return serrors.New("negative field width", "header", h.Name, "field", f.Name)
			}
			fields[f.Name] = true
		}
	}
	return nil
}

// Field returns the field of the given logical header.
func (l *Layout) Field(header, field string) (LayoutField, error) {
	for _, h := range l.Headers {
		if h.Name != header {
			continue
		}
		for _, f := range h.Fields {
			if f.Name == field {
				return f, nil
			}
		}
	}
	return LayoutField{}, serrors.JoinNoStack(ErrUnknownField, nil,
		"header", header, "field", field)
}

// Check verifies that a value of the given width can be carried in the field.
func (l *Layout) Check(header, field string, width int) error {
	f, err := l.Field(header, field)
	if err != nil {
		return err
	}
	if f.Width != 0 && width > f.Width {
		return serrors.JoinNoStack(ErrFieldWidth, nil,
			"header", header, "field", field, "width", width, "max", f.Width)
	}
	return nil
}
