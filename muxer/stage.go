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
	"github.com/stagemux/stagemux/pkg/matchresult"
	"github.com/stagemux/stagemux/pkg/pipeline"
	"github.com/stagemux/stagemux/pkg/private/serrors"
	"github.com/stagemux/stagemux/pkg/program"
)

// Match bitmap bits of a stage.
const (
	MatchStdMetadata uint8 = 1 << iota
	MatchMetadata
	MatchHeader
)

// Stage is a table of a program compiled for one instance. The keys of the
// table are split into the header, metadata and standard metadata categories;
// every category is matched in its own physical table.
type Stage struct {
	ID    int
	Table *program.Table

	HeaderKeys   []*program.MatchKey
	MetadataKeys []*program.MatchKey
	StdKeys      []*program.MatchKey
	// ValidKeys are validity keys. They do not take part in matching.
	ValidKeys []*program.MatchKey

	// HeaderBits, MetadataBits and StdBits are the maximum absolute bit end
	// of any key of the category.
	HeaderBits   int
	MetadataBits int
	StdBits      int
}

// NewStage classifies the keys of t.
func NewStage(t *program.Table) (*Stage, error) {
	s := &Stage{ID: t.ID, Table: t}
	for _, k := range t.Keys {
		if k.Kind == program.Valid {
			s.ValidKeys = append(s.ValidKeys, k)
			continue
		}
		offset, cat, err := keyPosition(k)
		if err != nil {
			return nil, serrors.WrapNoStack("classifying key", err, "table", t.Name)
		}
		end := offset + k.Width()
		switch cat {
		case MatchHeader:
			s.HeaderKeys = append(s.HeaderKeys, k)
			s.HeaderBits = max(s.HeaderBits, end)
		case MatchMetadata:
			s.MetadataKeys = append(s.MetadataKeys, k)
			s.MetadataBits = max(s.MetadataBits, end)
		case MatchStdMetadata:
			s.StdKeys = append(s.StdKeys, k)
			s.StdBits = max(s.StdBits, end)
		}
	}
	return s, nil
}

// Name returns the name of the underlying table.
func (s *Stage) Name() string {
	return s.Table.Name
}

// Next returns the name of the successor table or conditional.
func (s *Stage) Next() string {
	return s.Table.Next
}

// MatchBitmap has MatchHeader, MatchMetadata and MatchStdMetadata set for
// every category the stage matches on.
func (s *Stage) MatchBitmap() uint8 {
	var b uint8
	if len(s.HeaderKeys) > 0 {
		b |= MatchHeader
	}
	if len(s.MetadataKeys) > 0 {
		b |= MatchMetadata
	}
	if len(s.StdKeys) > 0 {
		b |= MatchStdMetadata
	}
	return b
}

// Categories returns the match result categories of the stage.
func (s *Stage) Categories() matchresult.Category {
	return matchresult.Category(s.MatchBitmap())
}

// Key returns the matching key with the given full name and its category.
func (s *Stage) Key(fullName string) (*program.MatchKey, uint8, bool) {
	for _, group := range []struct {
		cat  uint8
		keys []*program.MatchKey
	}{
		{MatchHeader, s.HeaderKeys},
		{MatchMetadata, s.MetadataKeys},
		{MatchStdMetadata, s.StdKeys},
	} {
		for _, k := range group.keys {
			if k.FullName() == fullName {
				return k, group.cat, true
			}
		}
	}
	return nil, 0, false
}

// keyPosition returns the absolute bit offset and the category of a field
// key. Standard metadata fields are positioned by the device layout.
func keyPosition(k *program.MatchKey) (int, uint8, error) {
	return fieldPosition(k.Field)
}

func fieldPosition(f *program.Field) (int, uint8, error) {
	switch {
	case f.Header.Standard():
		sf, _, ok := pipeline.StdMetadataField(f.Name())
		if !ok {
			return 0, 0, serrors.JoinNoStack(ErrUnknownKey, nil,
				"field", f.FullName(), "reason", "not a device standard metadata field")
		}
		if sf.Width != f.Width() {
			return 0, 0, serrors.JoinNoStack(ErrValueWidth, nil,
				"field", f.FullName(), "width", f.Width(), "device_width", sf.Width)
		}
		return sf.Offset, MatchStdMetadata, nil
	case f.Header.Metadata:
		return f.AbsOffset(), MatchMetadata, nil
	default:
		return f.AbsOffset(), MatchHeader, nil
	}
}
