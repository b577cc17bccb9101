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
	"github.com/stagemux/stagemux/pkg/bitval"
	"github.com/stagemux/stagemux/pkg/matchresult"
	"github.com/stagemux/stagemux/pkg/pipeline"
	"github.com/stagemux/stagemux/pkg/private/serrors"
	"github.com/stagemux/stagemux/pkg/program"
)

// categoryMatch is the ternary value of one match category of a rule.
type categoryMatch struct {
	cat    matchresult.Category
	table  int
	field  string
	result string
	value  bitval.Value
	mask   bitval.Value
}

// modification is an entry of a modification or header operation table. It
// is keyed by the match result once allocated.
type modification struct {
	table  int
	params []Param
}

// plan is a validated rule. Assembling a plan cannot fail.
type plan struct {
	stage       *Stage
	matches     []categoryMatch
	dispatch    int
	mods        []modification
	priority    int
	nextStage   int
	nextBitmap  uint8
	stageValue  bitval.Value
	actionValue bitval.Value
}

func (i *Instance) plan(r Rule) (*plan, error) {
	s, ok := i.Stage(r.Stage)
	if !ok {
		return nil, serrors.JoinNoStack(ErrUnknownStage, nil, "stage", r.Stage)
	}
	a, ok := s.Table.Action(r.Action)
	if !ok {
		return nil, serrors.JoinNoStack(ErrUnknownAction, nil,
			"table", s.Name(), "action", r.Action)
	}
	matches, err := i.buildMatches(s, r)
	if err != nil {
		return nil, err
	}
	mods, err := i.buildModifications(s, a, r)
	if err != nil {
		return nil, serrors.WrapNoStack("resolving action", err, "action", a.Name)
	}
	dispatch, err := pipeline.TableID(pipeline.MatchResult, s.ID)
	if err != nil {
		return nil, err
	}
	next, bitmap := i.Successor(s)
	return &plan{
		stage:       s,
		matches:     matches,
		dispatch:    dispatch,
		mods:        mods,
		priority:    r.Priority,
		nextStage:   next,
		nextBitmap:  bitmap,
		stageValue:  bitval.FromUint(uint64(s.ID), stageBits),
		actionValue: bitval.FromUint64(a.Bitmap()),
	}, nil
}

func (i *Instance) buildMatches(s *Stage, r Rule) ([]categoryMatch, error) {
	header := categoryMatch{
		cat:    matchresult.Header,
		field:  pipeline.FieldHeader,
		result: pipeline.FieldResultHeader,
		value:  bitval.New(s.HeaderBits),
		mask:   bitval.New(s.HeaderBits),
	}
	metadata := categoryMatch{
		cat:    matchresult.Metadata,
		field:  pipeline.FieldMetadata,
		result: pipeline.FieldResultMetadata,
		value:  bitval.New(s.MetadataBits),
		mask:   bitval.New(s.MetadataBits),
	}
	std := categoryMatch{
		cat:    matchresult.StdMetadata,
		field:  pipeline.FieldStd,
		result: pipeline.FieldResultStd,
		value:  bitval.New(s.StdBits),
	}
	type explicitMask struct {
		offset int
		mask   bitval.Value
	}
	var stdPresent uint8
	var stdMasks []explicitMask

	seen := make(map[string]bool, len(r.Matches))
	for _, m := range r.Matches {
		if seen[m.Key] {
			return nil, serrors.New("duplicate match key", "key", m.Key)
		}
		seen[m.Key] = true
		k, cat, ok := s.Key(m.Key)
		if !ok {
			return nil, serrors.JoinNoStack(ErrUnknownKey, nil,
				"table", s.Name(), "key", m.Key)
		}
		if m.Value.Len() != k.Width() {
			return nil, serrors.JoinNoStack(ErrValueWidth, nil,
				"key", m.Key, "width", m.Value.Len(), "expected", k.Width())
		}
		mask := m.Mask
		if mask.Len() == 0 {
			mask = k.Mask()
		} else if mask.Len() != k.Width() {
			return nil, serrors.JoinNoStack(ErrValueWidth, nil,
				"key", m.Key, "mask_width", mask.Len(), "expected", k.Width())
		}
		value, err := m.Value.And(mask)
		if err != nil {
			return nil, err
		}
		offset, _, err := keyPosition(k)
		if err != nil {
			return nil, err
		}
		var target *categoryMatch
		switch cat {
		case MatchHeader:
			target = &header
		case MatchMetadata:
			target = &metadata
		default:
			target = &std
			_, idx, _ := pipeline.StdMetadataField(k.Field.Name())
			stdPresent |= 1 << idx
			if m.Mask.Len() != 0 {
				stdMasks = append(stdMasks, explicitMask{offset: offset, mask: mask})
			}
		}
		if err := target.value.Modify(value, offset); err != nil {
			return nil, serrors.WrapNoStack("encoding match value", err, "key", m.Key)
		}
		if cat != MatchStdMetadata {
			if err := target.mask.Modify(mask, offset); err != nil {
				return nil, serrors.WrapNoStack("encoding match mask", err, "key", m.Key)
			}
		}
	}
	var err error
	if std.mask, err = pipeline.StdMetadataMask(stdPresent, s.StdBits); err != nil {
		return nil, err
	}
	for _, em := range stdMasks {
		if err := std.mask.Modify(em.mask, em.offset); err != nil {
			return nil, serrors.WrapNoStack("encoding match mask", err)
		}
	}

	bitmap := s.MatchBitmap()
	var matches []categoryMatch
	for _, c := range []struct {
		bit  uint8
		kind pipeline.Kind
		cm   categoryMatch
	}{
		{MatchHeader, pipeline.HeaderMatch, header},
		{MatchMetadata, pipeline.MetadataMatch, metadata},
		{MatchStdMetadata, pipeline.StdMetadataMatch, std},
	} {
		if bitmap&c.bit == 0 {
			continue
		}
		table, err := pipeline.TableID(c.kind, s.ID)
		if err != nil {
			return nil, err
		}
		c.cm.table = table
		matches = append(matches, c.cm)
	}
	return matches, nil
}

func (i *Instance) buildModifications(s *Stage, a *program.Action,
	r Rule) ([]modification, error) {

	for name, v := range r.Params {
		idx, ok := a.Param(name)
		if !ok {
			return nil, serrors.JoinNoStack(ErrUnknownParam, nil, "param", name)
		}
		if want := a.Params[idx].Width; v.Len() != want {
			return nil, serrors.JoinNoStack(ErrValueWidth, nil,
				"param", name, "width", v.Len(), "expected", want)
		}
	}
	var mods []modification
	for _, prim := range a.Primitives {
		var (
			m   modification
			err error
		)
		switch prim.Type {
		case program.NoOp, program.Drop:
			continue
		case program.ModifyField:
			m, err = i.fieldModification(s, a, prim, r)
		case program.AddHeader, program.RemoveHeader:
			m, err = i.headerOperation(s, prim)
		}
		if err != nil {
			return nil, serrors.WrapNoStack("resolving primitive", err, "op", prim.Op)
		}
		mods = append(mods, m)
	}
	return mods, nil
}

func (i *Instance) fieldModification(s *Stage, a *program.Action, prim *program.Primitive,
	r Rule) (modification, error) {

	if len(prim.Params) != 2 {
		return modification{}, serrors.JoinNoStack(ErrPrimitiveArity, nil,
			"params", len(prim.Params), "expected", 2)
	}
	dst, src := prim.Params[0], prim.Params[1]
	if dst.Kind != program.PacketField && dst.Kind != program.MetadataField {
		return modification{}, serrors.JoinNoStack(ErrOperand, nil,
			"operand", "destination", "kind", dst.Kind)
	}
	dstOffset, dstCat, err := fieldPosition(dst.Field)
	if err != nil {
		return modification{}, err
	}
	params, err := offsetParams(pipeline.HdrModify,
		pipeline.FieldDstOffset, dstOffset,
		pipeline.FieldDstWidth, dst.Field.Width(),
	)
	if err != nil {
		return modification{}, err
	}

	var srcCat uint8
	switch src.Kind {
	case program.Constant, program.RuntimeData:
		v, err := i.sourceValue(a, src, dst.Field.Width(), r)
		if err != nil {
			return modification{}, err
		}
		if err := i.layout.Check(pipeline.HdrModify, pipeline.FieldValue, v.Len()); err != nil {
			return modification{}, err
		}
		params = append(params, param(pipeline.HdrModify, pipeline.FieldValue, v))
	case program.PacketField, program.MetadataField:
		var srcOffset int
		if srcOffset, srcCat, err = fieldPosition(src.Field); err != nil {
			return modification{}, err
		}
		if srcCat == MatchStdMetadata {
			return modification{}, serrors.JoinNoStack(ErrOperand, nil,
				"operand", "source", "field", src.Field.FullName())
		}
		more, err := offsetParams(pipeline.HdrModify,
			pipeline.FieldSrcOffset, srcOffset,
			pipeline.FieldSrcWidth, src.Field.Width(),
		)
		if err != nil {
			return modification{}, err
		}
		params = append(params, more...)
	default:
		return modification{}, serrors.JoinNoStack(ErrOperand, nil,
			"operand", "source", "kind", src.Kind)
	}

	kind, err := modificationKind(dstCat, srcCat)
	if err != nil {
		return modification{}, serrors.JoinNoStack(ErrOperand, err,
			"destination", dst.Field.FullName())
	}
	table, err := pipeline.TableID(kind, s.ID)
	if err != nil {
		return modification{}, err
	}
	return modification{table: table, params: params}, nil
}

// modificationKind selects the modification table. A source category of 0
// denotes a constant source.
func modificationKind(dst, src uint8) (pipeline.Kind, error) {
	switch dst {
	case MatchHeader:
		switch src {
		case 0:
			return pipeline.ModHeaderWithConst, nil
		case MatchHeader:
			return pipeline.ModHeaderWithHeader, nil
		case MatchMetadata:
			return pipeline.ModHeaderWithMetadata, nil
		}
	case MatchMetadata:
		switch src {
		case 0:
			return pipeline.ModMetadataWithConst, nil
		case MatchHeader:
			return pipeline.ModMetadataWithHeader, nil
		case MatchMetadata:
			return pipeline.ModMetadataWithMetadata, nil
		}
	case MatchStdMetadata:
		if src == 0 {
			return pipeline.StdMetadataModify, nil
		}
		return 0, serrors.New("standard metadata can only be set to constants")
	}
	return 0, serrors.New("unsupported modification", "dst", dst, "src", src)
}

// sourceValue returns a constant or runtime parameter source as value of the
// destination width.
func (i *Instance) sourceValue(a *program.Action, src program.Parameter, width int,
	r Rule) (bitval.Value, error) {

	if src.Kind == program.Constant {
		v, err := bitval.FromHex(src.Literal, width)
		if err != nil {
			return bitval.Value{}, serrors.JoinNoStack(ErrValueWidth, err,
				"literal", src.Literal)
		}
		return v, nil
	}
	name := a.Params[src.RuntimeIndex].Name
	v, ok := r.Params[name]
	if !ok {
		return bitval.Value{}, serrors.JoinNoStack(ErrMissingParam, nil, "param", name)
	}
	if v.Len() == width {
		return v, nil
	}
	resized, err := bitval.FromHex(v.String(), width)
	if err != nil {
		return bitval.Value{}, serrors.JoinNoStack(ErrValueWidth, err, "param", name)
	}
	return resized, nil
}

func (i *Instance) headerOperation(s *Stage, prim *program.Primitive) (modification, error) {
	if len(prim.Params) != 1 {
		return modification{}, serrors.JoinNoStack(ErrPrimitiveArity, nil,
			"params", len(prim.Params), "expected", 1)
	}
	p := prim.Params[0]
	if p.Kind != program.PacketHeader {
		return modification{}, serrors.JoinNoStack(ErrOperand, nil,
			"operand", "header", "kind", p.Kind)
	}
	params, err := offsetParams(pipeline.HdrHeaderOp,
		pipeline.FieldOffset, p.Header.Offset(),
		pipeline.FieldLength, p.Header.BitLength(),
	)
	if err != nil {
		return modification{}, err
	}
	params = append(params, param(pipeline.HdrHeaderOp, pipeline.FieldKind,
		bitval.FromUint(uint64(prim.Type), opKindBits)))
	table, err := pipeline.TableID(pipeline.HeaderAddRemove, s.ID)
	if err != nil {
		return modification{}, err
	}
	return modification{table: table, params: params}, nil
}

// offsetParams encodes an offset and a width as parameters of the given
// header.
func offsetParams(header, offsetField string, offset int,
	widthField string, width int) ([]Param, error) {

	var params []Param
	for _, p := range []struct {
		field string
		v     int
	}{
		{offsetField, offset},
		{widthField, width},
	} {
		if p.v < 0 || p.v >= 1<<offsetBits {
			return nil, serrors.JoinNoStack(ErrValueWidth, nil,
				"field", header+"."+p.field, "value", p.v, "width", offsetBits)
		}
		params = append(params, param(header, p.field, bitval.FromUint(uint64(p.v), offsetBits)))
	}
	return params, nil
}

func (i *Instance) assemble(p *plan, mr matchresult.MatchResult) []TableEntry {
	instance := bitval.FromUint32(i.id)
	token := exact(pipeline.HdrMatch, pipeline.FieldResult, mr.Value())
	var entries []TableEntry
	for _, cm := range p.matches {
		entries = append(entries, TableEntry{
			Device:   i.device,
			Table:    cm.table,
			Priority: p.priority,
			Match: []Criterion{
				exact(pipeline.HdrInstance, pipeline.FieldID, instance),
				exact(pipeline.HdrInstance, pipeline.FieldStage, p.stageValue),
				ternary(pipeline.HdrMatch, cm.field, cm.value, cm.mask),
			},
			Action: Treatment{Params: []Param{
				param(pipeline.HdrResult, cm.result, bitval.FromUint16(mr.Get(cm.cat))),
			}},
		})
	}
	entries = append(entries, TableEntry{
		Device:   i.device,
		Table:    p.dispatch,
		Priority: p.priority,
		Match:    []Criterion{token},
		Action: Treatment{Params: []Param{
			param(pipeline.HdrDispatch, pipeline.FieldActionBitmap, p.actionValue),
			param(pipeline.HdrDispatch, pipeline.FieldNextMatchBitmap,
				bitval.FromUint(uint64(p.nextBitmap), nextMatchBits)),
			param(pipeline.HdrDispatch, pipeline.FieldNextStage,
				bitval.FromUint(uint64(p.nextStage), stageBits)),
			param(pipeline.HdrDispatch, pipeline.FieldInstanceID, instance),
		}},
	})
	for _, m := range p.mods {
		entries = append(entries, TableEntry{
			Device:   i.device,
			Table:    m.table,
			Priority: p.priority,
			Match:    []Criterion{token},
			Action:   Treatment{Params: m.params},
		})
	}
	return entries
}
