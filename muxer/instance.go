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

// Package muxer compiles rules of packet processing programs into entries of
// the fixed physical pipeline.
//
// Every program bound to a device is an Instance. The tables of the program
// become stages of the physical pipeline: the table with id N is compiled
// into stage N. Several instances share the physical tables; their entries
// are told apart by the instance id and by the match results that chain the
// stages of an instance.
//
// For every rule, the Instance emits
//
//   - one match entry per category (header, metadata, standard metadata) the
//     stage matches on, keyed by instance id, stage id and a ternary value,
//     which yields a fresh sub-result,
//   - one dispatch entry keyed by the combined match result, which carries
//     the action bitmap and the next stage to look up,
//   - one entry per field modification or header operation of the action,
//     keyed by the match result.
//
// All entries of a rule are installed as one Batch.
package muxer

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"github.com/stagemux/stagemux/pkg/bitval"
	"github.com/stagemux/stagemux/pkg/log"
	"github.com/stagemux/stagemux/pkg/matchresult"
	"github.com/stagemux/stagemux/pkg/pipeline"
	"github.com/stagemux/stagemux/pkg/private/serrors"
	"github.com/stagemux/stagemux/pkg/program"
)

var (
	// ErrUnknownStage indicates a rule for a stage the instance does not have.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrUnknownAction indicates an action the stage does not permit.
	ErrUnknownAction = errors.New("unknown action")
	// ErrUnknownKey indicates a match key the stage does not match on.
	ErrUnknownKey = errors.New("unknown match key")
	// ErrUnknownParam indicates a runtime parameter the action does not
	// declare.
	ErrUnknownParam = errors.New("unknown action parameter")
	// ErrMissingParam indicates a runtime parameter the rule does not supply.
	ErrMissingParam = errors.New("missing action parameter")
	// ErrPrimitiveArity indicates a primitive with the wrong number of
	// parameters.
	ErrPrimitiveArity = errors.New("wrong number of primitive parameters")
	// ErrOperand indicates a primitive operand the pipeline cannot express.
	ErrOperand = errors.New("unsupported primitive operand")
	// ErrValueWidth indicates a value that does not have the width of its
	// key or parameter.
	ErrValueWidth = errors.New("value width mismatch")
	// ErrRuleExists indicates a rule that is already installed.
	ErrRuleExists = errors.New("rule already installed")
)

// Widths of the fixed pipeline fields.
const (
	instanceBits  = 32
	stageBits     = 8
	resultBits    = 16
	bitmapBits    = 64
	nextMatchBits = 3
	offsetBits    = 16
	opKindBits    = 8
)

var fixedFields = []struct {
	header string
	field  string
	width  int
}{
	{pipeline.HdrInstance, pipeline.FieldID, instanceBits},
	{pipeline.HdrInstance, pipeline.FieldStage, stageBits},
	{pipeline.HdrMatch, pipeline.FieldResult, matchresult.TokenBits},
	{pipeline.HdrResult, pipeline.FieldResultHeader, resultBits},
	{pipeline.HdrResult, pipeline.FieldResultMetadata, resultBits},
	{pipeline.HdrResult, pipeline.FieldResultStd, resultBits},
	{pipeline.HdrDispatch, pipeline.FieldActionBitmap, bitmapBits},
	{pipeline.HdrDispatch, pipeline.FieldNextMatchBitmap, nextMatchBits},
	{pipeline.HdrDispatch, pipeline.FieldNextStage, stageBits},
	{pipeline.HdrDispatch, pipeline.FieldInstanceID, instanceBits},
	{pipeline.HdrModify, pipeline.FieldDstOffset, offsetBits},
	{pipeline.HdrModify, pipeline.FieldDstWidth, offsetBits},
	{pipeline.HdrModify, pipeline.FieldSrcOffset, offsetBits},
	{pipeline.HdrModify, pipeline.FieldSrcWidth, offsetBits},
	{pipeline.HdrHeaderOp, pipeline.FieldOffset, offsetBits},
	{pipeline.HdrHeaderOp, pipeline.FieldLength, offsetBits},
	{pipeline.HdrHeaderOp, pipeline.FieldKind, opKindBits},
}

// InstanceConfig configures an Instance.
type InstanceConfig struct {
	Program *program.Program
	Device  string
	// ID is the policy id of the instance. It must be unique per device.
	ID        uint32
	Sink      Sink
	Allocator *matchresult.Allocator
	// Layout is the physical pipeline description. If nil, the default
	// layout is used.
	Layout *pipeline.Layout
	// Metrics is optional.
	Metrics *Metrics
}

// Instance is a program bound to a device under a policy id.
type Instance struct {
	id      uint32
	device  string
	prog    *program.Program
	stages  []*Stage
	byName  map[string]int
	alloc   *matchresult.Allocator
	sink    Sink
	layout  *pipeline.Layout
	metrics *Metrics

	mu      sync.Mutex
	started bool
	init    Batch
	batches map[string]Batch
	order   []string
}

// NewInstance compiles the stages of the program. It fails if the program has
// more tables than the pipeline has stages or if the layout cannot carry the
// entries of the instance.
func NewInstance(cfg InstanceConfig) (*Instance, error) {
	switch {
	case cfg.Program == nil:
		return nil, serrors.New("program must not be nil")
	case cfg.Sink == nil:
		return nil, serrors.New("sink must not be nil")
	case cfg.Allocator == nil:
		return nil, serrors.New("allocator must not be nil")
	case cfg.Program.Tables.Len() > pipeline.StageCount:
		return nil, serrors.JoinNoStack(pipeline.ErrStageRange, nil,
			"tables", cfg.Program.Tables.Len(), "stages", pipeline.StageCount)
	}
	layout := cfg.Layout
	if layout == nil {
		layout = pipeline.DefaultLayout()
	}
	for _, f := range fixedFields {
		if err := layout.Check(f.header, f.field, f.width); err != nil {
			return nil, serrors.WrapNoStack("checking layout", err)
		}
	}
	i := &Instance{
		id:      cfg.ID,
		device:  cfg.Device,
		prog:    cfg.Program,
		byName:  make(map[string]int),
		alloc:   cfg.Allocator,
		sink:    cfg.Sink,
		layout:  layout,
		metrics: cfg.Metrics,
		batches: make(map[string]Batch),
	}
	for _, t := range cfg.Program.Tables.All() {
		s, err := NewStage(t)
		if err != nil {
			return nil, err
		}
		for _, c := range []struct {
			field string
			bits  int
		}{
			{pipeline.FieldHeader, s.HeaderBits},
			{pipeline.FieldMetadata, s.MetadataBits},
			{pipeline.FieldStd, s.StdBits},
		} {
			if err := layout.Check(pipeline.HdrMatch, c.field, c.bits); err != nil {
				return nil, serrors.WrapNoStack("checking layout", err, "stage", s.Name())
			}
		}
		i.byName[s.Name()] = len(i.stages)
		i.stages = append(i.stages, s)
	}
	return i, nil
}

// ID returns the policy id of the instance.
func (i *Instance) ID() uint32 {
	return i.id
}

// Device returns the device the instance is bound to.
func (i *Instance) Device() string {
	return i.device
}

// Program returns the compiled program.
func (i *Instance) Program() *program.Program {
	return i.prog
}

// Stage returns the stage with the given id.
func (i *Instance) Stage(id int) (*Stage, bool) {
	if id < 0 || id >= len(i.stages) {
		return nil, false
	}
	return i.stages[id], true
}

// StageByName returns the stage of the table with the given name.
func (i *Instance) StageByName(name string) (*Stage, bool) {
	id, ok := i.byName[name]
	if !ok {
		return nil, false
	}
	return i.stages[id], true
}

// Stages returns the stages in id order.
func (i *Instance) Stages() []*Stage {
	return append([]*Stage(nil), i.stages...)
}

// Batches returns the installed batches, starting with the start batch if the
// instance is started, followed by the rule batches in installation order.
func (i *Instance) Batches() []Batch {
	i.mu.Lock()
	defer i.mu.Unlock()
	var batches []Batch
	if i.started {
		batches = append(batches, i.init)
	}
	for _, key := range i.order {
		batches = append(batches, i.batches[key])
	}
	return batches
}

// Entries returns the entries of all installed batches.
func (i *Instance) Entries() []TableEntry {
	var entries []TableEntry
	for _, b := range i.Batches() {
		entries = append(entries, b.Entries...)
	}
	return entries
}

// Successor returns the stage id and match bitmap the given stage dispatches
// to. Stages without successor table dispatch to pipeline.EndStage.
func (i *Instance) Successor(s *Stage) (int, uint8) {
	if next, ok := i.StageByName(s.Next()); ok {
		return next.ID, next.MatchBitmap()
	}
	return pipeline.EndStage, 0
}

// Start installs the init entry, which directs packets of the instance to the
// first stage.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started {
		return serrors.New("instance already started", "instance", i.id)
	}
	next, bitmap := pipeline.EndStage, uint8(0)
	if t := i.prog.FirstTable(); t != nil {
		if first, ok := i.StageByName(t.Name); ok {
			next, bitmap = first.ID, first.MatchBitmap()
		}
	}
	b := Batch{
		ID:       uuid.New(),
		Device:   i.device,
		Instance: i.id,
		Entries: []TableEntry{{
			Device: i.device,
			Table:  pipeline.InitConfig,
			Match: []Criterion{
				exact(pipeline.HdrInstance, pipeline.FieldID, bitval.FromUint32(i.id)),
			},
			Action: Treatment{Params: []Param{
				param(pipeline.HdrDispatch, pipeline.FieldNextMatchBitmap,
					bitval.FromUint(uint64(bitmap), nextMatchBits)),
				param(pipeline.HdrDispatch, pipeline.FieldNextStage,
					bitval.FromUint(uint64(next), stageBits)),
			}},
		}},
	}
	if err := i.sink.Install(ctx, b); err != nil {
		return serrors.Wrap("installing init entry", err, "instance", i.id)
	}
	i.init = b
	i.started = true
	i.metrics.instance(1)
	i.metrics.entries(b)
	log.FromCtx(ctx).Info("Instance started", "instance", i.id, "device", i.device,
		"stages", len(i.stages))
	return nil
}

// Stop removes all rules of the instance and its init entry. Batches that
// cannot be removed stay registered and the errors are returned.
func (i *Instance) Stop(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	var errs serrors.List
	remaining := i.order[:0]
	for _, key := range i.order {
		if err := i.sink.Remove(ctx, i.batches[key]); err != nil {
			errs = append(errs, serrors.Wrap("removing rule", err, "rule", key))
			remaining = append(remaining, key)
			continue
		}
		delete(i.batches, key)
	}
	i.order = remaining
	if i.started {
		if err := i.sink.Remove(ctx, i.init); err != nil {
			errs = append(errs, serrors.Wrap("removing init entry", err))
		} else {
			i.started = false
			i.init = Batch{}
			i.metrics.instance(-1)
		}
	}
	if len(errs) > 0 {
		return errs.ToError()
	}
	log.FromCtx(ctx).Info("Instance stopped", "instance", i.id, "device", i.device)
	return nil
}

// AddRule compiles the rule and installs its entries as one batch. The rule is
// validated completely before any match result is allocated, so a failed
// rule can be retried.
func (i *Instance) AddRule(ctx context.Context, r Rule) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "muxer.add_rule")
	defer span.Finish()
	span.SetTag("instance", i.id)
	span.SetTag("stage", r.Stage)
	logger := log.FromCtx(ctx)

	i.mu.Lock()
	defer i.mu.Unlock()

	key := r.Identity()
	if _, ok := i.batches[key]; ok {
		i.metrics.rule(ResultInvalid)
		return serrors.JoinNoStack(ErrRuleExists, nil, "instance", i.id, "rule", key)
	}
	p, err := i.plan(r)
	if err != nil {
		ext.Error.Set(span, true)
		i.metrics.rule(ResultInvalid)
		return serrors.WrapNoStack("compiling rule", err, "instance", i.id, "stage", r.Stage)
	}
	mr := i.alloc.Allocate(p.stage.Categories())
	b := Batch{
		ID:       uuid.New(),
		Device:   i.device,
		Instance: i.id,
		Entries:  i.assemble(p, mr),
	}
	if err := i.sink.Install(ctx, b); err != nil {
		ext.Error.Set(span, true)
		i.metrics.rule(ResultSinkError)
		return serrors.Wrap("installing rule", err, "instance", i.id, "batch", b.ID)
	}
	i.batches[key] = b
	i.order = append(i.order, key)
	i.metrics.rule(ResultInstalled)
	i.metrics.entries(b)
	logger.Debug("Rule installed", "instance", i.id, "stage", p.stage.Name(),
		"action", r.Action, "match_result", mr, "entries", len(b.Entries))
	return nil
}

// RemoveRule removes the entries installed for a rule with the same identity.
// Removing a rule that is not installed is a no-op.
func (i *Instance) RemoveRule(ctx context.Context, r Rule) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	key := r.Identity()
	b, ok := i.batches[key]
	if !ok {
		log.FromCtx(ctx).Debug("Ignoring removal of unknown rule", "instance", i.id,
			"rule", key)
		return nil
	}
	if err := i.sink.Remove(ctx, b); err != nil {
		return serrors.Wrap("removing rule", err, "instance", i.id, "batch", b.ID)
	}
	delete(i.batches, key)
	for j, k := range i.order {
		if k == key {
			i.order = append(i.order[:j], i.order[j+1:]...)
			break
		}
	}
	i.metrics.rule(ResultRemoved)
	return nil
}
