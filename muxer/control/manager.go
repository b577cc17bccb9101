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

// Package control manages the instances bound to devices. The Manager owns
// the match-result allocator shared by all instances and serializes the
// operations on a device.
package control

import (
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/hashicorp/golang-lru/arc/v2"

	"github.com/stagemux/stagemux/muxer"
	"github.com/stagemux/stagemux/pkg/log"
	"github.com/stagemux/stagemux/pkg/matchresult"
	"github.com/stagemux/stagemux/pkg/pipeline"
	"github.com/stagemux/stagemux/pkg/private/serrors"
	"github.com/stagemux/stagemux/pkg/program"
)

var (
	// ErrPolicyExists indicates a policy id that is already bound on the
	// device.
	ErrPolicyExists = errors.New("policy already bound")
	// ErrUnknownPolicy indicates a policy id that is not bound on the device.
	ErrUnknownPolicy = errors.New("unknown policy")
)

// DefaultProgramCacheSize is used if Config.ProgramCacheSize is not set.
const DefaultProgramCacheSize = 64

// Config configures a Manager.
type Config struct {
	Sink   muxer.Sink
	Layout *pipeline.Layout
	// Metrics is optional.
	Metrics            *muxer.Metrics
	ProgramCacheSize   int
	MatchResultModulus int
}

type digest [sha256.Size]byte

// Manager binds programs to devices.
type Manager struct {
	sink    muxer.Sink
	layout  *pipeline.Layout
	metrics *muxer.Metrics
	alloc   *matchresult.Allocator
	cache   *arc.ARCCache[digest, *program.Program]

	mu      sync.Mutex
	devices map[string]*device
}

type device struct {
	mu        sync.Mutex
	instances map[uint32]*muxer.Instance
	// installed holds the policies with entries recorded by an earlier run.
	installed map[uint32]bool
}

// New creates a manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Sink == nil {
		return nil, serrors.New("sink must not be nil")
	}
	size := cfg.ProgramCacheSize
	if size == 0 {
		size = DefaultProgramCacheSize
	}
	cache, err := arc.NewARC[digest, *program.Program](size)
	if err != nil {
		return nil, serrors.Wrap("creating program cache", err, "size", size)
	}
	return &Manager{
		sink:    cfg.Sink,
		layout:  cfg.Layout,
		metrics: cfg.Metrics,
		alloc:   matchresult.NewAllocator(cfg.MatchResultModulus),
		cache:   cache,
		devices: make(map[string]*device),
	}, nil
}

// Compile parses a program. Programs are cached by the digest of their JSON
// representation, compiling the same document twice returns the same
// program.
func (m *Manager) Compile(raw []byte) (*program.Program, error) {
	key := digest(sha256.Sum256(raw))
	if p, ok := m.cache.Get(key); ok {
		return p, nil
	}
	p, err := program.Parse(raw)
	if err != nil {
		return nil, err
	}
	m.cache.Add(key, p)
	return p, nil
}

// CompileFile reads and compiles the program in file.
func (m *Manager) CompileFile(file string) (*program.Program, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, serrors.Wrap("reading program", err, "file", file)
	}
	p, err := m.Compile(raw)
	if err != nil {
		return nil, serrors.WrapNoStack("compiling program", err, "file", file)
	}
	return p, nil
}

// Bind creates an instance of prog on the device under the policy id and
// starts it.
func (m *Manager) Bind(ctx context.Context, prog *program.Program, dev string,
	policy uint32) (*muxer.Instance, error) {

	d := m.device(dev)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.instances[policy]; ok || d.installed[policy] {
		return nil, serrors.JoinNoStack(ErrPolicyExists, nil, "device", dev, "policy", policy)
	}
	inst, err := muxer.NewInstance(muxer.InstanceConfig{
		Program:   prog,
		Device:    dev,
		ID:        policy,
		Sink:      m.sink,
		Allocator: m.alloc,
		Layout:    m.layout,
		Metrics:   m.metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := inst.Start(ctx); err != nil {
		return nil, err
	}
	d.instances[policy] = inst
	log.FromCtx(ctx).Info("Program bound", "device", dev, "policy", policy,
		"tables", prog.Tables.Len())
	return inst, nil
}

// Restore accounts for batches installed by an earlier run, typically read
// back from the entry store. Their match results are not handed out again and
// their policies cannot be bound on the device.
func (m *Manager) Restore(batches []muxer.Batch) {
	for _, b := range batches {
		for _, r := range b.MatchResults() {
			m.alloc.Reserve(r)
		}
		d := m.device(b.Device)
		d.mu.Lock()
		d.installed[b.Instance] = true
		d.mu.Unlock()
	}
}

// Unbind stops the instance and forgets it. If stopping fails, the instance
// stays bound and Unbind can be retried.
func (m *Manager) Unbind(ctx context.Context, dev string, policy uint32) error {
	d, ok := m.lookup(dev)
	if !ok {
		return serrors.JoinNoStack(ErrUnknownPolicy, nil, "device", dev, "policy", policy)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.instances[policy]
	if !ok {
		return serrors.JoinNoStack(ErrUnknownPolicy, nil, "device", dev, "policy", policy)
	}
	if err := inst.Stop(ctx); err != nil {
		return err
	}
	delete(d.instances, policy)
	return nil
}

// AddRule adds a rule to the instance bound under the policy id.
func (m *Manager) AddRule(ctx context.Context, dev string, policy uint32, r muxer.Rule) error {
	d, ok := m.lookup(dev)
	if !ok {
		return serrors.JoinNoStack(ErrUnknownPolicy, nil, "device", dev, "policy", policy)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.instances[policy]
	if !ok {
		return serrors.JoinNoStack(ErrUnknownPolicy, nil, "device", dev, "policy", policy)
	}
	return inst.AddRule(ctx, r)
}

// RemoveRule removes a rule from the instance bound under the policy id.
func (m *Manager) RemoveRule(ctx context.Context, dev string, policy uint32,
	r muxer.Rule) error {

	d, ok := m.lookup(dev)
	if !ok {
		return serrors.JoinNoStack(ErrUnknownPolicy, nil, "device", dev, "policy", policy)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.instances[policy]
	if !ok {
		return serrors.JoinNoStack(ErrUnknownPolicy, nil, "device", dev, "policy", policy)
	}
	return inst.RemoveRule(ctx, r)
}

// Instance returns the instance bound under the policy id.
func (m *Manager) Instance(dev string, policy uint32) (*muxer.Instance, bool) {
	d, ok := m.lookup(dev)
	if !ok {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.instances[policy]
	return inst, ok
}

// Instances returns the instances bound on the device ordered by policy id.
func (m *Manager) Instances(dev string) []*muxer.Instance {
	d, ok := m.lookup(dev)
	if !ok {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	instances := make([]*muxer.Instance, 0, len(d.instances))
	for _, inst := range d.instances {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].ID() < instances[j].ID()
	})
	return instances
}

// Devices returns the devices with bound instances in lexical order.
func (m *Manager) Devices() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.devices))
	for name := range m.devices {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)
	var devices []string
	for _, name := range names {
		if len(m.Instances(name)) > 0 {
			devices = append(devices, name)
		}
	}
	return devices
}

// Close unbinds all instances. Instances that cannot be stopped stay bound.
func (m *Manager) Close(ctx context.Context) error {
	var errs serrors.List
	for _, dev := range m.Devices() {
		for _, inst := range m.Instances(dev) {
			if err := m.Unbind(ctx, dev, inst.ID()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs.ToError()
}

func (m *Manager) lookup(name string) (*device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[name]
	return d, ok
}

func (m *Manager) device(name string) *device {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[name]
	if !ok {
		d = &device{
			instances: make(map[uint32]*muxer.Instance),
			installed: make(map[uint32]bool),
		}
		m.devices[name] = d
	}
	return d
}
