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

package control_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/stagemux/stagemux/muxer"
	"github.com/stagemux/stagemux/muxer/control"
	"github.com/stagemux/stagemux/muxer/mock_muxer"
	"github.com/stagemux/stagemux/pkg/bitval"
	"github.com/stagemux/stagemux/pkg/log"
	"github.com/stagemux/stagemux/pkg/log/testlog"
	"github.com/stagemux/stagemux/pkg/pipeline"
	"github.com/stagemux/stagemux/pkg/private/serrors"
)

const ethProgram = "../testdata/eth.json"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ethRule(etherType uint16) muxer.Rule {
	return muxer.Rule{
		Matches: []muxer.Match{
			muxer.ExactMatch("ethernet.etherType", bitval.FromUint16(etherType)),
		},
		Action: "set_dmac",
	}
}

func newManager(t *testing.T, sink muxer.Sink, cacheSize int) *control.Manager {
	t.Helper()
	m, err := control.New(control.Config{Sink: sink, ProgramCacheSize: cacheSize})
	require.NoError(t, err)
	return m
}

func TestCompile(t *testing.T) {
	raw, err := os.ReadFile(ethProgram)
	require.NoError(t, err)
	l3, err := os.ReadFile("../testdata/l3.json")
	require.NoError(t, err)

	t.Run("cached", func(t *testing.T) {
		m := newManager(t, muxer.NewMemSink(), 0)
		a, err := m.Compile(raw)
		require.NoError(t, err)
		b, err := m.CompileFile(ethProgram)
		require.NoError(t, err)
		assert.Same(t, a, b)
	})
	t.Run("evicted", func(t *testing.T) {
		m := newManager(t, muxer.NewMemSink(), 1)
		a, err := m.Compile(raw)
		require.NoError(t, err)
		_, err = m.Compile(l3)
		require.NoError(t, err)
		b, err := m.Compile(raw)
		require.NoError(t, err)
		assert.NotSame(t, a, b)
		assert.Equal(t, a.Tables.Len(), b.Tables.Len())
	})
	t.Run("invalid", func(t *testing.T) {
		m := newManager(t, muxer.NewMemSink(), 0)
		_, err := m.Compile([]byte(`{"header_types": 1}`))
		assert.Error(t, err)
		_, err = m.CompileFile("../testdata/missing.json")
		assert.Error(t, err)
	})
}

func TestNewManager(t *testing.T) {
	_, err := control.New(control.Config{})
	assert.Error(t, err)
	_, err = control.New(control.Config{Sink: muxer.NewMemSink(), ProgramCacheSize: -1})
	assert.Error(t, err)
}

func TestBindUnbind(t *testing.T) {
	ctx := log.CtxWith(context.Background(), testlog.NewLogger(t))
	sink := muxer.NewMemSink()
	m := newManager(t, sink, 0)
	prog, err := m.CompileFile(ethProgram)
	require.NoError(t, err)

	inst, err := m.Bind(ctx, prog, "dev1", 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), inst.ID())
	_, err = m.Bind(ctx, prog, "dev1", 1)
	assert.ErrorIs(t, err, control.ErrPolicyExists)
	// The same policy id can be bound on another device.
	_, err = m.Bind(ctx, prog, "dev2", 1)
	require.NoError(t, err)
	_, err = m.Bind(ctx, prog, "dev1", 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"dev1", "dev2"}, m.Devices())
	var ids []uint32
	for _, inst := range m.Instances("dev1") {
		ids = append(ids, inst.ID())
	}
	assert.Equal(t, []uint32{1, 2}, ids)
	got, ok := m.Instance("dev1", 1)
	require.True(t, ok)
	assert.Same(t, inst, got)

	require.NoError(t, m.AddRule(ctx, "dev1", 1, ethRule(0x0800)))
	assert.ErrorIs(t, m.AddRule(ctx, "dev1", 3, ethRule(0x0800)), control.ErrUnknownPolicy)
	assert.ErrorIs(t, m.RemoveRule(ctx, "dev3", 1, ethRule(0x0800)),
		control.ErrUnknownPolicy)
	// Three init batches and one rule.
	assert.Len(t, sink.Batches(), 4)

	require.NoError(t, m.RemoveRule(ctx, "dev1", 1, ethRule(0x0800)))
	require.NoError(t, m.Unbind(ctx, "dev1", 1))
	assert.ErrorIs(t, m.Unbind(ctx, "dev1", 1), control.ErrUnknownPolicy)
	_, ok = m.Instance("dev1", 1)
	assert.False(t, ok)

	require.NoError(t, m.Close(ctx))
	assert.Empty(t, sink.Batches())
	assert.Empty(t, m.Devices())
}

func TestUnknownDevice(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, muxer.NewMemSink(), 0)
	_, ok := m.Instance("dev1", 1)
	assert.False(t, ok)
	assert.Empty(t, m.Instances("dev1"))
	assert.ErrorIs(t, m.Unbind(ctx, "dev1", 1), control.ErrUnknownPolicy)
	assert.ErrorIs(t, m.AddRule(ctx, "dev1", 1, ethRule(0x0800)), control.ErrUnknownPolicy)
	assert.Empty(t, m.Devices())
	require.NoError(t, m.Close(ctx))
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	earlier := muxer.NewMemSink()
	first := newManager(t, earlier, 0)
	prog, err := first.CompileFile(ethProgram)
	require.NoError(t, err)
	_, err = first.Bind(ctx, prog, "dev1", 7)
	require.NoError(t, err)
	require.NoError(t, first.AddRule(ctx, "dev1", 7, ethRule(0x0800)))
	require.NoError(t, first.AddRule(ctx, "dev1", 7, ethRule(0x86dd)))

	sink := muxer.NewMemSink()
	m := newManager(t, sink, 0)
	m.Restore(earlier.Batches())
	_, err = m.Bind(ctx, prog, "dev1", 7)
	assert.ErrorIs(t, err, control.ErrPolicyExists)
	_, err = m.Bind(ctx, prog, "dev1", 8)
	require.NoError(t, err)
	require.NoError(t, m.AddRule(ctx, "dev1", 8, ethRule(0x0800)))

	seen := make(map[uint64]uint32)
	for _, b := range append(earlier.Batches(), sink.Batches()...) {
		for _, r := range b.MatchResults() {
			other, ok := seen[r.Token()]
			assert.False(t, ok, "token %x of instance %d reused by %d", r.Token(), b.Instance, other)
			seen[r.Token()] = b.Instance
		}
	}
	assert.Len(t, seen, 3)
	// Restored policies are not instances of the manager.
	assert.Equal(t, []string{"dev1"}, m.Devices())
	assert.Len(t, m.Instances("dev1"), 1)
}

func TestBindInstallFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sink := mock_muxer.NewMockSink(ctrl)
	m := newManager(t, sink, 0)
	prog, err := m.CompileFile(ethProgram)
	require.NoError(t, err)

	sinkErr := serrors.New("device unreachable")
	sink.EXPECT().Install(gomock.Any(), gomock.Any()).Return(sinkErr)
	_, err = m.Bind(context.Background(), prog, "dev1", 1)
	assert.ErrorIs(t, err, sinkErr)
	_, ok := m.Instance("dev1", 1)
	assert.False(t, ok)

	sink.EXPECT().Install(gomock.Any(), gomock.Any()).Return(nil)
	_, err = m.Bind(context.Background(), prog, "dev1", 1)
	require.NoError(t, err)

	sink.EXPECT().Remove(gomock.Any(), gomock.Any()).Return(sinkErr)
	assert.Error(t, m.Close(context.Background()))
	_, ok = m.Instance("dev1", 1)
	assert.True(t, ok)

	sink.EXPECT().Remove(gomock.Any(), gomock.Any()).Return(nil)
	require.NoError(t, m.Close(context.Background()))
}

func TestBindInvalidLayout(t *testing.T) {
	m := newManager(t, muxer.NewMemSink(), 0)
	prog, err := m.CompileFile(ethProgram)
	require.NoError(t, err)
	layout := pipeline.DefaultLayout()
	layout.Headers = layout.Headers[:1]
	m, err = control.New(control.Config{Sink: muxer.NewMemSink(), Layout: layout})
	require.NoError(t, err)
	_, err = m.Bind(context.Background(), prog, "dev1", 1)
	assert.ErrorIs(t, err, pipeline.ErrUnknownField)
	assert.Empty(t, m.Devices())
}

func TestConcurrentDevices(t *testing.T) {
	const (
		devices  = 8
		policies = 4
		rules    = 16
	)
	ctx := context.Background()
	sink := muxer.NewMemSink()
	m := newManager(t, sink, 0)
	prog, err := m.CompileFile(ethProgram)
	require.NoError(t, err)

	var g errgroup.Group
	for d := 0; d < devices; d++ {
		for p := 0; p < policies; p++ {
			dev, policy := fmt.Sprintf("dev%d", d), uint32(p)
			g.Go(func() error {
				if _, err := m.Bind(ctx, prog, dev, policy); err != nil {
					return err
				}
				for r := 0; r < rules; r++ {
					if err := m.AddRule(ctx, dev, policy, ethRule(uint16(r))); err != nil {
						return err
					}
				}
				return nil
			})
		}
	}
	require.NoError(t, g.Wait())

	seen := make(map[uint64]bool)
	for d := 0; d < devices; d++ {
		for _, e := range sink.Entries(fmt.Sprintf("dev%d", d)) {
			if kind, ok := e.Kind(); !ok || kind != pipeline.HeaderMatch {
				continue
			}
			v, ok := e.Action.Param(pipeline.HdrResult, pipeline.FieldResultHeader)
			require.True(t, ok)
			require.False(t, seen[v.Uint64()], "duplicate match result %d", v.Uint64())
			seen[v.Uint64()] = true
		}
	}
	assert.Len(t, seen, devices*policies*rules)
	require.NoError(t, m.Close(ctx))
	assert.Empty(t, sink.Batches())
}
