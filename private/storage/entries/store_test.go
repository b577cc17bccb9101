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

package entries_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagemux/stagemux/muxer"
	"github.com/stagemux/stagemux/pkg/bitval"
	"github.com/stagemux/stagemux/pkg/matchresult"
	"github.com/stagemux/stagemux/pkg/program"
	"github.com/stagemux/stagemux/private/storage/db"
	"github.com/stagemux/stagemux/private/storage/entries"
)

var valueComparer = cmp.Comparer(func(a, b bitval.Value) bool { return a.Equal(b) })

func newStore(t *testing.T, metrics *entries.Metrics) *entries.Store {
	t.Helper()
	s, err := entries.New("file:"+uuid.NewString(), &db.SqliteConfig{InMemory: true}, metrics)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testBatch(device string, instance uint32) muxer.Batch {
	mask := bitval.New(112)
	_ = mask.Modify(bitval.Ones(16), 96)
	return muxer.Batch{
		ID:       uuid.New(),
		Device:   device,
		Instance: instance,
		Entries: []muxer.TableEntry{
			{
				Device:   device,
				Table:    2,
				Priority: 10,
				Match: []muxer.Criterion{
					{Header: "instance", Field: "id", Value: bitval.FromUint32(instance)},
					{Header: "match", Field: "std_metadata_value",
						Value: bitval.FromUint(1, 9), Mask: bitval.Ones(9)},
					{Header: "match", Field: "header_value", Value: bitval.New(112), Mask: mask},
				},
				Action: muxer.Treatment{Params: []muxer.Param{
					{Header: "result", Field: "header", Value: bitval.FromUint16(1)},
				}},
			},
			{
				Device:   device,
				Table:    5,
				Priority: 10,
				Match: []muxer.Criterion{
					{Header: "match", Field: "result", Value: bitval.FromUint(1<<32, 48)},
				},
				Action: muxer.Treatment{Params: []muxer.Param{
					{Header: "dispatch", Field: "action_bitmap", Value: bitval.FromUint64(4)},
					{Header: "dispatch", Field: "next_match_bitmap", Value: bitval.FromUint(0, 3)},
				}},
			},
		},
	}
}

func TestInstallRemove(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)

	a, b, c := testBatch("dev1", 1), testBatch("dev2", 1), testBatch("dev1", 2)
	for _, batch := range []muxer.Batch{a, b, c} {
		require.NoError(t, s.Install(ctx, batch))
	}
	assert.Error(t, s.Install(ctx, a))

	got, err := s.Batches(ctx, "dev1")
	require.NoError(t, err)
	if diff := cmp.Diff([]muxer.Batch{a, c}, got, valueComparer); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
	all, err := s.Batches(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.Remove(ctx, a))
	assert.Error(t, s.Remove(ctx, a))
	got, err = s.Batches(ctx, "dev1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)

	es, err := s.Entries(ctx, "dev2")
	require.NoError(t, err)
	if diff := cmp.Diff(b.Entries, es, valueComparer); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyBatch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	batch := muxer.Batch{ID: uuid.New(), Device: "dev1", Instance: 3}
	require.NoError(t, s.Install(ctx, batch))
	got, err := s.Batches(ctx, "dev1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, batch.ID, got[0].ID)
	assert.Empty(t, got[0].Entries)
}

func TestInstanceSink(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	s := newStore(t, entries.NewMetrics(reg))

	prog, err := program.Load("../../../muxer/testdata/eth.json")
	require.NoError(t, err)
	inst, err := muxer.NewInstance(muxer.InstanceConfig{
		Program:   prog,
		Device:    "dev1",
		ID:        7,
		Sink:      s,
		Allocator: matchresult.NewAllocator(0),
	})
	require.NoError(t, err)
	require.NoError(t, inst.Start(ctx))
	require.NoError(t, inst.AddRule(ctx, muxer.Rule{
		Matches: []muxer.Match{muxer.ExactMatch("ethernet.etherType", bitval.FromUint16(0x0800))},
		Action:  "set_dmac",
	}))

	stored, err := s.Entries(ctx, "dev1")
	require.NoError(t, err)
	if diff := cmp.Diff(inst.Entries(), stored, valueComparer); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, inst.Stop(ctx))
	stored, err = s.Entries(ctx, "dev1")
	require.NoError(t, err)
	assert.Empty(t, stored)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	counts := make(map[string]float64)
	for _, m := range families[0].GetMetric() {
		var op, result string
		for _, l := range m.GetLabel() {
			switch l.GetName() {
			case "operation":
				op = l.GetValue()
			case "result":
				result = l.GetValue()
			}
		}
		counts[op+"/"+result] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{
		"install/ok": 2,
		"list/ok":    2,
		"remove/ok":  2,
	}, counts)
}
