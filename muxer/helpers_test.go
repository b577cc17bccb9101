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

package muxer_test

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/stagemux/stagemux/muxer"
	"github.com/stagemux/stagemux/pkg/bitval"
	"github.com/stagemux/stagemux/pkg/matchresult"
	"github.com/stagemux/stagemux/pkg/program"
)

const (
	testDevice   = "dev1"
	testInstance = 7
)

var valueComparer = cmp.Comparer(func(a, b bitval.Value) bool { return a.Equal(b) })

func newInstance(t *testing.T, file string, sink muxer.Sink,
	alloc *matchresult.Allocator) *muxer.Instance {

	t.Helper()
	prog, err := program.Load(file)
	require.NoError(t, err)
	if alloc == nil {
		alloc = matchresult.NewAllocator(matchresult.DefaultModulus)
	}
	inst, err := muxer.NewInstance(muxer.InstanceConfig{
		Program:   prog,
		Device:    testDevice,
		ID:        testInstance,
		Sink:      sink,
		Allocator: alloc,
	})
	require.NoError(t, err)
	return inst
}

func loadDoc(t *testing.T, file string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func parseDoc(t *testing.T, doc map[string]any) *program.Program {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	prog, err := program.Parse(raw)
	require.NoError(t, err)
	return prog
}

// at walks doc along path, where strings index objects and ints index arrays.
func at(t *testing.T, doc any, path ...any) any {
	t.Helper()
	cur := doc
	for _, step := range path {
		switch s := step.(type) {
		case string:
			m, ok := cur.(map[string]any)
			require.True(t, ok, "not an object at %v", step)
			cur = m[s]
		case int:
			a, ok := cur.([]any)
			require.True(t, ok, "not an array at %v", step)
			require.Less(t, s, len(a))
			cur = a[s]
		}
	}
	return cur
}

func tableIDs(entries []muxer.TableEntry) []int {
	var ids []int
	for _, e := range entries {
		ids = append(ids, e.Table)
	}
	return ids
}
