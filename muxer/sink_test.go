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
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagemux/stagemux/muxer"
)

func TestMemSink(t *testing.T) {
	ctx := context.Background()
	sink := muxer.NewMemSink()
	a := muxer.Batch{
		ID:      uuid.New(),
		Device:  "dev1",
		Entries: []muxer.TableEntry{{Device: "dev1", Table: 2}, {Device: "dev1", Table: 5}},
	}
	b := muxer.Batch{
		ID:      uuid.New(),
		Device:  "dev2",
		Entries: []muxer.TableEntry{{Device: "dev2", Table: 21}},
	}
	require.NoError(t, sink.Install(ctx, a))
	require.NoError(t, sink.Install(ctx, b))
	assert.Error(t, sink.Install(ctx, a))

	assert.Equal(t, []int{2, 5}, tableIDs(sink.Entries("dev1")))
	assert.Equal(t, []int{21}, tableIDs(sink.Entries("dev2")))
	assert.Empty(t, sink.Entries("dev3"))

	require.NoError(t, sink.Remove(ctx, a))
	assert.Error(t, sink.Remove(ctx, a))
	require.Len(t, sink.Batches(), 1)
	assert.Equal(t, b.ID, sink.Batches()[0].ID)
}
