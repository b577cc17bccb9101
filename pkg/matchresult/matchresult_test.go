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

package matchresult_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/stagemux/stagemux/pkg/matchresult"
)

func TestTokenRoundTrip(t *testing.T) {
	values := []uint16{0, 1, 2, 255, 256, 0x7fff, 0x8000, 19999, 0xffff}
	for _, std := range values {
		for _, meta := range values {
			for _, hdr := range values {
				r := matchresult.MatchResult{StdMetadata: std, Metadata: meta, Header: hdr}
				token := r.Token()
				assert.Less(t, token, uint64(1)<<48)
				assert.Equal(t, r, matchresult.FromToken(token))
			}
		}
	}
}

func TestTokenLayout(t *testing.T) {
	r := matchresult.MatchResult{StdMetadata: 0x0001, Metadata: 0x0203, Header: 0x0405}
	assert.Equal(t, uint64(0x0405_0203_0001), r.Token())
	assert.Equal(t, "0x040502030001", r.Value().String())
	assert.Equal(t, 48, r.Value().Len())
	assert.Equal(t, uint16(0x0203), r.Get(matchresult.Metadata))
}

func TestAllocate(t *testing.T) {
	a := matchresult.NewAllocator(matchresult.DefaultModulus)

	r := a.Allocate(matchresult.Header)
	assert.Equal(t, matchresult.MatchResult{Header: 1}, r)

	r = a.Allocate(matchresult.Header | matchresult.StdMetadata)
	assert.Equal(t, matchresult.MatchResult{Header: 2, StdMetadata: 1}, r)

	r = a.Allocate(matchresult.Metadata)
	assert.Equal(t, matchresult.MatchResult{Metadata: 1}, r)

	assert.Equal(t, matchresult.MatchResult{}, a.Allocate(0))
}

func TestAllocateWraps(t *testing.T) {
	a := matchresult.NewAllocator(4)
	var got []uint16
	for i := 0; i < 7; i++ {
		got = append(got, a.Allocate(matchresult.Header).Header)
	}
	assert.Equal(t, []uint16{1, 2, 3, 1, 2, 3, 1}, got)
}

func TestReserve(t *testing.T) {
	a := matchresult.NewAllocator(matchresult.DefaultModulus)
	a.Reserve(matchresult.MatchResult{Metadata: 5, Header: 9})
	a.Reserve(matchresult.MatchResult{Header: 3})
	assert.Equal(t,
		matchresult.MatchResult{StdMetadata: 1, Metadata: 6, Header: 10},
		a.Allocate(matchresult.StdMetadata|matchresult.Metadata|matchresult.Header),
	)
	// Reserving results that were already handed out changes nothing.
	a.Reserve(matchresult.MatchResult{StdMetadata: 1, Header: 2})
	assert.Equal(t, matchresult.MatchResult{StdMetadata: 2, Header: 11},
		a.Allocate(matchresult.StdMetadata|matchresult.Header))
}

func TestAllocateDefaultWrap(t *testing.T) {
	a := matchresult.NewAllocator(0)
	var last uint16
	for i := 0; i < matchresult.DefaultModulus; i++ {
		last = a.Allocate(matchresult.StdMetadata).StdMetadata
		require.NotZero(t, last)
	}
	assert.Equal(t, uint16(1), last)
}

func TestAllocateConcurrent(t *testing.T) {
	a := matchresult.NewAllocator(matchresult.DefaultModulus)
	const workers, perWorker = 8, 500

	var mu sync.Mutex
	seen := make(map[uint16]bool)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				r := a.Allocate(matchresult.Header)
				mu.Lock()
				seen[r.Header] = true
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, seen, workers*perWorker)
}
