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

// Package matchresult allocates and encodes the tokens that chain the stages
// of an instance.
//
// A match result consists of three 16 bit sub-results, one per match
// category. The combined 48 bit token carries the standard metadata
// sub-result in bits 0-15, the metadata sub-result in bits 16-31 and the
// header sub-result in bits 32-47. A sub-result of 0 means the stage does not
// match on that category.
package matchresult

import (
	"fmt"
	"sync"

	"github.com/stagemux/stagemux/pkg/bitval"
)

// DefaultModulus is the default wrap-around of the per category counters.
const DefaultModulus = 20000

// TokenBits is the width of a packed token.
const TokenBits = 48

// Category is a bit set of match categories. The values match the bits of a
// stage match bitmap.
type Category uint8

const (
	StdMetadata Category = 1 << iota
	Metadata
	Header
)

// MatchResult is the result of matching one stage of an instance.
type MatchResult struct {
	StdMetadata uint16
	Metadata    uint16
	Header      uint16
}

// Token packs the sub-results into a 48 bit token.
func (r MatchResult) Token() uint64 {
	return uint64(r.Header)<<32 | uint64(r.Metadata)<<16 | uint64(r.StdMetadata)
}

// Value returns the token as 48 bit value.
func (r MatchResult) Value() bitval.Value {
	return bitval.FromUint(r.Token(), TokenBits)
}

// Get returns the sub-result of a single category.
func (r MatchResult) Get(c Category) uint16 {
	switch c {
	case StdMetadata:
		return r.StdMetadata
	case Metadata:
		return r.Metadata
	case Header:
		return r.Header
	default:
		return 0
	}
}

func (r MatchResult) String() string {
	return fmt.Sprintf("%d/%d/%d", r.Header, r.Metadata, r.StdMetadata)
}

// FromToken unpacks a token. Bits above 47 are ignored.
func FromToken(token uint64) MatchResult {
	return MatchResult{
		StdMetadata: uint16(token),
		Metadata:    uint16(token >> 16),
		Header:      uint16(token >> 32),
	}
}

// Allocator hands out sub-results. Every category has its own counter,
// starting at 1 and wrapping modulo the configured modulus; 0 is never
// handed out. Allocator is safe for concurrent use.
type Allocator struct {
	modulus uint32

	mu       sync.Mutex
	counters [3]uint32
}

// NewAllocator returns an allocator wrapping at modulus. Moduli outside
// [2, 65536] are replaced with DefaultModulus.
func NewAllocator(modulus int) *Allocator {
	if modulus < 2 || modulus > 1<<16 {
		modulus = DefaultModulus
	}
	return &Allocator{modulus: uint32(modulus)}
}

// Allocate returns a match result with fresh sub-results for the requested
// categories and 0 for all others.
func (a *Allocator) Allocate(categories Category) MatchResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	var r MatchResult
	if categories&StdMetadata != 0 {
		r.StdMetadata = a.next(0)
	}
	if categories&Metadata != 0 {
		r.Metadata = a.next(1)
	}
	if categories&Header != 0 {
		r.Header = a.next(2)
	}
	return r
}

// Reserve marks the sub-results of r as handed out. Counters that are behind
// a sub-result of r continue after it; the zero sub-results are ignored.
func (a *Allocator) Reserve(r MatchResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, v := range [3]uint16{r.StdMetadata, r.Metadata, r.Header} {
		if uint32(v) > a.counters[i] {
			a.counters[i] = uint32(v)
		}
	}
}

func (a *Allocator) next(i int) uint16 {
	a.counters[i] = a.counters[i]%(a.modulus-1) + 1
	return uint16(a.counters[i])
}
