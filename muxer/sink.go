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
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/stagemux/stagemux/pkg/private/serrors"
)

// Sink installs and removes table entries on devices. A batch is installed or
// removed as a whole; on error, none of its entries must be active.
type Sink interface {
	Install(ctx context.Context, b Batch) error
	Remove(ctx context.Context, b Batch) error
}

// MemSink is a Sink that keeps the installed batches in memory.
type MemSink struct {
	mu      sync.Mutex
	batches []Batch
}

// NewMemSink returns an empty in-memory sink.
func NewMemSink() *MemSink {
	return &MemSink{}
}

// Install records the batch.
func (s *MemSink) Install(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index(b.ID) >= 0 {
		return serrors.New("batch already installed", "batch", b.ID)
	}
	s.batches = append(s.batches, b)
	return nil
}

// Remove forgets the batch.
func (s *MemSink) Remove(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(b.ID)
	if i < 0 {
		return serrors.New("batch not installed", "batch", b.ID)
	}
	s.batches = append(s.batches[:i], s.batches[i+1:]...)
	return nil
}

// Batches returns the installed batches in installation order.
func (s *MemSink) Batches() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Batch(nil), s.batches...)
}

// Entries returns the installed entries of a device in installation order.
func (s *MemSink) Entries(device string) []TableEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []TableEntry
	for _, b := range s.batches {
		if b.Device == device {
			entries = append(entries, b.Entries...)
		}
	}
	return entries
}

func (s *MemSink) index(id uuid.UUID) int {
	for i, b := range s.batches {
		if b.ID == id {
			return i
		}
	}
	return -1
}
