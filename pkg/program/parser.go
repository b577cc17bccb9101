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

package program

import (
	"github.com/stagemux/stagemux/pkg/private/serrors"
)

// ParserState is a node of the parser graph.
type ParserState struct {
	ID   int
	Name string
	// Extracts lists the headers extracted by the state, in extraction order.
	Extracts []*Header
	// Next lists the distinct successor states. A state without successors is
	// terminal.
	Next []string
}

// Header returns the last header extracted by the state, or nil.
func (s *ParserState) Header() *Header {
	if len(s.Extracts) == 0 {
		return nil
	}
	return s.Extracts[len(s.Extracts)-1]
}

// Terminal reports whether the state has no successors.
func (s *ParserState) Terminal() bool {
	return len(s.Next) == 0
}

// resolveParserGraph assigns the predecessor header and the packet offset of
// every extracted header. The graph must be a forest: every state has at most
// one predecessor state and no header is extracted twice. Headers are only
// updated once the whole graph is valid.
func resolveParserGraph(states *Registry[*ParserState]) error {
	pred := make(map[string]string, states.Len())
	for _, s := range states.All() {
		for _, next := range s.Next {
			if _, ok := states.Lookup(next); !ok {
				return serrors.JoinNoStack(ErrUnknownReference, nil,
					"state", s.Name, "next_state", next)
			}
			if p, ok := pred[next]; ok && p != s.Name {
				return serrors.JoinNoStack(ErrParserGraph, nil,
					"state", next, "predecessors", []string{p, s.Name},
					"reason", "multiple predecessors")
			}
			pred[next] = s.Name
		}
	}

	type item struct {
		state *ParserState
		last  *Header
	}
	var queue []item
	for _, s := range states.All() {
		if _, ok := pred[s.Name]; !ok {
			queue = append(queue, item{state: s})
		}
	}
	type placement struct {
		state  string
		pre    *Header
		offset int
	}
	visited := make(map[string]bool, states.Len())
	placed := make(map[*Header]placement)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited[cur.state.Name] = true
		last := cur.last
		for _, h := range cur.state.Extracts {
			if h.Metadata {
				return serrors.JoinNoStack(ErrParserGraph, nil,
					"state", cur.state.Name, "header", h.Name,
					"reason", "metadata header extracted")
			}
			if other, ok := placed[h]; ok {
				return serrors.JoinNoStack(ErrParserGraph, nil,
					"header", h.Name, "states", []string{other.state, cur.state.Name},
					"reason", "header extracted more than once")
			}
			pl := placement{state: cur.state.Name, pre: last}
			if last != nil {
				pl.offset = placed[last].offset + last.BitLength()
			}
			placed[h] = pl
			last = h
		}
		for _, next := range cur.state.Next {
			s, _ := states.Lookup(next)
			queue = append(queue, item{state: s, last: last})
		}
	}
	for _, s := range states.All() {
		if !visited[s.Name] {
			return serrors.JoinNoStack(ErrParserGraph, nil,
				"state", s.Name, "reason", "cycle")
		}
	}
	for h, pl := range placed {
		h.pre, h.offset, h.extracted = pl.pre, pl.offset, true
	}
	return nil
}
