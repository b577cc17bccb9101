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
	"fmt"
	"sort"
	"strings"

	"github.com/stagemux/stagemux/pkg/bitval"
)

// Match is the value a rule requires for one key of a stage. A zero width
// mask matches all bits of the key.
type Match struct {
	Key   string
	Value bitval.Value
	Mask  bitval.Value
}

// ExactMatch matches all bits of the key.
func ExactMatch(key string, v bitval.Value) Match {
	return Match{Key: key, Value: v}
}

// TernaryMatch matches the bits selected by mask.
func TernaryMatch(key string, v, mask bitval.Value) Match {
	return Match{Key: key, Value: v, Mask: mask}
}

// PrefixMatch matches the leading prefix bits of the key. A prefix length
// larger than the value is truncated to the value width.
func PrefixMatch(key string, v bitval.Value, prefix int) Match {
	mask := bitval.New(v.Len())
	if prefix > v.Len() {
		prefix = v.Len()
	}
	if prefix > 0 {
		// Cannot fail, the prefix fits into the mask.
		_ = mask.Modify(bitval.Ones(prefix), 0)
	}
	return Match{Key: key, Value: v, Mask: mask}
}

// Rule installs an action of a stage for the packets matching the given
// values.
type Rule struct {
	// Stage is the stage id, which is the id of the table in the program.
	Stage    int
	Priority int
	Matches  []Match
	Action   string
	// Params holds the runtime parameters of the action by name.
	Params map[string]bitval.Value
}

// Identity returns a canonical representation of the rule. Two rules with the
// same identity install the same entries.
func (r Rule) Identity() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage=%d prio=%d action=%s", r.Stage, r.Priority, r.Action)
	matches := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		s := fmt.Sprintf("%s=%s/%d", m.Key, m.Value, m.Value.Len())
		if m.Mask.Len() != 0 {
			s += "&&&" + m.Mask.String()
		}
		matches = append(matches, s)
	}
	sort.Strings(matches)
	params := make([]string, 0, len(r.Params))
	for name, v := range r.Params {
		params = append(params, fmt.Sprintf("%s=%s/%d", name, v, v.Len()))
	}
	sort.Strings(params)
	fmt.Fprintf(&b, " match=[%s] params=[%s]",
		strings.Join(matches, ","), strings.Join(params, ","))
	return b.String()
}
