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
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/stagemux/stagemux/pkg/bitval"
	"github.com/stagemux/stagemux/pkg/private/serrors"
	"github.com/stagemux/stagemux/pkg/program"
)

// RuleFile is the JSON representation of a set of rules:
//
//	{"rules": [{
//	    "table": "ipv4_lpm",
//	    "priority": 10,
//	    "match": {"ipv4.dstAddr": "0x0a000000/8", "meta.vrf": "0x1"},
//	    "action": "set_nhop",
//	    "params": {"nhop_ipv4": "0x0a000001", "port": "0x2"}
//	}]}
//
// Match values are hex literals, optionally followed by "/<prefix length>" or
// "&&&<hex mask>".
type RuleFile struct {
	Rules []RuleSpec `json:"rules"`
}

// RuleSpec is a rule that is not yet resolved against a program.
type RuleSpec struct {
	Table    string            `json:"table"`
	Priority int               `json:"priority,omitempty"`
	Match    map[string]string `json:"match,omitempty"`
	Action   string            `json:"action"`
	Params   map[string]string `json:"params,omitempty"`
}

// LoadRules reads a rule file and resolves it against prog.
func LoadRules(file string, prog *program.Program) ([]Rule, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, serrors.Wrap("reading rules", err, "file", file)
	}
	rules, err := ParseRules(raw, prog)
	if err != nil {
		return nil, serrors.WrapNoStack("parsing rules", err, "file", file)
	}
	return rules, nil
}

// ParseRules decodes a rule file and resolves it against prog.
func ParseRules(raw []byte, prog *program.Program) ([]Rule, error) {
	var f RuleFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, serrors.Wrap("decoding rules", err)
	}
	rules := make([]Rule, 0, len(f.Rules))
	for idx, spec := range f.Rules {
		r, err := spec.Resolve(prog)
		if err != nil {
			return nil, serrors.WrapNoStack("resolving rule", err, "index", idx)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Resolve converts the spec into a rule of prog. Values get the width of the
// key or parameter they are assigned to.
func (s RuleSpec) Resolve(prog *program.Program) (Rule, error) {
	t, ok := prog.Tables.Lookup(s.Table)
	if !ok {
		return Rule{}, serrors.JoinNoStack(ErrUnknownStage, nil, "table", s.Table)
	}
	a, ok := t.Action(s.Action)
	if !ok {
		return Rule{}, serrors.JoinNoStack(ErrUnknownAction, nil,
			"table", s.Table, "action", s.Action)
	}
	r := Rule{Stage: t.ID, Priority: s.Priority, Action: s.Action}

	names := make([]string, 0, len(s.Match))
	for name := range s.Match {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		k, ok := t.Key(name)
		if !ok || k.Kind == program.Valid {
			return Rule{}, serrors.JoinNoStack(ErrUnknownKey, nil,
				"table", s.Table, "key", name)
		}
		m, err := parseMatch(name, s.Match[name], k.Width())
		if err != nil {
			return Rule{}, err
		}
		r.Matches = append(r.Matches, m)
	}

	if len(s.Params) > 0 {
		r.Params = make(map[string]bitval.Value, len(s.Params))
	}
	for name, lit := range s.Params {
		idx, ok := a.Param(name)
		if !ok {
			return Rule{}, serrors.JoinNoStack(ErrUnknownParam, nil,
				"action", s.Action, "param", name)
		}
		v, err := bitval.FromHex(lit, a.Params[idx].Width)
		if err != nil {
			return Rule{}, serrors.WrapNoStack("parsing parameter", err, "param", name)
		}
		r.Params[name] = v
	}
	return r, nil
}

func parseMatch(key, lit string, width int) (Match, error) {
	if v, mask, ok := strings.Cut(lit, "&&&"); ok {
		value, err := bitval.FromHex(v, width)
		if err != nil {
			return Match{}, serrors.WrapNoStack("parsing match value", err, "key", key)
		}
		m, err := bitval.FromHex(mask, width)
		if err != nil {
			return Match{}, serrors.WrapNoStack("parsing match mask", err, "key", key)
		}
		return TernaryMatch(key, value, m), nil
	}
	if v, prefix, ok := strings.Cut(lit, "/"); ok {
		value, err := bitval.FromHex(v, width)
		if err != nil {
			return Match{}, serrors.WrapNoStack("parsing match value", err, "key", key)
		}
		n, err := strconv.Atoi(prefix)
		if err != nil || n < 0 || n > width {
			return Match{}, serrors.New("invalid prefix length", "key", key, "prefix", prefix)
		}
		return PrefixMatch(key, value, n), nil
	}
	value, err := bitval.FromHex(lit, width)
	if err != nil {
		return Match{}, serrors.WrapNoStack("parsing match value", err, "key", key)
	}
	return ExactMatch(key, value), nil
}
