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

// Package pipeline describes the fixed physical pipeline programs are
// multiplexed onto.
//
// The pipeline offers StageCount generic stages. Every stage consists of the
// same sequence of physical tables, addressed by consecutive ids. The
// enumeration is the addressing contract between the compiler and the device
// and must not change:
//
//	0                  table_init_config
//	1 + 19*s + k       table_<kind k>_stage<s>, for s in [0, StageCount)
//	191..194           table_end_config, table_egress_config, table_checksum,
//	                   table_deparser
package pipeline

import (
	"errors"
	"fmt"

	"github.com/iancoleman/strcase"

	"github.com/stagemux/stagemux/pkg/private/serrors"
)

const (
	// StageCount is the number of generic stages of the pipeline.
	StageCount = 10
	// EndStage is the stage id that terminates processing of an instance.
	EndStage = StageCount
)

// ErrStageRange indicates a stage outside [0, StageCount).
var ErrStageRange = errors.New("stage out of range")

// Kind is a per-stage physical table kind.
type Kind int

const (
	Branch Kind = iota
	HeaderMatch
	MetadataMatch
	StdMetadataMatch
	MatchResult
	ModHeaderWithConst
	ModHeaderWithHeader
	ModHeaderWithMetadata
	ModMetadataWithConst
	ModMetadataWithHeader
	ModMetadataWithMetadata
	HeaderAddRemove
	StdMetadataModify
	Digest
	Arithmetic
	Register
	Counter
	Hash
	ActionProfile

	// KindCount is the number of physical tables per stage.
	KindCount = int(ActionProfile) + 1
)

var kindNames = [KindCount]string{
	"Branch",
	"HeaderMatch",
	"MetadataMatch",
	"StdMetadataMatch",
	"MatchResult",
	"ModHeaderWithConst",
	"ModHeaderWithHeader",
	"ModHeaderWithMetadata",
	"ModMetadataWithConst",
	"ModMetadataWithHeader",
	"ModMetadataWithMetadata",
	"HeaderAddRemove",
	"StdMetadataModify",
	"Digest",
	"Arithmetic",
	"Register",
	"Counter",
	"Hash",
	"ActionProfile",
}

// String returns the snake case kind name as used in table names.
func (k Kind) String() string {
	if k < 0 || int(k) >= KindCount {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return strcase.ToSnake(kindNames[k])
}

// Tables outside the stages.
const (
	InitConfig   = 0
	EndConfig    = 1 + StageCount*KindCount
	EgressConfig = EndConfig + 1
	Checksum     = EndConfig + 2
	Deparser     = EndConfig + 3
)

var (
	names []string
	ids   map[string]int
)

func init() {
	names = append(names, "table_init_config")
	for s := 0; s < StageCount; s++ {
		for k := 0; k < KindCount; k++ {
			names = append(names, fmt.Sprintf("table_%s_stage%d", Kind(k), s))
		}
	}
	names = append(names,
		"table_end_config",
		"table_egress_config",
		"table_checksum",
		"table_deparser",
	)
	ids = make(map[string]int, len(names))
	for id, name := range names {
		ids[name] = id
	}
}

// TableID returns the id of the physical table of the given kind in stage.
func TableID(kind Kind, stage int) (int, error) {
	if stage < 0 || stage >= StageCount {
		return 0, serrors.JoinNoStack(ErrStageRange, nil, "stage", stage)
	}
	if kind < 0 || int(kind) >= KindCount {
		return 0, serrors.New("unknown table kind", "kind", int(kind))
	}
	return 1 + stage*KindCount + int(kind), nil
}

// Lookup returns the id of the table with the given name.
func Lookup(name string) (int, bool) {
	id, ok := ids[name]
	return id, ok
}

// Name returns the name of the table with the given id.
func Name(id int) (string, bool) {
	if id < 0 || id >= len(names) {
		return "", false
	}
	return names[id], true
}

// Names returns all table names in id order.
func Names() []string {
	return append([]string(nil), names...)
}

// Locate returns the kind and stage of a per-stage table id. ok is false for
// the tables outside the stages.
func Locate(id int) (kind Kind, stage int, ok bool) {
	if id <= InitConfig || id >= EndConfig {
		return 0, 0, false
	}
	return Kind((id - 1) % KindCount), (id - 1) / KindCount, true
}
