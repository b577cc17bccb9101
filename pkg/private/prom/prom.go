// Copyright 2017 ETH Zurich
// Copyright 2018 ETH Zurich, Anapaya Systems
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


// Package prom contains common label names and buckets for the prometheus
// metrics of stagemux.
package prom

// Common label names.
const (
	// LabelResult is the label for result classifications.
	LabelResult = "result"
	// LabelOperation is the label for the name of an executed operation.
	LabelOperation = "operation"
	// LabelKind is the label for the kind of a physical table.
	LabelKind = "kind"
)

// BatchSizeBuckets 1, 2, 4, ... 64 entries. A rule touches at most a few
// tables per stage.
var BatchSizeBuckets = []float64{1, 2, 4, 8, 16, 32, 64}
