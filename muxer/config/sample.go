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

package config

// SampleID is the id used in the sample configuration.
const SampleID = "stagemux-1"

const generalSample = `
# Identifier of this stagemux process. (required)
id = "` + SampleID + `"
`

const storageSample = `
# Path of the sqlite database that records the installed table entries.
# (default /var/lib/stagemux/entries.db)
connection = "/var/lib/stagemux/entries.db"

# Maximum number of open read connections. 0 selects one per CPU, but at
# least four. (default 0)
max_open_read_conns = 0
`

const pipelineSample = `
# YAML description of the logical headers of the physical pipeline. If empty,
# the built-in layout is used. (default "")
layout = ""
`

const muxerSample = `
# Number of compiled programs kept in memory. (default 64)
program_cache_size = 64

# Match-result sub-values are allocated from [1, match_result_modulus).
# (default 20000)
match_result_modulus = 20000
`
