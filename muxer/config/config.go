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

// Package config contains the configuration of the stagemux daemon and CLI.
package config

import (
	"io"

	"github.com/stagemux/stagemux/pkg/log"
	"github.com/stagemux/stagemux/pkg/matchresult"
	"github.com/stagemux/stagemux/pkg/pipeline"
	"github.com/stagemux/stagemux/pkg/private/serrors"
	"github.com/stagemux/stagemux/private/config"
)

const (
	// DefaultConnection is the default entry store.
	DefaultConnection = "/var/lib/stagemux/entries.db"
	// DefaultProgramCacheSize is the default number of compiled programs kept
	// in memory.
	DefaultProgramCacheSize = 64
)

var _ config.Config = (*Config)(nil)

// Config is the stagemux configuration.
type Config struct {
	General  General    `toml:"general,omitempty"`
	Logging  log.Config `toml:"log,omitempty"`
	Storage  Storage    `toml:"storage,omitempty"`
	Pipeline Pipeline   `toml:"pipeline,omitempty"`
	Muxer    Muxer      `toml:"muxer,omitempty"`
}

// General holds the general settings.
type General struct {
	// ID identifies the stagemux process (required).
	ID string `toml:"id,omitempty"`
}

// Storage configures the entry store.
type Storage struct {
	// Connection is the path of the sqlite entry store.
	Connection string `toml:"connection,omitempty"`
	// MaxOpenReadConns limits the read connections. 0 selects a default
	// based on the number of CPUs.
	MaxOpenReadConns int `toml:"max_open_read_conns,omitempty"`
}

// Pipeline configures the physical pipeline.
type Pipeline struct {
	// Layout is an optional YAML file describing the logical headers of the
	// pipeline. If empty, the default layout is used.
	Layout string `toml:"layout,omitempty"`
}

// Muxer configures the compiler.
type Muxer struct {
	// ProgramCacheSize is the number of compiled programs kept in memory.
	ProgramCacheSize int `toml:"program_cache_size,omitempty"`
	// MatchResultModulus bounds the match-result sub-values to
	// [1, MatchResultModulus).
	MatchResultModulus int `toml:"match_result_modulus,omitempty"`
}

// LoadFile loads, initializes and validates the configuration in file.
func LoadFile(file string) (*Config, error) {
	var cfg Config
	if err := config.LoadFile(file, &cfg); err != nil {
		return nil, err
	}
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, serrors.WrapNoStack("validating config", err, "file", file)
	}
	return &cfg, nil
}

func (cfg *Config) InitDefaults() {
	config.InitAll(&cfg.Logging)
	if cfg.Storage.Connection == "" {
		cfg.Storage.Connection = DefaultConnection
	}
	if cfg.Muxer.ProgramCacheSize == 0 {
		cfg.Muxer.ProgramCacheSize = DefaultProgramCacheSize
	}
	if cfg.Muxer.MatchResultModulus == 0 {
		cfg.Muxer.MatchResultModulus = matchresult.DefaultModulus
	}
}

func (cfg *Config) Validate() error {
	if cfg.General.ID == "" {
		return serrors.New("general.id must be set")
	}
	if cfg.Storage.Connection == "" {
		return serrors.New("storage.connection must be set")
	}
	if cfg.Muxer.ProgramCacheSize <= 0 {
		return serrors.New("muxer.program_cache_size must be positive",
			"value", cfg.Muxer.ProgramCacheSize)
	}
	if m := cfg.Muxer.MatchResultModulus; m < 2 || m > 1<<16 {
		return serrors.New("muxer.match_result_modulus out of range",
			"value", m, "min", 2, "max", 1<<16)
	}
	return config.ValidateAll(&cfg.Logging)
}

func (cfg *Config) Sample(dst io.Writer, path config.Path) {
	config.WriteSample(dst, path,
		config.StringSampler{Text: generalSample, Name: "general"},
		&cfg.Logging,
		config.StringSampler{Text: storageSample, Name: "storage"},
		config.StringSampler{Text: pipelineSample, Name: "pipeline"},
		config.StringSampler{Text: muxerSample, Name: "muxer"},
	)
}

func (cfg *Config) ConfigName() string {
	return "stagemux_config"
}

// LoadLayout returns the configured pipeline layout.
func (p Pipeline) LoadLayout() (*pipeline.Layout, error) {
	if p.Layout == "" {
		return pipeline.DefaultLayout(), nil
	}
	return pipeline.LoadLayout(p.Layout)
}
