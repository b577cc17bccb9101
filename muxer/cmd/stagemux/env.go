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

package main

import (
	"encoding/hex"
	"strings"

	"github.com/spf13/pflag"

	"github.com/stagemux/stagemux/muxer/config"
	"github.com/stagemux/stagemux/pkg/log"
	"github.com/stagemux/stagemux/pkg/private/serrors"
	"github.com/stagemux/stagemux/private/storage/db"
	"github.com/stagemux/stagemux/private/storage/entries"
)

// defaultID is the process id used without a configuration file.
const defaultID = "stagemux"

type globalFlags struct {
	config   string
	logLevel string
}

func (f *globalFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.config, "config", "",
		"TOML configuration file. If not set, the defaults are used.")
	flagSet.StringVar(&f.logLevel, "log.level", "",
		"Console logging level, overrides the configuration (debug|info|error).")
}

// load loads the configuration and sets up logging.
func (f *globalFlags) load() (*config.Config, error) {
	cfg := &config.Config{General: config.General{ID: defaultID}}
	if f.config != "" {
		var err error
		if cfg, err = config.LoadFile(f.config); err != nil {
			return nil, err
		}
	}
	if f.logLevel != "" {
		cfg.Logging.Console.Level = f.logLevel
	}
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := log.Setup(cfg.Logging); err != nil {
		return nil, serrors.Wrap("initializing logging", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*entries.Store, error) {
	s, err := entries.New(cfg.Storage.Connection,
		&db.SqliteConfig{MaxOpenReadConns: cfg.Storage.MaxOpenReadConns}, nil)
	if err != nil {
		return nil, serrors.Wrap("opening entry store", err,
			"connection", cfg.Storage.Connection)
	}
	return s, nil
}

// hexVal is a byte string given in hex. Whitespace, colons and a 0x prefix
// are ignored.
type hexVal []byte

func (v *hexVal) Set(val string) error {
	s := strings.TrimPrefix(strings.TrimSpace(val), "0x")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', ':':
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*v = b
	return nil
}

func (v *hexVal) Type() string   { return "hex" }
func (v *hexVal) String() string { return hex.EncodeToString(*v) }
