// Copyright 2019 Anapaya Systems
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

// Package config provides a unified pattern for configuration structs.
//
// Every configuration block implements the Config interface, which covers
// initialization (InitDefaults), validation (Validate) and sample generation
// (Sample). InitDefaults only fills in fields that are still unset, so values
// loaded from a TOML file take precedence. Sample writes a commented TOML
// sample; every block is tested to produce a sample that parses back into its
// default values.
//
// Sample is allowed to panic if an error occurs while writing.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/stagemux/stagemux/pkg/private/serrors"
)

// Config is the interface that config structs should implement to allow for
// streamlined initialization, validation and sample generation.
type Config interface {
	Sampler
	Validator
	Defaulter
}

// Validator defines the validation part of Config.
type Validator interface {
	// Validate recursively checks that all fields contain valid values.
	Validate() error
}

// Defaulter defines the initialization part of Config.
type Defaulter interface {
	// InitDefaults recursively initializes the default values of all
	// uninitialized fields.
	InitDefaults()
}

// Sampler defines the sample generation part of Config.
type Sampler interface {
	// Sample writes a sample config to dst. Path is the table the sample is
	// written to. Sample is allowed to panic if an error occurs.
	Sample(dst io.Writer, path Path)
}

// TableSampler is used to write a table to the sample.
type TableSampler interface {
	Sampler
	// ConfigName returns the name of the config block.
	ConfigName() string
}

// Path is the header of a config block possibly consisting of multiple parts.
type Path []string

// Extend creates a copy of the path with string s appended.
func (p Path) Extend(s string) Path {
	c := append(Path(nil), p...)
	return append(c, s)
}

// StringSampler implements a Sampler that writes string Text and provides
// Name as ConfigName.
type StringSampler struct {
	// Text the sample string.
	Text string
	// Name the config name.
	Name string
}

// Sample writes the text to dst.
func (s StringSampler) Sample(dst io.Writer, _ Path) {
	mustWrite(dst, s.Text)
}

// ConfigName returns the name.
func (s StringSampler) ConfigName() string {
	return s.Name
}

// WriteSample writes the samples in order. The sample of a TableSampler is
// written below a [path.name] header with its lines indented; other samplers
// write to dst directly.
func WriteSample(dst io.Writer, path Path, samplers ...Sampler) {
	var buf bytes.Buffer
	for _, sampler := range samplers {
		buf.Reset()
		ts, ok := sampler.(TableSampler)
		if !ok {
			sampler.Sample(&buf, path)
			mustWrite(dst, buf.String())
			continue
		}
		p := path.Extend(ts.ConfigName())
		ts.Sample(&buf, p)
		mustWrite(dst, "\n["+strings.Join(p, ".")+"]")
		mustWrite(dst, indent(buf.String()))
	}
}

func indent(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if line != "" {
			b.WriteString("    ")
			b.WriteString(line)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func mustWrite(dst io.Writer, s string) {
	if _, err := io.WriteString(dst, s); err != nil {
		panic(fmt.Sprintf("writing sample: %s", err))
	}
}

// ValidateAll validates all validators. The first error encountered is returned.
func ValidateAll(validators ...Validator) error {
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return serrors.Wrap("validating config", err, "type", fmt.Sprintf("%T", v))
		}
	}
	return nil
}

// InitAll initializes all defaulters.
func InitAll(defaulters ...Defaulter) {
	for _, v := range defaulters {
		v.InitDefaults()
	}
}

// Decode decodes a raw TOML config. Unknown keys are rejected.
func Decode(raw []byte, cfg any) error {
	return toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(cfg)
}

// LoadFile loads the config from file.
func LoadFile(file string, cfg any) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return serrors.Wrap("reading config file", err, "file", file)
	}
	if err := Decode(raw, cfg); err != nil {
		return serrors.Wrap("decoding config file", err, "file", file)
	}
	return nil
}
