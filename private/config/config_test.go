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

package config_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagemux/stagemux/private/config"
)

type testBlock struct {
	Name  string `toml:"name,omitempty"`
	Count int    `toml:"count,omitempty"`
}

func (b *testBlock) InitDefaults() {
	if b.Count == 0 {
		b.Count = 3
	}
}

func (b *testBlock) Validate() error {
	if b.Count < 0 {
		return errors.New("negative count")
	}
	return nil
}

func TestWriteSample(t *testing.T) {
	var buf bytes.Buffer
	config.WriteSample(&buf, config.Path{"root"},
		config.StringSampler{Text: "\nname = \"x\"\n", Name: "block"},
	)
	assert.Equal(t, "\n[root.block]\n    name = \"x\"\n", buf.String())
}

type plainSampler struct{}

func (plainSampler) Sample(dst io.Writer, _ config.Path) {
	io.WriteString(dst, "x = 1\n")
}

type outerSampler struct{}

func (outerSampler) Sample(dst io.Writer, path config.Path) {
	config.WriteSample(dst, path, config.StringSampler{Text: "\na = 1\n", Name: "inner"})
}

func (outerSampler) ConfigName() string { return "outer" }

func TestWriteSampleNested(t *testing.T) {
	var buf bytes.Buffer
	config.WriteSample(&buf, nil, plainSampler{}, outerSampler{})
	assert.Equal(t, "x = 1\n\n[outer]\n    [outer.inner]\n        a = 1\n", buf.String())
}

func TestDecode(t *testing.T) {
	t.Run("known fields", func(t *testing.T) {
		var b testBlock
		require.NoError(t, config.Decode([]byte("name = \"a\"\ncount = 2\n"), &b))
		assert.Equal(t, testBlock{Name: "a", Count: 2}, b)
	})
	t.Run("unknown field", func(t *testing.T) {
		var b testBlock
		assert.Error(t, config.Decode([]byte("unknown = 1\n"), &b))
	})
}

func TestValidateAll(t *testing.T) {
	good := &testBlock{}
	config.InitAll(good)
	assert.Equal(t, 3, good.Count)
	assert.NoError(t, config.ValidateAll(good))
	assert.Error(t, config.ValidateAll(good, &testBlock{Count: -1}))
}

func TestPathExtend(t *testing.T) {
	p := config.Path{"a"}
	q := p.Extend("b")
	assert.Equal(t, config.Path{"a"}, p)
	assert.Equal(t, config.Path{"a", "b"}, q)
}
