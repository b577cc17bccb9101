// Copyright 2018 ETH Zurich
// Copyright 2020 ETH Zurich, Anapaya Systems
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

package log_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagemux/stagemux/pkg/log"
	"github.com/stagemux/stagemux/pkg/log/testlog"
	"github.com/stagemux/stagemux/private/config"
)

func TestConfigDefaultsAndValidate(t *testing.T) {
	var cfg log.Config
	cfg.InitDefaults()
	assert.Equal(t, log.DefaultConsoleLevel, cfg.Console.Level)
	assert.Equal(t, log.DefaultConsoleFormat, cfg.Console.Format)
	require.NoError(t, cfg.Validate())

	cfg.Console.Level = "trace"
	assert.Error(t, cfg.Validate())
	cfg.Console.Level = "debug"
	cfg.Console.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestConfigSample(t *testing.T) {
	var sample bytes.Buffer
	var cfg log.Config
	cfg.Sample(&sample, nil)

	var parsed struct {
		Console log.ConsoleConfig `toml:"console"`
	}
	require.NoError(t, config.Decode(sample.Bytes(), &parsed))
	var defaults log.Config
	defaults.InitDefaults()
	assert.Equal(t, defaults.Console, parsed.Console)
}

func TestFromCtx(t *testing.T) {
	t.Run("no logger returns root", func(t *testing.T) {
		assert.NotNil(t, log.FromCtx(context.Background()))
	})
	t.Run("embedded logger", func(t *testing.T) {
		l := testlog.NewLogger(t)
		ctx := log.CtxWith(context.Background(), l)
		assert.Equal(t, l, log.FromCtx(ctx))
	})
	t.Run("span attached", func(t *testing.T) {
		tracer := mocktracer.New()
		span := tracer.StartSpan("op")
		ctx := log.CtxWith(context.Background(), testlog.NewLogger(t))
		ctx = opentracing.ContextWithSpan(ctx, span)
		l := log.FromCtx(ctx)
		_, ok := l.(log.Span)
		require.True(t, ok)
		l.Info("Hello", "key", "value")
		span.Finish()
		assert.Len(t, tracer.FinishedSpans()[0].Logs(), 1)
	})
}
