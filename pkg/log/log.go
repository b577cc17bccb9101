// Copyright 2016 ETH Zurich
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

// Package log is the logging facility of stagemux. It wraps a zap logger
// behind a small Logger interface that takes alternating key-value context
// pairs:
//
//	log.Info("Instance bound", "device", dev, "policy", policy)
//
// Loggers can be attached to a context.Context with CtxWith and recovered with
// FromCtx.
package log

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stagemux/stagemux/pkg/private/serrors"
	"github.com/stagemux/stagemux/private/config"
)

const (
	// DefaultConsoleLevel is the default log level for the console.
	DefaultConsoleLevel = "info"
	// DefaultConsoleFormat is the default format of console output.
	DefaultConsoleFormat = "human"
)

// Level is the log level.
type Level zapcore.Level

// The supported log levels.
const (
	DebugLevel = Level(zapcore.DebugLevel)
	InfoLevel  = Level(zapcore.InfoLevel)
	ErrorLevel = Level(zapcore.ErrorLevel)
)

// Logger describes the logger interface.
type Logger interface {
	New(ctx ...any) Logger
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Enabled(lvl Level) bool
}

// Config is the configuration of the logger.
type Config struct {
	Console ConsoleConfig `toml:"console,omitempty"`
}

// ConsoleConfig is the configuration of the console logger.
type ConsoleConfig struct {
	// Level of console logging (debug|info|error).
	Level string `toml:"level,omitempty"`
	// Format of the console logging (human|json).
	Format string `toml:"format,omitempty"`
	// DisableCaller stops annotating logs with the calling function's file
	// name and line number.
	DisableCaller bool `toml:"disable_caller,omitempty"`
}

// InitDefaults populates unset fields with their default values.
func (c *Config) InitDefaults() {
	if c.Console.Level == "" {
		c.Console.Level = DefaultConsoleLevel
	}
	if c.Console.Format == "" {
		c.Console.Format = DefaultConsoleFormat
	}
}

// Validate checks the level and format values.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.Console.Level); err != nil {
		return err
	}
	switch c.Console.Format {
	case "human", "json":
		return nil
	default:
		return serrors.New("unknown console format", "format", c.Console.Format)
	}
}

// Sample writes the sample configuration to dst.
func (c *Config) Sample(dst io.Writer, path config.Path) {
	config.WriteSample(dst, path,
		config.StringSampler{Text: consoleSample, Name: "console"},
	)
}

// ConfigName is the key of the logging block in the configuration.
func (c *Config) ConfigName() string {
	return "log"
}

const consoleSample = `
# Console logging level (debug|info|error). (default info)
level = "info"

# Console logging format (human|json). (default human)
format = "human"

# Disable caller annotation. (default false)
disable_caller = false
`

var (
	zapLogger = zap.NewNop()
	atomicLvl = zap.NewAtomicLevel()
)

// Setup configures the root logger. It must be called before any logging
// happens, otherwise log entries are discarded.
func Setup(cfg Config) error {
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	lvl, _ := parseLevel(cfg.Console.Level)
	atomicLvl.SetLevel(lvl)

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)
	if cfg.Console.Format == "json" {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atomicLvl)
	opts := []zap.Option{zap.AddCallerSkip(1)}
	if !cfg.Console.DisableCaller {
		opts = append(opts, zap.AddCaller())
	}
	zapLogger = zap.New(core, opts...)
	zap.ReplaceGlobals(zapLogger)
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, serrors.New("unknown log level", "level", s)
	}
}

// SetLevel changes the level of the root logger at runtime.
func SetLevel(s string) error {
	lvl, err := parseLevel(s)
	if err != nil {
		return err
	}
	atomicLvl.SetLevel(lvl)
	return nil
}

// Flush writes buffered log entries.
func Flush() {
	_ = zapLogger.Sync()
}

// HandlePanic catches panics and logs them before re-panicking. It must be
// deferred at the top of every goroutine.
func HandlePanic() {
	if msg := recover(); msg != nil {
		zapLogger.Error("Panic", zap.Any("msg", msg), zap.String("stack", string(debug.Stack())))
		Flush()
		panic(msg)
	}
}

// Debug logs at debug level.
func Debug(msg string, ctx ...any) {
	zapLogger.Debug(msg, convertCtx(ctx)...)
}

// Info logs at info level.
func Info(msg string, ctx ...any) {
	zapLogger.Info(msg, convertCtx(ctx)...)
}

// Error logs at error level.
func Error(msg string, ctx ...any) {
	zapLogger.Error(msg, convertCtx(ctx)...)
}

// New creates a logger with the given context.
func New(ctx ...any) Logger {
	return &logger{logger: zapLogger.With(convertCtx(ctx)...)}
}

// Root returns the root logger. It is a logger without any context.
func Root() Logger {
	return &logger{logger: zapLogger}
}

// FromZap wraps an existing zap logger.
func FromZap(l *zap.Logger) Logger {
	return &logger{logger: l}
}

type logger struct {
	logger *zap.Logger
}

func (l *logger) New(ctx ...any) Logger {
	return &logger{logger: l.logger.With(convertCtx(ctx)...)}
}

func (l *logger) Debug(msg string, ctx ...any) {
	l.logger.Debug(msg, convertCtx(ctx)...)
}

func (l *logger) Info(msg string, ctx ...any) {
	l.logger.Info(msg, convertCtx(ctx)...)
}

func (l *logger) Error(msg string, ctx ...any) {
	l.logger.Error(msg, convertCtx(ctx)...)
}

func (l *logger) Enabled(lvl Level) bool {
	return l.logger.Core().Enabled(zapcore.Level(lvl))
}

func (l *logger) WithOptions(opts ...zap.Option) Logger {
	return &logger{logger: l.logger.WithOptions(opts...)}
}

func convertCtx(ctx []any) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(ctx[i]), ctx[i+1]))
	}
	return fields
}
