// Copyright 2016 ETH Zurich
// Copyright 2019 ETH Zurich, Anapaya Systems
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

// Package serrors provides errors that carry key-value context. Errors created
// with serrors can be logged with zap as structured objects, and they support
// errors.Is and errors.As on the wrapped cause and, for joined errors, on the
// base error.
//
// Sentinel errors should be created with errors.New and enriched at the call
// site with Join or JoinNoStack:
//
//	var ErrUnknownStage = errors.New("unknown stage")
//	...
//	return serrors.JoinNoStack(ErrUnknownStage, nil, "stage", id)
package serrors

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxPair struct {
	Key   string
	Value any
}

// errorInfo is shared by the two error implementations: basicError and
// joinedError.
type errorInfo struct {
	ctx   []ctxPair
	cause error
	stack *stack
}

func (e errorInfo) error() string {
	var buf bytes.Buffer
	if len(e.ctx) != 0 {
		buf.WriteString(" ")
		encodeContext(&buf, e.ctx)
	}
	if e.cause != nil {
		fmt.Fprintf(&buf, ": %s", e.cause)
	}
	return buf.String()
}

func (e errorInfo) marshalLogObject(enc zapcore.ObjectEncoder) error {
	if e.cause != nil {
		if m, ok := e.cause.(zapcore.ObjectMarshaler); ok {
			if err := enc.AddObject("cause", m); err != nil {
				return err
			}
		} else {
			enc.AddString("cause", e.cause.Error())
		}
	}
	if e.stack != nil {
		if err := enc.AddArray("stacktrace", e.stack); err != nil {
			return err
		}
	}
	for _, pair := range e.ctx {
		zap.Any(pair.Key, pair.Value).AddTo(enc)
	}
	return nil
}

// StackTrace returns the attached stack trace if there is any.
func (e errorInfo) StackTrace() StackTrace {
	if e.stack == nil {
		return nil
	}
	return e.stack.StackTrace()
}

func mkErrorInfo(cause error, addStack bool, errCtx ...any) errorInfo {
	np := len(errCtx) / 2
	ctx := make([]ctxPair, np)
	for i := 0; i < np; i++ {
		ctx[i] = ctxPair{Key: fmt.Sprint(errCtx[2*i]), Value: errCtx[2*i+1]}
	}
	sort.SliceStable(ctx, func(a, b int) bool {
		return ctx[a].Key < ctx[b].Key
	})
	r := errorInfo{
		cause: cause,
		ctx:   ctx,
	}
	if !addStack || hasStack(cause) {
		return r
	}
	r.stack = callers()
	return r
}

// hasStack reports whether the chain of err already contains an error created
// by this package. Only the innermost such error carries a stack trace.
func hasStack(err error) bool {
	if err == nil {
		return false
	}
	var (
		t1 basicError
		t2 *basicError
		t3 joinedError
	)
	return errors.As(err, &t1) || errors.As(err, &t2) || errors.As(err, &t3)
}

// basicError is an error with a message, an optional cause and context.
type basicError struct {
	errorInfo
	msg string
}

func (e basicError) Error() string {
	return e.msg + e.errorInfo.error()
}

func (e basicError) Unwrap() error {
	return e.cause
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (e basicError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("msg", e.msg)
	return e.errorInfo.marshalLogObject(enc)
}

// New creates a new error with the given message and context, plus a stack
// dump. For sentinel errors errors.New should be preferred.
func New(msg string, errCtx ...any) error {
	return &basicError{
		errorInfo: mkErrorInfo(nil, true, errCtx...),
		msg:       msg,
	}
}

// Wrap returns an error with the given message that wraps cause and carries
// the given context. A stack dump is added unless cause already has one.
func Wrap(msg string, cause error, errCtx ...any) error {
	return basicError{
		errorInfo: mkErrorInfo(cause, true, errCtx...),
		msg:       msg,
	}
}

// WrapNoStack is like Wrap, but never adds a stack dump.
func WrapNoStack(msg string, cause error, errCtx ...any) error {
	return basicError{
		errorInfo: mkErrorInfo(cause, false, errCtx...),
		msg:       msg,
	}
}

// joinedError associates a base error (typically a sentinel) with a cause and
// context.
type joinedError struct {
	errorInfo
	error error
}

func (e joinedError) Error() string {
	return e.error.Error() + e.errorInfo.error()
}

func (e joinedError) Unwrap() []error {
	return []error{e.error, e.cause}
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (e joinedError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("msg", e.error.Error())
	return e.errorInfo.marshalLogObject(enc)
}

// Join returns an error for which errors.Is(err) and, if not nil,
// errors.Is(cause) hold. A stack dump is added unless cause already has one.
func Join(err, cause error, errCtx ...any) error {
	if err == nil && cause == nil {
		return nil
	}
	return joinedError{
		errorInfo: mkErrorInfo(cause, true, errCtx...),
		error:     err,
	}
}

// JoinNoStack is like Join, but never adds a stack dump.
func JoinNoStack(err, cause error, errCtx ...any) error {
	if err == nil && cause == nil {
		return nil
	}
	return joinedError{
		errorInfo: mkErrorInfo(cause, false, errCtx...),
		error:     err,
	}
}

// List is a slice of errors.
type List []error

// Error implements the error interface.
func (e List) Error() string {
	s := make([]string, 0, len(e))
	for _, err := range e {
		s = append(s, err.Error())
	}
	return fmt.Sprintf("[ %s ]", strings.Join(s, "; "))
}

// ToError returns the list as error, or nil if the list is empty.
func (e List) ToError() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Unwrap allows errors.Is and errors.As to inspect every error of the list.
func (e List) Unwrap() []error {
	return e
}

// MarshalLogArray implements zapcore.ArrayMarshaler.
func (e List) MarshalLogArray(ae zapcore.ArrayEncoder) error {
	for _, err := range e {
		if m, ok := err.(zapcore.ObjectMarshaler); ok {
			if err := ae.AppendObject(m); err != nil {
				return err
			}
		} else {
			ae.AppendString(err.Error())
		}
	}
	return nil
}

func encodeContext(buf io.Writer, pairs []ctxPair) {
	fmt.Fprint(buf, "{")
	for i, p := range pairs {
		fmt.Fprintf(buf, "%s=%v", p.Key, p.Value)
		if i != len(pairs)-1 {
			fmt.Fprint(buf, "; ")
		}
	}
	fmt.Fprint(buf, "}")
}
