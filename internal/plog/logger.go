// Copyright 2026 The ptop Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package plog provides the structured logger passed to every worker
// (scheduler, aggregator, recorder, replay). It wraps zerolog behind
// a narrow four-method interface so workers never depend on zerolog
// directly.
package plog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging collaborator every ptop worker takes at
// construction. A nil *Logger is valid and discards everything.
type Logger struct {
	z    zerolog.Logger
	name string
}

// New returns a Logger writing to w. If pretty is true (typically
// because w is a TTY), output is human-readable console text;
// otherwise it is newline-delimited JSON suitable for log shipping.
func New(w io.Writer, name string, pretty bool) *Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	z := zerolog.New(w).With().Timestamp().Str("component", name).Logger()
	return &Logger{z: z, name: name}
}

// Discard returns a Logger that drops every message; used where a
// caller doesn't care to observe logs (e.g. some tests).
func Discard() *Logger {
	return &Logger{z: zerolog.Nop()}
}

// Default returns a console logger on stderr, named "ptop".
func Default() *Logger {
	return New(os.Stderr, "ptop", true)
}

// With returns a child Logger tagged with an additional named
// component, e.g. l.With("scheduler") for per-target diagnostics.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{z: l.z.With().Str("sub", component).Logger(), name: component}
}

func (l *Logger) Infof(format string, args ...any) {
	if l == nil {
		return
	}
	l.z.Info().Msgf(format, args...)
}

func (l *Logger) Warningf(format string, args ...any) {
	if l == nil {
		return
	}
	l.z.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.z.Error().Msgf(format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil {
		return
	}
	l.z.Debug().Msgf(format, args...)
}
