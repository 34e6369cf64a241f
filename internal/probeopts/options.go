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

// Package probeopts collects the session-wide defaults that apply to
// every target unless a target overrides them individually.
package probeopts

import (
	"time"

	"github.com/freeeve/ptop/internal/plog"
)

// DefaultInterval and DefaultTimeout match the spec's defaults: probe
// once a second, give up waiting for a reply after one second.
const (
	DefaultInterval = 1 * time.Second
	DefaultTimeout  = 1 * time.Second
)

// DefaultHistorySize is re-exported here (rather than importing
// internal/stats from every caller) since it is a session-wide knob,
// not a stats-package implementation detail.
const DefaultHistorySize = 300

// Options bundles the session-wide knobs a session needs to
// construct its targets, scheduler, and aggregator.
type Options struct {
	// Interval is the default per-target probe interval.
	Interval time.Duration
	// Timeout is the default per-probe reply deadline.
	Timeout time.Duration
	// HistorySize bounds each target's retained sample history.
	HistorySize int
	// MetricsAddr, if non-empty, is the listen address for the
	// optional Prometheus exporter.
	MetricsAddr string
	// LogDir is where session event logs and summaries are written.
	LogDir string
	// Logger is the shared structured logger; nil is valid (discards).
	Logger *plog.Logger
}

// WithDefaults returns a copy of o with zero-value fields replaced by
// package defaults.
func (o Options) WithDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.HistorySize <= 0 {
		o.HistorySize = DefaultHistorySize
	}
	return o
}
