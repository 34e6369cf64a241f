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

// Package perrs defines the sentinel errors that separate fatal
// startup failures from soft, per-target/per-probe conditions, per
// the error handling design.
package perrs

import "errors"

var (
	// ErrSocketUnavailable is returned when raw ICMP socket acquisition
	// is refused (missing capability or privileges). Fatal at startup.
	ErrSocketUnavailable = errors.New("ptop: raw socket unavailable (need CAP_NET_RAW or root)")

	// ErrLogIO is returned when the log directory cannot be created or
	// a log file cannot be opened for writing. Fatal at startup.
	ErrLogIO = errors.New("ptop: log I/O failure")

	// ErrReplayMalformed is returned when a replay log's header cannot
	// be parsed. Fatal at startup (for the header); individual
	// malformed event lines are skipped instead (see ErrReplayEvent).
	ErrReplayMalformed = errors.New("ptop: replay log header malformed")

	// ErrReplayEvent marks a single skipped event line during replay;
	// it is never fatal, only counted.
	ErrReplayEvent = errors.New("ptop: replay event line malformed")

	// ErrTargetUnresolved marks a target whose DNS resolution failed.
	// The target is probed again on the next resolution retry tick.
	ErrTargetUnresolved = errors.New("ptop: target unresolved")
)
