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

// Package probeoutcome defines the single event type that flows from
// the scheduler (or the replay source) through the event bus to the
// stats aggregator and the session recorder.
package probeoutcome

import "time"

// Outcome is the terminal state of one probe attempt: either a
// matched reply with its RTT, or a loss. Exactly one Outcome is
// produced per (TargetIdx, Seq) pair, and outcomes for a single
// target arrive at any single consumer in increasing Seq order.
type Outcome struct {
	// TargetIdx is the stable index of the target this outcome
	// belongs to (its position in the session's target list).
	TargetIdx int

	// Seq is the probe's sequence number, monotonic per target and
	// wrapping at 2^16.
	Seq uint16

	// Dispatch is the monotonic send timestamp, microsecond precision.
	Dispatch time.Time

	// Wall is the wall-clock timestamp of dispatch, for logs; it may
	// be skewed relative to Dispatch's monotonic reading.
	Wall time.Time

	// Lost is true when no reply arrived before the probe's deadline.
	// When false, RTT holds the measured round-trip time.
	Lost bool

	// RTT is meaningful only when Lost is false.
	RTT time.Duration
}

// Reply constructs a successful Outcome.
func Reply(targetIdx int, seq uint16, dispatch, wall time.Time, rtt time.Duration) Outcome {
	return Outcome{TargetIdx: targetIdx, Seq: seq, Dispatch: dispatch, Wall: wall, RTT: rtt}
}

// Loss constructs a lost-probe Outcome.
func Loss(targetIdx int, seq uint16, dispatch, wall time.Time) Outcome {
	return Outcome{TargetIdx: targetIdx, Seq: seq, Dispatch: dispatch, Wall: wall, Lost: true}
}
