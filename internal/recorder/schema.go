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

package recorder

// schemaVersion is the "v" field of every header/summary file. Bump
// it if the wire schema changes incompatibly.
const schemaVersion = 1

// TargetInfo describes one target in a SessionLog header or summary.
type TargetInfo struct {
	Idx   int    `json:"idx"`
	Label string `json:"label"`
	Addr  string `json:"addr"`
}

// header is the first line of every recorded event log.
type header struct {
	V       int          `json:"v"`
	Start   string       `json:"start"`
	Version string       `json:"ptop_version"`
	Targets []TargetInfo `json:"targets"`
}

// eventLine is one recorded ProbeOutcome, in dispatch order.
type eventLine struct {
	T int64  `json:"t"`
	I int    `json:"i"`
	S uint16 `json:"s"`
	R *int64 `json:"r"`
}

// TargetSummary is one target's final TargetStats, as written to the
// session summary file on clean shutdown.
type TargetSummary struct {
	Idx           int     `json:"idx"`
	Label         string  `json:"label"`
	Sent          uint64  `json:"sent"`
	Received      uint64  `json:"received"`
	Lost          uint64  `json:"lost"`
	MinRTTus      int64   `json:"min_rtt_us"`
	MaxRTTus      int64   `json:"max_rtt_us"`
	MeanRTTus     int64   `json:"mean_rtt_us"`
	JitterUS      float64 `json:"jitter_us"`
	P50us         int64   `json:"p50_us"`
	P95us         int64   `json:"p95_us"`
	LongestStreak int     `json:"longest_streak"`
	MOS           float64 `json:"mos"`
	Grade         string  `json:"grade"`
}

// summary is the full session summary file contents.
type summary struct {
	V       int             `json:"v"`
	Start   string          `json:"start"`
	Version string          `json:"ptop_version"`
	Targets []TargetInfo    `json:"targets"`
	Stats   []TargetSummary `json:"stats"`
}
