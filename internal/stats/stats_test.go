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

package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotConsistency(t *testing.T) {
	s := New(16)
	s.Ingest(false, 10*time.Millisecond)
	s.Ingest(true, 0)
	s.Ingest(false, 20*time.Millisecond)

	v := s.Snapshot(0)
	assert.Equal(t, uint64(3), v.Sent)
	assert.Equal(t, uint64(2), v.Received)
	assert.Equal(t, uint64(1), v.Lost)
	assert.Equal(t, v.Sent, v.Received+v.Lost)
}

func TestLossStreak(t *testing.T) {
	s := New(16)
	s.Ingest(false, time.Millisecond)
	s.Ingest(true, 0)
	s.Ingest(true, 0)
	s.Ingest(true, 0)
	s.Ingest(false, time.Millisecond)
	s.Ingest(true, 0)

	v := s.Snapshot(0)
	assert.Equal(t, 3, v.LongestStreak)
	assert.Equal(t, 1, v.CurrentStreak)
}

func TestMeanAndMinMax(t *testing.T) {
	s := New(16)
	rtts := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	for _, r := range rtts {
		s.Ingest(false, r)
	}
	v := s.Snapshot(0)
	assert.Equal(t, 10*time.Millisecond, v.MinRTT)
	assert.Equal(t, 30*time.Millisecond, v.MaxRTT)
	assert.InDelta(t, 20*float64(time.Millisecond), float64(v.MeanRTT), float64(time.Microsecond))
}

func TestJitterInterruptedByLoss(t *testing.T) {
	s := New(16)
	s.Ingest(false, 10*time.Millisecond)
	s.Ingest(false, 12*time.Millisecond) // delta 2ms contributes
	s.Ingest(true, 0)                    // interrupts the chain
	s.Ingest(false, 50*time.Millisecond) // first reply after loss: no new delta
	v := s.Snapshot(0)
	assert.Greater(t, v.JitterUS, 0.0)
}

func TestHistoryRingBounded(t *testing.T) {
	s := New(4)
	for i := 0; i < 10; i++ {
		s.Ingest(false, time.Duration(i+1)*time.Millisecond)
	}
	v := s.Snapshot(0)
	require.Len(t, v.History, 4)
	// Oldest-first: the last 4 ingests were RTTs 7,8,9,10 ms.
	assert.Equal(t, 7*time.Millisecond, v.History[0].RTT)
	assert.Equal(t, 10*time.Millisecond, v.History[3].RTT)
}

func TestHistoryCap(t *testing.T) {
	s := New(10)
	for i := 0; i < 10; i++ {
		s.Ingest(false, time.Millisecond)
	}
	v := s.Snapshot(3)
	assert.Len(t, v.History, 3)
}

func TestResetClearsCounters(t *testing.T) {
	s := New(8)
	s.Ingest(false, 5*time.Millisecond)
	s.Ingest(true, 0)
	s.Reset()
	v := s.Snapshot(0)
	assert.Zero(t, v.Sent)
	assert.Zero(t, v.Received)
	assert.Zero(t, v.Lost)
	assert.False(t, v.HaveRTT)
	assert.Empty(t, v.History)
}

func TestPercentilesMonotone(t *testing.T) {
	s := New(128)
	for i := 1; i <= 100; i++ {
		s.Ingest(false, time.Duration(i)*time.Millisecond)
	}
	v := s.Snapshot(0)
	assert.LessOrEqual(t, v.P50, v.P95)
	assert.LessOrEqual(t, v.MinRTT, v.P50)
	assert.LessOrEqual(t, v.P95, v.MaxRTT)
}

func TestAllLossHasNoRTT(t *testing.T) {
	s := New(8)
	for i := 0; i < 5; i++ {
		s.Ingest(true, 0)
	}
	v := s.Snapshot(0)
	assert.False(t, v.HaveRTT)
	assert.Equal(t, 1.0, v.MOS)
	assert.Equal(t, "F", v.Grade)
}
