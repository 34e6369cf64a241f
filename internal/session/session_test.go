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

package session

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/ptop/internal/icmptransport"
	"github.com/freeeve/ptop/internal/plog"
	"github.com/freeeve/ptop/internal/probeopts"
)

// fakeTransport immediately replies to every Send with a fixed RTT,
// mirroring the scheduler package's own test double.
type fakeTransport struct {
	mu      sync.Mutex
	pending []icmptransport.Reply
	rtt     time.Duration
}

func (f *fakeTransport) Send(dst net.IP, seq uint16) (time.Time, error) {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, icmptransport.Reply{Seq: seq, Source: dst, RecvTime: now.Add(f.rtt)})
	return now, nil
}

func (f *fakeTransport) PollReplies(deadline time.Time) ([]icmptransport.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeTransport) Close() error { return nil }

func TestNewAssignsStableIDAndTargets(t *testing.T) {
	opts := probeopts.Options{Interval: 5 * time.Millisecond, Timeout: 20 * time.Millisecond}
	s, err := New(plog.Discard(), opts, []string{"127.0.0.1", "::1"}, &fakeTransport{rtt: time.Millisecond})
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	require.Len(t, s.Targets(), 2)
	assert.Equal(t, "127.0.0.1", s.Targets()[0].Host)
	assert.Equal(t, "::1", s.Targets()[1].Host)
	assert.NotNil(t, s.StatsFor(0))
	assert.Nil(t, s.StatsFor(99))
}

func TestStartIngestsOutcomesIntoStats(t *testing.T) {
	opts := probeopts.Options{Interval: 5 * time.Millisecond, Timeout: 20 * time.Millisecond}
	s, err := New(plog.Discard(), opts, []string{"127.0.0.1"}, &fakeTransport{rtt: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.StatsFor(0).Snapshot(0).Sent > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	require.NoError(t, s.Stop())

	view := s.StatsFor(0).Snapshot(0)
	assert.Greater(t, view.Sent, uint64(0))
}

func TestResetClearsStatsButKeepsTargets(t *testing.T) {
	opts := probeopts.Options{Interval: 5 * time.Millisecond, Timeout: 20 * time.Millisecond}
	s, err := New(plog.Discard(), opts, []string{"127.0.0.1"}, &fakeTransport{rtt: time.Millisecond})
	require.NoError(t, err)

	s.StatsFor(0).Ingest(false, time.Millisecond)
	require.Equal(t, uint64(1), s.StatsFor(0).Snapshot(0).Sent)

	s.Reset()
	assert.Equal(t, uint64(0), s.StatsFor(0).Snapshot(0).Sent)
	require.Len(t, s.Targets(), 1)
}

func TestAddTargetAppendsWithNextIndex(t *testing.T) {
	opts := probeopts.Options{}
	s, err := New(plog.Discard(), opts, []string{"127.0.0.1"}, &fakeTransport{})
	require.NoError(t, err)

	tg := s.AddTarget("8.8.8.8", "google-dns")
	assert.Equal(t, 1, tg.Idx)
	require.Len(t, s.Targets(), 2)
	assert.NotNil(t, s.StatsFor(1))
}

func TestEnableRecordingWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	opts := probeopts.Options{Interval: 5 * time.Millisecond, Timeout: 20 * time.Millisecond}
	s, err := New(plog.Discard(), opts, []string{"127.0.0.1"}, &fakeTransport{rtt: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, s.EnableRecording(dir))
	require.NotNil(t, s.Recorder())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	require.NoError(t, s.Stop())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, filepath.Ext(entries[0].Name()), ".gz")
}
