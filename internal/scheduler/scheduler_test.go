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

package scheduler

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/ptop/internal/icmptransport"
	"github.com/freeeve/ptop/internal/plog"
	"github.com/freeeve/ptop/internal/probeoutcome"
	"github.com/freeeve/ptop/internal/target"
)

// fakeTransport is an in-memory icmptransport.Transport test double:
// every Send immediately produces a reply queued for the next
// PollReplies call, unless dropNext is set.
type fakeTransport struct {
	mu       sync.Mutex
	dropNext map[uint16]bool
	pending  []icmptransport.Reply
	rtt      time.Duration
	now      func() time.Time
}

func newFakeTransport(now func() time.Time) *fakeTransport {
	return &fakeTransport{dropNext: make(map[uint16]bool), rtt: time.Millisecond, now: now}
}

func (f *fakeTransport) Send(dst net.IP, seq uint16) (time.Time, error) {
	dispatch := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dropNext[seq] {
		f.pending = append(f.pending, icmptransport.Reply{
			Seq: seq, Source: dst, RecvTime: dispatch.Add(f.rtt),
		})
	}
	return dispatch, nil
}

func (f *fakeTransport) PollReplies(deadline time.Time) ([]icmptransport.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeTransport) Close() error { return nil }

// recordingBus collects every published outcome.
type recordingBus struct {
	mu sync.Mutex
	ev []probeoutcome.Outcome
}

func (b *recordingBus) Publish(o probeoutcome.Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ev = append(b.ev, o)
}

func (b *recordingBus) snapshot() []probeoutcome.Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]probeoutcome.Outcome, len(b.ev))
	copy(out, b.ev)
	return out
}

func TestSchedulerDispatchesAndReceivesReplies(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := newFakeTransport(clock.Now)
	bus := &recordingBus{}
	resolver := staticResolver{ip: net.ParseIP("127.0.0.1")}

	tg := target.New(0, "localhost", "localhost", 10*time.Millisecond, 50*time.Millisecond)
	require.NoError(t, tg.Resolve(context.Background(), resolver, clock.Now()))

	s := New(plog.Discard(), clock, tr, resolver, bus, []*target.Target{tg})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	ev := bus.snapshot()
	require.NotEmpty(t, ev)
	for _, o := range ev {
		assert.False(t, o.Lost)
		assert.Equal(t, time.Millisecond, o.RTT)
	}
}

func TestSchedulerEmitsLossOnTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := newFakeTransport(clock.Now)
	tr.dropNext[0] = true
	bus := &recordingBus{}
	resolver := staticResolver{ip: net.ParseIP("127.0.0.1")}

	tg := target.New(0, "localhost", "localhost", 100*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, tg.Resolve(context.Background(), resolver, clock.Now()))

	s := New(plog.Discard(), clock, tr, resolver, bus, []*target.Target{tg})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	clock.Advance(100 * time.Millisecond) // dispatch seq 0
	time.Sleep(20 * time.Millisecond)
	clock.Advance(20 * time.Millisecond) // past its 10ms timeout
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	ev := bus.snapshot()
	require.NotEmpty(t, ev)
	assert.True(t, ev[0].Lost)
	assert.Equal(t, uint16(0), ev[0].Seq)
}

type staticResolver struct{ ip net.IP }

func (s staticResolver) Resolve(context.Context, string) (net.IP, error) { return s.ip, nil }

// flakyResolver fails every call until armed, then always succeeds.
// Used to exercise the scheduler's resolve-retry cadence, which is
// paced entirely off the injected clock rather than the wall clock.
type flakyResolver struct {
	mu    sync.Mutex
	armed bool
	ip    net.IP
}

func (r *flakyResolver) arm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = true
}

func (r *flakyResolver) Resolve(context.Context, string) (net.IP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed {
		return nil, fmt.Errorf("flakyResolver: not armed")
	}
	return r.ip, nil
}

func TestSchedulerRetriesResolutionOnClockCadence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := newFakeTransport(clock.Now)
	bus := &recordingBus{}
	resolver := &flakyResolver{ip: net.ParseIP("127.0.0.1")}

	tg := target.New(0, "flaky.invalid", "flaky", 10*time.Millisecond, 50*time.Millisecond)
	s := New(plog.Discard(), clock, tr, resolver, bus, []*target.Target{tg})
	require.True(t, tg.Unresolved())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Advancing by less than the retry interval must not resolve the
	// target: the fake clock, not wall time, paces the retry.
	clock.Advance(target.ResolveRetryInterval / 2)
	time.Sleep(10 * time.Millisecond)
	assert.True(t, tg.Unresolved())

	resolver.arm()
	clock.Advance(target.ResolveRetryInterval)
	time.Sleep(20 * time.Millisecond)

	cancel()
	<-done
	assert.False(t, tg.Unresolved())
}
