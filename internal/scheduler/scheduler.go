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

// Package scheduler implements the probe scheduler: a single
// coordinator loop that dispatches one echo per target per interval,
// enforces per-probe timeouts, and emits a ProbeOutcome event stream
// for every dispatch. It owns no socket; it drives a
// icmptransport.Transport.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/freeeve/ptop/internal/icmptransport"
	"github.com/freeeve/ptop/internal/plog"
	"github.com/freeeve/ptop/internal/probeoutcome"
	"github.com/freeeve/ptop/internal/target"
)

// Publisher is the event bus's producer-side capability the
// scheduler needs: publish one outcome, in order, per target.
type Publisher interface {
	Publish(o probeoutcome.Outcome)
}

// targetState tracks one target's next tick and its in-flight
// requests: inflight maps each outstanding sequence number to its
// dispatch time, and order is a FIFO of sequence numbers in dispatch order; entries
// that have already been resolved (replied to) are lazily dropped
// from the front when encountered, rather than removed mid-slice.
type targetState struct {
	t        *target.Target
	nextTick time.Time
	inflight map[uint16]time.Time
	order    []uint16
}

func (ts *targetState) earliestDeadline(timeout time.Duration) (time.Time, bool) {
	for len(ts.order) > 0 {
		seq := ts.order[0]
		dispatch, ok := ts.inflight[seq]
		if !ok {
			ts.order = ts.order[1:]
			continue
		}
		return dispatch.Add(timeout), true
	}
	return time.Time{}, false
}

func (ts *targetState) popExpired(timeout time.Duration, now time.Time) (seq uint16, dispatch time.Time, ok bool) {
	for len(ts.order) > 0 {
		s := ts.order[0]
		d, present := ts.inflight[s]
		if !present {
			ts.order = ts.order[1:]
			continue
		}
		if !now.Before(d.Add(timeout)) {
			ts.order = ts.order[1:]
			delete(ts.inflight, s)
			return s, d, true
		}
		return 0, time.Time{}, false
	}
	return 0, time.Time{}, false
}

// Scheduler drives the coordinator loop described in the probe
// scheduler design: compute the nearest of (next tick, next
// deadline) across all targets, wait, poll replies, emit outcomes.
type Scheduler struct {
	log       *plog.Logger
	clock     clockwork.Clock
	transport icmptransport.Transport
	resolver  target.Resolver
	bus       Publisher
	targets   []*target.Target

	mu       sync.Mutex
	states   []*targetState
	byAddr   map[string]int // resolved IP string -> index into states/targets
}

// New constructs a Scheduler. Targets' ticks are staggered across
// the first interval to spread load, per the scheduling algorithm.
func New(log *plog.Logger, clock clockwork.Clock, tr icmptransport.Transport, resolver target.Resolver, bus Publisher, targets []*target.Target) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Scheduler{
		log:       log,
		clock:     clock,
		transport: tr,
		resolver:  resolver,
		bus:       bus,
		targets:   targets,
		byAddr:    make(map[string]int),
	}
	now := clock.Now()
	n := len(targets)
	for i, t := range targets {
		stagger := time.Duration(0)
		if n > 0 {
			stagger = time.Duration(int64(t.Interval) * int64(i) / int64(n))
		}
		s.states = append(s.states, &targetState{
			t:        t,
			nextTick: now.Add(stagger),
			inflight: make(map[uint16]time.Time),
		})
		if ip := t.IP(); ip != nil {
			s.byAddr[ip.String()] = i
		}
	}
	return s
}

// Run executes the coordinator loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		now := s.clock.Now()
		s.maybeRetryResolutions(ctx, now)

		wait, hasWork := s.nextWakeup(now)
		if !hasWork {
			wait = now.Add(250 * time.Millisecond)
		}

		replies, err := s.transport.PollReplies(wait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warningf("scheduler: poll replies: %v", err)
		}
		for _, r := range replies {
			s.handleReply(r)
		}

		now = s.clock.Now()
		// Deadlines fire before new ticks when they coincide, so a
		// loss is recorded before a fresh dispatch reuses the slot.
		s.handleExpiredDeadlines(now)
		s.handleDueTicks(ctx, now)
	}
}

func (s *Scheduler) maybeRetryResolutions(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, st := range s.states {
		if st.t.NeedsResolveRetry(now) {
			if err := st.t.Resolve(ctx, s.resolver, now); err == nil {
				if ip := st.t.IP(); ip != nil {
					s.byAddr[ip.String()] = i
				}
			}
		}
	}
}

// nextWakeup returns the nearest of (next tick, next deadline)
// across all targets, or false if there is no scheduled work. Every
// target's next tick counts, resolved or not, so false means the
// scheduler has no targets.
func (s *Scheduler) nextWakeup(now time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best time.Time
	found := false
	consider := func(t time.Time) {
		if !found || t.Before(best) {
			best = t
			found = true
		}
	}
	for _, st := range s.states {
		consider(st.nextTick)
		if dl, ok := st.earliestDeadline(st.t.Timeout); ok {
			consider(dl)
		}
	}
	return best, found
}

func (s *Scheduler) handleReply(r icmptransport.Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byAddr[r.Source.String()]
	if !ok {
		return // foreign source, not one of ours
	}
	st := s.states[idx]
	dispatch, ok := st.inflight[r.Seq]
	if !ok {
		return // already timed out (Loss already emitted) or unknown seq
	}
	delete(st.inflight, r.Seq)
	s.bus.Publish(probeoutcome.Reply(idx, r.Seq, dispatch, dispatch, r.RecvTime.Sub(dispatch)))
}

func (s *Scheduler) handleExpiredDeadlines(now time.Time) {
	s.mu.Lock()
	type loss struct {
		idx      int
		seq      uint16
		dispatch time.Time
	}
	var losses []loss
	for idx, st := range s.states {
		for {
			seq, dispatch, ok := st.popExpired(st.t.Timeout, now)
			if !ok {
				break
			}
			losses = append(losses, loss{idx, seq, dispatch})
		}
	}
	s.mu.Unlock()
	for _, l := range losses {
		s.bus.Publish(probeoutcome.Loss(l.idx, l.seq, l.dispatch, l.dispatch))
	}
}

func (s *Scheduler) handleDueTicks(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx, st := range s.states {
		if st.nextTick.After(now) {
			continue
		}
		// Catch-up: catastrophic drift (more than one interval behind)
		// skips overdue ticks instead of bursting.
		if st.t.Interval > 0 {
			behind := now.Sub(st.nextTick)
			if behind > st.t.Interval {
				skips := behind / st.t.Interval
				st.nextTick = st.nextTick.Add(skips * st.t.Interval)
			}
		}
		st.nextTick = st.nextTick.Add(st.t.Interval)

		if st.t.Unresolved() {
			continue // do not probe; stats show 0/0 until resolved
		}
		ip := st.t.IP()
		if ip == nil {
			continue
		}
		seq := st.t.NextSeq()
		dispatch, err := s.transport.Send(ip, seq)
		if err != nil {
			s.log.Debugf("scheduler: send to %s failed, recording as loss: %v", st.t.Label, err)
			s.bus.Publish(probeoutcome.Loss(idx, seq, dispatch, dispatch))
			continue
		}
		st.inflight[seq] = dispatch
		st.order = append(st.order, seq)
	}
}
