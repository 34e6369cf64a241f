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

// Package session wires the scheduler, ICMP transport, event bus,
// stats aggregator, and session recorder into the three logical
// workers a live probing session runs: the scheduler loop, the stats
// aggregator, and (optionally) the recorder.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/freeeve/ptop/internal/eventbus"
	"github.com/freeeve/ptop/internal/icmptransport"
	"github.com/freeeve/ptop/internal/plog"
	"github.com/freeeve/ptop/internal/probeopts"
	"github.com/freeeve/ptop/internal/probeoutcome"
	"github.com/freeeve/ptop/internal/recorder"
	"github.com/freeeve/ptop/internal/scheduler"
	"github.com/freeeve/ptop/internal/stats"
	"github.com/freeeve/ptop/internal/target"
	"github.com/freeeve/ptop/internal/version"
)

// Session owns one live probing run: its targets, the scheduler
// driving the ICMP transport, the bus fanning outcomes out, the
// aggregator consuming them into TargetStats, and an optional
// recorder persisting them to disk.
type Session struct {
	// ID identifies this run in log messages; it has no
	// wire format meaning (it is never written to a recorded log) and
	// exists purely to correlate diagnostics across a session's
	// lifetime.
	ID string

	log   *plog.Logger
	opts  probeopts.Options
	clock clockwork.Clock

	transport icmptransport.Transport
	resolver  target.Resolver
	bus       *eventbus.Bus

	mu      sync.RWMutex
	targets []*target.Target
	stats   map[int]*stats.TargetStats

	sched *scheduler.Scheduler
	rec   *recorder.Recorder

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Session for the given hosts, resolving nothing yet
// (targets resolve lazily once Start's scheduler loop begins). tr may
// be nil to let New open a fresh icmptransport.Transport.
func New(log *plog.Logger, opts probeopts.Options, hosts []string, tr icmptransport.Transport) (*Session, error) {
	opts = opts.WithDefaults()
	if tr == nil {
		var err error
		tr, err = icmptransport.New(log)
		if err != nil {
			return nil, fmt.Errorf("session: open transport: %w", err)
		}
	}

	s := &Session{
		ID:        uuid.New().String(),
		log:       log,
		opts:      opts,
		clock:     clockwork.NewRealClock(),
		transport: tr,
		resolver:  target.NewResolver(),
		bus:       eventbus.New(eventbus.DefaultCapacity),
		stats:     make(map[int]*stats.TargetStats),
	}
	for i, h := range hosts {
		s.addTargetLocked(i, h, "")
	}
	s.sched = scheduler.New(log, s.clock, s.transport, s.resolver, s.bus, s.targets)
	return s, nil
}

func (s *Session) addTargetLocked(idx int, host, label string) *target.Target {
	t := target.New(idx, host, label, s.opts.Interval, s.opts.Timeout)
	s.targets = append(s.targets, t)
	s.stats[idx] = stats.New(s.opts.HistorySize)
	return t
}

// Targets returns the session's fixed target list, satisfying
// snapshot.Registry.
func (s *Session) Targets() []*target.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*target.Target, len(s.targets))
	copy(out, s.targets)
	return out
}

// StatsFor returns the TargetStats for idx, satisfying
// snapshot.Registry. Returns nil if idx is unknown.
func (s *Session) StatsFor(idx int) *stats.TargetStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats[idx]
}

// Views returns a final stats.View snapshot of every target, in index
// order, for handing to the recorder on Close.
func (s *Session) Views() []stats.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]stats.View, len(s.targets))
	for i, t := range s.targets {
		out[i] = s.stats[t.Idx].Snapshot(s.opts.HistorySize)
	}
	return out
}

// EnableRecording starts a recorder subscribed to this session's bus,
// writing to dir. Must be called before Start.
func (s *Session) EnableRecording(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := recorder.New(s.log, dir, time.Now(), s.targets, version.Version)
	if err != nil {
		return err
	}
	s.rec = r
	return nil
}

// Recorder returns the active recorder, or nil if recording is not
// enabled.
func (s *Session) Recorder() *recorder.Recorder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec
}

// Start launches the scheduler loop, the stats aggregator, and (if
// enabled) the recorder as independent goroutines, and returns
// immediately. Call Stop to shut everything down.
func (s *Session) Start(ctx context.Context) {
	s.log.Infof("session: starting %s with %d targets", s.ID, len(s.targets))
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	aggCh := s.bus.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runAggregator(ctx, aggCh)
	}()

	if s.rec != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.rec.Run(ctx, s.bus)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sched.Run(ctx); err != nil {
			s.log.Errorf("session: scheduler exited: %v", err)
		}
	}()
}

func (s *Session) runAggregator(ctx context.Context, ch <-chan probeoutcome.Outcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-ch:
			if !ok {
				return
			}
			s.mu.RLock()
			st := s.stats[o.TargetIdx]
			s.mu.RUnlock()
			if st == nil {
				continue
			}
			st.Ingest(o.Lost, o.RTT)
		}
	}
}

// Stop cancels the scheduler, aggregator, and recorder, waits for
// them to exit, closes the bus, closes the transport, and (if
// recording) writes the final session summary.
func (s *Session) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.bus.Close()

	var recErr error
	if s.rec != nil {
		recErr = s.rec.Close(s.Views())
	}
	transErr := s.transport.Close()

	if recErr != nil {
		return recErr
	}
	return transErr
}

// Reset clears every target's accumulated stats (sent/received/loss
// counters and history) without affecting target identity or the
// scheduler's in-flight sequence numbers.
func (s *Session) Reset() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.stats {
		st.Reset()
	}
}

// AddTarget adds a new probed host to the session. It is only valid
// before Start: it rebuilds the scheduler over the extended target
// list, and a running scheduler keeps the list it was built with.
func (s *Session) AddTarget(host, label string) *target.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.targets)
	t := s.addTargetLocked(idx, host, label)
	s.sched = scheduler.New(s.log, s.clock, s.transport, s.resolver, s.bus, s.targets)
	return t
}
