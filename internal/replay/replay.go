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

// Package replay implements the replay source: it reads a recorded
// session log and republishes its events onto a bus at a configurable
// speed multiplier, standing in for the scheduler so the rest of the
// pipeline (aggregator, UI) is unaware it isn't live.
package replay

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/freeeve/ptop/internal/perrs"
	"github.com/freeeve/ptop/internal/plog"
	"github.com/freeeve/ptop/internal/probeoutcome"
)

// event is one parsed line from the log body.
type event struct {
	tUS int64
	idx int
	seq uint16
	rtt *int64
}

// header mirrors recorder's wire header, decoded independently so
// replay has no compile-time coupling to the recorder package.
type header struct {
	V       int          `json:"v"`
	Start   string       `json:"start"`
	Version string       `json:"ptop_version"`
	Targets []TargetInfo `json:"targets"`
}

// TargetInfo describes one target as recorded in the log header.
type TargetInfo struct {
	Idx   int    `json:"idx"`
	Label string `json:"label"`
	Addr  string `json:"addr"`
}

type rawEvent struct {
	T int64  `json:"t"`
	I int    `json:"i"`
	S uint16 `json:"s"`
	R *int64 `json:"r"`
}

// Publisher is the bus capability replay needs: deliver outcomes in
// order, and clear any derived state (TargetStats) before Seek's
// rewind-and-re-ingest pass republishes events from the start.
type Publisher interface {
	Publish(o probeoutcome.Outcome)
	Reset()
}

// Source replays a recorded session log. It is not safe for
// concurrent use by more than one goroutine calling Run, but Pause,
// Resume, SetSpeed, and Seek may be called concurrently with Run.
type Source struct {
	log *plog.Logger

	Targets []TargetInfo
	Start   time.Time

	events       []event
	malformed    int

	mu           sync.Mutex
	cursor       int
	speed        float64
	paused       bool
	resumeC      chan struct{}
	resetPending bool
}

// Open reads and parses the full session log at path (header plus
// every well-formed event line). Malformed lines are skipped and
// counted rather than aborting the load; a truncated gzip stream
// (EOF mid-record) stops reading cleanly at the last complete line.
func Open(log *plog.Logger, path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", perrs.ErrReplayMalformed, path, err)
	}
	defer gz.Close()

	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !sc.Scan() {
		return nil, fmt.Errorf("%w: %s: empty log", perrs.ErrReplayMalformed, path)
	}
	var h header
	if err := json.Unmarshal(sc.Bytes(), &h); err != nil {
		return nil, fmt.Errorf("%w: %s: bad header: %v", perrs.ErrReplayMalformed, path, err)
	}
	start, err := time.Parse(time.RFC3339Nano, h.Start)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: bad header start time: %v", perrs.ErrReplayMalformed, path, err)
	}

	src := &Source{
		log:     log,
		Targets: h.Targets,
		Start:   start,
		speed:   1.0,
		resumeC: make(chan struct{}),
	}

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var re rawEvent
		if err := json.Unmarshal(line, &re); err != nil {
			src.malformed++
			continue
		}
		src.events = append(src.events, event{tUS: re.T, idx: re.I, seq: re.S, rtt: re.R})
	}
	// A scanner error here (other than io.EOF, which Scan suppresses)
	// means the gzip stream or the underlying file was truncated
	// mid-record; what was read so far is kept and replay stops there.
	if err := sc.Err(); err != nil && err != io.ErrUnexpectedEOF {
		log.Warningf("replay: %s: truncated after %d events: %v", path, len(src.events), err)
	}

	return src, nil
}

// MalformedCount returns the number of event lines skipped because
// they failed to parse.
func (s *Source) MalformedCount() int { return s.malformed }

// EventCount returns the total number of well-formed events loaded.
func (s *Source) EventCount() int { return len(s.events) }

// SetSpeed changes the playback multiplier (events are emitted at
// wall-clock intervals divided by speed). speed <= 0 is ignored.
func (s *Source) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	s.mu.Lock()
	s.speed = speed
	s.mu.Unlock()
}

// Pause suspends emission after the event currently being waited on.
func (s *Source) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume continues emission from the paused cursor position.
func (s *Source) Resume() {
	s.mu.Lock()
	if s.paused {
		s.paused = false
		close(s.resumeC)
		s.resumeC = make(chan struct{})
	}
	s.mu.Unlock()
}

// Seek moves the cursor forward or backward by delta events (negative
// seeks backward), clamped to [0, len(events)]. The next tick's
// inter-event wait is computed from the new cursor's timestamp
// relative to whatever "now" is at resume time, i.e. seeking
// re-anchors the playback clock rather than preserving wall-time
// offsets. It also marks a reset pending: Run clears the publisher's
// derived stats and re-ingests events[0:cursor) before resuming paced
// playback, since a jump in either direction invalidates any stats
// that were accumulated against the old event order.
func (s *Source) Seek(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor += delta
	if s.cursor < 0 {
		s.cursor = 0
	}
	if s.cursor > len(s.events) {
		s.cursor = len(s.events)
	}
	s.resetPending = true
}

// Run publishes events in order onto bus, pacing each by the
// recorded inter-event interval divided by the current speed. It
// returns when every event has been published or ctx is cancelled.
func (s *Source) Run(ctx context.Context, bus Publisher) error {
	for {
		s.mu.Lock()
		if s.resetPending {
			cursor := s.cursor
			s.resetPending = false
			s.mu.Unlock()
			// Rewind to the start and re-ingest every event up to the
			// new cursor, as fast as possible (unpaced), so the
			// publisher's derived stats match the post-seek position
			// instead of whatever order they were accumulated in.
			bus.Reset()
			for i := 0; i < cursor; i++ {
				s.publish(bus, s.events[i])
			}
			continue
		}
		if s.paused {
			resumeC := s.resumeC
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil
			case <-resumeC:
			}
			continue
		}
		if s.cursor >= len(s.events) {
			s.mu.Unlock()
			return nil
		}
		ev := s.events[s.cursor]
		var prevT int64
		if s.cursor > 0 {
			prevT = s.events[s.cursor-1].tUS
		}
		speed := s.speed
		s.cursor++
		s.mu.Unlock()

		waitUS := ev.tUS - prevT
		if waitUS > 0 {
			wait := time.Duration(float64(waitUS)/speed) * time.Microsecond
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}

		s.publish(bus, ev)
	}
}

// publish converts one recorded event into a ProbeOutcome and
// delivers it, reconstructing the dispatch timestamp from the
// session's start time plus the event's recorded offset.
func (s *Source) publish(bus Publisher, ev event) {
	dispatch := s.Start.Add(time.Duration(ev.tUS) * time.Microsecond)
	if ev.rtt == nil {
		bus.Publish(probeoutcome.Loss(ev.idx, ev.seq, dispatch, dispatch))
	} else {
		rtt := time.Duration(*ev.rtt) * time.Microsecond
		bus.Publish(probeoutcome.Reply(ev.idx, ev.seq, dispatch, dispatch, rtt))
	}
}
