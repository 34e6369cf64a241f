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

// Package recorder implements the session recorder: a bus subscriber
// that appends every ProbeOutcome to a compressed, line-delimited
// event log, and on clean shutdown writes a separate session summary
// file with the final per-target statistics.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/freeeve/ptop/internal/eventbus"
	"github.com/freeeve/ptop/internal/perrs"
	"github.com/freeeve/ptop/internal/plog"
	"github.com/freeeve/ptop/internal/probeoutcome"
	"github.com/freeeve/ptop/internal/stats"
	"github.com/freeeve/ptop/internal/target"
)

// flushInterval and flushBytes bound how long a reply can sit
// buffered in memory before it reaches disk.
const (
	flushInterval = 1 * time.Second
	flushBytes    = 64 * 1024
)

// Recorder subscribes to a bus and records outcomes to disk. Disabled
// is true once a write error has occurred; recording degrades to a
// silent drain for the remainder of the session rather than blocking
// or crashing the probe loop.
type Recorder struct {
	log *plog.Logger

	startWall time.Time
	targets   []TargetInfo

	f  *os.File
	gz *gzip.Writer
	bw *bufio.Writer

	mu            sync.Mutex
	pendingBytes  int
	disabled      atomic.Bool
	logPath       string
}

// New creates the event log file under dir (created if missing) named
// after the session start time, writes its header line, and returns a
// Recorder ready to Run. targets describes the session's target list
// at the moment recording starts; AddTarget is not supported mid
// session, matching the spec's target-list-is-fixed-at-header-time
// contract.
func New(log *plog.Logger, dir string, start time.Time, targets []*target.Target, ptopVersion string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: recorder: create log dir: %v", perrs.ErrLogIO, err)
	}
	name := start.UTC().Format("2006-01-02T15-04-05Z") + ".jsonl.gz"
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: recorder: create log file: %v", perrs.ErrLogIO, err)
	}
	gz := gzip.NewWriter(f)
	bw := bufio.NewWriterSize(gz, flushBytes)

	infos := make([]TargetInfo, len(targets))
	for i, t := range targets {
		addr := ""
		if ip := t.IP(); ip != nil {
			addr = ip.String()
		}
		infos[i] = TargetInfo{Idx: t.Idx, Label: t.Label, Addr: addr}
	}

	r := &Recorder{
		log:       log,
		startWall: start,
		targets:   infos,
		f:         f,
		gz:        gz,
		bw:        bw,
		logPath:   path,
	}

	h := header{V: schemaVersion, Start: start.UTC().Format(time.RFC3339Nano), Version: ptopVersion, Targets: infos}
	if err := r.writeJSONLine(h); err != nil {
		r.disable(err)
		return r, nil
	}
	return r, nil
}

// Path returns the event log's file path.
func (r *Recorder) Path() string { return r.logPath }

// Degraded reports whether recording has been disabled after a write
// failure. The session keeps running; only recording stops.
func (r *Recorder) Degraded() bool { return r.disabled.Load() }

// Run subscribes to bus and records every outcome until the channel
// is closed (bus shut down) or ctx is cancelled. It does not call
// Close; the caller does, once Run returns, so the summary file can
// be written with final stats.
func (r *Recorder) Run(ctx context.Context, bus *eventbus.Bus) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-ch:
			if !ok {
				return
			}
			r.record(o)
		case <-ticker.C:
			r.maybeFlush(true)
		}
	}
}

func (r *Recorder) record(o probeoutcome.Outcome) {
	if r.disabled.Load() {
		return
	}
	var rttPtr *int64
	if !o.Lost {
		us := o.RTT.Microseconds()
		rttPtr = &us
	}
	line := eventLine{
		T: o.Dispatch.Sub(r.startWall).Microseconds(),
		I: o.TargetIdx,
		S: o.Seq,
		R: rttPtr,
	}
	if err := r.writeJSONLine(line); err != nil {
		r.disable(err)
		return
	}
	r.maybeFlush(false)
}

func (r *Recorder) writeJSONLine(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.bw.Write(b)
	if err == nil {
		var nn int
		nn, err = r.bw.Write([]byte("\n"))
		n += nn
	}
	if err != nil {
		return err
	}
	r.pendingBytes += n
	return nil
}

func (r *Recorder) maybeFlush(force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !force && r.pendingBytes < flushBytes {
		return
	}
	if r.pendingBytes == 0 && !force {
		return
	}
	if err := r.bw.Flush(); err != nil {
		r.disable(err)
		return
	}
	if err := r.gz.Flush(); err != nil {
		r.disable(err)
		return
	}
	r.pendingBytes = 0
}

func (r *Recorder) disable(err error) {
	if r.disabled.CompareAndSwap(false, true) {
		r.log.Warningf("recorder: write failed, disabling recording for remainder of session: %v", err)
	}
}

// Close flushes and closes the event log, then writes a separate
// session summary file alongside it with the final stats for each
// target (views, in target index order). It is safe to call even if
// recording was disabled partway through; the summary is still
// attempted on a best-effort basis.
func (r *Recorder) Close(views []stats.View) error {
	r.mu.Lock()
	var flushErr error
	if !r.disabled.Load() {
		flushErr = r.bw.Flush()
	}
	gzErr := r.gz.Close()
	fErr := r.f.Close()
	r.mu.Unlock()

	if err := r.writeSummary(views); err != nil {
		r.log.Warningf("recorder: write summary failed: %v", err)
	}

	if flushErr != nil {
		return flushErr
	}
	if gzErr != nil {
		return gzErr
	}
	return fErr
}

func (r *Recorder) writeSummary(views []stats.View) error {
	ts := make([]TargetSummary, len(views))
	for i, v := range views {
		label := ""
		if i < len(r.targets) {
			label = r.targets[i].Label
		}
		ts[i] = TargetSummary{
			Idx:           i,
			Label:         label,
			Sent:          v.Sent,
			Received:      v.Received,
			Lost:          v.Lost,
			MinRTTus:      v.MinRTT.Microseconds(),
			MaxRTTus:      v.MaxRTT.Microseconds(),
			MeanRTTus:     v.MeanRTT.Microseconds(),
			JitterUS:      v.JitterUS,
			P50us:         v.P50.Microseconds(),
			P95us:         v.P95.Microseconds(),
			LongestStreak: v.LongestStreak,
			MOS:           v.MOS,
			Grade:         v.Grade,
		}
	}
	sm := summary{
		V:       schemaVersion,
		Start:   r.startWall.UTC().Format(time.RFC3339Nano),
		Targets: r.targets,
		Stats:   ts,
	}

	dir := filepath.Dir(filepath.Dir(r.logPath))
	sessDir := filepath.Join(dir, "sessions")
	if err := os.MkdirAll(sessDir, 0o755); err != nil {
		return err
	}
	name := r.startWall.UTC().Format("2006-01-02T15-04-05Z") + ".json.gz"
	path := filepath.Join(sessDir, name)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()

	enc := json.NewEncoder(gz)
	return enc.Encode(sm)
}
