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

// Package snapshot implements the UI Snapshot API: a read-only,
// point-in-time view assembled from each target's identity and its
// TargetStats, taken under per-target critical sections so a renderer
// never blocks the probe loop for longer than one target's copy.
package snapshot

import (
	"time"

	"github.com/freeeve/ptop/internal/stats"
	"github.com/freeeve/ptop/internal/target"
)

// TargetView is one target's identity plus its current rolling
// statistics, as handed to a renderer.
type TargetView struct {
	Idx        int
	Host       string
	Label      string
	IP         string
	Unresolved bool
	Interval   time.Duration
	Timeout    time.Duration
	Stats      stats.View
}

// Registry is the capability snapshot needs from a session: the
// fixed target list plus one TargetStats per target, in target index
// order.
type Registry interface {
	Targets() []*target.Target
	StatsFor(idx int) *stats.TargetStats
}

// All assembles a TargetView for every target, in index order.
// historyLen bounds how many history samples each view carries (see
// TargetStats.Snapshot); 0 or negative means "all retained".
func All(r Registry, historyLen int) []TargetView {
	targets := r.Targets()
	views := make([]TargetView, len(targets))
	for i, t := range targets {
		views[i] = one(t, r.StatsFor(t.Idx), historyLen)
	}
	return views
}

// One assembles a single target's view by index.
func One(r Registry, idx int, historyLen int) (TargetView, bool) {
	for _, t := range r.Targets() {
		if t.Idx == idx {
			return one(t, r.StatsFor(idx), historyLen), true
		}
	}
	return TargetView{}, false
}

func one(t *target.Target, st *stats.TargetStats, historyLen int) TargetView {
	ip := ""
	if addr := t.IP(); addr != nil {
		ip = addr.String()
	}
	v := TargetView{
		Idx:        t.Idx,
		Host:       t.Host,
		Label:      t.Label,
		IP:         ip,
		Unresolved: t.Unresolved(),
		Interval:   t.Interval,
		Timeout:    t.Timeout,
	}
	if st != nil {
		v.Stats = st.Snapshot(historyLen)
	}
	return v
}
