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

// Package metricsexport optionally serves the session's per-target
// statistics as Prometheus gauges, read-only and pull-based: nothing
// in the probe path depends on a scrape ever happening.
package metricsexport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/freeeve/ptop/internal/plog"
	"github.com/freeeve/ptop/internal/snapshot"
)

// Exporter serves /metrics on a background HTTP server, refreshing
// its gauge set from a snapshot.Registry on every scrape.
type Exporter struct {
	log  *plog.Logger
	reg  snapshot.Registry
	hist int

	registry *prometheus.Registry
	srv      *http.Server

	sent, received   *prometheus.GaugeVec
	lossPct          *prometheus.GaugeVec
	rttMean, jitter  *prometheus.GaugeVec
	mos              *prometheus.GaugeVec
}

// New builds an Exporter backed by r. Gauges need no history, so
// every scrape snapshots at most one history sample per target to
// keep the copy cheap.
func New(log *plog.Logger, r snapshot.Registry) *Exporter {
	reg := prometheus.NewRegistry()
	labels := []string{"target", "host"}

	e := &Exporter{
		log: log, reg: r, hist: 1,
		registry: reg,
		sent:     prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "ptop_sent_total", Help: "Probes sent per target."}, labels),
		received: prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "ptop_received_total", Help: "Replies received per target."}, labels),
		lossPct:  prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "ptop_loss_percent", Help: "Loss percentage per target."}, labels),
		rttMean:  prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "ptop_rtt_mean_us", Help: "Mean RTT in microseconds per target."}, labels),
		jitter:   prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "ptop_jitter_us", Help: "RFC 3550 jitter in microseconds per target."}, labels),
		mos:      prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "ptop_mos", Help: "Estimated Mean Opinion Score (1.0-4.5) per target."}, labels),
	}
	reg.MustRegister(e.sent, e.received, e.lossPct, e.rttMean, e.jitter, e.mos)
	return e
}

// refresh recomputes every gauge from a fresh snapshot. Called lazily
// from the scrape handler so metrics never drift from the last scrape
// time, matching the pull model: no background polling goroutine.
func (e *Exporter) refresh() {
	for _, v := range snapshot.All(e.reg, e.hist) {
		lbl := prometheus.Labels{"target": v.Label, "host": v.Host}
		e.sent.With(lbl).Set(float64(v.Stats.Sent))
		e.received.With(lbl).Set(float64(v.Stats.Received))
		lossPct := 0.0
		if v.Stats.Sent > 0 {
			lossPct = float64(v.Stats.Lost) / float64(v.Stats.Sent) * 100
		}
		e.lossPct.With(lbl).Set(lossPct)
		e.rttMean.With(lbl).Set(float64(v.Stats.MeanRTT.Microseconds()))
		e.jitter.With(lbl).Set(v.Stats.JitterUS)
		e.mos.With(lbl).Set(v.Stats.MOS)
	}
}

// ListenAndServe starts the exporter's HTTP server on addr and blocks
// until ctx is cancelled or the server fails. A refreshing handler
// wraps promhttp so every scrape sees current data.
func (e *Exporter) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	h := promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.refresh()
		h.ServeHTTP(w, r)
	}))

	e.srv = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- e.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		e.log.Warningf("metricsexport: server exited: %v", err)
		return err
	}
}
