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

// Command ptop continuously probes a set of network targets over
// ICMP and prints their rolling quality statistics. The full-screen
// dashboard is out of scope here; this binary wires the probing core
// together behind a line-oriented fallback printer and an optional
// Prometheus exporter, so the core is exercised end to end without a
// terminal renderer.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/freeeve/ptop/internal/gateway"
	"github.com/freeeve/ptop/internal/metricsexport"
	"github.com/freeeve/ptop/internal/plog"
	"github.com/freeeve/ptop/internal/probeopts"
	"github.com/freeeve/ptop/internal/probeoutcome"
	"github.com/freeeve/ptop/internal/replay"
	"github.com/freeeve/ptop/internal/session"
	"github.com/freeeve/ptop/internal/snapshot"
	"github.com/freeeve/ptop/internal/stats"
	"github.com/freeeve/ptop/internal/target"
	"github.com/freeeve/ptop/internal/version"
)

const (
	exitOK            = 0
	exitUsage         = 2
	exitStartupFailed = 3
	exitRuntimeFailed = 4
	exitLogIO         = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("ptop", pflag.ContinueOnError)
	var (
		targets         []string
		intervalMS      = fs.IntP("interval", "i", int(probeopts.DefaultInterval/time.Millisecond), "probe interval per target, in milliseconds")
		timeoutMS       = fs.Int("timeout", int(probeopts.DefaultTimeout/time.Millisecond), "per-probe reply timeout, in milliseconds")
		includeDefaults = fs.BoolP("defaults", "d", true, "include default targets (gateway, 1.1.1.1, 8.8.8.8, 9.9.9.9)")
		enableLogging   = fs.BoolP("log", "l", false, "enable session logging")
		logDir          = fs.String("log-dir", defaultLogDir(), "directory for session recordings")
		duration        = fs.Duration("duration", 0, "stop after this long (0 = run forever)")
		listLogs        = fs.Bool("list-logs", false, "list recorded session logs and exit")
		replayPath      = fs.String("replay", "", "replay a recorded session log instead of probing live")
		speed           = fs.Float64("speed", 1.0, "replay speed multiplier")
		metricsAddr     = fs.String("metrics-addr", "", "serve Prometheus metrics on this address (disabled if empty)")
		showVersion     = fs.Bool("version", false, "print version and exit")
	)
	fs.StringArrayVarP(&targets, "target", "t", nil, "target host or IP (repeatable)")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if *showVersion {
		fmt.Println("ptop", version.Version)
		return exitOK
	}

	log := plog.New(os.Stderr, "ptop", isTTY(os.Stderr))

	if *listLogs {
		return listLogsCmd(*logDir)
	}
	if *replayPath != "" {
		return runReplay(log, *replayPath, *speed)
	}

	if *includeDefaults {
		targets = append(targets, gateway.DefaultTargets()...)
	}

	opts := probeopts.Options{
		Interval: time.Duration(*intervalMS) * time.Millisecond,
		Timeout:  time.Duration(*timeoutMS) * time.Millisecond,
		LogDir:   *logDir,
		Logger:   log,
	}.WithDefaults()

	sess, err := session.New(log, opts, targets, nil)
	if err != nil {
		log.Errorf("startup failed: %v", err)
		return exitStartupFailed
	}

	if *enableLogging {
		if err := sess.EnableRecording(*logDir); err != nil {
			log.Errorf("startup failed: could not enable recording: %v", err)
			return exitLogIO
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		var durCancel context.CancelFunc
		ctx, durCancel = context.WithTimeout(ctx, *duration)
		defer durCancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if *metricsAddr != "" {
		exp := metricsexport.New(log, sess)
		go func() {
			if err := exp.ListenAndServe(ctx, *metricsAddr); err != nil {
				log.Warningf("metrics exporter stopped: %v", err)
			}
		}()
	}

	sess.Start(ctx)

	printTicker := time.NewTicker(1 * time.Second)
	defer printTicker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-printTicker.C:
			printSnapshot(sess)
		}
	}

	if err := sess.Stop(); err != nil {
		log.Errorf("shutdown: %v", err)
		return exitRuntimeFailed
	}
	return exitOK
}

func printSnapshot(r snapshot.Registry) {
	views := snapshot.All(r, 0)
	fmt.Print("\033[H\033[2J")
	fmt.Printf("%-24s %-16s %6s %6s %7s %9s %8s %5s\n",
		"TARGET", "ADDR", "SENT", "LOST", "LOSS%", "MEAN RTT", "JITTER", "MOS")
	for _, v := range views {
		lossPct := 0.0
		if v.Stats.Sent > 0 {
			lossPct = float64(v.Stats.Lost) / float64(v.Stats.Sent) * 100
		}
		addr := v.IP
		if v.Unresolved {
			addr = "unresolved"
		}
		fmt.Printf("%-24s %-16s %6d %6d %6.1f%% %9s %7.1fms %5.2f\n",
			v.Label, addr, v.Stats.Sent, v.Stats.Lost, lossPct,
			v.Stats.MeanRTT.Round(time.Microsecond*100),
			v.Stats.JitterUS/1000,
			v.Stats.MOS)
	}
}

func runReplay(log *plog.Logger, path string, speed float64) int {
	src, err := replay.Open(log, path)
	if err != nil {
		log.Errorf("replay startup failed: %v", err)
		return exitStartupFailed
	}
	src.SetSpeed(speed)
	if src.MalformedCount() > 0 {
		log.Warningf("replay: skipped %d malformed event lines", src.MalformedCount())
	}
	log.Infof("replay: %d events, %d targets", src.EventCount(), len(src.Targets))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	reg := newReplayRegistry(src.Targets)
	printTicker := time.NewTicker(1 * time.Second)
	defer printTicker.Stop()

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, reg) }()

printLoop:
	for {
		select {
		case <-ctx.Done():
			break printLoop
		case err := <-done:
			if err != nil {
				log.Errorf("replay failed: %v", err)
				return exitRuntimeFailed
			}
			break printLoop
		case <-printTicker.C:
			printSnapshot(reg)
		}
	}
	printSnapshot(reg)
	return exitOK
}

// replayRegistry adapts a replayed target list into a
// snapshot.Registry, so the fallback printer (and, equivalently, a
// real renderer) runs unmodified against replayed data.
type replayRegistry struct {
	targets []*target.Target
	stats   map[int]*stats.TargetStats
}

func newReplayRegistry(infos []replay.TargetInfo) *replayRegistry {
	r := &replayRegistry{stats: make(map[int]*stats.TargetStats)}
	for _, info := range infos {
		t := target.New(info.Idx, info.Addr, info.Label, probeopts.DefaultInterval, probeopts.DefaultTimeout)
		if ip := net.ParseIP(info.Addr); ip != nil {
			_ = t.Resolve(context.Background(), staticResolver{ip}, time.Now())
		}
		r.targets = append(r.targets, t)
		r.stats[info.Idx] = stats.New(probeopts.DefaultHistorySize)
	}
	return r
}

func (r *replayRegistry) Targets() []*target.Target        { return r.targets }
func (r *replayRegistry) StatsFor(idx int) *stats.TargetStats { return r.stats[idx] }

// Publish satisfies replay.Publisher, feeding replayed outcomes into
// the same TargetStats machinery a live aggregator uses.
func (r *replayRegistry) Publish(o probeoutcome.Outcome) {
	if st := r.stats[o.TargetIdx]; st != nil {
		st.Ingest(o.Lost, o.RTT)
	}
}

// Reset satisfies replay.Publisher, clearing every target's derived
// stats before a seek re-ingests events from the start.
func (r *replayRegistry) Reset() {
	for _, st := range r.stats {
		st.Reset()
	}
}

type staticResolver struct{ ip net.IP }

func (s staticResolver) Resolve(context.Context, string) (net.IP, error) { return s.ip, nil }

func listLogsCmd(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Printf("no logs found in %s\n", dir)
		return exitOK
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	// Filenames are timestamp-ordered, so sorting descending lists
	// the newest session first.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, n := range names {
		fmt.Println(filepath.Join(dir, n))
	}
	return exitOK
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ptop/logs"
	}
	return filepath.Join(home, ".ptop", "logs")
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
