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

// Package target implements the Target data model: a probed
// endpoint's identity, probe configuration, and lifecycle. Targets
// are created at startup or on explicit CLI add and are never
// destroyed during a session.
package target

import (
	"context"
	"net"
	"sync"
	"time"
)

// ResolveRetryInterval is the cadence on which an unresolved target's
// DNS lookup is retried.
const ResolveRetryInterval = 30 * time.Second

// Resolver resolves a host string to an IP address. Abstracted so
// tests can substitute a deterministic resolver.
type Resolver interface {
	Resolve(ctx context.Context, host string) (net.IP, error)
}

// netResolver resolves using the standard library, preferring an
// IPv4 address and falling back to IPv6.
type netResolver struct {
	r *net.Resolver
}

// NewResolver returns the production Resolver backed by net.Resolver.
func NewResolver() Resolver {
	return &netResolver{r: net.DefaultResolver}
}

func (n *netResolver) Resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := n.r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	var v6 net.IP
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4, nil
		}
		if v6 == nil {
			v6 = a.IP
		}
	}
	if v6 != nil {
		return v6, nil
	}
	return nil, &net.DNSError{Err: "no addresses found", Name: host}
}

// Target is a probed endpoint: a resolved address plus a display
// label, its probe interval/timeout, and lifecycle state. A Target
// is never destroyed once created; its stats can be reset but its
// identity and next sequence number survive a reset.
type Target struct {
	// Idx is this target's stable index within the session's target
	// list; ProbeOutcome.TargetIdx references it.
	Idx int

	// Host is the original DNS name or literal IP the user supplied.
	Host string

	// Label is the display name (defaults to Host).
	Label string

	Interval time.Duration
	Timeout  time.Duration

	mu         sync.Mutex
	ip         net.IP
	unresolved bool
	lastAttempt time.Time
	nextSeq    uint16
}

// New constructs a Target. It starts unresolved; call Resolve before
// probing begins.
func New(idx int, host, label string, interval, timeout time.Duration) *Target {
	if label == "" {
		label = host
	}
	return &Target{
		Idx:        idx,
		Host:       host,
		Label:      label,
		Interval:   interval,
		Timeout:    timeout,
		unresolved: true,
	}
}

// Resolve attempts to resolve the target's address, recording now as
// the attempt time regardless of outcome so NeedsResolveRetry can
// pace future attempts. Callers pass their own notion of "now" (the
// scheduler's injected clock in production, clockwork.FakeClock in
// tests) rather than Resolve reading the wall clock itself, so the
// 30s retry cadence can be driven deterministically.
func (t *Target) Resolve(ctx context.Context, r Resolver, now time.Time) error {
	ip, err := r.Resolve(ctx, t.Host)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastAttempt = now
	if err != nil {
		t.unresolved = true
		return err
	}
	t.ip = ip
	t.unresolved = false
	return nil
}

// IP returns the resolved address, or nil if the target is currently
// unresolved.
func (t *Target) IP() net.IP {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unresolved {
		return nil
	}
	return t.ip
}

// Unresolved reports whether the target currently lacks a usable
// address.
func (t *Target) Unresolved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unresolved
}

// NeedsResolveRetry reports whether enough time has passed since the
// last resolution attempt to retry an unresolved target.
func (t *Target) NeedsResolveRetry(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.unresolved {
		return false
	}
	return t.lastAttempt.IsZero() || now.Sub(t.lastAttempt) >= ResolveRetryInterval
}

// NextSeq returns the next sequence number to dispatch and advances
// the counter, wrapping at 2^16. It is owned by the scheduler and is
// NOT reset by a stats reset (the identity and its sequence cursor
// survive a user reset).
func (t *Target) NextSeq() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq := t.nextSeq
	t.nextSeq++
	return seq
}
