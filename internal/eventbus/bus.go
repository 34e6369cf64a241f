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

// Package eventbus implements the single-producer, multiple-consumer
// broadcast of ProbeOutcome events between the scheduler (or replay
// source) and its consumers (the stats aggregator, the session
// recorder). Delivery is exactly-once per subscriber and preserves
// per-target order; a slow consumer blocks the producer
// (backpressure), which is intentional: it back-propagates into the
// scheduler's catch-up behavior rather than silently dropping data.
package eventbus

import (
	"sync"

	"github.com/freeeve/ptop/internal/probeoutcome"
)

// DefaultCapacity is the bus's default bounded channel size.
const DefaultCapacity = 1024

// Bus is the only coupling between the producer and its consumers;
// no consumer holds a reference back to the producer. Closing the
// bus is how shutdown is signalled: each subscriber channel is
// closed once outstanding sends drain.
type Bus struct {
	capacity int

	mu   sync.Mutex
	subs map[chan probeoutcome.Outcome]struct{}
	done bool
}

// New constructs a Bus whose subscriber channels are buffered to
// capacity (DefaultCapacity if <= 0).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{capacity: capacity, subs: make(map[chan probeoutcome.Outcome]struct{})}
}

// Subscribe registers a new consumer and returns its channel. Call
// Unsubscribe when done to avoid blocking the producer forever.
func (b *Bus) Subscribe() <-chan probeoutcome.Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan probeoutcome.Outcome, b.capacity)
	if b.done {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan probeoutcome.Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subs {
		if c == ch {
			delete(b.subs, c)
			close(c)
			return
		}
	}
}

// Publish delivers o to every current subscriber, in the order
// called. It blocks if any subscriber's channel is full
// (backpressure); this is the only producer-facing method, matching
// the single-producer design.
func (b *Bus) Publish(o probeoutcome.Outcome) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	// Snapshot the subscriber set so a concurrent Subscribe/Unsubscribe
	// doesn't race with the fan-out below; sends still block on
	// individual channels outside the lock so one slow consumer
	// doesn't stall Subscribe/Unsubscribe for others.
	chans := make([]chan probeoutcome.Outcome, 0, len(b.subs))
	for c := range b.subs {
		chans = append(chans, c)
	}
	b.mu.Unlock()

	for _, c := range chans {
		c <- o
	}
}

// Close signals shutdown: no further Publish calls are accepted, and
// every subscriber's channel is closed once this call returns. The
// producer must stop calling Publish before or immediately after
// calling Close; Close does not drain in-flight sends.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	for c := range b.subs {
		close(c)
	}
	b.subs = make(map[chan probeoutcome.Outcome]struct{})
}

// SubscriberCount reports the current number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
