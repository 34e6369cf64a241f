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

package target

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string) (net.IP, error) {
	return nil, errors.New("no such host")
}

type okResolver struct{ ip net.IP }

func (r okResolver) Resolve(context.Context, string) (net.IP, error) { return r.ip, nil }

func TestNewDefaultsLabelToHost(t *testing.T) {
	tg := New(0, "example.com", "", time.Second, time.Second)
	assert.Equal(t, "example.com", tg.Label)
	assert.True(t, tg.Unresolved())
	assert.Nil(t, tg.IP())
}

func TestResolveSuccess(t *testing.T) {
	tg := New(0, "example.com", "", time.Second, time.Second)
	require.NoError(t, tg.Resolve(context.Background(), okResolver{ip: net.ParseIP("93.184.216.34")}, time.Now()))
	assert.False(t, tg.Unresolved())
	assert.Equal(t, "93.184.216.34", tg.IP().String())
}

func TestResolveFailureKeepsUnresolved(t *testing.T) {
	tg := New(0, "nope.invalid", "", time.Second, time.Second)
	err := tg.Resolve(context.Background(), failingResolver{}, time.Now())
	assert.Error(t, err)
	assert.True(t, tg.Unresolved())
}

func TestNeedsResolveRetryPacesAttempts(t *testing.T) {
	tg := New(0, "nope.invalid", "", time.Second, time.Second)
	start := time.Now()
	assert.True(t, tg.NeedsResolveRetry(start))
	_ = tg.Resolve(context.Background(), failingResolver{}, start)
	assert.False(t, tg.NeedsResolveRetry(start))
	assert.True(t, tg.NeedsResolveRetry(start.Add(ResolveRetryInterval+time.Second)))
}

func TestResolveRecordsProvidedNowNotWallClock(t *testing.T) {
	tg := New(0, "nope.invalid", "", time.Second, time.Second)
	fakeNow := time.Now().Add(-24 * time.Hour)
	_ = tg.Resolve(context.Background(), failingResolver{}, fakeNow)
	assert.False(t, tg.NeedsResolveRetry(fakeNow))
	assert.True(t, tg.NeedsResolveRetry(fakeNow.Add(ResolveRetryInterval+time.Second)))
}

func TestNextSeqWrapsAt16Bits(t *testing.T) {
	tg := New(0, "example.com", "", time.Second, time.Second)
	tg.nextSeq = 65535
	first := tg.NextSeq()
	second := tg.NextSeq()
	assert.Equal(t, uint16(65535), first)
	assert.Equal(t, uint16(0), second)
}

func TestLiteralIPShortcut(t *testing.T) {
	r := NewResolver()
	ip, err := r.Resolve(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip.String())
}
