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

// Package icmptransport sends ICMPv4/ICMPv6 echo requests and
// delivers matched echo replies. It does no per-target timeout
// tracking or retry; that is the scheduler's job (see
// internal/scheduler). One raw socket is opened per address family
// and shared across all targets.
package icmptransport

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/freeeve/ptop/internal/perrs"
	"github.com/freeeve/ptop/internal/plog"
)

// Reply is a matched inbound echo reply, keyed for the scheduler to
// look up its own per-target outstanding-request map by (Source,
// Seq). Identifier is included for callers that want to double
// check it, though the transport has already filtered on it.
type Reply struct {
	Identifier uint16
	Seq        uint16
	Source     net.IP
	RecvTime   time.Time
}

// Transport is the capability set the scheduler depends on. The
// replay source does not implement it: it stands in for the
// scheduler and transport together, publishing recorded outcomes
// directly (see internal/replay).
type Transport interface {
	// Send enqueues an echo request to dst and returns the monotonic
	// dispatch timestamp.
	Send(dst net.IP, seq uint16) (time.Time, error)

	// PollReplies drains matched echo replies that arrive before
	// deadline. It may return fewer than are eventually available and
	// is always safe to call again.
	PollReplies(deadline time.Time) ([]Reply, error)

	Close() error
}

// icmpTransport is the production Transport backed by raw ICMP
// sockets opened via golang.org/x/net/icmp.
type icmpTransport struct {
	log *plog.Logger
	id  uint16

	conn4 *icmp.PacketConn
	conn6 *icmp.PacketConn

	replCh chan Reply
	done   chan struct{}
	closed atomic.Bool

	wg sync.WaitGroup
}

// New opens the raw ICMPv4 socket (required) and the raw ICMPv6
// socket (best effort). It returns perrs.ErrSocketUnavailable when
// the IPv4 socket cannot be opened due to missing privileges.
func New(log *plog.Logger) (Transport, error) {
	id, err := newIdentifier()
	if err != nil {
		return nil, fmt.Errorf("generate echo identifier: %w", err)
	}

	conn4, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		if isPrivilegeErr(err) {
			return nil, fmt.Errorf("%w: %v (try: setcap cap_net_raw+ep <binary>, or run as root)", perrs.ErrSocketUnavailable, err)
		}
		return nil, fmt.Errorf("open icmpv4 socket: %w", err)
	}

	conn6, err := icmp.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		log.Warningf("icmptransport: IPv6 raw socket unavailable, IPv6 targets will not be probed: %v", err)
		conn6 = nil
	}

	tr := &icmpTransport{
		log:    log,
		id:     id,
		conn4:  conn4,
		conn6:  conn6,
		replCh: make(chan Reply, 1024),
		done:   make(chan struct{}),
	}

	tr.wg.Add(1)
	go tr.recvLoop(conn4, true)
	if conn6 != nil {
		tr.wg.Add(1)
		go tr.recvLoop(conn6, false)
	}
	return tr, nil
}

func newIdentifier() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	salt := binary.BigEndian.Uint16(b[:])
	return uint16(os.Getpid()) ^ salt, nil
}

func isPrivilegeErr(err error) bool {
	return errors.Is(err, os.ErrPermission)
}

// Send marshals and transmits an echo request. The dispatch payload
// carries the send timestamp as an 8-byte advisory stamp; matching
// itself is by identifier+sequence, never the payload.
func (t *icmpTransport) Send(dst net.IP, seq uint16) (time.Time, error) {
	isV4 := dst.To4() != nil

	var payload [8]byte
	now := time.Now()
	binary.BigEndian.PutUint64(payload[:], uint64(now.UnixMicro()))

	var msgType icmp.Type
	var conn *icmp.PacketConn
	if isV4 {
		msgType = ipv4.ICMPTypeEcho
		conn = t.conn4
	} else {
		msgType = ipv6.ICMPTypeEchoRequest
		conn = t.conn6
	}
	if conn == nil {
		return time.Time{}, fmt.Errorf("icmptransport: no socket for address family of %s", dst)
	}

	msg := icmp.Message{
		Type: msgType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(t.id),
			Seq:  int(seq),
			Data: payload[:],
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("marshal echo request: %w", err)
	}

	dispatch := time.Now()
	var addr net.Addr = &net.IPAddr{IP: dst}
	if _, err := conn.WriteTo(wb, addr); err != nil {
		return dispatch, err
	}
	return dispatch, nil
}

// PollReplies waits for replies until deadline, returning whatever
// has been matched so far. It never blocks past deadline.
func (t *icmpTransport) PollReplies(deadline time.Time) ([]Reply, error) {
	var out []Reply
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return out, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case r := <-t.replCh:
			timer.Stop()
			out = append(out, r)
		case <-timer.C:
			return out, nil
		case <-t.done:
			timer.Stop()
			return out, net.ErrClosed
		}
	}
}

// recvLoop continuously reads inbound ICMP packets on conn and
// pushes matched echo replies onto replCh. Unmatched packets
// (foreign identifier, wrong type, parse failure) are dropped
// silently, per the transport contract.
func (t *icmpTransport) recvLoop(conn *icmp.PacketConn, v4 bool) {
	defer t.wg.Done()
	proto := 58 // ICMPv6
	if v4 {
		proto = 1 // ICMPv4
	}
	buf := make([]byte, 1500)
	for {
		select {
		case <-t.done:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if t.closed.Load() {
				return
			}
			continue // timeout or transient read error; loop and recheck done
		}
		recvTime := time.Now()
		rm, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil {
			continue
		}
		wantType := ipv4.ICMPTypeEchoReply
		if !v4 {
			if rm.Type != ipv6.ICMPTypeEchoReply {
				continue
			}
		} else if rm.Type != wantType {
			continue
		}
		echo, ok := rm.Body.(*icmp.Echo)
		if !ok {
			continue
		}
		if uint16(echo.ID) != t.id {
			continue
		}
		var ip net.IP
		switch a := peer.(type) {
		case *net.IPAddr:
			ip = a.IP
		case *net.UDPAddr:
			ip = a.IP
		}
		reply := Reply{Identifier: uint16(echo.ID), Seq: uint16(echo.Seq), Source: ip, RecvTime: recvTime}
		select {
		case t.replCh <- reply:
		case <-t.done:
			return
		}
	}
}

func (t *icmpTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.done)
	var err error
	if t.conn4 != nil {
		if e := t.conn4.Close(); e != nil {
			err = e
		}
	}
	if t.conn6 != nil {
		if e := t.conn6.Close(); e != nil {
			err = e
		}
	}
	t.wg.Wait()
	return err
}
