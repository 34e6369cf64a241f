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

// Package gateway discovers the host's default IPv4 gateway, used to
// build the default target list (gateway plus well-known public
// resolvers) that is added to the -t targets when -d is on.
package gateway

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
)

// DefaultPublicTargets are probed alongside the discovered gateway
// whenever default targets are included.
var DefaultPublicTargets = []string{"1.1.1.1", "8.8.8.8", "9.9.9.9"}

// ErrNotFound is returned when no default route entry could be
// located (e.g. non-Linux, or no IPv4 default route configured).
var ErrNotFound = errors.New("gateway: default route not found")

// Discover returns the current default IPv4 gateway address by
// reading /proc/net/route, the same source the kernel's own routing
// tools use. It returns ErrNotFound if no default (destination 0) row
// exists, e.g. when the interface has no gateway configured.
func Discover() (net.IP, error) {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Scan() // header line: Iface Destination Gateway Flags ...
	for sc.Scan() {
		fields := splitFields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		dest := fields[1]
		gw := fields[2]
		if dest != "00000000" {
			continue
		}
		ip, err := hexLEToIP(gw)
		if err != nil {
			continue
		}
		return ip, nil
	}
	return nil, ErrNotFound
}

func splitFields(line string) []string {
	var fields []string
	start := -1
	for i, r := range line {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				fields = append(fields, line[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, line[start:])
	}
	return fields
}

// hexLEToIP decodes /proc/net/route's little-endian hex IPv4 address
// format (e.g. "0102A8C0" -> 192.168.2.1).
func hexLEToIP(hexLE string) (net.IP, error) {
	v, err := strconv.ParseUint(hexLE, 16, 32)
	if err != nil {
		return nil, err
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return net.IPv4(b[0], b[1], b[2], b[3]), nil
}

// DefaultTargets returns the default host list: the discovered
// default gateway (if any) followed by
// DefaultPublicTargets. Discovery failure is not fatal; the gateway
// is simply omitted.
func DefaultTargets() []string {
	hosts := make([]string, 0, 1+len(DefaultPublicTargets))
	if ip, err := Discover(); err == nil {
		hosts = append(hosts, ip.String())
	}
	return append(hosts, DefaultPublicTargets...)
}
