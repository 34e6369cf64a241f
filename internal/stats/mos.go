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

package stats

import "time"

// Score computes the MOS (1.0-4.5) and its letter grade from a
// simplified ITU E-model, given the mean RTT, RFC 3550 jitter (in
// microseconds), and loss percentage (0-100). When haveRTT is false
// (no replies observed yet, e.g. 100% loss), MOS is 1.0 and grade F.
func Score(meanRTT time.Duration, jitterUS float64, lossPercent float64, haveRTT bool) (mos float64, grade string) {
	if !haveRTT {
		return 1.0, gradeFor(1.0)
	}

	leff := float64(meanRTT.Microseconds())/1000.0/2.0 + (jitterUS/1000.0)*2.0

	var r float64
	if leff <= 160 {
		r = 93.2 - (leff / 40)
	} else {
		r = 93.2 - (leff-120)/10
	}
	r -= lossPercent * 2.5

	switch {
	case r < 0:
		mos = 1.0
	case r > 100:
		mos = 4.5
	default:
		mos = 1 + 0.035*r + r*(r-60)*(100-r)*7e-6
	}

	if mos < 1.0 {
		mos = 1.0
	}
	if mos > 4.5 {
		mos = 4.5
	}
	mos = roundTo(mos, 2)
	return mos, gradeFor(mos)
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int64(v*mult+0.5)) / mult
}

// gradeFor maps a MOS score to its letter grade. Thresholds are
// monotone in MOS: A >= 4.3, B >= 4.0, C >= 3.6, D >= 3.1, else F.
func gradeFor(mos float64) string {
	switch {
	case mos >= 4.3:
		return "A"
	case mos >= 4.0:
		return "B"
	case mos >= 3.6:
		return "C"
	case mos >= 3.1:
		return "D"
	default:
		return "F"
	}
}
