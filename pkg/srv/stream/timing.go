/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package stream

import (
	"time"

	"jinr.ru/greenlab/go-sdds/pkg/layers"
)

const (
	// maxTimeError is the accumulated timing error tolerated before a slip is counted
	maxTimeError = 1e-6

	extTickSeconds = 250e-12 / (1 << 32)
)

// timeBase turns SDDS time tags, which count from the start of the current year,
// into absolute timestamps
type timeBase struct {
	clock       Clock
	startOfYear int64
	lastSecs    uint64
	valid       bool
}

func (tb *timeBase) recompute() {
	now := tb.clock.Now().UTC()
	tb.startOfYear = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	tb.valid = true
}

func (tb *timeBase) timestamp(h *layers.SDDS) Timestamp {
	secs := h.TimeTag / layers.TicksPerSecond
	if !tb.valid || secs < tb.lastSecs {
		// new year
		tb.recompute()
	}
	tb.lastSecs = secs
	frac := float64(h.TimeTag%layers.TicksPerSecond)/layers.TicksPerSecond +
		float64(h.TimeTagExt)*extTickSeconds
	return Timestamp{
		Valid:     h.TTV,
		Mode:      TimeModeSDDS,
		Offset:    0,
		WholeSecs: float64(tb.startOfYear + int64(secs)),
		FracSecs:  frac,
	}
}

// window is the accepted range of time between two consecutive packets
type window struct {
	xdelta float64
	ideal  float64
	min    float64
	max    float64
}

func newWindow(xdelta float64, bps int, complex bool) window {
	n := layers.SamplesPerPacket(bps, complex)
	if xdelta <= 0 || n == 0 {
		return window{}
	}
	ideal := float64(n) * xdelta
	return window{
		xdelta: xdelta,
		ideal:  ideal,
		min:    ideal - xdelta,
		max:    ideal + xdelta,
	}
}

func (w window) enabled() bool {
	return w.ideal > 0
}

func (w window) contains(delta float64) bool {
	return delta >= w.min && delta <= w.max
}
