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
	"encoding/binary"
	"math"
	"time"
)

const (
	ModeReal    int16 = 0
	ModeComplex int16 = 1

	// UnitsTime is the xunits value of a time series
	UnitsTime int16 = 1

	// TimeModeSDDS tags timestamps taken from SDDS time tags
	TimeModeSDDS int16 = 2

	// KeywordSRIPriority makes upstream metadata win over values derived from packets
	KeywordSRIPriority = "BULKIO_SRI_PRIORITY"
	// KeywordDataRef selects the payload byte order: 4321 big endian, 1234 little endian
	KeywordDataRef = "dataRef"
)

type Keyword struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// StreamMetadata describes the samples of an output stream
type StreamMetadata struct {
	StreamID string    `json:"streamID"`
	HVersion int32     `json:"hversion"`
	XStart   float64   `json:"xstart"`
	XDelta   float64   `json:"xdelta"`
	XUnits   int16     `json:"xunits"`
	Subsize  int32     `json:"subsize"`
	YStart   float64   `json:"ystart"`
	YDelta   float64   `json:"ydelta"`
	YUnits   int16     `json:"yunits"`
	Mode     int16     `json:"mode"`
	Blocking bool      `json:"blocking"`
	Keywords []Keyword `json:"keywords,omitempty"`
}

func DefaultMetadata(streamID string) StreamMetadata {
	return StreamMetadata{
		StreamID: streamID,
		HVersion: 1,
		XUnits:   UnitsTime,
		Mode:     ModeReal,
	}
}

// Keyword returns the value of the first keyword with the given id
func (m StreamMetadata) Keyword(id string) (string, bool) {
	for _, k := range m.Keywords {
		if k.ID == id {
			return k.Value, true
		}
	}
	return "", false
}

// Clone returns a copy that does not share the keyword slice
func (m StreamMetadata) Clone() StreamMetadata {
	c := m
	if m.Keywords != nil {
		c.Keywords = append([]Keyword(nil), m.Keywords...)
	}
	return c
}

func (m StreamMetadata) scalarEqual(o StreamMetadata) bool {
	return m.StreamID == o.StreamID &&
		m.HVersion == o.HVersion &&
		m.XStart == o.XStart &&
		m.XDelta == o.XDelta &&
		m.XUnits == o.XUnits &&
		m.Subsize == o.Subsize &&
		m.YStart == o.YStart &&
		m.YDelta == o.YDelta &&
		m.YUnits == o.YUnits &&
		m.Mode == o.Mode &&
		m.Blocking == o.Blocking
}

func (m StreamMetadata) Equal(o StreamMetadata) bool {
	if !m.scalarEqual(o) || len(m.Keywords) != len(o.Keywords) {
		return false
	}
	for i := range m.Keywords {
		if m.Keywords[i] != o.Keywords[i] {
			return false
		}
	}
	return true
}

// SampleRate returns 1/xdelta or 0 when xdelta is not set
func (m StreamMetadata) SampleRate() float64 {
	if m.XDelta <= 0 {
		return 0
	}
	return 1 / m.XDelta
}

// Timestamp is the time of the first sample of a block
type Timestamp struct {
	Valid     bool    `json:"valid"`
	Mode      int16   `json:"mode"`
	Offset    float64 `json:"offset"`
	WholeSecs float64 `json:"wholeSecs"`
	FracSecs  float64 `json:"fracSecs"`
}

// Sub returns t - o in seconds. Whole and fractional parts are subtracted
// separately to keep sub nanosecond resolution.
func (t Timestamp) Sub(o Timestamp) float64 {
	return (t.WholeSecs - o.WholeSecs) + (t.FracSecs - o.FracSecs)
}

func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t.WholeSecs), int64(math.Round(t.FracSecs*1e9))).UTC()
}

// Block is a run of samples emitted downstream. Data holds little endian samples.
type Block struct {
	StreamID    string    `json:"streamID"`
	Data        []byte    `json:"-"`
	SampleWidth int       `json:"sampleWidth"`
	Timestamp   Timestamp `json:"timestamp"`
	EOS         bool      `json:"eos"`
}

// Samples returns the number of scalar samples in the block
func (b Block) Samples() int {
	if b.SampleWidth <= 0 {
		return 0
	}
	return len(b.Data) * 8 / b.SampleWidth
}

func (b Block) Int8s() []int8 {
	out := make([]int8, len(b.Data))
	for i, v := range b.Data {
		out[i] = int8(v)
	}
	return out
}

func (b Block) Int16s() []int16 {
	out := make([]int16, len(b.Data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b.Data[2*i:]))
	}
	return out
}

func (b Block) Float32s() []float32 {
	out := make([]float32, len(b.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.Data[4*i:]))
	}
	return out
}

// Sink receives the reconstructed stream
type Sink interface {
	// PushMetadata is called before the first block of every metadata value
	PushMetadata(streamID string, md StreamMetadata) error
	PushBlock(block Block) error
}
