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
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-sdds/pkg/layers"
	"jinr.ru/greenlab/go-sdds/pkg/pool"
)

const (
	testRate = 1e6
	// 512 real 16 bit samples at 1 MHz
	idealTicks = 512 * layers.TicksPerSecond / 1000000
	// 100 s into the year
	startTicks = 100 * layers.TicksPerSecond
)

type recordingSink struct {
	mu       sync.Mutex
	metadata []StreamMetadata
	blocks   []Block
}

func (s *recordingSink) PushMetadata(streamID string, md StreamMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = append(s.metadata, md)
	return nil
}

func (s *recordingSink) PushBlock(block Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, block)
	return nil
}

func (s *recordingSink) Blocks() []Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Block(nil), s.blocks...)
}

func (s *recordingSink) Metadata() []StreamMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StreamMetadata(nil), s.metadata...)
}

// dataBlocks returns the blocks emitted before the end of stream
func (s *recordingSink) dataBlocks() []Block {
	var out []Block
	for _, b := range s.Blocks() {
		if !b.EOS {
			out = append(out, b)
		}
	}
	return out
}

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

// generator produces consecutive SDDS headers
type generator struct {
	seq     uint16
	tag     uint64
	step    uint64
	bps     int
	complex bool
	rate    float64
	ttv     bool
}

func newGenerator() *generator {
	return &generator{
		tag:  startTicks,
		step: idealTicks,
		bps:  16,
		rate: testRate,
		ttv:  true,
	}
}

func (g *generator) header() *layers.SDDS {
	h := &layers.SDDS{
		StandardFormat: true,
		Complex:        g.complex,
		Seq:            g.seq,
		TTV:            g.ttv,
		TimeTag:        g.tag,
	}
	h.SetBitsPerSample(g.bps)
	h.SetSampleRate(g.rate)
	return h
}

// next returns the header for the current position and advances the sequence and time tag
func (g *generator) next() *layers.SDDS {
	h := g.header()
	g.seq = layers.NextSeq(g.seq)
	g.tag += g.step
	return h
}

func (g *generator) take(n int) []*layers.SDDS {
	out := make([]*layers.SDDS, n)
	for i := range out {
		out[i] = g.next()
	}
	return out
}

func bigEndianRamp() []byte {
	payload := make([]byte, layers.SDDSPayloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	return payload
}

func encode(t *testing.T, h *layers.SDDS, payload []byte) []byte {
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, h, gopacket.Payload(payload))
	require.NoError(t, err)
	return buf.Bytes()
}

func newTestPool(t *testing.T, capacity int) *pool.Pool {
	p := pool.New()
	require.NoError(t, p.Initialize(capacity))
	return p
}

// fill writes the packets into empty buffers and returns their slots
func fill(t *testing.T, p *pool.Pool, packets [][]byte) []pool.Slot {
	slots, err := p.AcquireEmpty(len(packets))
	require.NoError(t, err)
	require.Len(t, slots, len(packets))
	for i, s := range slots {
		pkt := p.Packet(s)
		pkt.Len = copy(pkt.Data[:], packets[i])
	}
	return slots
}

// feed runs the headers through r in batches that fit the pool
func feed(t *testing.T, r *Reconstructor, p *pool.Pool, headers []*layers.SDDS) {
	payload := bigEndianRamp()
	for len(headers) > 0 {
		n := len(headers)
		if n > p.Capacity() {
			n = p.Capacity()
		}
		packets := make([][]byte, n)
		for i, h := range headers[:n] {
			packets[i] = encode(t, h, payload)
		}
		slots := fill(t, p, packets)
		r.ProcessBatch(p, slots)
		p.RecycleEmpty(slots)
		headers = headers[n:]
	}
}

func newTestReconstructor(settings Settings) (*Reconstructor, *recordingSink, *mockClock) {
	sink := &recordingSink{}
	clock := newMockClock()
	if settings.PacketsPerBlock == 0 {
		settings.PacketsPerBlock = 10000
	}
	return NewReconstructor(settings, sink, clock), sink, clock
}
