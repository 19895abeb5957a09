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

// Package shooter sends synthetic SDDS traffic
package shooter

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"

	"jinr.ru/greenlab/go-sdds/pkg/layers"
	"jinr.ru/greenlab/go-sdds/pkg/log"
)

const (
	DefaultSampleRate    = 1e6
	DefaultBitsPerSample = 16
)

type Config struct {
	Address string
	Port    int
	// PacketRate is packets per second, zero sends as fast as possible
	PacketRate float64
	// SampleRate is the declared sample rate
	SampleRate    float64
	BitsPerSample int
	Complex       bool
	// Count of packets to send, zero sends until the context is done
	Count int
	// TTVTogglePeriod flips the time tag valid flag every that many packets
	TTVTogglePeriod int
	// NonConforming advances the time tags as if the true rate was twice the declared one
	NonConforming bool
	StartSeq      uint16
	// Start is the time of the first time tag, now when zero
	Start time.Time
}

// ErrInvalidShooterConfig returned by NewShooter
type ErrInvalidShooterConfig struct {
	What string
}

func (e ErrInvalidShooterConfig) Error() string {
	return fmt.Sprintf("Invalid shooter config: %s", e.What)
}

type Shooter struct {
	cfg     Config
	conn    *net.UDPConn
	buf     gopacket.SerializeBuffer
	header  layers.SDDS
	payload []byte

	ticks     uint64
	fracTicks float64
	step      float64
	sent      atomic.Uint64
}

// NewShooter connects a UDP socket to the destination
func NewShooter(cfg Config) (*Shooter, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.BitsPerSample == 0 {
		cfg.BitsPerSample = DefaultBitsPerSample
	}
	switch cfg.BitsPerSample {
	case 8, 16, 32:
	default:
		return nil, ErrInvalidShooterConfig{What: fmt.Sprintf("bits per sample %d", cfg.BitsPerSample)}
	}
	if cfg.TTVTogglePeriod < 0 || cfg.Count < 0 || cfg.PacketRate < 0 {
		return nil, ErrInvalidShooterConfig{What: "negative value"}
	}
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", cfg.Address, cfg.Port))
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}

	s := &Shooter{
		cfg:     cfg,
		conn:    conn,
		buf:     gopacket.NewSerializeBuffer(),
		payload: make([]byte, layers.SDDSPayloadSize),
	}
	for i := range s.payload {
		s.payload[i] = byte(i)
	}

	s.header = layers.SDDS{
		StandardFormat: true,
		Complex:        cfg.Complex,
		Seq:            cfg.StartSeq,
		TTV:            true,
	}
	s.header.SetBitsPerSample(cfg.BitsPerSample)
	s.header.SetSampleRate(cfg.SampleRate)
	if layers.IsChecksumSlot(s.header.Seq) {
		s.header.Seq++
	}

	trueRate := cfg.SampleRate
	if cfg.NonConforming {
		trueRate *= 2
	}
	s.step = float64(layers.SamplesPerPacket(cfg.BitsPerSample, cfg.Complex)) * layers.TicksPerSecond / trueRate
	s.ticks = yearTicks(cfg.Start)
	return s, nil
}

// yearTicks converts t to 250 ps ticks since the start of its year
func yearTicks(t time.Time) uint64 {
	t = t.UTC()
	start := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	d := t.Sub(start)
	secs := uint64(d / time.Second)
	nanos := uint64(d % time.Second)
	return secs*layers.TicksPerSecond + nanos*4
}

// Next serializes the next packet and advances sequence number and time tag
func (s *Shooter) Next() ([]byte, error) {
	n := s.sent.Load()
	if s.cfg.TTVTogglePeriod > 0 {
		s.header.TTV = (n/uint64(s.cfg.TTVTogglePeriod))%2 == 0
	}
	s.header.TimeTag = s.ticks
	s.header.TimeTagExt = uint32(s.fracTicks * (1 << 32))

	if err := gopacket.SerializeLayers(s.buf, gopacket.SerializeOptions{}, &s.header, gopacket.Payload(s.payload)); err != nil {
		return nil, err
	}

	s.header.Seq = layers.NextSeq(s.header.Seq)
	whole, frac := math.Modf(s.fracTicks + s.step)
	s.ticks += uint64(whole)
	s.fracTicks = frac
	return s.buf.Bytes(), nil
}

// Run sends packets until Count is reached or the context is done
func (s *Shooter) Run(ctx context.Context) error {
	log.Info("Shooting SDDS packets to %s: rate: %g packets/s sample rate: %g bps: %d complex: %t",
		s.conn.RemoteAddr(), s.cfg.PacketRate, s.cfg.SampleRate, s.cfg.BitsPerSample, s.cfg.Complex)
	start := time.Now()
	for s.cfg.Count == 0 || int(s.sent.Load()) < s.cfg.Count {
		select {
		case <-ctx.Done():
			log.Info("Shooter stopped: %d packets sent", s.sent.Load())
			return nil
		default:
		}
		data, err := s.Next()
		if err != nil {
			return err
		}
		if _, err := s.conn.Write(data); err != nil {
			return fmt.Errorf("send packet %d: %w", s.sent.Load(), err)
		}
		sent := s.sent.Add(1)
		if s.cfg.PacketRate > 0 {
			due := start.Add(time.Duration(float64(sent) / s.cfg.PacketRate * float64(time.Second)))
			if wait := time.Until(due); wait > 0 {
				time.Sleep(wait)
			}
		}
	}
	log.Info("Shooter finished: %d packets sent", s.sent.Load())
	return nil
}

func (s *Shooter) Sent() uint64 {
	return s.sent.Load()
}

func (s *Shooter) Close() error {
	return s.conn.Close()
}
