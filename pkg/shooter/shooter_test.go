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

package shooter

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-sdds/pkg/layers"
)

func decode(t *testing.T, data []byte) *layers.SDDS {
	h := &layers.SDDS{}
	require.NoError(t, h.DecodeFromBytes(data, gopacket.NilDecodeFeedback))
	return h
}

func newTestShooter(t *testing.T, cfg Config) *Shooter {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1"
		cfg.Port = 9
	}
	s, err := NewShooter(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNextSkipsChecksumSlots(t *testing.T) {
	s := newTestShooter(t, Config{StartSeq: 29})

	var seqs []uint16
	for i := 0; i < 4; i++ {
		data, err := s.Next()
		require.NoError(t, err)
		require.Len(t, data, layers.SDDSPacketSize)
		seqs = append(seqs, decode(t, data).Seq)
	}
	assert.Equal(t, []uint16{29, 30, 32, 33}, seqs)
}

func TestNextAdvancesTimeTag(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 10, 0, time.UTC)
	s := newTestShooter(t, Config{SampleRate: 1e6, BitsPerSample: 16, Start: start})

	data, err := s.Next()
	require.NoError(t, err)
	first := decode(t, data)
	data, err = s.Next()
	require.NoError(t, err)
	second := decode(t, data)

	assert.Equal(t, uint64(10*layers.TicksPerSecond), first.TimeTag)
	// 512 samples at 1 MHz
	assert.Equal(t, uint64(2048000), second.TimeTag-first.TimeTag)
	assert.InDelta(t, 1e6, second.SampleRate(), 1e-6)
	assert.Equal(t, 16, second.BitsPerSample())
	assert.True(t, second.TTV)
}

func TestNextNonConforming(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	s := newTestShooter(t, Config{SampleRate: 1e6, Complex: true, NonConforming: true, Start: start})

	data, err := s.Next()
	require.NoError(t, err)
	first := decode(t, data)
	data, err = s.Next()
	require.NoError(t, err)
	second := decode(t, data)

	// 256 complex samples at a true rate of 2 MHz
	assert.Equal(t, uint64(512000), second.TimeTag-first.TimeTag)
	assert.True(t, second.Complex)
}

func TestNextFractionalTicks(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	// 512 samples at 3 MHz is 682666.67 ticks
	s := newTestShooter(t, Config{SampleRate: 3e6, Start: start})

	var last *layers.SDDS
	for i := 0; i < 4; i++ {
		data, err := s.Next()
		require.NoError(t, err)
		last = decode(t, data)
	}
	elapsed := float64(last.TimeTag) + float64(last.TimeTagExt)/(1<<32)
	assert.InDelta(t, 3*512/3e6*layers.TicksPerSecond, elapsed, 1e-3)
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewShooter(Config{Address: "127.0.0.1", Port: 9, BitsPerSample: 12})
	assert.Equal(t, ErrInvalidShooterConfig{What: "bits per sample 12"}, err)
}

func listen(t *testing.T) (*net.UDPConn, int) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func TestRunSendsCount(t *testing.T) {
	conn, port := listen(t)

	s := newTestShooter(t, Config{Address: "127.0.0.1", Port: port, Count: 20, TTVTogglePeriod: 5})
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, uint64(20), s.Sent())

	buf := make([]byte, 2048)
	var ttv []bool
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 20; i++ {
		n, _, err := conn.ReadFrom(buf)
		require.NoError(t, err)
		require.Equal(t, layers.SDDSPacketSize, n)
		ttv = append(ttv, decode(t, buf[:n]).TTV)
	}
	assert.Equal(t, []bool{true, true, true, true, true, false, false, false, false, false}, ttv[:10])
	assert.True(t, ttv[10])
}

func TestRunStopsOnContext(t *testing.T) {
	_, port := listen(t)
	s := newTestShooter(t, Config{Address: "127.0.0.1", Port: port, PacketRate: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shooter did not stop")
	}
	assert.Greater(t, s.Sent(), uint64(0))
}
