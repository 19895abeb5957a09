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

package layers

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rampPayload() []byte {
	payload := make([]byte, SDDSPayloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	return payload
}

func serialize(t *testing.T, s *SDDS, payload []byte) []byte {
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, s, gopacket.Payload(payload))
	require.NoError(t, err)
	return buf.Bytes()
}

func TestSDDSSerializeDecode(t *testing.T) {
	s := &SDDS{
		StandardFormat: true,
		OriginalFormat: true,
		DataMode:       5,
		Complex:        true,
		Seq:            0x1234,
		TTV:            true,
		MsPtr:          0x3ff,
		MsDelta:        7,
		TimeTag:        123456789012,
		TimeTagExt:     0xdeadbeef,
		DFDT:           -5,
	}
	s.SetBitsPerSample(16)
	s.SetSampleRate(2.5e6)

	data := serialize(t, s, rampPayload())
	require.Len(t, data, SDDSPacketSize)

	// format word: SF, OF, DM=5, CX, BPS=16
	assert.Equal(t, []byte{0x95, 0x90}, data[0:2])
	assert.Equal(t, []byte{0x12, 0x34}, data[2:4])
	assert.Equal(t, []byte{0x43, 0xff}, data[4:6])

	decoded := &SDDS{}
	require.NoError(t, decoded.DecodeFromBytes(data, gopacket.NilDecodeFeedback))
	assert.True(t, decoded.StandardFormat)
	assert.False(t, decoded.StartOfSequence)
	assert.True(t, decoded.OriginalFormat)
	assert.Equal(t, uint8(5), decoded.DataMode)
	assert.True(t, decoded.Complex)
	assert.Equal(t, 16, decoded.BitsPerSample())
	assert.Equal(t, uint16(0x1234), decoded.Seq)
	assert.True(t, decoded.TTV)
	assert.False(t, decoded.MSV)
	assert.Equal(t, uint16(0x3ff), decoded.MsPtr)
	assert.Equal(t, uint16(7), decoded.MsDelta)
	assert.Equal(t, uint64(123456789012), decoded.TimeTag)
	assert.Equal(t, uint32(0xdeadbeef), decoded.TimeTagExt)
	assert.Equal(t, int32(-5), decoded.DFDT)
	assert.InDelta(t, 2.5e6, decoded.SampleRate(), 1e-6)
	assert.Equal(t, rampPayload(), decoded.Payload)
	assert.Len(t, decoded.Contents, SDDSHeaderSize)
}

func TestSDDSNewPacket(t *testing.T) {
	s := &SDDS{Seq: 9, TTV: true}
	s.SetBitsPerSample(8)
	data := serialize(t, s, rampPayload())

	packet := gopacket.NewPacket(data, SDDSLayerType, gopacket.NoCopy)
	layer := packet.Layer(SDDSLayerType)
	require.NotNil(t, layer)
	assert.Equal(t, uint16(9), layer.(*SDDS).Seq)
	require.NotNil(t, packet.ApplicationLayer())
	assert.Len(t, packet.ApplicationLayer().Payload(), SDDSPayloadSize)
}

func TestSDDSTruncated(t *testing.T) {
	s := &SDDS{}
	err := s.DecodeFromBytes(make([]byte, 100), gopacket.NilDecodeFeedback)
	require.Error(t, err)
	assert.Equal(t, ErrSDDSTooShort{Length: 100}, err)

	packet := gopacket.NewPacket(make([]byte, 100), SDDSLayerType, gopacket.NoCopy)
	assert.NotNil(t, packet.ErrorLayer())
}

func TestSDDSTooLong(t *testing.T) {
	s := &SDDS{}
	err := s.DecodeFromBytes(make([]byte, 1500), gopacket.NilDecodeFeedback)
	require.Error(t, err)
	assert.Equal(t, ErrSDDSTooLong{Length: 1500}, err)

	err = s.DecodeFromBytes(make([]byte, SDDSPacketSize+1), gopacket.NilDecodeFeedback)
	assert.Equal(t, ErrSDDSTooLong{Length: SDDSPacketSize + 1}, err)
}

func TestSDDSPayloadSize(t *testing.T) {
	s := &SDDS{}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, s, gopacket.Payload(make([]byte, 10)))
	assert.Equal(t, ErrSDDSPayloadSize{Length: 10}, err)

	short := []byte{1, 2, 3}
	buf = gopacket.NewSerializeBuffer()
	err = gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, s, gopacket.Payload(short))
	require.NoError(t, err)
	require.Len(t, buf.Bytes(), SDDSPacketSize)
	assert.Equal(t, short, buf.Bytes()[SDDSHeaderSize:SDDSHeaderSize+3])
	assert.Equal(t, byte(0), buf.Bytes()[SDDSPacketSize-1])
}

func TestBitsPerSample(t *testing.T) {
	s := &SDDS{BPS: 31}
	assert.Equal(t, 32, s.BitsPerSample())
	s.SetBitsPerSample(32)
	assert.Equal(t, uint8(31), s.BPS)
	s.SetBitsPerSample(8)
	assert.Equal(t, 8, s.BitsPerSample())
}

func TestSamplesPerPacket(t *testing.T) {
	assert.Equal(t, 1024, SamplesPerPacket(8, false))
	assert.Equal(t, 512, SamplesPerPacket(16, false))
	assert.Equal(t, 256, SamplesPerPacket(16, true))
	assert.Equal(t, 256, SamplesPerPacket(32, false))
	assert.Equal(t, 0, SamplesPerPacket(0, false))
}

func TestSampleRate(t *testing.T) {
	s := &SDDS{Freq: 73786976294838206}
	assert.InDelta(t, 1e6, s.SampleRate(), 1e-3)

	s.SetSampleRate(3.2e6)
	assert.InDelta(t, 3.2e6, s.SampleRate(), 1e-3)
	assert.Equal(t, int64(0), FreqFromRate(0))
}

func TestChecksumSlots(t *testing.T) {
	assert.True(t, IsChecksumSlot(31))
	assert.True(t, IsChecksumSlot(63))
	assert.True(t, IsChecksumSlot(65535))
	assert.False(t, IsChecksumSlot(32))

	assert.Equal(t, uint16(1), NextSeq(0))
	assert.Equal(t, uint16(32), NextSeq(30))
	assert.Equal(t, uint16(64), NextSeq(62))
	assert.Equal(t, uint16(0), NextSeq(65534))

	// never lands on a checksum slot over a full wrap
	seq := uint16(0)
	for i := 0; i < 70000; i++ {
		seq = NextSeq(seq)
		require.False(t, IsChecksumSlot(seq), "seq %d", seq)
	}
}
