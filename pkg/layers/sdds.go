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
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// SDDSLayerNum identifies the layer
	SDDSLayerNum = 2000

	SDDSHeaderSize  = 56
	SDDSPayloadSize = 1024
	SDDSPacketSize  = SDDSHeaderSize + SDDSPayloadSize

	// SDDSChecksumPeriod every 32nd frame (FSN % 32 == 31) is reserved for a checksum frame
	SDDSChecksumPeriod = 32

	// TicksPerSecond time tag resolution is 250 ps
	TicksPerSecond = 4000000000

	// bpsSentinel in the 5 bit bps field means 32 bits per sample
	bpsSentinel = 31

	// freqScale converts the frequency field to Hz: rate = freq * 125e6 / 2^63
	freqScale = (1 << 63) / 125e6
)

// SDDS is a single 1080 byte SDDS frame
type SDDS struct {
	layers.BaseLayer

	// format identifier
	StandardFormat  bool  // SF
	StartOfSequence bool  // SoS
	ParityPacket    bool  // PP
	OriginalFormat  bool  // OF
	SpectralSense   bool  // SS
	DataMode        uint8 // 3 bits
	Complex         bool  // CX
	BPS             uint8 // 5 bits, use BitsPerSample

	// Seq is the frame sequence number (FSN)
	Seq uint16

	// time tag info
	MSV     bool
	TTV     bool
	SSV     bool
	MsPtr   uint16 // 11 bits
	MsDelta uint16

	TimeTag    uint64 // 250 ps ticks since the beginning of the year
	TimeTagExt uint32 // 250 ps / 2^32 units

	DFDT int32
	Freq int64

	SSD [4]byte
	AAD [20]byte
}

var SDDSLayerType = gopacket.RegisterLayerType(SDDSLayerNum,
	gopacket.LayerTypeMetadata{Name: "SDDSLayerType", Decoder: gopacket.DecodeFunc(decodeSDDSLayer)})

// LayerType returns the type of the SDDS layer in the layer catalog
func (s *SDDS) LayerType() gopacket.LayerType {
	return SDDSLayerType
}

// CanDecode allows SDDS to be used with gopacket.DecodingLayerParser
func (s *SDDS) CanDecode() gopacket.LayerClass {
	return SDDSLayerType
}

func (s *SDDS) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

// ErrSDDSTooShort returned when a datagram is shorter than an SDDS frame
type ErrSDDSTooShort struct {
	Length int
}

func (e ErrSDDSTooShort) Error() string {
	return fmt.Sprintf("SDDS packet too short: %d bytes, must be %d", e.Length, SDDSPacketSize)
}

// ErrSDDSTooLong returned when a datagram is longer than an SDDS frame
type ErrSDDSTooLong struct {
	Length int
}

func (e ErrSDDSTooLong) Error() string {
	return fmt.Sprintf("SDDS packet too long: %d bytes, must be %d", e.Length, SDDSPacketSize)
}

// ErrSDDSPayloadSize returned when serializing a payload that does not fit an SDDS frame
type ErrSDDSPayloadSize struct {
	Length int
}

func (e ErrSDDSPayloadSize) Error() string {
	return fmt.Sprintf("Wrong SDDS payload size: %d bytes, must be %d", e.Length, SDDSPayloadSize)
}

func bit(v uint16, n uint) bool {
	return v&(1<<n) != 0
}

func setBit(v *uint16, n uint, on bool) {
	if on {
		*v |= 1 << n
	}
}

// DecodeFromBytes decodes the header of an SDDS frame. Payload is not copied.
func (s *SDDS) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < SDDSPacketSize {
		df.SetTruncated()
		return ErrSDDSTooShort{Length: len(data)}
	}
	if len(data) > SDDSPacketSize {
		return ErrSDDSTooLong{Length: len(data)}
	}

	format := binary.BigEndian.Uint16(data[0:2])
	s.StandardFormat = bit(format, 15)
	s.StartOfSequence = bit(format, 14)
	s.ParityPacket = bit(format, 13)
	s.OriginalFormat = bit(format, 12)
	s.SpectralSense = bit(format, 11)
	s.DataMode = uint8((format >> 8) & 0x7)
	s.Complex = bit(format, 7)
	s.BPS = uint8(format & 0x1f)

	s.Seq = binary.BigEndian.Uint16(data[2:4])

	ttInfo := binary.BigEndian.Uint16(data[4:6])
	s.MSV = bit(ttInfo, 15)
	s.TTV = bit(ttInfo, 14)
	s.SSV = bit(ttInfo, 13)
	s.MsPtr = ttInfo & 0x7ff
	s.MsDelta = binary.BigEndian.Uint16(data[6:8])

	s.TimeTag = binary.BigEndian.Uint64(data[8:16])
	s.TimeTagExt = binary.BigEndian.Uint32(data[16:20])
	s.DFDT = int32(binary.BigEndian.Uint32(data[20:24]))
	s.Freq = int64(binary.BigEndian.Uint64(data[24:32]))
	copy(s.SSD[:], data[32:36])
	copy(s.AAD[:], data[36:56])

	s.BaseLayer = layers.BaseLayer{
		Contents: data[:SDDSHeaderSize],
		Payload:  data[SDDSHeaderSize:SDDSPacketSize],
	}
	return nil
}

// SerializeHeader writes the 56 byte header to buf
func (s *SDDS) SerializeHeader(buf []byte) {
	var format uint16
	setBit(&format, 15, s.StandardFormat)
	setBit(&format, 14, s.StartOfSequence)
	setBit(&format, 13, s.ParityPacket)
	setBit(&format, 12, s.OriginalFormat)
	setBit(&format, 11, s.SpectralSense)
	format |= uint16(s.DataMode&0x7) << 8
	setBit(&format, 7, s.Complex)
	format |= uint16(s.BPS & 0x1f)
	binary.BigEndian.PutUint16(buf[0:2], format)

	binary.BigEndian.PutUint16(buf[2:4], s.Seq)

	var ttInfo uint16
	setBit(&ttInfo, 15, s.MSV)
	setBit(&ttInfo, 14, s.TTV)
	setBit(&ttInfo, 13, s.SSV)
	ttInfo |= s.MsPtr & 0x7ff
	binary.BigEndian.PutUint16(buf[4:6], ttInfo)
	binary.BigEndian.PutUint16(buf[6:8], s.MsDelta)

	binary.BigEndian.PutUint64(buf[8:16], s.TimeTag)
	binary.BigEndian.PutUint32(buf[16:20], s.TimeTagExt)
	binary.BigEndian.PutUint32(buf[20:24], uint32(s.DFDT))
	binary.BigEndian.PutUint64(buf[24:32], uint64(s.Freq))
	copy(buf[32:36], s.SSD[:])
	copy(buf[36:56], s.AAD[:])
}

// SerializeTo prepends the SDDS header to the payload already in the buffer.
// With FixLengths a short payload is padded with zeros.
func (s *SDDS) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	payloadLen := len(b.Bytes())
	if payloadLen > SDDSPayloadSize || (payloadLen < SDDSPayloadSize && !opts.FixLengths) {
		return ErrSDDSPayloadSize{Length: payloadLen}
	}
	if payloadLen < SDDSPayloadSize {
		pad, err := b.AppendBytes(SDDSPayloadSize - payloadLen)
		if err != nil {
			return err
		}
		for i := range pad {
			pad[i] = 0
		}
	}
	headerBytes, err := b.PrependBytes(SDDSHeaderSize)
	if err != nil {
		return err
	}
	s.SerializeHeader(headerBytes)
	return nil
}

func decodeSDDSLayer(data []byte, p gopacket.PacketBuilder) error {
	s := &SDDS{}
	if err := s.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(s)
	return p.NextDecoder(s.NextLayerType())
}

// BitsPerSample returns the sample width, the field value 31 means 32 bits
func (s *SDDS) BitsPerSample() int {
	if s.BPS == bpsSentinel {
		return 32
	}
	return int(s.BPS)
}

func (s *SDDS) SetBitsPerSample(bps int) {
	if bps >= 32 {
		s.BPS = bpsSentinel
		return
	}
	s.BPS = uint8(bps) & 0x1f
}

// SampleRate returns the declared sample rate in Hz
func (s *SDDS) SampleRate() float64 {
	return float64(s.Freq) / freqScale
}

func (s *SDDS) SetSampleRate(rate float64) {
	s.Freq = FreqFromRate(rate)
}

// FreqFromRate converts a sample rate in Hz to the frequency field value
func FreqFromRate(rate float64) int64 {
	f := math.Round(rate * freqScale)
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	if f <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(f)
}

// SamplesPerPacket returns the number of samples carried by one frame,
// a complex sample counts once.
func SamplesPerPacket(bps int, complex bool) int {
	if bps <= 0 {
		return 0
	}
	n := SDDSPayloadSize * 8 / bps
	if complex {
		n /= 2
	}
	return n
}

// IsChecksumSlot reports whether seq is reserved for a checksum frame
func IsChecksumSlot(seq uint16) bool {
	return seq%SDDSChecksumPeriod == SDDSChecksumPeriod-1
}

// NextSeq returns the sequence number following seq skipping checksum slots
func NextSeq(seq uint16) uint16 {
	seq++
	if IsChecksumSlot(seq) {
		seq++
	}
	return seq
}
