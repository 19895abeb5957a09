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

import "fmt"

// ByteOrder of the SDDS payload
type ByteOrder int32

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

func (o ByteOrder) String() string {
	if o == LittleEndian {
		return "1234"
	}
	return "4321"
}

// ErrUnknownByteOrder returned for a byte order token other than 4321 and 1234
type ErrUnknownByteOrder struct {
	Token string
}

func (e ErrUnknownByteOrder) Error() string {
	return fmt.Sprintf("Unknown byte order %q, must be 4321 or 1234", e.Token)
}

// ErrUnsupportedBitsPerSample returned when a block can not be converted to samples
type ErrUnsupportedBitsPerSample struct {
	Bps int
}

func (e ErrUnsupportedBitsPerSample) Error() string {
	return fmt.Sprintf("Unsupported bits per sample: %d", e.Bps)
}

func ParseByteOrder(token string) (ByteOrder, error) {
	switch token {
	case "4321":
		return BigEndian, nil
	case "1234":
		return LittleEndian, nil
	}
	return BigEndian, ErrUnknownByteOrder{Token: token}
}

// Swap16 reverses the bytes of every 16 bit word in place
func Swap16(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = b[i+1], b[i]
	}
}

// Swap32 reverses the bytes of every 32 bit word in place
func Swap32(b []byte) {
	for i := 0; i+3 < len(b); i += 4 {
		b[i], b[i+1], b[i+2], b[i+3] = b[i+3], b[i+2], b[i+1], b[i]
	}
}

// ToSamples copies payload bytes into a little endian sample buffer
func ToSamples(payload []byte, bps int, order ByteOrder) ([]byte, error) {
	switch bps {
	case 8, 16, 32:
	default:
		return nil, ErrUnsupportedBitsPerSample{Bps: bps}
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	if order == LittleEndian {
		return out, nil
	}
	switch bps {
	case 16:
		Swap16(out)
	case 32:
		Swap32(out)
	}
	return out, nil
}
