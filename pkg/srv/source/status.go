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

package source

import (
	"github.com/prometheus/procfs"

	"jinr.ru/greenlab/go-sdds/pkg/log"
)

// Status is the snapshot served by the API and stored in the state database
type Status struct {
	Interface              string  `json:"interface"`
	InputAddress           string  `json:"inputAddress"`
	InputPort              int     `json:"inputPort"`
	InputVlan              uint16  `json:"inputVlan"`
	BitsPerSample          int     `json:"bitsPerSample"`
	BuffersToWork          int     `json:"buffersToWork"`
	EmptyBuffersAvailable  int     `json:"emptyBuffersAvailable"`
	DroppedPackets         uint64  `json:"droppedPackets"`
	ExpectedSequenceNumber uint16  `json:"expectedSequenceNumber"`
	InputSampleRate        float64 `json:"inputSampleRate"`
	InputEndianness        string  `json:"inputEndianness"`
	TimeSlips              uint64  `json:"timeSlips"`
	InputStreamID          string  `json:"inputStreamID"`
	NonConformingDevice    bool    `json:"nonConformingDevice"`
	InvalidPackets         uint64  `json:"invalidPackets"`
	PacketsReceived        uint64  `json:"packetsReceived"`
	SenderChanges          uint64  `json:"senderChanges"`
	UdpSocketBufferQueue   uint64  `json:"udpSocketBufferQueue"`
	NumUdpSocketReaders    int     `json:"numUdpSocketReaders"`
	NumPacketsDroppedByNic uint64  `json:"numPacketsDroppedByNic"`
}

// NetStats are the kernel counters related to the attached socket
type NetStats struct {
	UdpSocketBufferQueue   uint64
	NumUdpSocketReaders    int
	NumPacketsDroppedByNic uint64
}

// NetStatsFunc reads kernel counters for the socket bound to port on iface
type NetStatsFunc func(port int, iface string) (NetStats, error)

// ReadNetStats reads /proc/net/udp and /proc/net/dev
func ReadNetStats(port int, iface string) (NetStats, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return NetStats{}, err
	}
	return readNetStats(fs, port, iface)
}

func readNetStats(fs procfs.FS, port int, iface string) (NetStats, error) {
	stats := NetStats{}
	udp, err := fs.NetUDP()
	if err != nil {
		return stats, err
	}
	for _, line := range udp {
		if line.LocalPort != uint64(port) {
			continue
		}
		stats.NumUdpSocketReaders++
		stats.UdpSocketBufferQueue += line.RxQueue
	}

	if iface == "" {
		return stats, nil
	}
	dev, err := fs.NetDev()
	if err != nil {
		return stats, err
	}
	if line, ok := dev[iface]; ok {
		stats.NumPacketsDroppedByNic = line.RxDropped
	}
	return stats, nil
}

func (s *SourceServer) Status() Status {
	rs := s.recon.Status()
	stats := s.reader.Stats()
	st := Status{
		Interface:              s.reader.Interface(),
		InputAddress:           s.attach.Address,
		InputPort:              s.attach.Port,
		InputVlan:              s.attach.Vlan,
		BitsPerSample:          rs.BitsPerSample,
		BuffersToWork:          s.pool.FullLen(),
		EmptyBuffersAvailable:  s.pool.EmptyLen(),
		DroppedPackets:         rs.DroppedPackets,
		ExpectedSequenceNumber: rs.ExpectedSequenceNumber,
		InputSampleRate:        rs.SampleRate,
		InputEndianness:        rs.Endianness,
		TimeSlips:              rs.TimeSlips,
		InputStreamID:          rs.StreamID,
		NonConformingDevice:    rs.NonConformingDevice,
		InvalidPackets:         rs.InvalidPackets,
		PacketsReceived:        stats.Packets,
		SenderChanges:          stats.SenderChanges,
	}
	if s.netStats != nil {
		ns, err := s.netStats(s.attach.Port, st.Interface)
		if err != nil {
			log.Debug("Can not read kernel network counters: %s", err)
		} else {
			st.UdpSocketBufferQueue = ns.UdpSocketBufferQueue
			st.NumUdpSocketReaders = ns.NumUdpSocketReaders
			st.NumPacketsDroppedByNic = ns.NumPacketsDroppedByNic
		}
	}
	return st
}
