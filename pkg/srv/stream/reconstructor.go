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

// Package stream turns SDDS packets taken from the packet pool into a
// continuous, time stamped sample stream.
//
// Per packet the reconstructor validates the sequence number, tracks the time
// tag valid flag, merges stream metadata, checks the time tag against the
// expected sample period and appends the payload to the current block.
// Recovery never stops the stream: gaps resync, time slips are counted.
package stream

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/uuid"

	"jinr.ru/greenlab/go-sdds/pkg/layers"
	"jinr.ru/greenlab/go-sdds/pkg/log"
	"jinr.ru/greenlab/go-sdds/pkg/pool"
)

const DefaultPacketsPerBlock = 500

type syncState int

const (
	stateAwaitingSync syncState = iota
	stateStreaming
)

// stepResult tells ProcessBatch what to do with the packet at the front of the batch
type stepResult int

const (
	// stepContinue the packet is consumed
	stepContinue stepResult = iota
	// stepFlushAndRefill output was flushed at a boundary, the same packet is processed again
	stepFlushAndRefill
	// stepResync the sequence broke, the same packet seeds the next run
	stepResync
)

// maxSteps bounds how many times one packet can be stepped
const maxSteps = 8

type Settings struct {
	PacketsPerBlock int
	// BatchSize is the number of full buffers taken from the pool at once,
	// PacketsPerBlock when zero
	BatchSize int
	WaitOnTTV bool
	PushOnTTV bool
	ByteOrder ByteOrder
	// StreamID of the output stream, a random id is used when empty
	StreamID string
}

// Status is a snapshot of the reconstructor counters
type Status struct {
	BitsPerSample          int     `json:"bitsPerSample"`
	DroppedPackets         uint64  `json:"droppedPackets"`
	ExpectedSequenceNumber uint16  `json:"expectedSequenceNumber"`
	SampleRate             float64 `json:"sampleRate"`
	Endianness             string  `json:"endianness"`
	TimeSlips              uint64  `json:"timeSlips"`
	StreamID               string  `json:"streamID"`
	NonConformingDevice    bool    `json:"nonConformingDevice"`
	InvalidPackets         uint64  `json:"invalidPackets"`
	PacketsProcessed       uint64  `json:"packetsProcessed"`
	BlocksPushed           uint64  `json:"blocksPushed"`
	MetadataPushes         uint64  `json:"metadataPushes"`
}

// pending holds changes requested by other goroutines
type pending struct {
	metadataSet bool
	metadata    *StreamMetadata
	byteOrder   *ByteOrder
}

type Reconstructor struct {
	sink         Sink
	pktsPerBlock int
	batchSize    int

	waitOnTTV atomic.Bool
	pushOnTTV atomic.Bool

	// pendingMu guards pending, hasPending avoids taking the lock per packet
	pendingMu  sync.Mutex
	pending    pending
	hasPending atomic.Bool

	// fields below are owned by the processing goroutine
	hdr             layers.SDDS
	state           syncState
	expectedSeq     uint16
	ttv             bool
	bps             int
	byteOrder       ByteOrder
	acc             []byte
	blockPackets    int
	blockTime       Timestamp
	lastTime        Timestamp
	haveBaseline    bool
	window          window
	errIntegral     float64
	timeBase        timeBase
	streamID        string
	metadata        StreamMetadata
	metadataValid   bool
	metadataPushed  bool
	upstream        *StreamMetadata
	upstreamChanged bool
	overrideActive  bool

	// published for Status
	dropped          atomic.Uint64
	timeSlips        atomic.Uint64
	nonConforming    atomic.Bool
	statusSeq        atomic.Uint32
	statusBps        atomic.Int32
	statusRate       atomic.Uint64
	statusByteOrder  atomic.Int32
	statusStreamID   atomic.Value
	invalidPackets   atomic.Uint64
	packetsProcessed atomic.Uint64
	blocksPushed     atomic.Uint64
	metadataPushes   atomic.Uint64
}

// NewReconstructor creates a reconstructor pushing to sink, a nil clock means the system clock
func NewReconstructor(settings Settings, sink Sink, clock Clock) *Reconstructor {
	if settings.PacketsPerBlock <= 0 {
		settings.PacketsPerBlock = DefaultPacketsPerBlock
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = settings.PacketsPerBlock
	}
	if settings.StreamID == "" {
		settings.StreamID = uuid.NewString()
	}
	if clock == nil {
		clock = RealClock{}
	}
	r := &Reconstructor{
		sink:         sink,
		pktsPerBlock: settings.PacketsPerBlock,
		batchSize:    settings.BatchSize,
		byteOrder:    settings.ByteOrder,
		acc:          make([]byte, 0, settings.PacketsPerBlock*layers.SDDSPayloadSize),
		timeBase:     timeBase{clock: clock},
		streamID:     settings.StreamID,
		metadata:     DefaultMetadata(settings.StreamID),
	}
	r.waitOnTTV.Store(settings.WaitOnTTV)
	r.pushOnTTV.Store(settings.PushOnTTV)
	r.statusByteOrder.Store(int32(settings.ByteOrder))
	r.statusStreamID.Store(settings.StreamID)
	return r
}

// Run processes batches of full buffers until the pool shuts down.
// On return the accumulated output is flushed with the end of stream flag.
func (r *Reconstructor) Run(p *pool.Pool) error {
	log.Info("Stream reconstructor started: stream: %s batch size: %d packets per block: %d",
		r.streamID, r.batchSize, r.pktsPerBlock)
	for {
		slots, err := p.AcquireFull(r.batchSize)
		if err != nil {
			return err
		}
		if len(slots) > 0 {
			r.ProcessBatch(p, slots)
			p.RecycleEmpty(slots)
			continue
		}
		if p.IsShuttingDown() {
			break
		}
	}
	r.Flush(true)
	log.Info("Stream reconstructor stopped: stream: %s", r.streamID)
	return nil
}

// ProcessBatch runs every buffer of the batch through the state machine.
// Buffers are not recycled here.
func (r *Reconstructor) ProcessBatch(p *pool.Pool, slots []pool.Slot) {
	steps := 0
	for i := 0; i < len(slots); {
		pkt := p.Packet(slots[i])
		if err := r.hdr.DecodeFromBytes(pkt.Bytes(), gopacket.NilDecodeFeedback); err != nil {
			r.invalidPackets.Add(1)
			log.Debug("Skipping invalid packet from %v: %s", pkt.Addr, err)
			i++
			continue
		}
		res := r.step(&r.hdr)
		steps++
		if res == stepContinue || steps >= maxSteps {
			if steps >= maxSteps && res != stepContinue {
				log.Error("Packet %d does not settle, skipping it", r.hdr.Seq)
			}
			i++
			steps = 0
		}
	}
}

func (r *Reconstructor) step(h *layers.SDDS) stepResult {
	r.applyPending()

	if r.waitOnTTV.Load() && !h.TTV {
		// the run is interrupted by an invalid time region, the next valid packet starts over
		r.Flush(false)
		r.state = stateAwaitingSync
		return stepContinue
	}

	if layers.IsChecksumSlot(h.Seq) || h.ParityPacket {
		// checksum frames carry no samples and are not part of the sequence
		return stepContinue
	}

	if res := r.checkSequence(h); res != stepContinue {
		return res
	}

	if r.pushOnTTV.Load() && h.TTV != r.ttv {
		r.ttv = h.TTV
		r.Flush(false)
		return stepFlushAndRefill
	}
	r.ttv = h.TTV

	if next, changed := r.mergeMetadata(h); changed {
		r.Flush(false)
		r.setMetadata(next)
		r.pushMetadata()
		r.window = newWindow(r.metadata.XDelta, r.bps, h.Complex)
		r.resetTimeBaseline()
		return stepFlushAndRefill
	}

	ts := r.timeBase.timestamp(h)
	r.checkTimeSlip(h, ts)

	if r.blockPackets == 0 {
		r.blockTime = ts
	}
	r.acc = append(r.acc, h.Payload...)
	r.blockPackets++
	r.expectedSeq = layers.NextSeq(h.Seq)
	r.statusSeq.Store(uint32(r.expectedSeq))
	r.packetsProcessed.Add(1)

	if r.blockPackets >= r.pktsPerBlock {
		r.Flush(false)
	}
	return stepContinue
}

func (r *Reconstructor) resetTimeBaseline() {
	r.haveBaseline = false
	r.errIntegral = 0
}

// checkSequence seeds the run on the first packet and detects gaps afterwards
func (r *Reconstructor) checkSequence(h *layers.SDDS) stepResult {
	bps := h.BitsPerSample()
	if r.state == stateAwaitingSync {
		r.expectedSeq = h.Seq
		r.bps = bps
		r.statusBps.Store(int32(bps))
		r.statusSeq.Store(uint32(h.Seq))
		r.resetTimeBaseline()
		r.window = newWindow(r.effectiveXDelta(h), bps, h.Complex)
		r.state = stateStreaming
		return stepContinue
	}

	if h.Seq != r.expectedSeq {
		dropped := h.Seq - r.expectedSeq
		r.dropped.Add(uint64(dropped))
		log.Warning("Sequence gap: expected %d got %d, %d packets dropped", r.expectedSeq, h.Seq, dropped)
		r.Flush(false)
		r.state = stateAwaitingSync
		return stepResync
	}

	if bps != r.bps {
		log.Info("Bits per sample changed from %d to %d", r.bps, bps)
		r.Flush(false)
		r.state = stateAwaitingSync
		return stepResync
	}
	return stepContinue
}

// effectiveXDelta is the sample period the timing window is built from
func (r *Reconstructor) effectiveXDelta(h *layers.SDDS) float64 {
	if r.overrideActive && r.upstream != nil && r.upstream.XDelta > 0 {
		return r.upstream.XDelta
	}
	rate := h.SampleRate()
	if rate <= 0 {
		return 0
	}
	xdelta := 1 / rate
	if r.nonConforming.Load() {
		xdelta /= 2
	}
	return xdelta
}

func hasKeyword(md *StreamMetadata, id string) bool {
	_, ok := md.Keyword(id)
	return ok
}

// applyPending takes changes requested by other goroutines
func (r *Reconstructor) applyPending() {
	if !r.hasPending.Load() {
		return
	}
	r.pendingMu.Lock()
	p := r.pending
	r.pending = pending{}
	r.hasPending.Store(false)
	r.pendingMu.Unlock()

	if p.byteOrder != nil {
		r.setByteOrder(*p.byteOrder)
	}
	if !p.metadataSet {
		return
	}

	r.upstream = p.metadata
	r.upstreamChanged = true
	r.overrideActive = false
	if r.upstream == nil {
		log.Info("Upstream metadata cleared")
		return
	}
	r.overrideActive = hasKeyword(r.upstream, KeywordSRIPriority)
	log.Info("Upstream metadata received: stream: %q override: %t", r.upstream.StreamID, r.overrideActive)
	if token, ok := r.upstream.Keyword(KeywordDataRef); ok {
		order, err := ParseByteOrder(token)
		if err != nil {
			log.Warning("Ignoring %s keyword: %s", KeywordDataRef, err)
		} else {
			r.setByteOrder(order)
		}
	}
}

func (r *Reconstructor) setByteOrder(order ByteOrder) {
	if order == r.byteOrder {
		return
	}
	// bytes already accumulated were received with the old order
	r.Flush(false)
	r.byteOrder = order
	r.statusByteOrder.Store(int32(order))
	log.Info("Payload byte order set to %s", order)
}

func (r *Reconstructor) deriveMetadata(h *layers.SDDS) StreamMetadata {
	md := DefaultMetadata(r.streamID)
	if up := r.upstream; up != nil {
		if r.overrideActive {
			md = *up
		}
		if up.StreamID != "" {
			md.StreamID = up.StreamID
		} else {
			md.StreamID = r.streamID
		}
		md.Keywords = up.Keywords
		if r.overrideActive {
			// fields the upstream metadata leaves unset still come from the packet
			if up.XDelta <= 0 {
				md.XDelta = r.effectiveXDelta(h)
			}
			if up.Mode != ModeReal && up.Mode != ModeComplex {
				md.Mode = packetMode(h)
			}
			return md
		}
	}
	md.XDelta = r.effectiveXDelta(h)
	md.Mode = packetMode(h)
	return md
}

func packetMode(h *layers.SDDS) int16 {
	if h.Complex {
		return ModeComplex
	}
	return ModeReal
}

// mergeMetadata recomputes the output metadata and reports whether it differs from the current one.
// Keywords are compared only after the upstream metadata was replaced.
func (r *Reconstructor) mergeMetadata(h *layers.SDDS) (StreamMetadata, bool) {
	next := r.deriveMetadata(h)
	if !r.metadataValid {
		return next, true
	}
	if !r.upstreamChanged {
		return next, !next.scalarEqual(r.metadata)
	}
	r.upstreamChanged = false
	return next, !next.Equal(r.metadata)
}

func (r *Reconstructor) setMetadata(md StreamMetadata) {
	r.metadata = md
	r.metadataValid = true
	r.metadataPushed = false
	r.statusRate.Store(math.Float64bits(md.SampleRate()))
	r.statusStreamID.Store(md.StreamID)
}

func (r *Reconstructor) pushMetadata() {
	if err := r.sink.PushMetadata(r.metadata.StreamID, r.metadata.Clone()); err != nil {
		log.Error("Error while pushing metadata for stream %s: %s", r.metadata.StreamID, err)
	}
	r.metadataPushed = true
	r.metadataPushes.Add(1)
	log.Debug("Metadata pushed: stream: %s xdelta: %g mode: %d", r.metadata.StreamID, r.metadata.XDelta, r.metadata.Mode)
}

func (r *Reconstructor) checkTimeSlip(h *layers.SDDS, ts Timestamp) {
	if !h.TTV {
		// invalid time tags break the timing chain
		r.resetTimeBaseline()
		return
	}
	if !r.haveBaseline {
		r.lastTime = ts
		r.haveBaseline = true
		return
	}
	delta := ts.Sub(r.lastTime)
	r.lastTime = ts
	if delta < 0 {
		log.Debug("Time went backwards by %g s, recomputing start of year", -delta)
		r.timeBase.recompute()
		return
	}
	if !r.window.enabled() {
		return
	}

	if !r.window.contains(delta) {
		if r.timeSlips.Load() == 0 && !r.nonConforming.Load() && h.Complex && r.window.contains(2*delta) {
			log.Warning("Packet interval %g s is half the expected %g s, treating sender as non-conforming "+
				"and doubling the sample rate", delta, r.window.ideal)
			r.nonConforming.Store(true)
			r.window = newWindow(r.window.xdelta/2, r.bps, h.Complex)
			r.errIntegral = 0
			return
		}
		r.timeSlips.Add(1)
		r.errIntegral = 0
		log.Warning("Time slip: packet %d interval %g s, expected %g s", h.Seq, delta, r.window.ideal)
		return
	}

	r.errIntegral += delta - r.window.ideal
	if math.Abs(r.errIntegral) > maxTimeError {
		r.timeSlips.Add(1)
		log.Warning("Time slip: accumulated timing error %g s at packet %d", r.errIntegral, h.Seq)
		r.errIntegral = 0
	}
}

// Flush emits the accumulated payload as a block. Without eos an empty
// accumulator is a no-op. It must be called from the processing goroutine.
func (r *Reconstructor) Flush(eos bool) {
	if len(r.acc) == 0 && !eos {
		return
	}
	if !r.metadataPushed {
		r.pushMetadata()
	}

	block := Block{
		StreamID:    r.metadata.StreamID,
		SampleWidth: r.bps,
		Timestamp:   r.blockTime,
		EOS:         eos,
	}
	if len(r.acc) > 0 {
		data, err := ToSamples(r.acc, r.bps, r.byteOrder)
		packets := r.blockPackets
		r.acc = r.acc[:0]
		r.blockPackets = 0
		if err != nil {
			log.Error("Dropping block of %d packets: %s", packets, err)
			if !eos {
				return
			}
		}
		block.Data = data
	} else {
		block.Timestamp = r.lastTime
	}

	if err := r.sink.PushBlock(block); err != nil {
		log.Error("Error while pushing block for stream %s: %s", block.StreamID, err)
	}
	r.blocksPushed.Add(1)
}

func (r *Reconstructor) SetWaitOnTTV(on bool) {
	r.waitOnTTV.Store(on)
}

func (r *Reconstructor) WaitOnTTV() bool {
	return r.waitOnTTV.Load()
}

func (r *Reconstructor) SetPushOnTTV(on bool) {
	r.pushOnTTV.Store(on)
}

func (r *Reconstructor) PushOnTTV() bool {
	return r.pushOnTTV.Load()
}

// SetByteOrder changes the payload byte order, it applies from the next packet
func (r *Reconstructor) SetByteOrder(order ByteOrder) {
	r.pendingMu.Lock()
	r.pending.byteOrder = &order
	r.hasPending.Store(true)
	r.pendingMu.Unlock()
}

// SetMetadataOverride supplies upstream metadata merged into the output stream
func (r *Reconstructor) SetMetadataOverride(md StreamMetadata) {
	c := md.Clone()
	r.pendingMu.Lock()
	r.pending.metadataSet = true
	r.pending.metadata = &c
	r.hasPending.Store(true)
	r.pendingMu.Unlock()
}

// ClearMetadataOverride drops upstream metadata, packet values apply again
func (r *Reconstructor) ClearMetadataOverride() {
	r.pendingMu.Lock()
	r.pending.metadataSet = true
	r.pending.metadata = nil
	r.hasPending.Store(true)
	r.pendingMu.Unlock()
}

func (r *Reconstructor) PacketsPerBlock() int {
	return r.pktsPerBlock
}

func (r *Reconstructor) Status() Status {
	streamID, _ := r.statusStreamID.Load().(string)
	return Status{
		BitsPerSample:          int(r.statusBps.Load()),
		DroppedPackets:         r.dropped.Load(),
		ExpectedSequenceNumber: uint16(r.statusSeq.Load()),
		SampleRate:             math.Float64frombits(r.statusRate.Load()),
		Endianness:             ByteOrder(r.statusByteOrder.Load()).String(),
		TimeSlips:              r.timeSlips.Load(),
		StreamID:               streamID,
		NonConformingDevice:    r.nonConforming.Load(),
		InvalidPackets:         r.invalidPackets.Load(),
		PacketsProcessed:       r.packetsProcessed.Load(),
		BlocksPushed:           r.blocksPushed.Load(),
		MetadataPushes:         r.metadataPushes.Load(),
	}
}
