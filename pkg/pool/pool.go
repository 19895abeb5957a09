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

// Package pool implements a fixed arena of SDDS packet buffers shared between
// the network reader (producer) and the stream reconstructor (consumer).
//
// Every buffer is identified by its Slot. At any moment a slot is either in the
// empty queue, in the full queue or checked out by exactly one goroutine.
// The two queues are guarded by independent locks so the producer and the
// consumer do not contend with each other.
package pool

import (
	"net"
	"sync"
	"sync/atomic"

	"jinr.ru/greenlab/go-sdds/pkg/layers"
)

// Slot is an index into the pool arena
type Slot int

// Packet is a fixed size receive buffer
type Packet struct {
	// Data has one spare byte, a datagram longer than an SDDS frame fills it
	Data [layers.SDDSPacketSize + 1]byte
	// Len is the number of bytes received into Data
	Len int
	// Addr is the sender of the datagram
	Addr net.Addr
}

// Bytes returns the received part of the buffer
func (p *Packet) Bytes() []byte {
	return p.Data[:p.Len]
}

// slotQueue is a FIFO ring of slots with its own lock and condition variable
type slotQueue struct {
	mu   sync.Mutex
	cond *sync.Cond
	ring []Slot
	head int
	size int
	done bool
}

func newSlotQueue(capacity int) *slotQueue {
	q := &slotQueue{ring: make([]Slot, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// put must be called with q.mu held
func (q *slotQueue) put(slots []Slot) {
	for _, s := range slots {
		q.ring[(q.head+q.size)%len(q.ring)] = s
		q.size++
	}
}

// take appends up to n slots to dst, it must be called with q.mu held
func (q *slotQueue) take(dst []Slot, n int) []Slot {
	if n > q.size {
		n = q.size
	}
	if dst == nil {
		dst = make([]Slot, 0, n)
	}
	for i := 0; i < n; i++ {
		dst = append(dst, q.ring[q.head])
		q.head = (q.head + 1) % len(q.ring)
	}
	q.size -= n
	return dst
}

func (q *slotQueue) publish(slots []Slot) {
	if len(slots) == 0 {
		return
	}
	q.mu.Lock()
	q.put(slots)
	q.mu.Unlock()
	q.cond.Signal()
}

// acquire blocks until n slots are queued or the queue is shut down.
// After shutdown it returns whatever is available without blocking.
func (q *slotQueue) acquire(dst []Slot, n int) []Slot {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size < n && !q.done {
		q.cond.Wait()
	}
	return q.take(dst, n)
}

func (q *slotQueue) shutdown() {
	q.mu.Lock()
	q.done = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *slotQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

type Pool struct {
	packets     []Packet
	empty       *slotQueue
	full        *slotQueue
	initialized atomic.Bool
	shutdown    atomic.Bool
	initOnce    sync.Mutex
}

func New() *Pool {
	return &Pool{}
}

// Initialize allocates capacity buffers into the empty queue.
// It may be called only once per pool.
func (p *Pool) Initialize(capacity int) error {
	if capacity <= 0 {
		return ErrInvalidCount{Count: capacity}
	}
	p.initOnce.Lock()
	defer p.initOnce.Unlock()
	if p.initialized.Load() {
		return ErrAlreadyInitialized{}
	}
	p.packets = make([]Packet, capacity)
	p.empty = newSlotQueue(capacity)
	p.full = newSlotQueue(capacity)
	slots := make([]Slot, capacity)
	for i := range slots {
		slots[i] = Slot(i)
	}
	p.empty.put(slots)
	if p.shutdown.Load() {
		p.empty.done = true
		p.full.done = true
	}
	p.initialized.Store(true)
	return nil
}

func (p *Pool) check(n int) error {
	if !p.initialized.Load() {
		return ErrNotInitialized{}
	}
	if n <= 0 || n > len(p.packets) {
		return ErrInvalidCount{Count: n}
	}
	return nil
}

// AcquireEmpty blocks until n empty buffers are available and checks them out.
// Once the pool is shut down it returns the available buffers, possibly none, without blocking.
func (p *Pool) AcquireEmpty(n int) ([]Slot, error) {
	if err := p.check(n); err != nil {
		return nil, err
	}
	return p.empty.acquire(nil, n), nil
}

// AcquireEmptyInto is AcquireEmpty appending to dst. It does not allocate when dst has room for n more slots.
func (p *Pool) AcquireEmptyInto(dst []Slot, n int) ([]Slot, error) {
	if err := p.check(n); err != nil {
		return dst, err
	}
	return p.empty.acquire(dst, n), nil
}

// AcquireFull blocks until n filled buffers are available and checks them out.
// Once the pool is shut down it returns the available buffers, possibly none, without blocking.
func (p *Pool) AcquireFull(n int) ([]Slot, error) {
	if err := p.check(n); err != nil {
		return nil, err
	}
	return p.full.acquire(nil, n), nil
}

// PublishFull hands filled buffers over to the consumer
func (p *Pool) PublishFull(slots []Slot) {
	p.full.publish(slots)
}

// RecycleEmpty returns consumed buffers to the producer
func (p *Pool) RecycleEmpty(slots []Slot) {
	p.empty.publish(slots)
}

// Shutdown wakes every waiter. It is idempotent and may be called from any goroutine.
func (p *Pool) Shutdown() {
	p.initOnce.Lock()
	defer p.initOnce.Unlock()
	if p.shutdown.Swap(true) {
		return
	}
	if p.initialized.Load() {
		p.empty.shutdown()
		p.full.shutdown()
	}
}

func (p *Pool) IsShuttingDown() bool {
	return p.shutdown.Load()
}

// Packet returns the buffer of a checked out slot
func (p *Pool) Packet(s Slot) *Packet {
	return &p.packets[s]
}

func (p *Pool) Capacity() int {
	return len(p.packets)
}

// EmptyLen returns the number of buffers waiting to be filled
func (p *Pool) EmptyLen() int {
	if !p.initialized.Load() {
		return 0
	}
	return p.empty.len()
}

// FullLen returns the number of buffers waiting to be processed
func (p *Pool) FullLen() int {
	if !p.initialized.Load() {
		return 0
	}
	return p.full.len()
}
