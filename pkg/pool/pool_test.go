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

package pool

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, capacity int) *Pool {
	p := New()
	require.NoError(t, p.Initialize(capacity))
	return p
}

func TestInitialize(t *testing.T) {
	p := New()
	_, err := p.AcquireEmpty(1)
	assert.Equal(t, ErrNotInitialized{}, err)
	assert.Equal(t, ErrInvalidCount{Count: 0}, p.Initialize(0))

	require.NoError(t, p.Initialize(8))
	assert.Equal(t, ErrAlreadyInitialized{}, p.Initialize(8))
	assert.Equal(t, 8, p.Capacity())
	assert.Equal(t, 8, p.EmptyLen())
	assert.Equal(t, 0, p.FullLen())

	_, err = p.AcquireFull(9)
	assert.Equal(t, ErrInvalidCount{Count: 9}, err)
	_, err = p.AcquireEmpty(-1)
	assert.Equal(t, ErrInvalidCount{Count: -1}, err)
}

func TestFIFO(t *testing.T) {
	p := newPool(t, 4)

	slots, err := p.AcquireEmpty(4)
	require.NoError(t, err)
	assert.Equal(t, []Slot{0, 1, 2, 3}, slots)
	assert.Equal(t, 0, p.EmptyLen())

	p.PublishFull([]Slot{2, 0})
	p.PublishFull([]Slot{3})
	full, err := p.AcquireFull(3)
	require.NoError(t, err)
	assert.Equal(t, []Slot{2, 0, 3}, full)

	p.RecycleEmpty(full)
	p.RecycleEmpty([]Slot{1})
	empty, err := p.AcquireEmpty(2)
	require.NoError(t, err)
	assert.Equal(t, []Slot{2, 0}, empty)
}

func TestPacketBuffers(t *testing.T) {
	p := newPool(t, 2)
	slots, err := p.AcquireEmpty(2)
	require.NoError(t, err)

	pkt := p.Packet(slots[1])
	pkt.Data[0] = 0xab
	pkt.Len = 3
	assert.Equal(t, []byte{0xab, 0, 0}, pkt.Bytes())
	assert.NotSame(t, p.Packet(slots[0]), pkt)
	assert.Same(t, pkt, p.Packet(slots[1]))
}

func TestAcquireEmptyInto(t *testing.T) {
	p := newPool(t, 6)

	held := make([]Slot, 0, 4)
	held, err := p.AcquireEmptyInto(held, 2)
	require.NoError(t, err)
	assert.Equal(t, []Slot{0, 1}, held)
	base := &held[:1][0]

	held, err = p.AcquireEmptyInto(held, 2)
	require.NoError(t, err)
	assert.Equal(t, []Slot{0, 1, 2, 3}, held)
	assert.Same(t, base, &held[0])

	held = held[:copy(held, held[3:])]
	assert.Equal(t, []Slot{3}, held)
	held, err = p.AcquireEmptyInto(held, 2)
	require.NoError(t, err)
	assert.Equal(t, []Slot{3, 4, 5}, held)
	assert.Same(t, base, &held[0])
	assert.Zero(t, p.EmptyLen())

	allocs := testing.AllocsPerRun(10, func() {
		p.RecycleEmpty(held[1:])
		held, _ = p.AcquireEmptyInto(held[:1], 2)
	})
	assert.Zero(t, allocs)

	_, err = p.AcquireEmptyInto(held, 0)
	assert.Equal(t, ErrInvalidCount{Count: 0}, err)
}

func TestAcquireBlocksUntilPublished(t *testing.T) {
	p := newPool(t, 4)
	slots, err := p.AcquireEmpty(4)
	require.NoError(t, err)

	got := make(chan []Slot)
	go func() {
		full, _ := p.AcquireFull(3)
		got <- full
	}()

	p.PublishFull(slots[:2])
	select {
	case <-got:
		t.Fatal("acquire returned before enough buffers were published")
	case <-time.After(50 * time.Millisecond):
	}

	p.PublishFull(slots[2:3])
	select {
	case full := <-got:
		assert.Len(t, full, 3)
	case <-time.After(time.Second):
		t.Fatal("acquire did not return")
	}
}

func TestShutdownUnblocksWaiters(t *testing.T) {
	p := newPool(t, 4)
	slots, err := p.AcquireEmpty(3)
	require.NoError(t, err)
	p.PublishFull(slots[:1])

	var wg sync.WaitGroup
	results := make(chan int, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		full, _ := p.AcquireFull(4)
		results <- len(full)
	}()
	go func() {
		defer wg.Done()
		empty, _ := p.AcquireEmpty(4)
		results <- len(empty)
	}()

	time.Sleep(20 * time.Millisecond)
	p.Shutdown()
	p.Shutdown()
	wg.Wait()
	close(results)

	var lens []int
	for n := range results {
		lens = append(lens, n)
	}
	assert.ElementsMatch(t, []int{1, 1}, lens)
	assert.True(t, p.IsShuttingDown())

	// after shutdown acquire never blocks
	empty, err := p.AcquireEmpty(4)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestShutdownBeforeInitialize(t *testing.T) {
	p := New()
	p.Shutdown()
	require.NoError(t, p.Initialize(2))
	full, err := p.AcquireFull(2)
	require.NoError(t, err)
	assert.Empty(t, full)
}

// Buffers are never duplicated nor lost while a producer and a consumer
// move them around concurrently.
func TestOwnershipInvariant(t *testing.T) {
	const capacity = 64
	p := newPool(t, capacity)

	owners := make([]int32, capacity)
	var violations int32
	own := func(slots []Slot) {
		for _, s := range slots {
			if !atomic.CompareAndSwapInt32(&owners[s], 0, 1) {
				atomic.AddInt32(&violations, 1)
			}
		}
	}
	release := func(slots []Slot) {
		for _, s := range slots {
			atomic.StoreInt32(&owners[s], 0)
		}
	}

	var wg sync.WaitGroup
	var produced, consumed int64
	wg.Add(2)
	go func() {
		defer wg.Done()
		r := rand.New(rand.NewSource(1))
		for !p.IsShuttingDown() {
			slots, _ := p.AcquireEmpty(1 + r.Intn(8))
			own(slots)
			release(slots)
			atomic.AddInt64(&produced, int64(len(slots)))
			p.PublishFull(slots)
		}
	}()
	go func() {
		defer wg.Done()
		r := rand.New(rand.NewSource(2))
		for !p.IsShuttingDown() {
			slots, _ := p.AcquireFull(1 + r.Intn(16))
			own(slots)
			release(slots)
			atomic.AddInt64(&consumed, int64(len(slots)))
			p.RecycleEmpty(slots)
		}
	}()

	time.Sleep(200 * time.Millisecond)
	p.Shutdown()
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&violations))
	assert.Positive(t, atomic.LoadInt64(&consumed))
	assert.Equal(t, capacity, p.EmptyLen()+p.FullLen())

	seen := make(map[Slot]bool)
	for _, s := range p.full.take(p.empty.take(nil, capacity), capacity) {
		assert.False(t, seen[s], "slot %d queued twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, capacity)
}
