package game

import (
	"runtime"
	"sync"
	"sync/atomic"

	"tileworld/internal/game/spatial"
	"tileworld/internal/protocol"
)

// InboundKind distinguishes bridge events.
type InboundKind uint8

const (
	InboundMessage InboundKind = iota + 1
	InboundConnect
	InboundDisconnect
)

// maxFullSpins is how many times a producer yields on a full ring before it
// parks until the next drain.
const maxFullSpins = 64

// Inbound is one event handed from a network goroutine to the simulation.
type Inbound struct {
	Kind    InboundKind
	Session string
	Name    string           // InboundConnect
	Outbox  Outbox           // InboundConnect
	Msg     protocol.Message // InboundMessage
}

// Bridge is the inbound queue between network goroutines (many producers)
// and the simulation (one consumer). Each session's reader goroutine pushes
// in read order and the ring preserves per-producer order, so a client's
// dig begin is always drained before its finish.
type Bridge struct {
	queue   *spatial.LockFreeQueue[Inbound]
	closed  atomic.Bool
	spins   atomic.Uint64
	parks   atomic.Uint64
	dropped atomic.Uint64
	batch   []Inbound

	mu      sync.Mutex
	waiters int
	space   chan struct{} // closed and replaced by Drain when waiters > 0
	done    chan struct{}
	once    sync.Once
}

// NewBridge creates a bridge holding up to capacity pending events.
func NewBridge(capacity int) *Bridge {
	q := spatial.NewLockFreeQueue[Inbound](capacity)
	return &Bridge{
		queue: q,
		batch: make([]Inbound, q.Cap()),
		space: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Enqueue hands an event to the simulation. When the ring is full the
// producer yields a few times, then parks until a drain frees space, so a
// slow tick slows readers down instead of losing a client's ordering.
// Returns false once the bridge is closed.
func (b *Bridge) Enqueue(in Inbound) bool {
	spins := 0
	for {
		if b.closed.Load() {
			b.dropped.Add(1)
			return false
		}
		if b.queue.TryPush(in) {
			return true
		}
		if spins < maxFullSpins {
			spins++
			b.spins.Add(1)
			runtime.Gosched()
			continue
		}

		wake := b.park()
		// A drain between the failed push and park already freed space
		if !b.closed.Load() && b.queue.TryPush(in) {
			b.unpark()
			return true
		}
		b.parks.Add(1)
		select {
		case <-wake:
		case <-b.done:
		}
		b.unpark()
	}
}

func (b *Bridge) park() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waiters++
	return b.space
}

func (b *Bridge) unpark() {
	b.mu.Lock()
	b.waiters--
	b.mu.Unlock()
}

// wakeProducers releases every parked producer.
func (b *Bridge) wakeProducers() {
	b.mu.Lock()
	if b.waiters > 0 {
		close(b.space)
		b.space = make(chan struct{})
	}
	b.mu.Unlock()
}

// Drain hands every event that was queued when the drain started to fn, in
// queue order, and returns how many it processed. It never waits.
func (b *Bridge) Drain(fn func(Inbound)) int {
	pending := b.queue.Len()
	if pending > len(b.batch) {
		pending = len(b.batch)
	}
	n := b.queue.DrainTo(b.batch[:pending])
	for i := 0; i < n; i++ {
		fn(b.batch[i])
		b.batch[i] = Inbound{}
	}
	if n > 0 {
		b.wakeProducers()
	}
	return n
}

// Close stops accepting events and releases parked producers. Pending
// events can still be drained.
func (b *Bridge) Close() {
	b.closed.Store(true)
	b.once.Do(func() { close(b.done) })
}

// Len returns the approximate number of pending events.
func (b *Bridge) Len() int {
	return b.queue.Len()
}

// Dropped returns events refused after Close.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

// FullSpins returns how often producers yielded on a full ring.
func (b *Bridge) FullSpins() uint64 {
	return b.spins.Load()
}

// Parks returns how often a producer parked waiting for a drain.
func (b *Bridge) Parks() uint64 {
	return b.parks.Load()
}
