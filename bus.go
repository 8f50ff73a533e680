package clawforge

import (
	"context"
	"sync"
)

// Channel names one of the bus's fixed destination queues. Each channel has
// exactly one receiver: the component that owns it calls TakeReceiver once
// at startup.
type Channel string

const (
	ChannelScheduler  Channel = "scheduler_in"
	ChannelPlanner    Channel = "planner_in"
	ChannelExecutor   Channel = "executor_in"
	ChannelSupervisor Channel = "supervisor_in"
)

// DefaultCapacity is the bound applied to every channel's queue unless
// NewBus is given an explicit capacity. Back-pressure from a full queue is
// the bus's sole flow-control mechanism; there is no overflow or drop path
// on Send.
const DefaultCapacity = 256

// Bus is a bounded, per-destination, single-owner-receiver message bus.
// Producers call Send; exactly one consumer per Channel calls TakeReceiver
// and then ranges over the returned channel.
type Bus struct {
	mu        sync.Mutex
	queues    map[Channel]chan Message
	taken     map[Channel]bool
	capacity  int
	done      chan struct{}
	closeOnce sync.Once
}

// NewBus constructs a Bus with the four fixed channels, each buffered to
// capacity. A non-positive capacity falls back to DefaultCapacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{
		queues:   make(map[Channel]chan Message),
		taken:    make(map[Channel]bool),
		capacity: capacity,
		done:     make(chan struct{}),
	}
	for _, ch := range []Channel{ChannelScheduler, ChannelPlanner, ChannelExecutor, ChannelSupervisor} {
		b.queues[ch] = make(chan Message, capacity)
	}
	return b
}

// Send enqueues msg on ch, blocking if the queue is full until space frees,
// ctx is cancelled, or the bus is closed. Returns a *Error with KindBusClosed
// if the bus has been closed, or ctx.Err() if ctx is cancelled first.
func (b *Bus) Send(ctx context.Context, ch Channel, msg Message) error {
	b.mu.Lock()
	q, ok := b.queues[ch]
	b.mu.Unlock()
	if !ok {
		return NewError(KindBusClosed, "Bus.Send", nil)
	}
	select {
	case q <- msg:
		return nil
	case <-b.done:
		return NewError(KindBusClosed, "Bus.Send", nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TakeReceiver returns the receive side of ch's queue. It may be called
// successfully only once per channel; subsequent calls return ok == false,
// enforcing the single-owner-receiver invariant.
func (b *Bus) TakeReceiver(ch Channel) (<-chan Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[ch]
	if !ok || b.taken[ch] {
		return nil, false
	}
	b.taken[ch] = true
	return q, true
}

// Close signals every blocked and future Send to fail with KindBusClosed.
// It does not close the underlying channels, so a receiver already ranging
// over one can drain what was enqueued before observing shutdown via its
// own context.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}
