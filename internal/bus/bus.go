// Package bus implements the process-wide event bus described in spec.md
// §4.1: a bounded FIFO of TimelineEvents with sequential, registration-order
// fan-out to subscribers, isolating each subscriber's failures from the
// others and from the dispatch loop itself.
//
// The dispatch loop here is a single goroutine reading from a buffered Go
// channel. Where the original asyncio implementation had to poll its queue
// with a 500ms timeout to stay responsive to cancellation (asyncio.Queue has
// no cancellation-aware get), a Go select over the queue channel and a stop
// channel reacts to Stop immediately; this is a strict improvement over the
// ported behavior and is documented as such rather than silently copied.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/abi50/pida/internal/model"
)

// ErrBackpressureExceeded is returned by Publish when the bus is bounded and
// its queue is full.
var ErrBackpressureExceeded = errors.New("bus: backpressure exceeded")

// defaultCapacity is used when New is called with capacity <= 0. The spec
// allows an "unbounded" configuration; Go channels cannot be truly unbounded,
// so a large capacity approximates it (documented in SPEC_FULL.md).
const defaultCapacity = 4096

// Subscriber consumes one TimelineEvent. A returned error is logged and
// does not stop the dispatch loop or prevent later subscribers from
// receiving the same event (P9).
type Subscriber func(ctx context.Context, event model.TimelineEvent) error

// SubscriptionID identifies a registered Subscriber for Unsubscribe.
type SubscriptionID uint64

type subEntry struct {
	id SubscriptionID
	fn Subscriber
}

// Bus is a bounded, single-dispatch-loop, multi-subscriber pub/sub channel
// for TimelineEvents. It is safe for concurrent Publish calls from multiple
// producer goroutines; Subscribe/Unsubscribe are expected to be called
// before Start and after Stop, per spec.md §4.1.
type Bus struct {
	logger *slog.Logger
	queue  chan model.TimelineEvent

	mu       sync.Mutex
	subs     []subEntry
	nextSub  SubscriptionID

	running  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Bus with the given bounded capacity. capacity <= 0 uses
// defaultCapacity.
func New(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		queue:  make(chan model.TimelineEvent, capacity),
	}
}

// Subscribe registers handler and returns an id usable with Unsubscribe.
// Callers should register subscribers before Start; Subscribe is not
// required to be safe for concurrent use with an in-progress dispatch loop.
func (b *Bus) Subscribe(handler Subscriber) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	b.subs = append(b.subs, subEntry{id: id, fn: handler})
	return id
}

// Unsubscribe removes the subscriber registered under id. Unknown ids are a
// no-op.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.subs {
		if e.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues event for dispatch. It fails with
// ErrBackpressureExceeded only when the bounded queue is full; callers are
// expected to log and drop on that error (spec.md §7).
func (b *Bus) Publish(event model.TimelineEvent) error {
	select {
	case b.queue <- event:
		return nil
	default:
		return ErrBackpressureExceeded
	}
}

// Start begins the dispatch loop. Start is idempotent: calling it while
// already running is a no-op.
func (b *Bus) Start(ctx context.Context) {
	if !b.running.CompareAndSwap(false, true) {
		return
	}
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	go b.dispatchLoop(ctx)
	b.logger.Info("event bus started")
}

// Stop cancels the dispatch loop and awaits its termination. Stop is
// idempotent.
func (b *Bus) Stop() {
	if !b.running.CompareAndSwap(true, false) {
		return
	}
	close(b.stopCh)
	<-b.doneCh
	b.logger.Info("event bus stopped")
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer close(b.doneCh)
	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case event := <-b.queue:
			b.dispatch(ctx, event)
		}
	}
}

// dispatch invokes every subscriber, in registration order, sequentially,
// awaiting each before moving to the next. A subscriber failure is logged
// and skipped; later subscribers still see the event (P9).
func (b *Bus) dispatch(ctx context.Context, event model.TimelineEvent) {
	b.mu.Lock()
	subs := make([]subEntry, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, e := range subs {
		if err := e.fn(ctx, event); err != nil {
			b.logger.Warn("bus: subscriber failed",
				slog.Any("error", err),
				slog.String("event_id", event.ID),
			)
		}
	}
}

// Running reports whether the dispatch loop is active.
func (b *Bus) Running() bool { return b.running.Load() }

// SubscriberCount returns the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// PendingCount returns the number of events currently queued for dispatch.
func (b *Bus) PendingCount() int {
	return len(b.queue)
}
