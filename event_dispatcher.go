package templock

import (
	"context"
	"sync"
	"sync/atomic"
)

// EventDispatcher moves lock events off the caller's goroutine into an
// EventSink. Its Handler is a LockHandler that never fails.
//
// The queue holds at most one pending event per item. A lock event for an
// item that is still queued replaces the queued one in place: the newer lock
// overwrote the older in storage, so the sink only needs the latest. Each
// replacement bumps Coalesced and keeps the item's original queue position.
type EventDispatcher struct {
	cfg  EventsConfig
	sink EventSink

	mu     sync.Mutex
	queue  []*queuedEvent
	byItem map[string]*queuedEvent
	closed bool

	ready chan struct{}
	room  chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup

	dropped   atomic.Uint64
	coalesced atomic.Uint64
	closeOnce sync.Once
}

type queuedEvent struct {
	event LockEvent
}

// NewEventDispatcher starts a dispatcher goroutine. It returns nil when
// cfg.Enabled is false; a nil dispatcher accepts and drops everything.
func NewEventDispatcher(cfg EventsConfig, sink EventSink) *EventDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &EventDispatcher{
		cfg:    cfg,
		sink:   sink,
		queue:  make([]*queuedEvent, 0, cfg.BufferSize),
		byItem: make(map[string]*queuedEvent, cfg.BufferSize),
		ready:  make(chan struct{}, 1),
		room:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *EventDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ready:
			d.drain()
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *EventDispatcher) drain() {
	for {
		event, ok := d.pop()
		if !ok {
			return
		}
		d.sink.Emit(context.Background(), event)
	}
}

func (d *EventDispatcher) pop() (LockEvent, bool) {
	d.mu.Lock()
	if len(d.queue) == 0 {
		d.mu.Unlock()
		return LockEvent{}, false
	}
	q := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	if d.byItem[q.event.Item] == q {
		delete(d.byItem, q.event.Item)
	}
	d.mu.Unlock()

	signal(d.room)
	return q.event, true
}

// Emit queues event, or replaces the pending event for the same item. With
// DropIfFull a full buffer drops the event and bumps Dropped; otherwise Emit
// waits for room, ctx, or Close.
func (d *EventDispatcher) Emit(ctx context.Context, event LockEvent) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return
		}
		if q, ok := d.byItem[event.Item]; ok {
			q.event = event
			d.mu.Unlock()
			d.coalesced.Add(1)
			return
		}
		if len(d.queue) < d.cfg.BufferSize {
			q := &queuedEvent{event: event}
			d.queue = append(d.queue, q)
			d.byItem[event.Item] = q
			d.mu.Unlock()
			signal(d.ready)
			return
		}
		d.mu.Unlock()

		if d.cfg.DropIfFull {
			d.dropped.Add(1)
			return
		}
		select {
		case <-d.room:
		case <-ctx.Done():
			return
		case <-d.done:
			return
		}
	}
}

// Handler adapts the dispatcher for Engine.OnLock.
func (d *EventDispatcher) Handler() LockHandler {
	return func(ctx context.Context, event LockEvent) error {
		d.Emit(ctx, event)
		return nil
	}
}

// Close stops accepting events and waits until queued ones reach the sink.
func (d *EventDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns how many events were discarded on a full buffer.
func (d *EventDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Coalesced returns how many events replaced a still-queued event for the
// same item.
func (d *EventDispatcher) Coalesced() uint64 {
	if d == nil {
		return 0
	}
	return d.coalesced.Load()
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
