package templock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// LockEvent describes one committed lock transition.
type LockEvent struct {
	ID       string
	Item     string
	Category string // triggering category; empty for a direct Lock
	Strategy Strategy
	LockedAt time.Time
	// ExpiresAt is when the lock TTL runs out, unless it is cleared or
	// overwritten first.
	ExpiresAt time.Time
}

// LockHandler receives lock events synchronously, after the lock is stored.
// A returned error is reported to the AddAttempt or Lock caller; it never
// undoes the lock.
type LockHandler func(ctx context.Context, event LockEvent) error

// lockListeners is an ordered, concurrency-safe handler list.
type lockListeners struct {
	mu       sync.RWMutex
	handlers []LockHandler
}

func (l *lockListeners) add(h LockHandler) {
	if h == nil {
		return
	}
	l.mu.Lock()
	l.handlers = append(l.handlers, h)
	l.mu.Unlock()
}

func (l *lockListeners) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers)
}

// notify runs every handler in registration order, even after failures, and
// returns the failures joined under ErrListener. onFailure is called once per
// failing handler.
func (l *lockListeners) notify(ctx context.Context, event LockEvent, onFailure func(index int, err error)) error {
	l.mu.RLock()
	handlers := make([]LockHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	var errs []error
	for i, h := range handlers {
		if err := callHandler(ctx, h, event); err != nil {
			if onFailure != nil {
				onFailure(i, err)
			}
			errs = append(errs, fmt.Errorf("listener %d: %w", i, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrListener, errors.Join(errs...))
}

func callHandler(ctx context.Context, h LockHandler, event LockEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, event)
}
