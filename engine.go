package templock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/templock/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine counts attempts per item and category and locks items whose
// counters reach a strategy threshold.
//
// Engine methods are safe for concurrent use. The backend's atomic increment
// is the only serialization point between concurrent callers; two callers can
// both see a threshold crossed and both lock, which is harmless because the
// lock write is last-writer-wins.
type Engine struct {
	mu           sync.RWMutex
	strategies   []Strategy
	backend      storage.Backend
	storeTimeout time.Duration

	listeners lockListeners
	events    *EventDispatcher
	metrics   *Metrics
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewEngine is shorthand for New().WithConfig(cfg).WithStorage(backend).Build().
// backend may be nil and bound later with SetStorage.
func NewEngine(cfg Config, backend storage.Backend) (*Engine, error) {
	return New().WithConfig(cfg).WithStorage(backend).Build()
}

// Close stops the event dispatcher created by the Builder, flushing queued
// events. The engine stays usable; later events go to synchronous listeners
// only.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.events != nil {
		e.events.Close()
	}
}

// SetStorage binds the backend used by every later call. Passing nil unbinds
// it, after which operations fail with ErrNotConfigured.
func (e *Engine) SetStorage(backend storage.Backend) {
	e.mu.Lock()
	e.backend = backend
	e.mu.Unlock()
}

// Strategies returns a copy of the strategy table.
func (e *Engine) Strategies() []Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneStrategies(e.strategies)
}

// SetStrategies replaces the strategy table. An empty table selects
// DefaultStrategy. Invalid strategies are rejected and the table is kept.
func (e *Engine) SetStrategies(strategies []Strategy) error {
	if err := validateStrategies(strategies); err != nil {
		return err
	}
	next := cloneStrategies(strategies)
	if len(next) == 0 {
		next = []Strategy{DefaultStrategy()}
	}
	e.mu.Lock()
	e.strategies = next
	e.mu.Unlock()
	return nil
}

// OnLock registers handler for lock events. Handlers run in registration
// order.
func (e *Engine) OnLock(handler LockHandler) {
	e.listeners.add(handler)
}

// GetMatchedStrategies returns the strategies that apply to category, in table
// order.
func (e *Engine) GetMatchedStrategies(category string) ([]Strategy, error) {
	e.mu.RLock()
	strategies := e.strategies
	e.mu.RUnlock()
	return MatchStrategies(strategies, category)
}

// AddAttempt records one attempt for item against each category and against
// MainCategory, then locks the item if a strategy threshold is reached.
//
// All increments land before any counter is read. Categories are then
// evaluated in order; for each, the first matched strategy whose Attempts is
// reached locks the item and ends evaluation of that category.
func (e *Engine) AddAttempt(ctx context.Context, item string, categories ...string) error {
	if item == "" {
		return ErrInvalidItem
	}
	backend, strategies, err := e.snapshot()
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricAddAttemptLatency, time.Since(start))
	}()

	cats := normalizeCategories(categories)

	g, gctx := errgroup.WithContext(ctx)
	for _, category := range cats {
		g.Go(func() error {
			if err := backend.Inc(gctx, countKey(item, category), 1, e.storeTimeout); err != nil {
				return err
			}
			if err := backend.SAdd(gctx, categorySetKey(item), category, e.storeTimeout); err != nil {
				return err
			}
			e.metrics.Inc(MetricCounterIncremented)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return e.storageErr(err)
	}
	e.metrics.Inc(MetricAttemptRecorded)

	var listenerErrs []error
	for _, category := range cats {
		count, err := e.readCount(ctx, backend, item, category)
		if err != nil {
			return err
		}
		matched, err := MatchStrategies(strategies, category)
		if err != nil {
			return err
		}
		for _, s := range matched {
			if count < int64(s.Attempts) {
				continue
			}
			e.logger.Debug("attempt threshold reached",
				zap.String("item", item),
				zap.String("category", category),
				zap.String("strategy", s.Label()),
				zap.Int64("count", count),
				zap.Int("attempts", s.Attempts),
			)
			if err := e.lock(ctx, backend, item, category, s); err != nil {
				if !errors.Is(err, ErrListener) || errors.Is(err, ErrStorage) {
					return err
				}
				listenerErrs = append(listenerErrs, err)
			}
			break
		}
	}
	return errors.Join(listenerErrs...)
}

// Lock locks item with strategy directly, as if its threshold had been
// reached.
func (e *Engine) Lock(ctx context.Context, item string, strategy Strategy) error {
	if item == "" {
		return ErrInvalidItem
	}
	if err := strategy.Validate(); err != nil {
		return err
	}
	backend, _, err := e.snapshot()
	if err != nil {
		return err
	}
	return e.lock(ctx, backend, item, "", strategy)
}

// lock stores the lock, clears every counter of the item, then notifies
// listeners. If clearing fails the lock stays; stale counters expire on
// their own TTL. Listeners are told about the lock either way.
func (e *Engine) lock(ctx context.Context, backend storage.Backend, item, category string, s Strategy) error {
	if err := backend.Set(ctx, lockKey(item), "1", s.LockFor); err != nil {
		return e.storageErr(err)
	}
	e.metrics.Inc(MetricLockTriggered)

	lockedAt := e.now()
	event := LockEvent{
		ID:        e.newID(),
		Item:      item,
		Category:  category,
		Strategy:  s,
		LockedAt:  lockedAt,
		ExpiresAt: lockedAt.Add(s.LockFor),
	}

	var clearErr error
	if err := e.clearCounters(ctx, backend, item); err != nil {
		e.metrics.Inc(MetricLockDegraded)
		e.logger.Warn("item locked but counters not cleared",
			zap.String("item", item),
			zap.String("strategy", s.Label()),
			zap.Error(err),
		)
		clearErr = e.storageErr(err)
	}

	e.logger.Info("item locked",
		zap.String("event_id", event.ID),
		zap.String("item", item),
		zap.String("category", category),
		zap.String("strategy", s.Label()),
		zap.Duration("lock_for", s.LockFor),
	)

	listenerErr := e.listeners.notify(ctx, event, func(index int, err error) {
		e.metrics.Inc(MetricListenerFailure)
		e.logger.Warn("lock listener failed",
			zap.String("event_id", event.ID),
			zap.String("item", item),
			zap.Int("listener", index),
			zap.Error(err),
		)
	})

	return errors.Join(clearErr, listenerErr)
}

// IsLocked reports whether item currently holds a lock.
func (e *Engine) IsLocked(ctx context.Context, item string) (bool, error) {
	if item == "" {
		return false, ErrInvalidItem
	}
	backend, _, err := e.snapshot()
	if err != nil {
		return false, err
	}
	e.metrics.Inc(MetricLockCheck)

	_, found, err := backend.Get(ctx, lockKey(item))
	if err != nil {
		return false, e.storageErr(err)
	}
	if found {
		e.metrics.Inc(MetricLockedHit)
	}
	return found, nil
}

// Unlock removes the lock on item. Counters are untouched.
func (e *Engine) Unlock(ctx context.Context, item string) error {
	if item == "" {
		return ErrInvalidItem
	}
	backend, _, err := e.snapshot()
	if err != nil {
		return err
	}
	if err := backend.Del(ctx, lockKey(item)); err != nil {
		return e.storageErr(err)
	}
	e.metrics.Inc(MetricUnlock)
	e.logger.Info("item unlocked", zap.String("item", item))
	return nil
}

// ResetCounters deletes the item's counters for categories, or every counter
// in its category set when none are given. The lock is untouched.
func (e *Engine) ResetCounters(ctx context.Context, item string, categories ...string) error {
	if item == "" {
		return ErrInvalidItem
	}
	backend, _, err := e.snapshot()
	if err != nil {
		return err
	}

	if len(categories) == 0 {
		err = e.clearCounters(ctx, backend, item)
	} else {
		keys := make([]string, 0, len(categories))
		for _, c := range categories {
			keys = append(keys, countKey(item, c))
		}
		err = backend.Del(ctx, keys...)
	}
	if err != nil {
		return e.storageErr(err)
	}
	e.metrics.Inc(MetricCountersReset)
	return nil
}

// Count returns the current attempt counter for item and category.
func (e *Engine) Count(ctx context.Context, item, category string) (int64, error) {
	if item == "" {
		return 0, ErrInvalidItem
	}
	backend, _, err := e.snapshot()
	if err != nil {
		return 0, err
	}
	return e.readCount(ctx, backend, item, category)
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]float64{},
		}
	}
	return e.metrics.Snapshot()
}

// EventsDropped reports lock events the async dispatcher discarded.
func (e *Engine) EventsDropped() uint64 {
	if e == nil || e.events == nil {
		return 0
	}
	return e.events.Dropped()
}

// EventsCoalesced reports lock events that replaced a still-queued event for
// the same item in the async dispatcher.
func (e *Engine) EventsCoalesced() uint64 {
	if e == nil || e.events == nil {
		return 0
	}
	return e.events.Coalesced()
}

func (e *Engine) snapshot() (storage.Backend, []Strategy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.backend == nil {
		return nil, nil, ErrNotConfigured
	}
	return e.backend, e.strategies, nil
}

func (e *Engine) readCount(ctx context.Context, backend storage.Backend, item, category string) (int64, error) {
	v, found, err := backend.Get(ctx, countKey(item, category))
	if err != nil {
		return 0, e.storageErr(err)
	}
	if !found {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, e.storageErr(fmt.Errorf("%w: counter %q holds %q", storage.ErrNotInteger, category, v))
	}
	return n, nil
}

func (e *Engine) clearCounters(ctx context.Context, backend storage.Backend, item string) error {
	members, err := backend.SMembers(ctx, categorySetKey(item))
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(members)+1)
	for _, c := range members {
		keys = append(keys, countKey(item, c))
	}
	keys = append(keys, categorySetKey(item))
	return backend.Del(ctx, keys...)
}

func (e *Engine) storageErr(err error) error {
	if errors.Is(err, ErrStorage) {
		return err
	}
	e.metrics.Inc(MetricStorageFailure)
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

func newEventID() string {
	return uuid.NewString()
}
