package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type entryKind uint8

const (
	kindString entryKind = iota
	kindSet
)

type entry struct {
	kind      entryKind
	value     string
	members   []string
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryOption configures a [Memory] backend.
type MemoryOption func(*Memory)

// WithClock replaces the time source. Tests use it to move past TTLs without
// sleeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSweepInterval starts a janitor that drops expired keys every interval.
// Expired keys are never visible to readers either way; the janitor only
// bounds memory. Call Close to stop it.
func WithSweepInterval(interval time.Duration) MemoryOption {
	return func(m *Memory) {
		m.sweepEvery = interval
	}
}

// WithMemoryDefaultTTL sets the initial default TTL.
func WithMemoryDefaultTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

// Memory is an in-process [Backend]. State is lost when the process exits.
type Memory struct {
	mu         sync.Mutex
	data       map[string]*entry
	defaultTTL time.Duration
	now        func() time.Time

	sweepEvery time.Duration
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an empty in-process backend.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		data:       make(map[string]*entry),
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweepEvery > 0 {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.janitor()
	}
	return m
}

func (m *Memory) janitor() {
	defer close(m.done)
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}

// Close stops the janitor, if any. The backend stays usable.
func (m *Memory) Close() error {
	if m == nil || m.stop == nil {
		return nil
	}
	m.closeOnce.Do(func() {
		close(m.stop)
		<-m.done
	})
	return nil
}

// Sweep removes expired keys and reports how many were dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	dropped := 0
	for k, e := range m.data {
		if e.expired(now) {
			delete(m.data, k)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for _, e := range m.data {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// SetDefaultTTL changes the TTL used for non-positive ttl arguments.
func (m *Memory) SetDefaultTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.defaultTTL = ttl
	m.mu.Unlock()
}

// Set stores value under key with the given TTL.
func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = &entry{
		kind:      kindString,
		value:     value,
		expiresAt: m.deadline(ttl),
	}
	return nil
}

// Get returns the live value under key.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return "", false, nil
	}
	if e.kind != kindString {
		return "", false, fmt.Errorf("%w: %s", ErrWrongType, key)
	}
	return e.value, true, nil
}

// Inc adds by to the integer under key and restarts its TTL.
func (m *Memory) Inc(ctx context.Context, key string, by int64, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if e := m.live(key); e != nil {
		if e.kind != kindString {
			return fmt.Errorf("%w: %s", ErrWrongType, key)
		}
		n, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrNotInteger, key)
		}
		current = n
	}

	m.data[key] = &entry{
		kind:      kindString,
		value:     strconv.FormatInt(current+incrementBy(by), 10),
		expiresAt: m.deadline(ttl),
	}
	return nil
}

// SAdd adds member to the set under key and refreshes the set TTL.
func (m *Memory) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		e = &entry{kind: kindSet}
		m.data[key] = e
	}
	if e.kind != kindSet {
		return fmt.Errorf("%w: %s", ErrWrongType, key)
	}
	if !containsMember(e.members, member) {
		e.members = append(e.members, member)
	}
	e.expiresAt = m.deadline(ttl)
	return nil
}

// SMembers returns a copy of the set under key.
func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return []string{}, nil
	}
	if e.kind != kindSet {
		return nil, fmt.Errorf("%w: %s", ErrWrongType, key)
	}
	out := make([]string, len(e.members))
	copy(out, e.members)
	return out, nil
}

// Del removes keys.
func (m *Memory) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Clear drops every key.
func (m *Memory) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.Lock()
	m.data = make(map[string]*entry)
	m.mu.Unlock()
	return nil
}

// live returns the entry under key, dropping it first if it expired.
// Callers hold m.mu.
func (m *Memory) live(key string) *entry {
	e, ok := m.data[key]
	if !ok {
		return nil
	}
	if e.expired(m.now()) {
		delete(m.data, key)
		return nil
	}
	return e
}

// deadline converts ttl to an absolute expiry. Callers hold m.mu.
func (m *Memory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	return m.now().Add(ttl)
}

func containsMember(members []string, member string) bool {
	for _, v := range members {
		if v == member {
			return true
		}
	}
	return false
}
