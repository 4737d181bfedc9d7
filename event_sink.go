package templock

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// EventSink consumes lock events delivered by an EventDispatcher.
type EventSink interface {
	Emit(ctx context.Context, event LockEvent)
}

// NoOpSink discards events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, LockEvent) {}

// ChannelSink forwards events to a buffered channel.
type ChannelSink struct {
	events chan LockEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan LockEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event LockEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan LockEvent {
	return s.events
}

// eventRecord is the JSON shape written by JSONWriterSink.
type eventRecord struct {
	ID             string    `json:"id"`
	Item           string    `json:"item"`
	Category       string    `json:"category,omitempty"`
	Strategy       string    `json:"strategy"`
	Matcher        string    `json:"matcher"`
	Attempts       int       `json:"attempts"`
	LockForSeconds float64   `json:"lock_for_seconds"`
	LockedAt       time.Time `json:"locked_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func newEventRecord(e LockEvent) eventRecord {
	return eventRecord{
		ID:             e.ID,
		Item:           e.Item,
		Category:       e.Category,
		Strategy:       e.Strategy.Label(),
		Matcher:        MatcherString(e.Strategy.Category),
		Attempts:       e.Strategy.Attempts,
		LockForSeconds: e.Strategy.LockFor.Seconds(),
		LockedAt:       e.LockedAt,
		ExpiresAt:      e.ExpiresAt,
	}
}

// JSONWriterSink writes one JSON object per event, newline separated.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event LockEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(newEventRecord(event))
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
