package templock

import (
	"errors"
	"fmt"
	"time"
)

// DefaultStoreTimeout is the TTL given to attempt counters and category sets.
const DefaultStoreTimeout = time.Hour

// Config defines how an Engine counts attempts and locks items.
//
// Config values are copied at Build time; later changes to the caller's copy
// have no effect.
type Config struct {
	// Strategies is the ordered strategy table. Empty selects
	// DefaultStrategy.
	Strategies []Strategy
	// StoreTimeout is the rolling TTL of counters and category sets.
	StoreTimeout time.Duration
	Events       EventsConfig
	Metrics      MetricsConfig
}

// EventsConfig controls asynchronous delivery of lock events to an
// EventSink registered through Builder.WithEventSink.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metric counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		Strategies:   []Strategy{DefaultStrategy()},
		StoreTimeout: DefaultStoreTimeout,
		Events: EventsConfig{
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.StoreTimeout < 0 {
		return fmt.Errorf("%w: store timeout must not be negative", ErrConfiguration)
	}
	if c.StoreTimeout > 0 && c.StoreTimeout < time.Second {
		return fmt.Errorf("%w: store timeout must be at least 1s", ErrConfiguration)
	}
	if c.Events.Enabled && c.Events.BufferSize < 0 {
		return fmt.Errorf("%w: events buffer size must not be negative", ErrConfiguration)
	}
	return validateStrategies(c.Strategies)
}

// withDefaults fills zero values. It never modifies c.
func (c Config) withDefaults() Config {
	out := cloneConfig(c)
	if len(out.Strategies) == 0 {
		out.Strategies = []Strategy{DefaultStrategy()}
	}
	if out.StoreTimeout == 0 {
		out.StoreTimeout = DefaultStoreTimeout
	}
	return out
}

func cloneConfig(c Config) Config {
	out := c
	out.Strategies = cloneStrategies(c.Strategies)
	return out
}
