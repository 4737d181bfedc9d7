package templock

import (
	"context"
	"time"

	"github.com/MrEthical07/templock/storage"
	"go.uber.org/zap"
)

// Builder assembles an Engine.
//
// Builder instances are intended to be configured during initialization and
// then discarded; Build may be called once.
type Builder struct {
	config   Config
	backend  storage.Backend
	logger   *zap.Logger
	sink     EventSink
	handlers []LockHandler

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStrategies replaces the strategy table.
func (b *Builder) WithStrategies(strategies ...Strategy) *Builder {
	b.config.Strategies = cloneStrategies(strategies)
	return b
}

// WithStoreTimeout sets the rolling TTL of counters and category sets.
func (b *Builder) WithStoreTimeout(d time.Duration) *Builder {
	b.config.StoreTimeout = d
	return b
}

// WithStorage binds the backend. It may be left unset and bound later with
// Engine.SetStorage.
func (b *Builder) WithStorage(backend storage.Backend) *Builder {
	b.backend = backend
	return b
}

// WithLogger sets the engine logger. nil keeps the no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithEventSink routes lock events to sink. With Config.Events.Enabled the
// sink is fed through an EventDispatcher; otherwise it is called inline.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.sink = sink
	return b
}

// WithLockHandler registers handler as if by Engine.OnLock.
func (b *Builder) WithLockHandler(handler LockHandler) *Builder {
	if handler != nil {
		b.handlers = append(b.handlers, handler)
	}
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
//
// Build returns ErrBuilderUsed on a second call and an ErrConfiguration
// wrapped error for an invalid strategy table or store timeout. It performs
// no I/O.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := b.config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		strategies:   cloneStrategies(cfg.Strategies),
		backend:      b.backend,
		storeTimeout: cfg.StoreTimeout,
		metrics:      NewMetrics(cfg.Metrics),
		logger:       logger,
		now:          time.Now,
		newID:        newEventID,
	}

	for _, h := range b.handlers {
		engine.OnLock(h)
	}

	if b.sink != nil {
		if cfg.Events.Enabled {
			engine.events = NewEventDispatcher(cfg.Events, b.sink)
			engine.OnLock(engine.events.Handler())
		} else {
			sink := b.sink
			engine.OnLock(func(ctx context.Context, event LockEvent) error {
				sink.Emit(ctx, event)
				return nil
			})
		}
	}

	b.built = true

	return engine, nil
}
