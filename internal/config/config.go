package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/templock"
	"github.com/MrEthical07/templock/storage"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "TEMPLOCK"

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// ErrUnknownStore is returned for a store value other than memory or redis.
var ErrUnknownStore = errors.New("unknown store")

// Strategy is the file form of templock.Strategy. Category is parsed with
// templock.ParseCategory, so "/^user_/" is a pattern.
type Strategy struct {
	Name     string        `mapstructure:"name"`
	Category string        `mapstructure:"category"`
	Attempts int           `mapstructure:"attempts"`
	LockFor  time.Duration `mapstructure:"lock_for"`
}

type Redis struct {
	Addr        string        `mapstructure:"addr"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	Prefix      string        `mapstructure:"prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type Metrics struct {
	Enabled           bool `mapstructure:"enabled"`
	LatencyHistograms bool `mapstructure:"latency_histograms"`
}

type Events struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

// Settings is everything a templock process reads at startup.
type Settings struct {
	Store        string        `mapstructure:"store"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	Strategies   []Strategy    `mapstructure:"strategies"`
	Redis        Redis         `mapstructure:"redis"`
	Metrics      Metrics       `mapstructure:"metrics"`
	Events       Events        `mapstructure:"events"`
}

// SetDefaults registers defaults on v. Keys need a default for AutomaticEnv
// to pick up their environment override during Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := templock.DefaultConfig()
	v.SetDefault("store", StoreMemory)
	v.SetDefault("store_timeout", d.StoreTimeout)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", storage.DefaultRedisPrefix)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.latency_histograms", false)
	v.SetDefault("events.enabled", d.Events.Enabled)
	v.SetDefault("events.buffer_size", d.Events.BufferSize)
	v.SetDefault("events.drop_if_full", d.Events.DropIfFull)
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if non-empty) into v and decodes the result. The file
// format follows the extension: yaml, json, or toml.
//
// Durations accept Go syntax ("90s", "1m") or a bare number of seconds, so
// lock_for: 60 is one minute.
func Load(v *viper.Viper, path string) (Settings, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(decodeHook())); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	s.Store = strings.ToLower(strings.TrimSpace(s.Store))
	return s, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// decodeHook is viper's default hook chain with bare-seconds durations in
// front of it.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(secondsToDurationHook),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// secondsToDurationHook reads numbers and digit-only strings bound for a
// time.Duration as whole seconds. Values that already are a Duration, such
// as registered defaults, pass through.
func secondsToDurationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	v := reflect.ValueOf(data)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(v.Int()) * time.Second, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(v.Uint()) * time.Second, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(v.Float() * float64(time.Second)), nil
	case reflect.String:
		if n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64); err == nil {
			return time.Duration(n) * time.Second, nil
		}
	}
	return data, nil
}

// EngineConfig builds the engine configuration. It fails with
// templock.ErrConfiguration on a bad category or an invalid strategy.
func (s Settings) EngineConfig() (templock.Config, error) {
	cfg := templock.DefaultConfig()
	cfg.StoreTimeout = s.StoreTimeout
	cfg.Metrics = templock.MetricsConfig{
		Enabled:                 s.Metrics.Enabled,
		EnableLatencyHistograms: s.Metrics.LatencyHistograms,
	}
	cfg.Events = templock.EventsConfig{
		Enabled:    s.Events.Enabled,
		BufferSize: s.Events.BufferSize,
		DropIfFull: s.Events.DropIfFull,
	}

	if len(s.Strategies) > 0 {
		cfg.Strategies = make([]templock.Strategy, 0, len(s.Strategies))
		for i, fs := range s.Strategies {
			m, err := templock.ParseCategory(fs.Category)
			if err != nil {
				return templock.Config{}, fmt.Errorf("strategies[%d]: %w", i, err)
			}
			cfg.Strategies = append(cfg.Strategies, templock.Strategy{
				Name:     fs.Name,
				Category: m,
				Attempts: fs.Attempts,
				LockFor:  fs.LockFor,
			})
		}
	}

	if err := cfg.Validate(); err != nil {
		return templock.Config{}, err
	}
	return cfg, nil
}

// OpenBackend connects the configured store. The returned close function
// releases it.
func (s Settings) OpenBackend(ctx context.Context) (storage.Backend, func() error, error) {
	switch s.Store {
	case "", StoreMemory:
		m := storage.NewMemory(storage.WithSweepInterval(time.Minute))
		return m, m.Close, nil
	case StoreRedis:
		r, err := storage.DialRedis(ctx, storage.RedisConfig{
			Addr:        s.Redis.Addr,
			Username:    s.Redis.Username,
			Password:    s.Redis.Password,
			DB:          s.Redis.DB,
			Prefix:      s.Redis.Prefix,
			DialTimeout: s.Redis.DialTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	}
	return nil, nil, fmt.Errorf("%w %q", ErrUnknownStore, s.Store)
}
