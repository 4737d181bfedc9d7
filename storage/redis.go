package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key the Redis backend writes.
const DefaultRedisPrefix = "templock:"

const clearScanCount = 500

// RedisConfig holds connection settings for [DialRedis]. It is passed through
// to go-redis untouched apart from Prefix.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	// Prefix namespaces keys. Empty selects DefaultRedisPrefix; use
	// RedisOptions.Prefix directly to run without one.
	Prefix      string
	DialTimeout time.Duration
}

// RedisOptions configures [NewRedis].
type RedisOptions struct {
	Prefix     string
	DefaultTTL time.Duration
}

// Redis is a [Backend] shared across processes through a Redis server.
type Redis struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL atomic.Int64
}

var _ Backend = (*Redis)(nil)

// NewRedis wraps an existing client. The caller keeps ownership of client.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	r := &Redis{
		client: client,
		prefix: opts.Prefix,
	}
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r.defaultTTL.Store(int64(ttl))
	return r
}

// DialRedis connects to a standalone Redis server and verifies it answers a
// PING within two seconds. Close the returned backend to release the client.
func DialRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return NewRedis(rdb, RedisOptions{Prefix: prefix}), nil
}

// Client exposes the underlying client.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// SetDefaultTTL changes the TTL used for non-positive ttl arguments.
func (r *Redis) SetDefaultTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	r.defaultTTL.Store(int64(ttl))
}

// Set issues SETEX.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.SetEx(ctx, r.key(key), value, r.ttl(ttl)).Err(); err != nil {
		return wrapRedisErr(err)
	}
	return nil
}

// Get issues GET. redis.Nil maps to found == false.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, wrapRedisErr(err)
	}
	return v, true, nil
}

// Inc runs INCRBY and EXPIRE inside one MULTI so the TTL can never be lost
// between the two.
func (r *Redis) Inc(ctx context.Context, key string, by int64, ttl time.Duration) error {
	k := r.key(key)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, k, incrementBy(by))
		pipe.Expire(ctx, k, r.ttl(ttl))
		return nil
	})
	if err != nil {
		return wrapRedisErr(err)
	}
	return nil
}

// SAdd runs SADD and EXPIRE inside one MULTI.
func (r *Redis) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	k := r.key(key)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, k, member)
		pipe.Expire(ctx, k, r.ttl(ttl))
		return nil
	})
	if err != nil {
		return wrapRedisErr(err)
	}
	return nil
}

// SMembers issues SMEMBERS.
func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, wrapRedisErr(err)
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}

// Del pipelines one DEL per key. Single-key commands keep cluster clients
// clear of CROSSSLOT errors while still costing one round-trip per node.
func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Del(ctx, r.key(k))
		}
		return nil
	})
	if err != nil {
		return wrapRedisErr(err)
	}
	return nil
}

// Clear deletes every key under the prefix using SCAN. Without a prefix the
// backend cannot tell its keys apart from anyone else's, so Clear does nothing.
// On a cluster client only the node SCAN reaches is cleared.
func (r *Redis) Clear(ctx context.Context) error {
	if r.prefix == "" {
		return nil
	}
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", clearScanCount).Result()
		if err != nil {
			return wrapRedisErr(err)
		}
		if len(keys) > 0 {
			_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, k := range keys {
					pipe.Del(ctx, k)
				}
				return nil
			})
			if err != nil {
				return wrapRedisErr(err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) ttl(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return time.Duration(r.defaultTTL.Load())
}

func wrapRedisErr(err error) error {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "WRONGTYPE"):
		return fmt.Errorf("%w: %v", ErrWrongType, err)
	case strings.Contains(msg, "not an integer"):
		return fmt.Errorf("%w: %v", ErrNotInteger, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
