package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/templock"
	"github.com/MrEthical07/templock/storage"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		items       = flag.Int("items", 10000, "number of distinct items")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (attempt + check)")
		attempts    = flag.Int("attempts", 20, "attempts tolerated on main before locking")
		categories  = flag.String("categories", "login,api,user_1", "comma-separated categories spread over attempts")
		store       = flag.String("store", "redis", "backend: redis or memory")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "tl-load:", "redis key prefix")
	)
	flag.Parse()

	if *items <= 0 || *concurrency <= 0 || *ops <= 0 || *attempts <= 0 {
		fmt.Fprintln(os.Stderr, "items, concurrency, ops, and attempts must be > 0")
		os.Exit(2)
	}

	backend, cleanup, err := openBackend(*store, *redisAddr, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	engine, err := templock.New().
		WithStrategies(
			templock.Strategy{Name: "user", Category: templock.MustParseCategory("/^user_[0-9]/"), Attempts: max(1, *attempts/2), LockFor: 30 * time.Second},
			templock.BuildStrategy(templock.MainCategory, *attempts, time.Minute),
		).
		WithStorage(backend).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}

	var locks atomic.Int64
	engine.OnLock(func(context.Context, templock.LockEvent) error {
		locks.Add(1)
		return nil
	})

	ctx := context.Background()
	names := make([]string, *items)
	for i := range names {
		names[i] = fmt.Sprintf("item-%d", i)
	}
	cats := splitCategories(*categories)

	attemptStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		return engine.AddAttempt(ctx, names[r.Intn(len(names))], cats[r.Intn(len(cats))])
	})
	checkStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		_, err := engine.IsLocked(ctx, names[r.Intn(len(names))])
		return err
	})

	fmt.Println("---- results ----")
	printStats("attempt", attemptStats)
	printStats("check", checkStats)
	snap := engine.MetricsSnapshot()
	fmt.Printf("locks=%d locked_hits=%d storage_failures=%d\n",
		locks.Load(),
		snap.Counters[templock.MetricLockedHit],
		snap.Counters[templock.MetricStorageFailure],
	)
}

func openBackend(kind, addr, prefix string) (storage.Backend, func(), error) {
	if kind == "memory" {
		fmt.Println("using in-process memory backend")
		m := storage.NewMemory(storage.WithSweepInterval(time.Second))
		return m, func() { _ = m.Close() }, nil
	}
	if kind != "redis" {
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}

	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}

	return storage.NewRedis(client, storage.RedisOptions{Prefix: prefix}), cleanup, nil
}

func splitCategories(raw string) []string {
	var out []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		out = []string{templock.MainCategory}
	}
	return out
}

// runPhase spreads ops calls of op over concurrency workers and records the
// latency of each.
func runPhase(ops, concurrency int, seedStep int64, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seedStep))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
