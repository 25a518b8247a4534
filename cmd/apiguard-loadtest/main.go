// Command apiguard-loadtest measures gatekeeper throughput and latency
// against an in-memory key store and a redis (or miniredis) limiter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/apiguard/apiguard"
	"github.com/apiguard/apiguard/store/memstore"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	xrate "golang.org/x/time/rate"
)

func main() {
	var (
		keys        = flag.Int("keys", 1000, "number of keys to issue")
		quota       = flag.Int("quota", 0, "per-key quota; 0 issues unlimited keys")
		window      = flag.Duration("window", time.Hour, "limiter window")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		rps         = flag.Float64("rps", 0, "cap total request rate; 0 means unpaced")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		bcryptCost  = flag.Int("bcrypt-cost", bcrypt.MinCost, "bcrypt cost for issued keys")
	)
	flag.Parse()

	if *keys <= 0 || *concurrency <= 0 || *ops <= 0 || *quota < 0 {
		fmt.Fprintln(os.Stderr, "keys, concurrency and ops must be > 0; quota must be >= 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
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
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := apiguard.DefaultConfig()
	cfg.Hashing.BcryptCost = *bcryptCost
	cfg.RateLimit.Window = *window
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := apiguard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithKeyStore(memstore.New()).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	secrets := make([]string, *keys)
	fmt.Printf("issuing %d keys...\n", *keys)
	startSeed := time.Now()
	for i := range secrets {
		issued, err := engine.Issue(ctx, apiguard.IssueRequest{
			WorkspaceID: "loadtest",
			Name:        fmt.Sprintf("key-%d", i),
			RateLimit:   *quota,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		secrets[i] = issued.Secret
	}
	fmt.Printf("issued in %s\n", time.Since(startSeed).Round(time.Millisecond))

	var pacer *xrate.Limiter
	if *rps > 0 {
		pacer = xrate.NewLimiter(xrate.Limit(*rps), *concurrency)
	}

	valid := runPhase(ctx, *ops, *concurrency, pacer, func(r *rand.Rand) error {
		_, err := engine.Authenticate(ctx, secrets[r.Intn(len(secrets))])
		return err
	})

	invalid := runPhase(ctx, *ops, *concurrency, pacer, func(r *rand.Rand) error {
		secret := secrets[r.Intn(len(secrets))]
		tampered := secret[:len(secret)-1] + "A"
		if tampered == secret {
			tampered = secret[:len(secret)-1] + "B"
		}
		_, err := engine.Authenticate(ctx, tampered)
		if errors.Is(err, apiguard.ErrInvalidCredential) {
			return nil
		}
		return fmt.Errorf("tampered key: %v", err)
	})

	snap := engine.MetricsSnapshot()
	forwarded := snap.Counters[apiguard.MetricAuthSuccess]
	fmt.Println("---- results ----")
	printStats("authenticate", valid)
	printStats("invalid", invalid)
	fmt.Printf("forwarded=%d rate_limited=%d invalid=%d backend_unavailable=%d last_used_dropped=%d\n",
		forwarded,
		snap.Counters[apiguard.MetricAuthRateLimited],
		snap.Counters[apiguard.MetricAuthInvalid],
		snap.Counters[apiguard.MetricBackendUnavailable],
		engine.LastUsedDropped(),
	)

	// A run shorter than the window admits at most quota requests per key.
	if *quota > 0 && valid.total < *window && forwarded > uint64(*keys)*uint64(*quota) {
		fmt.Fprintf(os.Stderr, "over-admission: forwarded %d > %d keys * quota %d\n", forwarded, *keys, *quota)
		os.Exit(1)
	}
}

// runPhase counts only unexpected errors as failures. Quota rejections are
// expected once keys run out.
func runPhase(ctx context.Context, ops, concurrency int, pacer *xrate.Limiter, op func(*rand.Rand) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				if pacer != nil {
					if err := pacer.Wait(ctx); err != nil {
						return
					}
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil && !errors.Is(err, apiguard.ErrQuotaExceeded) {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
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
