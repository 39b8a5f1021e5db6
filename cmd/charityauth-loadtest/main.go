// Command charityauth-loadtest measures password login and refresh rotation
// throughput of an engine backed by the in-memory account store and Redis
// (or miniredis).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/charityauth"
	"github.com/MrEthical07/charityauth/password"
)

const seedPassword = "L0ad!Test-Pass"

type accountState struct {
	email   string
	refresh string
	mu      sync.Mutex
}

func main() {
	var (
		accounts    = flag.Int("accounts", 2000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (login + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "loadtest", "redis key prefix")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
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
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := charityauth.NewMemoryAccountStore()
	engine, err := buildEngine(client, store, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d accounts...\n", *accounts)
	startSeed := time.Now()
	states, err := seed(ctx, store, *accounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	loginStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand, _ int) error {
		state := &states[r.Intn(len(states))]
		out, err := engine.Login(ctx, charityauth.LoginInput{Identifier: state.email, Password: seedPassword})
		if err != nil {
			return err
		}
		if out.Tokens == nil {
			return errors.New("login did not issue tokens")
		}
		state.mu.Lock()
		state.refresh = out.Tokens.RefreshToken
		state.mu.Unlock()
		return nil
	})

	refreshStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, _ int) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()
		if state.refresh == "" {
			return errors.New("no refresh token from login phase")
		}
		pair, err := engine.Refresh(ctx, state.refresh)
		if err != nil {
			return err
		}
		state.refresh = pair.RefreshToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("refresh", refreshStats)
}

func buildEngine(client redis.UniversalClient, store charityauth.AccountStore, prefix string) (*charityauth.Engine, error) {
	cfg := charityauth.DefaultConfig()
	cfg.KeyPrefix = prefix
	cfg.JWT.PrivateKey = []byte("loadtest-signing-key-0123456789abcdef")
	cfg.Password.Argon2 = password.Argon2Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Password.MaxConcurrentHashes = 0
	cfg.Device.Enabled = false
	cfg.Metrics.Enabled = true

	return charityauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountStore(store).
		WithSleeper(func(context.Context, time.Duration) error { return nil }).
		Build()
}

// seed writes accounts straight to the store with one shared hash so seeding
// does not dominate the run.
func seed(ctx context.Context, store charityauth.AccountStore, n int) ([]accountState, error) {
	hasher, err := password.NewArgon2(password.Argon2Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(seedPassword)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	states := make([]accountState, n)
	for i := 0; i < n; i++ {
		email := fmt.Sprintf("donor-%d@loadtest.example", i)
		states[i].email = email
		err := store.Create(ctx, &charityauth.Account{
			ID:           fmt.Sprintf("acc-%d", i),
			Email:        email,
			PasswordHash: hash,
			Roles:        charityauth.RoleSet{charityauth.RoleDonor},
			Status:       charityauth.StatusActive,
			IsActive:     true,
			CreatedAt:    now,
		})
		if err != nil {
			return nil, err
		}
	}
	return states, nil
}

func runPhase(ops, concurrency int, seedStep int64, op func(r *rand.Rand, i int) error) phaseStats {
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
				err := op(r, i)
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
