// portal-loadtest measures end-to-end sign-in latency (gateway sign-in through
// profile resolution) and refresh-token rotation against Redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	portalAuth "github.com/MrEthical07/portalAuth"
	"github.com/MrEthical07/portalAuth/gateway"
	"github.com/MrEthical07/portalAuth/password"
	"github.com/MrEthical07/portalAuth/profile"
	"github.com/MrEthical07/portalAuth/profilestore"
	"github.com/MrEthical07/portalAuth/registry"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

type account struct {
	email string
	mu    sync.Mutex
	token string
}

func main() {
	var (
		users       = pflag.Int("users", 200, "number of accounts to seed")
		concurrency = pflag.Int("concurrency", 32, "number of concurrent workers")
		ops         = pflag.Int("ops", 2000, "operations per phase (sign-in + refresh)")
		redisAddr   = pflag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	pflag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
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

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	gcfg := gateway.DefaultConfig()
	gcfg.KeyPrefix = "lt"
	gcfg.SessionPrefix = "lts"
	gcfg.SignInThrottle.MaxAttempts = 0
	gcfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	gcfg.JWT.PrivateKey = []byte("loadtest-signing-key-loadtest-key")
	svc, err := gateway.NewService(client, gcfg, quiet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
	emails := registry.NewRedis(client, "lter")
	store := profilestore.NewMemory()

	accounts := make([]*account, *users)
	fmt.Printf("seeding %d accounts...\n", *users)
	startSeed := time.Now()
	for i := 0; i < *users; i++ {
		email := fmt.Sprintf("user-%d@load.test", i)
		if _, err := svc.SignUp(ctx, email, "load-test-password", map[string]string{
			gateway.MetadataRole: string(profile.Roles[i%len(profile.Roles)]),
		}); err != nil && !errors.Is(err, gateway.ErrDuplicateAccount) {
			fmt.Fprintf(os.Stderr, "sign-up failed: %v\n", err)
			os.Exit(1)
		}
		accounts[i] = &account{email: email}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	newEngine := func() (*portalAuth.Engine, error) {
		engine, err := portalAuth.New().
			WithGateway(gateway.NewClient(svc, nil, quiet)).
			WithRegistry(emails).
			WithProfileStore(store).
			WithLogger(quiet).
			Build()
		if err != nil {
			return nil, err
		}
		return engine, engine.Start(ctx)
	}

	signInStats := runSignInPhase(ctx, newEngine, accounts, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, svc, accounts, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("sign-in+resolve", signInStats)
	printStats("refresh", refreshStats)
}

// runSignInPhase gives every worker its own engine, as one portal client, and
// measures SignIn until the engine settles.
func runSignInPhase(ctx context.Context, newEngine func() (*portalAuth.Engine, error), accounts []*account, ops, concurrency int) phaseStats {
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
			engine, err := newEngine()
			if err != nil {
				fmt.Fprintf(os.Stderr, "engine: %v\n", err)
				return
			}
			defer engine.Close()

			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				acct := accounts[r.Intn(len(accounts))]
				t0 := time.Now()
				err := engine.SignIn(ctx, portalAuth.SignInRequest{Email: acct.email, Password: "load-test-password"})
				if err == nil {
					var snap portalAuth.Snapshot
					snap, err = engine.WaitSettled(ctx)
					if err == nil && snap.State != portalAuth.StateResolved {
						err = fmt.Errorf("settled %s", snap.State)
					}
				}
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runRefreshPhase opens one gateway session per account, then rotates their
// refresh tokens at random.
func runRefreshPhase(ctx context.Context, svc *gateway.Service, accounts []*account, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	live := make([]*account, 0, len(accounts))
	for _, a := range accounts {
		sess, err := svc.SignIn(ctx, a.email, "load-test-password")
		if err != nil {
			continue
		}
		a.token = sess.RefreshToken
		live = append(live, a)
	}
	if len(live) == 0 {
		return phaseStats{}
	}

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				acct := live[r.Intn(len(live))]

				acct.mu.Lock()
				t0 := time.Now()
				next, err := svc.Refresh(ctx, acct.token)
				d := time.Since(t0)
				if err == nil {
					acct.token = next.RefreshToken
				} else {
					atomic.AddInt64(&failures, 1)
				}
				acct.mu.Unlock()

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
