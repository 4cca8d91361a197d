package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/querycache/query"
)

var errFlaky = errors.New("synthetic failure")

// benchStats is shared by all workers.
type benchStats struct {
	total, ok, failed, stale, fetches atomic.Uint64
}

func benchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "run a synthetic Zipf workload against a client with a flaky fetcher",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Usage: "number of worker goroutines", Value: 2 * runtime.GOMAXPROCS(0)},
			&cli.DurationFlag{Name: "duration", Usage: "benchmark duration", Value: 10 * time.Second},
			&cli.IntFlag{Name: "keys", Usage: "keyspace size", Value: 100_000},
			&cli.IntFlag{Name: "shards", Usage: "number of registry shards (0=auto)"},
			&cli.FloatFlag{Name: "zipf-s", Usage: "Zipf s > 1 (skew)", Value: 1.1},
			&cli.FloatFlag{Name: "zipf-v", Usage: "Zipf v", Value: 1.0},
			&cli.Int64Flag{Name: "seed", Usage: "random seed (0 = time based)"},
			&cli.FloatFlag{Name: "fail", Usage: "probability a fetch attempt fails [0..1]", Value: 0.1},
			&cli.DurationFlag{Name: "latency", Usage: "simulated fetch latency", Value: time.Millisecond},
			&cli.IntFlag{Name: "invalidate", Usage: "percentage of requests preceded by Invalidate [0..100]", Value: 1},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log, closeLog, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()
			policies, err := loadPolicies(cmd)
			if err != nil {
				return err
			}

			keys := cmd.Int("keys")
			if keys < 2 {
				return fmt.Errorf("--keys must be at least 2, got %d", keys)
			}
			workers := cmd.Int("workers")
			if workers <= 0 {
				workers = 1
			}
			seed := cmd.Int64("seed")
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			failP := cmd.Float("fail")
			latency := cmd.Duration("latency")
			invalidatePct := cmd.Int("invalidate")
			zipfS, zipfV := cmd.Float("zipf-s"), cmd.Float("zipf-v")

			var st benchStats
			fetchSeed := atomic.Int64{}
			fetchSeed.Store(seed)
			defaults := policies.Defaults()
			c := query.New[string, string](query.Options[string, string]{
				Shards:   cmd.Int("shards"),
				Defaults: &defaults,
				PerKey:   policies.PerKey(),
				Metrics:  serveMetrics(cmd, log, "bench"),
				Logger:   log,
				Fetcher: func(ctx context.Context, k string) (string, error) {
					st.fetches.Add(1)
					r := rand.New(rand.NewSource(fetchSeed.Add(1)))
					select {
					case <-time.After(latency):
					case <-ctx.Done():
						return "", ctx.Err()
					}
					if r.Float64() < failP {
						return "", errFlaky
					}
					return "v:" + k, nil
				},
			})
			defer func() { _ = c.Close() }()

			runCtx, cancel := context.WithTimeout(ctx, cmd.Duration("duration"))
			defer cancel()

			start := time.Now()
			g, gctx := errgroup.WithContext(runCtx)
			for w := 0; w < workers; w++ {
				g.Go(func() error {
					// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
					r := rand.New(rand.NewSource(seed + int64(w)*9973))
					zipf := rand.NewZipf(r, zipfS, zipfV, uint64(keys-1))
					for gctx.Err() == nil {
						k := "k:" + strconv.FormatUint(zipf.Uint64(), 10)
						if r.Intn(100) < invalidatePct {
							c.Invalidate(k)
						}
						st.total.Add(1)
						res, err := c.Fetch(gctx, k)
						switch {
						case err == nil && res.Stale:
							st.stale.Add(1)
							st.ok.Add(1)
						case err == nil:
							st.ok.Add(1)
						case gctx.Err() == nil:
							st.failed.Add(1)
						}
					}
					return nil
				})
			}
			_ = g.Wait()
			elapsed := time.Since(start)

			total, fetches := st.total.Load(), st.fetches.Load()
			dedup := 0.0
			if total > 0 {
				dedup = (1 - float64(fetches)/float64(total)) * 100
			}
			fmt.Printf("workers=%d keys=%d shards=%d dur=%v seed=%d fail=%.2f\n",
				workers, keys, cmd.Int("shards"), elapsed.Round(time.Millisecond), seed, failP)
			fmt.Printf("requests=%d (%.0f req/s)  ok=%d  stale=%d  failed=%d\n",
				total, float64(total)/elapsed.Seconds(), st.ok.Load(), st.stale.Load(), st.failed.Load())
			fmt.Printf("fetcher-calls=%d  saved=%.2f%%  Len()=%d\n", fetches, dedup, c.Len())
			log.Debug("bench finished", slog.Duration("elapsed", elapsed))
			return nil
		},
	}
}
