package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/IvanBrykalov/querycache/query"
	"github.com/IvanBrykalov/querycache/transport/httpjson"
	"github.com/IvanBrykalov/querycache/transport/rediskv"
)

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "fetch a JSON resource; with --watch keep it fresh and print every change",
		ArgsUsage: "<key> [key...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Usage:   "base URL; each key is appended to it",
				Sources: cli.NewValueSourceChain(cli.EnvVar("QUERYCTL_URL")),
			},
			&cli.StringFlag{
				Name:    "redis",
				Usage:   "read keys from the Redis server at addr instead of HTTP",
				Sources: cli.NewValueSourceChain(cli.EnvVar("QUERYCTL_REDIS")),
			},
			&cli.StringFlag{
				Name:  "redis-prefix",
				Usage: "prefix prepended to every key read from Redis",
			},
			&cli.StringFlag{
				Name:    "path",
				Aliases: []string{"p"},
				Usage:   "gjson path selecting part of the document",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "per-request HTTP timeout",
				Value: 10 * time.Second,
			},
			&cli.IntFlag{
				Name:  "breaker-failures",
				Usage: "open a circuit breaker after this many consecutive failures (0 = no breaker)",
			},
			&cli.DurationFlag{
				Name:  "breaker-timeout",
				Usage: "how long an open breaker rejects requests before probing",
				Value: 30 * time.Second,
			},
			&cli.DurationFlag{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "re-fetch every interval until interrupted (0 = fetch once)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			keys := cmd.Args().Slice()
			if len(keys) == 0 {
				return errors.New("get: at least one key is required")
			}
			log, closeLog, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()
			policies, err := loadPolicies(cmd)
			if err != nil {
				return err
			}
			fetcher, shouldRetry, closeSrc, err := newSource(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = closeSrc() }()
			defaults := policies.Defaults()
			c := query.New[string, string](query.Options[string, string]{
				Fetcher:     fetcher,
				Defaults:    &defaults,
				PerKey:      policies.PerKey(),
				ShouldRetry: shouldRetry,
				Metrics:     serveMetrics(cmd, log, "get"),
				Logger:      log,
			})
			defer func() { _ = c.Close() }()

			if interval := cmd.Duration("watch"); interval > 0 {
				return watch(ctx, c, keys, interval, os.Stdout, log)
			}
			for _, k := range keys {
				res, err := c.Fetch(ctx, k)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "%s\t%s\n", k, res.Value)
			}
			return nil
		},
	}
}

// newSource picks the HTTP or Redis backend named by the flags.
func newSource(cmd *cli.Command) (query.Fetcher[string, string], func(error) bool, func() error, error) {
	url, addr := cmd.String("url"), cmd.String("redis")
	switch {
	case url != "" && addr != "":
		return nil, nil, nil, errors.New("get: --url and --redis are mutually exclusive")
	case addr != "":
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		src := &rediskv.Source{Client: rdb, Prefix: cmd.String("redis-prefix"), Path: cmd.String("path")}
		return src.Fetcher(), rediskv.ShouldRetry, rdb.Close, nil
	case url != "":
		src := &httpjson.Source{
			BaseURL: url,
			Path:    cmd.String("path"),
			Client:  httpjson.NewClient(cmd.Duration("timeout")),
		}
		if n := cmd.Int("breaker-failures"); n > 0 {
			src.Breaker = httpjson.NewBreaker(src.BaseURL, uint32(n), cmd.Duration("breaker-timeout"))
		}
		return src.Fetcher(), httpjson.ShouldRetry, func() error { return nil }, nil
	}
	return nil, nil, nil, errors.New("get: one of --url or --redis is required")
}

// watch subscribes to every key and keeps fetching on a ticker; the client
// only goes to the network once a key's data is stale.
func watch(ctx context.Context, c query.Client[string, string], keys []string, interval time.Duration, w io.Writer, log *slog.Logger) error {
	events := make(chan query.Event[string, string], 16)
	for _, k := range keys {
		sub, err := c.Subscribe(ctx, k, func(ev query.Event[string, string]) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
	}

	prefetch := func() {
		for _, k := range keys {
			if err := c.Prefetch(k); err != nil {
				log.Warn("prefetch failed", slog.String("key", k), slog.Any("error", err))
			}
		}
	}
	prefetch()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			prefetch()
		case ev := <-events:
			printEvent(w, ev)
		}
	}
}

func printEvent(w io.Writer, ev query.Event[string, string]) {
	st := ev.State
	switch {
	case ev.Evicted:
		fmt.Fprintf(w, "%s\tevicted\n", ev.Key)
	case st.Status == query.StatusSuccess:
		fmt.Fprintf(w, "%s\t%s\t%s\n", ev.Key, st.FetchedAt.Format(time.RFC3339), st.Data)
	case st.Status == query.StatusError:
		fmt.Fprintf(w, "%s\terror\t%v\n", ev.Key, st.Err)
	case st.Status == query.StatusLoading && st.RetryCount > 0:
		fmt.Fprintf(w, "%s\tretry %d\n", ev.Key, st.RetryCount)
	}
}
