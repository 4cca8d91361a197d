// Command queryctl drives a query client from the command line.
//
// Usage:
//
//	queryctl [global options] <command> [command options]
//
// Commands:
//
//	get <key>    fetch a resource over HTTP or from Redis, optionally watching it
//	bench        run a synthetic workload with a flaky fetcher
//
// Examples:
//
//	queryctl get --url https://api.example.com/ users
//	queryctl get --url https://api.example.com/ --path data.#.name --watch 5s users
//	queryctl get --redis localhost:6379 --redis-prefix cfg: feature_flags
//	queryctl --log-level debug bench --duration 10s --fail 0.2 --metrics-addr :8080
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "queryctl:", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "queryctl",
		Usage: "fetch, cache and retry remote resources",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug | info | warn | error",
				Value:   "info",
				Sources: cli.NewValueSourceChain(cli.EnvVar("QUERYCTL_LOG_LEVEL")),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text | json",
				Value: "text",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "write logs to a size-rotated file instead of stderr",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML or JSON file with default and per-key fetch policies",
				Sources: cli.NewValueSourceChain(cli.EnvVar("QUERYCTL_CONFIG")),
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics at addr (e.g. :8080); empty = disabled",
			},
		},
		Commands: []*cli.Command{
			getCommand(),
			benchCommand(),
		},
	}
}
