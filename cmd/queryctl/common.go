package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/IvanBrykalov/querycache/config"
	pmet "github.com/IvanBrykalov/querycache/metrics/prom"
	"github.com/IvanBrykalov/querycache/query"
)

// newLogger builds the process logger from --log-level, --log-format and
// --log-file. The returned close func flushes a rotated log file.
func newLogger(cmd *cli.Command) (*slog.Logger, func() error, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		return nil, nil, fmt.Errorf("invalid --log-level: %w", err)
	}

	var w io.Writer = os.Stderr
	closeFn := func() error { return nil }
	if path := cmd.String("log-file"); path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     7, // days
			Compress:   true,
		}
		w, closeFn = lj, lj.Close
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cmd.String("log-format")) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), closeFn, nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), closeFn, nil
	default:
		_ = closeFn()
		return nil, nil, fmt.Errorf("invalid --log-format %q (use text or json)", cmd.String("log-format"))
	}
}

// loadPolicies reads --config; without one the client defaults apply.
func loadPolicies(cmd *cli.Command) (*config.File, error) {
	path := cmd.String("config")
	if path == "" {
		return config.Parse(nil, config.FormatYAML)
	}
	return config.Load(path)
}

// serveMetrics registers a Prometheus adapter and, when --metrics-addr is
// set, serves /metrics and /debug/pprof on DefaultServeMux.
func serveMetrics(cmd *cli.Command, log *slog.Logger, sub string) query.Metrics {
	addr := cmd.String("metrics-addr")
	if addr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := pmet.New(reg, "queryctl", sub, nil)

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		log.Info("metrics: serving", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics: server stopped", slog.Any("error", err))
		}
	}()
	return m
}
