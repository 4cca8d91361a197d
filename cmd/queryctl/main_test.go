package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/querycache/query"
	"github.com/IvanBrykalov/querycache/transport/rediskv"
)

func TestGet_FetchOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"` + strings.TrimPrefix(r.URL.Path, "/") + `"}`))
	}))
	t.Cleanup(srv.Close)

	cfg := writePolicies(t, "defaults: {retry_limit: 1, base_delay: 1ms, max_delay: 2ms}\n")

	logFile := filepath.Join(t.TempDir(), "queryctl.log")

	err := newApp().Run(context.Background(), []string{
		"queryctl", "--log-level", "debug", "--log-format", "json", "--log-file", logFile, "--config", cfg,
		"get", "--url", srv.URL, "--path", "name", "users", "posts",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fetch cycle started")
}

func TestGet_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("app:flags", `{"dark_mode":true}`))

	err := newApp().Run(context.Background(), []string{
		"queryctl", "--log-level", "error",
		"get", "--redis", mr.Addr(), "--redis-prefix", "app:", "--path", "dark_mode", "flags",
	})
	require.NoError(t, err)

	err = newApp().Run(context.Background(), []string{
		"queryctl", "--log-level", "error", "--config", writePolicies(t, "defaults: {retry_limit: 0}\n"),
		"get", "--redis", mr.Addr(), "missing",
	})
	require.ErrorIs(t, err, rediskv.ErrNotFound)
}

func writePolicies(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "query.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestGet_Errors(t *testing.T) {
	err := newApp().Run(context.Background(), []string{"queryctl", "get", "--url", "http://127.0.0.1:1"})
	require.Error(t, err)

	err = newApp().Run(context.Background(), []string{"queryctl", "--log-level", "loud", "get", "--url", "http://x", "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log-level")

	err = newApp().Run(context.Background(), []string{"queryctl", "--config", "policies.toml", "get", "--url", "http://x", "k"})
	require.Error(t, err)

	err = newApp().Run(context.Background(), []string{"queryctl", "get", "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--url or --redis")

	err = newApp().Run(context.Background(), []string{"queryctl", "get", "--url", "http://x", "--redis", "localhost:6379", "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestBench_Short(t *testing.T) {
	err := newApp().Run(context.Background(), []string{
		"queryctl", "--log-level", "error",
		"bench", "--duration", "50ms", "--workers", "4", "--keys", "64", "--seed", "7", "--fail", "0", "--latency", "100us",
	})
	require.NoError(t, err)
}

func TestWatch_PrintsChanges(t *testing.T) {
	c := query.New[string, string](query.Options[string, string]{
		Defaults: &query.Config{StaleAfter: query.Never, RetryLimit: 0},
		Fetcher:  func(_ context.Context, k string) (string, error) { return `"` + k + `"`, nil },
	})
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	err := watch(ctx, c, []string{"users"}, 10*time.Millisecond, &buf, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "users\t")
	assert.Contains(t, buf.String(), `"users"`)
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	printEvent(&buf, query.Event[string, string]{Key: "k", Evicted: true})
	printEvent(&buf, query.Event[string, string]{Key: "k", State: query.State[string]{Status: query.StatusError, Err: errors.New("boom")}})
	printEvent(&buf, query.Event[string, string]{Key: "k", State: query.State[string]{Status: query.StatusLoading, RetryCount: 2}})
	printEvent(&buf, query.Event[string, string]{Key: "k", State: query.State[string]{Status: query.StatusIdle}})

	assert.Equal(t, "k\tevicted\nk\terror\tboom\nk\tretry 2\n", buf.String())
}
