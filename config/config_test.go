package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/querycache/query"
)

const testYAML = `
defaults:
  stale_after: 30s
  retry_limit: 2
  base_delay: 500ms
  max_delay: 10s
keys:
  users:
    stale_after: 5m
  feed:
    retry_limit: 0
    stale_after: -1s
`

const testJSON = `{
  "defaults": {"stale_after": "30s", "retry_limit": 2},
  "keys": {"users": {"max_delay": "1m"}}
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	f, err := Load(writeFile(t, "query.yaml", testYAML))
	require.NoError(t, err)

	d := f.Defaults()
	assert.Equal(t, 30*time.Second, d.StaleAfter)
	assert.Equal(t, 2, d.RetryLimit)
	assert.Equal(t, 500*time.Millisecond, d.Backoff.Delay(0))
	assert.Equal(t, 10*time.Second, d.Backoff.Delay(10))

	assert.Equal(t, []string{"feed", "users"}, f.Keys())

	users, ok := f.Policy("users")
	require.True(t, ok)
	assert.Equal(t, Policy{StaleAfter: 5 * time.Minute, RetryLimit: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}, users)

	perKey := f.PerKey()
	feed, ok := perKey("feed")
	require.True(t, ok)
	assert.Equal(t, query.Never, feed.StaleAfter)
	assert.Equal(t, 0, feed.RetryLimit)

	_, ok = perKey("unknown")
	assert.False(t, ok)
}

func TestLoad_JSON(t *testing.T) {
	f, err := Load(writeFile(t, "query.json", testJSON))
	require.NoError(t, err)

	users, ok := f.Policy("users")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, users.StaleAfter)
	assert.Equal(t, 2, users.RetryLimit)
	assert.Equal(t, time.Second, users.BaseDelay, "unset fields fall back to DefaultPolicy")
	assert.Equal(t, time.Minute, users.MaxDelay)
}

func TestParse_Empty(t *testing.T) {
	f, err := Parse(nil, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy().Config().StaleAfter, query.DefaultConfig().StaleAfter)
	assert.Equal(t, query.DefaultRetryLimit, f.Defaults().RetryLimit)
	assert.Empty(t, f.Keys())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = Load("query.toml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrLoadFailed)

	_, err = Parse([]byte("{}"), Format("toml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Parse([]byte("defaults: [unterminated"), FormatYAML)
	assert.ErrorIs(t, err, ErrParseFailed)
}

func TestParse_InvalidPolicy(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"negative retry limit", "defaults: {retry_limit: -1}"},
		{"negative base delay", "defaults: {base_delay: -1s}"},
		{"max below base", "defaults: {base_delay: 10s, max_delay: 1s}"},
		{"per-key override", "keys: {users: {retry_limit: -3}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatYAML)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParse_BadDuration(t *testing.T) {
	_, err := Parse([]byte("defaults: {stale_after: soon}"), FormatYAML)
	require.ErrorIs(t, err, ErrParseFailed)
}
