package rediskv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/querycache/backoff"
	"github.com/IvanBrykalov/querycache/query"
)

func newTestRedis(t *testing.T) (redis.UniversalClient, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr:         mr.Addr(),
		DialTimeout:  100 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
		PoolSize:     2,
		MaxRetries:   1,
	})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

func TestSource_Fetch(t *testing.T) {
	rdb, mr := newTestRedis(t)
	require.NoError(t, mr.Set("app:users", `{"count":2,"names":["ada","linus"]}`))

	s := &Source{Client: rdb, Prefix: "app:"}
	ctx := context.Background()

	v, err := s.Fetch(ctx, "users")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2,"names":["ada","linus"]}`, v)

	s.Path = "names.1"
	v, err = s.Fetch(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, `"linus"`, v)

	s.Path = "missing"
	_, err = s.Fetch(ctx, "users")
	require.ErrorIs(t, err, ErrPathNotFound)
	assert.False(t, ShouldRetry(err))

	_, err = s.Fetch(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
	assert.False(t, ShouldRetry(err))
}

func TestSource_FetchHash(t *testing.T) {
	rdb, mr := newTestRedis(t)
	mr.HSet("profile:ada", "lang", "go", "team", "core")

	s := &Source{Client: rdb, Prefix: "profile:"}
	m, err := s.FetchHash(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lang": "go", "team": "core"}, m)

	_, err = s.FetchHash(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

// An unreachable server is a transient failure: the client retries it and
// recovers once the value is readable.
func TestSource_WithQueryClient(t *testing.T) {
	rdb, mr := newTestRedis(t)
	require.NoError(t, mr.Set("k", "v1"))

	s := &Source{Client: rdb}
	c := query.New[string, string](query.Options[string, string]{
		Fetcher:     s.Fetcher(),
		ShouldRetry: ShouldRetry,
		Defaults:    &query.Config{StaleAfter: query.Never, RetryLimit: 2, Backoff: backoff.None{}},
	})
	t.Cleanup(func() { _ = c.Close() })

	res, err := c.Fetch(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", res.Value)

	mr.SetError("LOADING")
	_, err = c.Refetch(context.Background(), "k")
	var fe *query.FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Exhausted)
	assert.Equal(t, 3, fe.Attempts)

	st, ok := c.State("k")
	require.True(t, ok)
	assert.Equal(t, "v1", st.Data, "data survives the failed cycle")

	mr.SetError("")
	require.NoError(t, mr.Set("k", "v2"))
	res, err = c.Refetch(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", res.Value)

	// A missing key is permanent: a single attempt.
	mr.Del("k")
	_, err = c.Refetch(context.Background(), "k")
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Attempts)
	assert.ErrorIs(t, err, ErrNotFound)
}

// Hashes are cached as maps; HSET after a success is picked up on Refetch.
func TestSource_HashFetcher(t *testing.T) {
	rdb, mr := newTestRedis(t)
	mr.HSet("profile:ada", "lang", "go")

	s := &Source{Client: rdb, Prefix: "profile:"}
	c := query.New[string, map[string]string](query.Options[string, map[string]string]{
		Fetcher:     s.HashFetcher(),
		ShouldRetry: ShouldRetry,
		Defaults:    &query.Config{StaleAfter: query.Never, RetryLimit: 1, Backoff: backoff.None{}},
	})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	res, err := c.Fetch(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lang": "go"}, res.Value)

	mr.HSet("profile:ada", "team", "core")
	res, err = c.Fetch(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lang": "go"}, res.Value, "fresh data is served from cache")

	res, err = c.Refetch(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lang": "go", "team": "core"}, res.Value)

	_, err = c.Fetch(ctx, "nobody")
	var fe *query.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Attempts)
	assert.ErrorIs(t, err, ErrNotFound)
}
