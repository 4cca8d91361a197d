// Package rediskv provides query Fetchers that read values from Redis.
package rediskv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"

	"github.com/IvanBrykalov/querycache/query"
)

var (
	// ErrNotFound is returned when the Redis key does not exist.
	ErrNotFound = errors.New("rediskv: key not found")
	// ErrPathNotFound is returned when Path selects nothing in a JSON value.
	ErrPathNotFound = errors.New("rediskv: path not found")
)

// Source reads the Redis key Prefix+key for each query key.
type Source struct {
	Client redis.UniversalClient
	Prefix string
	// Path is an optional gjson path applied to JSON string values.
	Path string
}

// Key returns the Redis key used for a query key.
func (s *Source) Key(key string) string { return s.Prefix + key }

// Fetch GETs the string value of key.
func (s *Source) Fetch(ctx context.Context, key string) (string, error) {
	rk := s.Key(key)
	v, err := s.Client.Get(ctx, rk).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, rk)
		}
		return "", fmt.Errorf("rediskv: get %s: %w", rk, err)
	}
	if s.Path == "" {
		return v, nil
	}
	res := gjson.Get(v, s.Path)
	if !res.Exists() {
		return "", fmt.Errorf("%w: %q in %s", ErrPathNotFound, s.Path, rk)
	}
	return res.Raw, nil
}

// FetchHash reads every field of the hash stored at key.
func (s *Source) FetchHash(ctx context.Context, key string) (map[string]string, error) {
	rk := s.Key(key)
	m, err := s.Client.HGetAll(ctx, rk).Result()
	if err != nil {
		return nil, fmt.Errorf("rediskv: hgetall %s: %w", rk, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rk)
	}
	return m, nil
}

// Fetcher adapts Fetch to a query client's Fetcher.
func (s *Source) Fetcher() query.Fetcher[string, string] { return s.Fetch }

// HashFetcher adapts FetchHash to a query client's Fetcher.
func (s *Source) HashFetcher() query.Fetcher[string, map[string]string] { return s.FetchHash }

// ShouldRetry treats missing keys and paths as permanent.
func ShouldRetry(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrPathNotFound) &&
		!errors.Is(err, context.Canceled)
}
