// Package httpjson provides a query.Fetcher that GETs a JSON document over
// HTTP and optionally narrows it with a gjson path.
package httpjson

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/tidwall/gjson"

	"github.com/IvanBrykalov/querycache/query"
)

// DefaultMaxBody limits how much of a response body is read.
const DefaultMaxBody = 8 << 20

var (
	// ErrInvalidJSON is returned when the body is not valid JSON.
	ErrInvalidJSON = errors.New("httpjson: invalid JSON body")
	// ErrPathNotFound is returned when Path selects nothing.
	ErrPathNotFound = errors.New("httpjson: path not found")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpjson: GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Temporary reports whether retrying may help: 408, 429 and 5xx.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusRequestTimeout ||
		e.Code == http.StatusTooManyRequests ||
		e.Code >= 500
}

// Source describes where documents come from. The query key is appended to
// BaseURL, so BaseURL "https://api.example.com/" and key "users" fetch
// https://api.example.com/users.
type Source struct {
	BaseURL string
	// Path is a gjson path applied to the body; empty keeps the whole document.
	Path   string
	Client *http.Client
	Header http.Header
	// MaxBody caps the bytes read from a response (<= 0 => DefaultMaxBody).
	MaxBody int64
	// Breaker, when set, guards every request; see NewBreaker.
	Breaker *gobreaker.CircuitBreaker[gjson.Result]
}

// URL returns the address fetched for key.
func (s *Source) URL(key string) string {
	if key == "" {
		return s.BaseURL
	}
	return strings.TrimSuffix(s.BaseURL, "/") + "/" + strings.TrimPrefix(key, "/")
}

// Fetch performs one GET for key and returns the selected JSON as raw text.
func (s *Source) Fetch(ctx context.Context, key string) (string, error) {
	res, err := s.get(ctx, key)
	if err != nil {
		return "", err
	}
	return res.Raw, nil
}

// Fetcher adapts s to a query client's Fetcher.
func (s *Source) Fetcher() query.Fetcher[string, string] { return s.Fetch }

// ResultFetcher returns a Fetcher that keeps the parsed gjson.Result.
func (s *Source) ResultFetcher() query.Fetcher[string, gjson.Result] { return s.get }

func (s *Source) get(ctx context.Context, key string) (gjson.Result, error) {
	if s.Breaker == nil {
		return s.do(ctx, key)
	}
	return s.Breaker.Execute(func() (gjson.Result, error) { return s.do(ctx, key) })
}

func (s *Source) do(ctx context.Context, key string) (gjson.Result, error) {
	url := s.URL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("httpjson: build request: %w", err)
	}
	for k, vs := range s.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("httpjson: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return gjson.Result{}, &StatusError{URL: url, Code: resp.StatusCode}
	}

	limit := s.MaxBody
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("httpjson: read %s: %w", url, err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrInvalidJSON, url)
	}
	if s.Path == "" {
		return gjson.ParseBytes(body), nil
	}
	res := gjson.GetBytes(body, s.Path)
	if !res.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %q in %s", ErrPathNotFound, s.Path, url)
	}
	return res, nil
}

// ShouldRetry classifies fetch failures for query.Options.ShouldRetry:
// malformed bodies, missing paths, non-temporary statuses and an open
// breaker are permanent.
func ShouldRetry(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return !permanent(err) && !errors.Is(err, context.Canceled)
}

// permanent reports failures that say nothing about the server's health.
func permanent(err error) bool {
	if errors.Is(err, ErrInvalidJSON) || errors.Is(err, ErrPathNotFound) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && !se.Temporary()
}

// NewBreaker returns a breaker that opens after failures consecutive
// transport errors or temporary statuses and probes again after timeout.
// Permanent failures count as successes; cancelled requests are ignored.
func NewBreaker(name string, failures uint32, timeout time.Duration) *gobreaker.CircuitBreaker[gjson.Result] {
	if failures == 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker[gjson.Result](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || permanent(err)
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
}

// NewClient returns an http.Client with the given overall request timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
