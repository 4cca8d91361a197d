package query

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFetcher is returned when neither Options.Fetcher nor WithFetcher supplied one.
	ErrNoFetcher = errors.New("query: no Fetcher provided")
	// ErrFetcherType is returned when WithFetcher got a Fetcher of other key/value types.
	ErrFetcherType = errors.New("query: fetcher type does not match client")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("query: client closed")
	// ErrEvicted is delivered to callers waiting on a cycle whose entry was evicted.
	ErrEvicted = errors.New("query: entry evicted")
	// ErrRetryExhausted marks a cycle that failed on every allowed attempt.
	ErrRetryExhausted = errors.New("query: retries exhausted")
	// ErrNilObserver is returned by Subscribe when the observer is nil.
	ErrNilObserver = errors.New("query: nil observer")
)

// FetchError is the terminal failure of a fetch cycle. It wraps the last
// Fetcher error and, when every attempt was used, ErrRetryExhausted:
//
//	errors.Is(err, query.ErrRetryExhausted) // retries used up
//	errors.Is(err, io.ErrUnexpectedEOF)     // transport cause
type FetchError struct {
	Key       any
	Attempts  int
	Exhausted bool
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("query: fetch %v failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Exhausted {
		errs = append(errs, ErrRetryExhausted)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
