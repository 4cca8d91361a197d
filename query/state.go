package query

import "time"

// Status is the lifecycle state of one key.
type Status uint8

const (
	// StatusIdle: created, never fetched.
	StatusIdle Status = iota
	// StatusLoading: a fetch cycle (including its retries) is running.
	StatusLoading
	// StatusSuccess: the last cycle produced data.
	StatusSuccess
	// StatusError: the last cycle failed terminally.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a point-in-time copy of an entry, safe to read without locks.
type State[V any] struct {
	Status Status

	// Data is the last successfully fetched value; it survives errors.
	Data    V
	HasData bool

	// Err is the terminal failure of the last cycle (a *FetchError).
	// It is cleared by a success and at the start of every new cycle.
	Err error

	// FetchedAt is the completion time of the last success (zero if none).
	FetchedAt  time.Time
	StaleAfter time.Duration

	// Stale reports that Data is older than StaleAfter, was invalidated,
	// or is being shown next to an error.
	Stale       bool
	Invalidated bool

	// RetryCount is the number of failures in the current cycle.
	RetryCount int
	// Fetching reports a cycle in flight (the entry is Loading).
	Fetching bool

	Generation uint64
}

// Result is what Fetch hands back to a requester.
type Result[V any] struct {
	Value V
	// Stale marks data served from cache while a refresh runs in the background,
	// or prior data returned next to a terminal error. It is informational.
	Stale     bool
	FetchedAt time.Time
}

// Event is delivered to observers. Evicted is set on the final event of a
// subscription whose entry was removed.
type Event[K comparable, V any] struct {
	Key     K
	State   State[V]
	Evicted bool
}

// Observer receives events for one key, one at a time, in transition order.
type Observer[K comparable, V any] func(Event[K, V])
