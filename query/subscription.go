package query

import "sync"

// Subscription is the handle returned by Client.Subscribe.
//
// Each subscription owns an unbounded FIFO and one delivery goroutine. The
// entry appends to the FIFO under its own lock, so events arrive in the
// order the transitions happened and a slow observer never blocks fetches.
type Subscription[K comparable, V any] struct {
	key K
	obs Observer[K, V]

	mu     sync.Mutex
	queue  []Event[K, V]
	closed bool

	wake chan struct{}
	done chan struct{}

	once      sync.Once
	detach    func()
	stopWatch func() bool
}

func newSubscription[K comparable, V any](k K, obs Observer[K, V]) *Subscription[K, V] {
	s := &Subscription[K, V]{
		key:  k,
		obs:  obs,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.deliver()
	return s
}

// Key returns the subscribed key.
func (s *Subscription[K, V]) Key() K { return s.key }

// Done is closed when delivery has stopped: after Unsubscribe, or after the
// final Evicted event was handed to the observer.
func (s *Subscription[K, V]) Done() <-chan struct{} { return s.done }

// Unsubscribe stops delivery. Events not yet handed to the observer are
// dropped. Safe to call more than once and from inside the observer.
func (s *Subscription[K, V]) Unsubscribe() {
	s.unwatch()
	s.unsubscribe()
}

func (s *Subscription[K, V]) unsubscribe() {
	s.once.Do(func() {
		if s.detach != nil {
			s.detach()
		}
		s.end(true)
	})
}

// watch records the stop function of the context watcher.
func (s *Subscription[K, V]) watch(stop func() bool) {
	s.mu.Lock()
	s.stopWatch = stop
	s.mu.Unlock()
}

// unwatch releases the context watcher, if any.
func (s *Subscription[K, V]) unwatch() {
	s.mu.Lock()
	stop := s.stopWatch
	s.stopWatch = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (s *Subscription[K, V]) push(ev Event[K, V]) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

// end stops accepting events. With drop the backlog is discarded, otherwise
// it is delivered before the goroutine exits.
func (s *Subscription[K, V]) end(drop bool) {
	s.mu.Lock()
	s.closed = true
	if drop {
		s.queue = nil
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[K, V]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription[K, V]) deliver() {
	defer close(s.done)
	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				closed := s.closed
				s.mu.Unlock()
				if closed {
					return
				}
				break
			}
			ev := s.queue[0]
			s.queue[0] = Event[K, V]{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.obs(ev)
		}
	}
}
