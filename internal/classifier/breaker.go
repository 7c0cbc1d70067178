package classifier

import (
	"sync"
	"time"
)

// breaker accumulates failures for one operation key. Once failures reach
// the threshold the circuit opens and stays open until the cool-down
// elapses. State is volatile and resets on process restart.
type breaker struct {
	mu        sync.Mutex
	threshold int
	coolDown  time.Duration
	failures  int
	openedAt  time.Time
}

func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A failure after the cool-down closes the circuit and starts a
	// fresh count.
	if !b.openedAt.IsZero() && now.Sub(b.openedAt) >= b.coolDown {
		b.openedAt = time.Time{}
		b.failures = 0
	}

	b.failures++
	if b.failures >= b.threshold && b.openedAt.IsZero() {
		b.openedAt = now
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openedAt = time.Time{}
}

func (b *breaker) open(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openedAt.IsZero() {
		return false
	}
	return now.Sub(b.openedAt) < b.coolDown
}

// breakerSet lazily creates one breaker per operation key.
type breakerSet struct {
	mu        sync.Mutex
	breakers  map[string]*breaker
	threshold int
	coolDown  time.Duration
}

func newBreakerSet(threshold int, coolDown time.Duration) *breakerSet {
	return &breakerSet{
		breakers:  make(map[string]*breaker),
		threshold: threshold,
		coolDown:  coolDown,
	}
}

func (s *breakerSet) get(operation string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	br, ok := s.breakers[operation]
	if !ok {
		br = &breaker{threshold: s.threshold, coolDown: s.coolDown}
		s.breakers[operation] = br
	}
	return br
}
