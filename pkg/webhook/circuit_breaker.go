package webhook

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

const maxBreakers = 10000

// Circuit breaker states as persisted on WebhookEndpoint.CircuitState.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// attemptResult is what one HTTP attempt yields through the breaker.
type attemptResult struct {
	code int
	body string
}

type breaker = gobreaker.CircuitBreaker[attemptResult]

// breakerSet holds one circuit breaker per webhook endpoint.
type breakerSet struct {
	failThreshold uint32
	resetTimeout  time.Duration

	mu    sync.Mutex
	items map[string]*breaker
}

func newBreakerSet(failThreshold int, resetTimeout time.Duration) *breakerSet {
	if failThreshold <= 0 {
		failThreshold = 5
	}
	return &breakerSet{
		failThreshold: uint32(failThreshold),
		resetTimeout:  resetTimeout,
		items:         make(map[string]*breaker),
	}
}

func (s *breakerSet) get(webhookID string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.items[webhookID]
	if ok {
		return cb
	}

	// Evict an arbitrary entry if at capacity.
	if len(s.items) >= maxBreakers {
		for k := range s.items {
			delete(s.items, k)
			break
		}
	}

	threshold := s.failThreshold
	cb = gobreaker.NewCircuitBreaker[attemptResult](gobreaker.Settings{
		Name:        webhookID,
		MaxRequests: 1,
		Timeout:     s.resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	s.items[webhookID] = cb
	return cb
}

// state returns the breaker state for webhookID, "closed" when unknown.
func (s *breakerSet) state(webhookID string) string {
	s.mu.Lock()
	cb, ok := s.items[webhookID]
	s.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return cb.State().String()
}
