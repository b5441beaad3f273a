package safety

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// Breakers holds one circuit breaker per venue so a venue-wide outage stops
// generating doomed requests instead of burning the retry budget.
type Breakers struct {
	byVenue map[exchange.Venue]*gobreaker.CircuitBreaker
}

// NewBreakers creates a breaker per venue. The breaker opens after 5
// consecutive failures and probes again after 30 seconds.
func NewBreakers(venues ...exchange.Venue) *Breakers {
	byVenue := make(map[exchange.Venue]*gobreaker.CircuitBreaker, len(venues))
	for _, venue := range venues {
		byVenue[venue] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(venue),
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return &Breakers{byVenue: byVenue}
}

// Execute runs fn through the venue's breaker. Venues without a breaker run
// fn directly.
func (b *Breakers) Execute(venue exchange.Venue, fn func() error) error {
	cb, ok := b.byVenue[venue]
	if !ok {
		return fn()
	}
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State returns the breaker state for a venue for diagnostics.
func (b *Breakers) State(venue exchange.Venue) gobreaker.State {
	if cb, ok := b.byVenue[venue]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}
