package safety

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// Coordinator wraps every venue call with the full discipline: acquire the
// venue permit, run through the venue breaker, and retry rate-limit and
// transport failures with backoff.
type Coordinator struct {
	permits  *Permits
	breakers *Breakers
	retry    RetryConfig
	log      zerolog.Logger

	// onRetryHook is notified on every backoff, onErrorHook on every
	// classified venue failure. Both exist for metrics.
	onRetryHook func(venue exchange.Venue)
	onErrorHook func(venue exchange.Venue, kind exchange.ErrorKind)
}

// NewCoordinator builds a coordinator from per-venue permit limits and a
// retry configuration.
func NewCoordinator(limits map[exchange.Venue]int, retry RetryConfig, log zerolog.Logger) *Coordinator {
	venues := make([]exchange.Venue, 0, len(limits))
	for venue := range limits {
		venues = append(venues, venue)
	}
	return &Coordinator{
		permits:  NewPermits(limits),
		breakers: NewBreakers(venues...),
		retry:    retry,
		log:      log.With().Str("component", "safety").Logger(),
	}
}

// OnRetry registers a callback fired once per backoff wait.
func (c *Coordinator) OnRetry(fn func(venue exchange.Venue)) {
	c.onRetryHook = fn
}

// OnError registers a callback fired once per failed call, with the
// classified error kind.
func (c *Coordinator) OnError(fn func(venue exchange.Venue, kind exchange.ErrorKind)) {
	c.onErrorHook = fn
}

// Call executes fn against the venue under permit, breaker, and retry.
func (c *Coordinator) Call(ctx context.Context, venue exchange.Venue, op string, fn func() error) error {
	err := c.permits.With(ctx, venue, func() error {
		return Retry(ctx, func() error {
			return c.breakers.Execute(venue, fn)
		}, c.retry, func(attempt int, delay time.Duration, err error) {
			c.log.Warn().
				Str("venue", string(venue)).
				Str("op", op).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Err(err).
				Msg("venue call backing off")
			if c.onRetryHook != nil {
				c.onRetryHook(venue)
			}
		})
	})
	if err != nil && c.onErrorHook != nil {
		if venueErr, ok := exchange.AsVenueError(err); ok {
			c.onErrorHook(venue, venueErr.Kind)
		}
	}
	return err
}
