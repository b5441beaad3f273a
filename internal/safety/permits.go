// Package safety provides the cross-venue concurrency discipline: per-venue
// permit semaphores, exponential backoff on rate limits, and a circuit
// breaker around venue transports.
package safety

import (
	"context"
	"fmt"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// Permits bounds in-flight requests per venue. A venue with limit <= 0 is
// treated as unbounded.
type Permits struct {
	sems map[exchange.Venue]chan struct{}
}

// NewPermits creates a permit table from per-venue limits.
func NewPermits(limits map[exchange.Venue]int) *Permits {
	sems := make(map[exchange.Venue]chan struct{}, len(limits))
	for venue, limit := range limits {
		if limit > 0 {
			sems[venue] = make(chan struct{}, limit)
		}
	}
	return &Permits{sems: sems}
}

// Acquire blocks until a permit for the venue is available or the context is
// done. Venues without a configured limit acquire immediately.
func (p *Permits) Acquire(ctx context.Context, venue exchange.Venue) error {
	sem, ok := p.sems[venue]
	if !ok {
		return nil
	}
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquiring %s permit: %w", venue, ctx.Err())
	}
}

// Release returns a permit for the venue. Must pair with a successful Acquire.
func (p *Permits) Release(venue exchange.Venue) {
	if sem, ok := p.sems[venue]; ok {
		<-sem
	}
}

// With runs fn while holding a permit for the venue.
func (p *Permits) With(ctx context.Context, venue exchange.Venue, fn func() error) error {
	if err := p.Acquire(ctx, venue); err != nil {
		return err
	}
	defer p.Release(venue)
	return fn()
}
