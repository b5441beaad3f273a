package portfolio

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/safety"
	"github.com/ducminhle1904/funding-arb-bot/internal/state"
)

type fakeVenue struct {
	exchange.Adapter
	venue   exchange.Venue
	balance exchange.Balance
}

func (f *fakeVenue) Name() exchange.Venue { return f.venue }

func (f *fakeVenue) AccountBalance(ctx context.Context) (*exchange.Balance, error) {
	b := f.balance
	return &b, nil
}

func newTestTracker(t *testing.T, a, b *fakeVenue, leverage int) *Tracker {
	t.Helper()
	states := state.NewManager(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop())
	coord := safety.NewCoordinator(
		map[exchange.Venue]int{},
		safety.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2},
		zerolog.Nop(),
	)
	venues := map[exchange.Venue]exchange.Adapter{a.venue: a, b.venue: b}
	return New(a.venue, b.venue, venues, coord, states, leverage, zerolog.Nop())
}

// TestRefresh_ComputesLimitingVenue tests the capital snapshot fields
func TestRefresh_ComputesLimitingVenue(t *testing.T) {
	a := &fakeVenue{venue: exchange.VenueBybit, balance: exchange.Balance{Total: 1000, Available: 400}}
	b := &fakeVenue{venue: exchange.VenueAster, balance: exchange.Balance{Total: 1200, Available: 900}}
	tracker := newTestTracker(t, a, b, 2)

	cs, err := tracker.Refresh(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2200.0, cs.TotalCapital)
	assert.Equal(t, 1300.0, cs.TotalAvailable)
	assert.Equal(t, exchange.VenueBybit, cs.LimitingVenue)
	// min available 400 x leverage 2 x 0.95 buffer
	assert.InDelta(t, 760, cs.MaxPositionNotional, 1e-9)
}

// TestLongTerm_BaselinePinnedOnce tests the display PnL against the first
// positive refresh
func TestLongTerm_BaselinePinnedOnce(t *testing.T) {
	a := &fakeVenue{venue: exchange.VenueBybit, balance: exchange.Balance{}}
	b := &fakeVenue{venue: exchange.VenueAster, balance: exchange.Balance{}}
	tracker := newTestTracker(t, a, b, 1)

	// zero balances: no baseline yet
	_, err := tracker.Refresh(context.Background())
	require.NoError(t, err)
	_, ok := tracker.LongTerm()
	assert.False(t, ok)

	a.balance = exchange.Balance{Total: 1000, Available: 1000}
	b.balance = exchange.Balance{Total: 1000, Available: 1000}
	_, err = tracker.Refresh(context.Background())
	require.NoError(t, err)

	pnl, ok := tracker.LongTerm()
	require.True(t, ok)
	assert.Equal(t, 2000.0, pnl.InitialCapital)
	assert.Equal(t, 0.0, pnl.PnLUSD)

	// capital grows, baseline stays
	a.balance.Total = 1100
	_, err = tracker.Refresh(context.Background())
	require.NoError(t, err)

	pnl, ok = tracker.LongTerm()
	require.True(t, ok)
	assert.Equal(t, 2000.0, pnl.InitialCapital)
	assert.Equal(t, 100.0, pnl.PnLUSD)
	assert.Equal(t, 5.0, pnl.PnLPct)
}
