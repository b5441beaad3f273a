// Package bot runs the rotation loop: scan for the best funding setup,
// open the delta-neutral pair, hold while the monitor watches the exit
// rules, close, cool down, repeat.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/funding-arb-bot/internal/config"
	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/executor"
	"github.com/ducminhle1904/funding-arb-bot/internal/monitor"
	"github.com/ducminhle1904/funding-arb-bot/internal/monitoring"
	"github.com/ducminhle1904/funding-arb-bot/internal/notifications"
	"github.com/ducminhle1904/funding-arb-bot/internal/portfolio"
	"github.com/ducminhle1904/funding-arb-bot/internal/reconcile"
	"github.com/ducminhle1904/funding-arb-bot/internal/safety"
	"github.com/ducminhle1904/funding-arb-bot/internal/scanner"
	"github.com/ducminhle1904/funding-arb-bot/internal/sizing"
	"github.com/ducminhle1904/funding-arb-bot/internal/state"
	"github.com/ducminhle1904/funding-arb-bot/pkg/display"
	"github.com/ducminhle1904/funding-arb-bot/pkg/reporting"
)

// closeRetryDelay spaces the single retry after a close where neither leg
// reached the venue.
const closeRetryDelay = 5 * time.Second

// shutdownCloseTimeout bounds the optional position close during shutdown,
// after the run context is already cancelled.
const shutdownCloseTimeout = 2 * time.Minute

// Deps wires the bot's collaborators. The venue adapters, coordinator, and
// state manager are constructed in cmd/bot; everything strategy-shaped is
// built here.
type Deps struct {
	Config     *config.Config
	ConfigPath string
	Log        zerolog.Logger

	States *state.Manager
	VenueA exchange.Venue
	VenueB exchange.Venue
	Venues map[exchange.Venue]exchange.Adapter
	Coord  *safety.Coordinator

	Notifier notifications.Notifier
	Health   *monitoring.HealthChecker
	Out      io.Writer
}

// Bot is the rotation engine.
type Bot struct {
	cfg     *config.Config
	cfgPath string
	log     zerolog.Logger

	states *state.Manager
	venueA exchange.Venue
	venueB exchange.Venue
	venues map[exchange.Venue]exchange.Adapter
	coord  *safety.Coordinator

	scan     *scanner.Scanner
	exec     *executor.Executor
	mon      *monitor.Monitor
	tracker  *portfolio.Tracker
	rec      *reconcile.Reconciler
	notify   notifications.Notifier
	health   *monitoring.HealthChecker
	reporter *reporting.ExcelReporter
	out      io.Writer

	lastScan  *scanner.Result
	waitUntil time.Time

	now func() time.Time
}

// New assembles the bot from its dependencies.
func New(deps Deps) *Bot {
	log := deps.Log.With().Str("component", "bot").Logger()
	cfg := deps.Config

	out := deps.Out
	if out == nil {
		out = os.Stdout
	}
	notify := deps.Notifier
	if notify == nil {
		notify = notifications.Noop{}
	}
	health := deps.Health
	if health == nil {
		health = monitoring.NewHealthChecker()
	}

	b := &Bot{
		cfg:      cfg,
		cfgPath:  deps.ConfigPath,
		log:      log,
		states:   deps.States,
		venueA:   deps.VenueA,
		venueB:   deps.VenueB,
		venues:   deps.Venues,
		coord:    deps.Coord,
		notify:   notify,
		health:   health,
		reporter: reporting.NewExcelReporter(),
		out:      out,
		now:      time.Now,
	}
	b.scan = scanner.New(deps.Venues[deps.VenueA], deps.Venues[deps.VenueB], deps.Coord, deps.Log)
	b.exec = executor.New(deps.Venues, deps.Coord, deps.Log)
	b.mon = monitor.New(deps.Venues, deps.Coord, b.monitorConfig(), deps.Log)
	b.tracker = portfolio.New(deps.VenueA, deps.VenueB, deps.Venues, deps.Coord, deps.States, cfg.LeverageSettings.Leverage, deps.Log)
	b.rec = reconcile.New(deps.VenueA, deps.VenueB, deps.Venues, deps.Coord, deps.States, cfg.PositionManagement.HoldDurationHours, deps.Log)
	return b
}

// Run loads state, reconciles against the live venues, and drives the state
// machine until the context is cancelled or an unrecoverable error halts it.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.states.Load(); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if raw, err := b.cfg.Raw(); err == nil {
		if err := b.states.SetConfigSnapshot(raw); err != nil {
			b.log.Warn().Err(err).Msg("could not persist config snapshot")
		}
	}

	outcome, err := b.rec.Run(ctx, b.cfg.Universe.SymbolsToMonitor)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	b.log.Info().Str("action", string(outcome.Action)).Str("detail", outcome.Detail).Msg("reconciliation complete")
	if outcome.Action == reconcile.ActionHalted {
		b.health.RecordError(outcome.Detail)
		b.alert("error", notifications.ReconcileHalted(outcome.Detail))
		return fmt.Errorf("reconciliation halted: %s", outcome.Detail)
	}
	if outcome.Action == reconcile.ActionAdopted {
		b.alert("warning", notifications.PositionAdopted(outcome.Detail))
	}

	for {
		if ctx.Err() != nil {
			return b.shutdown()
		}

		st := b.states.State()
		b.health.RecordTick(string(st))

		switch st {
		case state.StateIdle:
			if err := b.states.Transition(state.StateAnalyzing); err != nil {
				return err
			}
			continue

		case state.StateAnalyzing:
			if err := b.analyze(ctx); err != nil {
				return err
			}

		case state.StateHolding:
			if err := b.holdTick(ctx); err != nil {
				return err
			}

		case state.StateWaiting:
			if b.waitUntil.IsZero() {
				b.startCooldown("resumed in cooldown")
			}
			if !b.now().Before(b.waitUntil) {
				if err := b.states.Transition(state.StateIdle); err != nil {
					return err
				}
				continue
			}

		case state.StateError:
			stats := b.states.Stats()
			return fmt.Errorf("halted in ERROR state: %s", stats.LastError)

		default:
			return fmt.Errorf("unexpected lifecycle state %s in main loop", st)
		}

		if !sleepCtx(ctx, b.tickInterval()) {
			return b.shutdown()
		}
	}
}

// tickInterval is the loop cadence: the faster check interval while holding,
// the slower loop interval otherwise.
func (b *Bot) tickInterval() time.Duration {
	pm := b.cfg.PositionManagement
	if b.states.State() == state.StateHolding {
		return time.Duration(pm.CheckIntervalSeconds) * time.Second
	}
	return time.Duration(pm.LoopIntervalSeconds) * time.Second
}

// shutdown finishes the run: optionally flattens the open position, then
// persists the SHUTDOWN state.
func (b *Bot) shutdown() error {
	b.log.Info().Msg("shutting down")

	if b.cfg.PositionManagement.CloseOnShutdown && b.states.State() == state.StateHolding {
		if pos := b.states.Position(); pos != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownCloseTimeout)
			defer cancel()
			if err := b.closePosition(ctx, pos, nil, state.ExitShutdown, "close on shutdown"); err != nil {
				b.log.Error().Err(err).Msg("close on shutdown failed, position left for next run")
			}
		}
	}

	if err := b.states.Transition(state.StateShutdown); err != nil {
		return err
	}
	b.alert("info", "Bot shut down cleanly")
	return nil
}

func (b *Bot) alert(level, message string) {
	if err := b.notify.SendAlert(level, message); err != nil {
		b.log.Warn().Err(err).Msg("notification failed")
	}
}

// sleepCtx sleeps in short chunks so cancellation is observed within a
// second. Returns false when the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	const chunk = time.Second
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if remaining > chunk {
			remaining = chunk
		}
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
			return false
		}
	}
}

func (b *Bot) startCooldown(why string) {
	wait := time.Duration(b.cfg.PositionManagement.WaitBetweenCyclesMinutes) * time.Minute
	b.waitUntil = b.now().Add(wait)
	b.log.Info().Dur("cooldown", wait).Str("why", why).Msg("entering cooldown")
}

// reloadConfig re-reads the config file so thresholds can be tuned without a
// restart. The previous config stays active when the reload fails.
func (b *Bot) reloadConfig() {
	if b.cfgPath == "" {
		return
	}
	cfg, err := config.Load(b.cfgPath, b.log)
	if err != nil {
		b.log.Warn().Err(err).Msg("config reload failed, keeping previous config")
		return
	}
	b.cfg = cfg
	b.mon = monitor.New(b.venues, b.coord, b.monitorConfig(), b.log)
}

func (b *Bot) monitorConfig() monitor.Config {
	pm := b.cfg.PositionManagement
	return monitor.Config{
		FeeCoverageMultiplier:    pm.FeeCoverageMultiplier,
		MaxPositionAgeHours:      pm.MaxPositionAgeHours,
		HoldDurationHours:        pm.HoldDurationHours,
		RotationAPRImprovement:   pm.RotationAPRImprovement,
		MinHoldBeforeRotateHours: pm.MinHoldBeforeRotateHours,
		MaxLegImbalancePct:       monitor.DefaultConfig().MaxLegImbalancePct,
		MaintenanceMargin:        pm.MaintenanceMargin,
		SafetyBuffer:             pm.SafetyBuffer,
		TakerFeeRate:             pm.TakerFeeRate,
	}
}

func (b *Bot) scanConfig() scanner.Config {
	frs := b.cfg.FundingRateStrategy
	return scanner.Config{
		MinFundingAPR:    frs.MinFundingAPR,
		MinVolumeUSD:     frs.MinVolumeUSD,
		MaxSpreadPct:     frs.MaxSpreadPct,
		UseFundingMA:     frs.UseFundingMA,
		FundingMAPeriods: frs.FundingMAPeriods,
		SymbolTimeout:    time.Duration(b.cfg.Venues.SymbolTimeoutSecs) * time.Second,
		StaggerDelay:     time.Duration(b.cfg.Venues.ScannerStaggerMs) * time.Millisecond,
	}
}

// exportReport writes the cycle workbook after every completed cycle.
func (b *Bot) exportReport() {
	if !b.cfg.Reporting.ExportXLSX {
		return
	}
	path := filepath.Join(b.cfg.Reporting.ExportDir, "cycles.xlsx")
	if err := b.reporter.WriteCyclesXLSX(b.states.CompletedCycles(), b.states.Stats(), path); err != nil {
		b.log.Warn().Err(err).Str("path", path).Msg("cycle export failed")
	}
}

// venueAvailable maps the capital snapshot onto a specific venue.
func (b *Bot) venueAvailable(capital *state.CapitalStatus, venue exchange.Venue) float64 {
	if venue == b.venueA {
		return capital.VenueAAvailable
	}
	return capital.VenueBAvailable
}

func (b *Bot) symbolMeta(ctx context.Context, venue exchange.Venue, symbol string) (*exchange.SymbolMeta, error) {
	var meta *exchange.SymbolMeta
	err := b.coord.Call(ctx, venue, "symbol_meta", func() error {
		var err error
		meta, err = b.venues[venue].SymbolMeta(ctx, symbol)
		return err
	})
	return meta, err
}

func (b *Bot) bestBidAsk(ctx context.Context, venue exchange.Venue, symbol string) (*exchange.BookTicker, error) {
	var book *exchange.BookTicker
	err := b.coord.Call(ctx, venue, "book", func() error {
		var err error
		book, err = b.venues[venue].BestBidAsk(ctx, symbol)
		return err
	})
	return book, err
}

// spotHolding reads the existing spot balance for the single-venue variant.
func (b *Bot) spotHolding(ctx context.Context, venue exchange.Venue, symbol string) (float64, error) {
	spot, ok := b.venues[venue].(exchange.SpotTrader)
	if !ok {
		return 0, fmt.Errorf("venue %s does not support spot trading", venue)
	}
	var holding float64
	err := b.coord.Call(ctx, venue, "spot_balance", func() error {
		var err error
		holding, err = spot.SpotBalance(ctx, executor.BaseAsset(symbol))
		return err
	})
	return holding, err
}

var errAnalyzePostponed = errors.New("analyze postponed to next tick")

// analyze runs one ANALYZING pass: refresh capital, scan, and try candidates
// best-first until one opens or all are skipped.
func (b *Bot) analyze(ctx context.Context) error {
	b.reloadConfig()

	capital, err := b.tracker.Refresh(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("capital refresh failed, retrying next tick")
		return nil
	}
	monitoring.UpdateCapital(capital.TotalCapital)

	result := b.scan.Scan(ctx, b.cfg.Universe.SymbolsToMonitor, b.scanConfig())
	b.lastScan = result
	display.PrintScanResult(b.out, result)
	for _, excl := range result.Excluded {
		monitoring.RecordExclusion(string(excl.Reason))
	}
	if best := result.Best(); best != nil {
		monitoring.UpdateBestOpportunity(best.NetAPR)
	} else {
		monitoring.UpdateBestOpportunity(0)
	}

	if len(result.Opportunities) == 0 {
		b.startCooldown("no eligible opportunities")
		return b.states.Transition(state.StateWaiting)
	}

	for i := range result.Opportunities {
		opp := &result.Opportunities[i]
		opened, err := b.tryOpen(ctx, opp, capital)
		if errors.Is(err, errAnalyzePostponed) {
			return nil
		}
		if err != nil {
			// anything that failed before the OPENING transition only rules
			// out this candidate: sizing floors, venue minimums, or a
			// transient fetch failure
			if b.states.State() == state.StateAnalyzing {
				b.log.Info().Err(err).Str("symbol", opp.Symbol).Msg("candidate skipped, trying next")
				continue
			}
			return err
		}
		if opened {
			return nil
		}
	}

	b.startCooldown("no candidate could be sized")
	return b.states.Transition(state.StateWaiting)
}

// tryOpen sizes and opens one candidate. Sizing failures are returned for
// the caller to skip past; errAnalyzePostponed means this pass should end
// and retry from ANALYZING on the next tick.
func (b *Bot) tryOpen(ctx context.Context, opp *scanner.Opportunity, capital *state.CapitalStatus) (bool, error) {
	longVenue, shortVenue := opp.LongVenue, opp.ShortVenue
	// in spot+perp mode both legs live on the spot-capable venue: spot buy
	// plus perp short. When the short side landed on the perp-only venue the
	// cross-venue pair is used instead.
	longIsSpot := b.cfg.Venues.SpotPerpMode && shortVenue == b.venueB
	if longIsSpot {
		longVenue = shortVenue
	}

	longMeta, err := b.symbolMeta(ctx, longVenue, opp.Symbol)
	if err != nil {
		return false, fmt.Errorf("long venue meta: %w", err)
	}
	shortMeta, err := b.symbolMeta(ctx, shortVenue, opp.Symbol)
	if err != nil {
		return false, fmt.Errorf("short venue meta: %w", err)
	}
	longBook, err := b.bestBidAsk(ctx, longVenue, opp.Symbol)
	if err != nil {
		return false, fmt.Errorf("long venue book: %w", err)
	}
	shortBook, err := b.bestBidAsk(ctx, shortVenue, opp.Symbol)
	if err != nil {
		return false, fmt.Errorf("short venue book: %w", err)
	}

	existingHolding := 0.0
	if longIsSpot {
		existingHolding, err = b.spotHolding(ctx, longVenue, opp.Symbol)
		if err != nil {
			return false, fmt.Errorf("spot holding: %w", err)
		}
	}

	leverage := b.cfg.LeverageSettings.Leverage
	siz, err := sizing.Compute(sizing.Inputs{
		NotionalUSD:     b.cfg.CapitalManagement.NotionalUSD,
		CapitalFraction: b.cfg.CapitalManagement.CapitalFraction,
		Leverage:        leverage,
		FloorUSD:        b.cfg.CapitalManagement.MinNotionalUSD,
		LongVenue:       longVenue,
		ShortVenue:      shortVenue,
		AvailableLong:   b.venueAvailable(capital, longVenue),
		AvailableShort:  b.venueAvailable(capital, shortVenue),
		LongMeta:        longMeta,
		ShortMeta:       shortMeta,
		LongMid:         longBook.Mid(),
		ShortMid:        shortBook.Mid(),
		LongIsSpot:      longIsSpot,
		ExistingHolding: existingHolding,
	})
	if err != nil {
		return false, err
	}

	if err := b.states.Transition(state.StateOpening); err != nil {
		return false, err
	}

	res, err := b.exec.Open(ctx, executor.OpenRequest{
		Symbol:     opp.Symbol,
		LongVenue:  longVenue,
		ShortVenue: shortVenue,
		SizeBase:   siz.SizeBase,
		Leverage:   leverage,
		LotStep:    siz.Step,
		LongIsSpot: longIsSpot,
		SpotBuyQty: siz.SpotBuyQty,
	})
	if err != nil {
		var bothFailed *executor.BothLegsFailedError
		if errors.As(err, &bothFailed) {
			b.log.Warn().Err(err).Str("symbol", opp.Symbol).Msg("both legs rejected, retrying next tick")
			if terr := b.states.Transition(state.StateAnalyzing); terr != nil {
				return false, terr
			}
			return false, errAnalyzePostponed
		}
		// partial fill or verification failure: halt for the operator, the
		// standing leg is never auto-unwound
		b.health.RecordError(err.Error())
		b.alert("error", notifications.ManualActionNeeded("Open", opp.Symbol, err))
		if rerr := b.states.RecordError(err); rerr != nil {
			return false, rerr
		}
		return false, err
	}

	pos := b.buildPosition(opp, siz, res, capital, longIsSpot)
	if err := b.states.SetPosition(pos); err != nil {
		return false, err
	}
	if err := b.states.Transition(state.StateHolding); err != nil {
		return false, err
	}

	monitoring.UpdatePosition(pos.Symbol, pos.ActualNotional, pos.ExpectedNetAPR, 0)
	b.alert("info", notifications.PairOpened(pos.Symbol, string(pos.LongVenue), string(pos.ShortVenue),
		pos.ActualNotional, pos.ExpectedNetAPR))
	display.PrintPosition(b.out, pos, 0, 0)
	return true, nil
}

func (b *Bot) buildPosition(opp *scanner.Opportunity, siz *sizing.Sizing, res *executor.OpenResult, capital *state.CapitalStatus, longIsSpot bool) *state.Position {
	pm := b.cfg.PositionManagement
	configured := b.cfg.CapitalManagement.NotionalUSD
	if b.cfg.CapitalManagement.CapitalFraction > 0 {
		configured = b.cfg.CapitalManagement.CapitalFraction * capital.MaxPositionNotional
	}

	netAPR := opp.NetAPR
	if longIsSpot {
		// the spot leg pays no funding; the short leg's APR is the whole edge
		netAPR = opp.ShortAPR
	}

	return &state.Position{
		Symbol:             opp.Symbol,
		LongVenue:          res.LongVenue,
		ShortVenue:         res.ShortVenue,
		Leverage:           b.cfg.LeverageSettings.Leverage,
		OpenedAt:           res.OpenedAt,
		TargetCloseAt:      res.OpenedAt.Add(time.Duration(pm.HoldDurationHours * float64(time.Hour))),
		SizeBase:           siz.SizeBase,
		LotStep:            siz.Step,
		LongEntryPrice:     res.LongEntryPrice,
		ShortEntryPrice:    res.ShortEntryPrice,
		ConfiguredNotional: configured,
		ActualNotional:     siz.NotionalActual,
		WasCapitalLimited:  siz.WasCapitalLimited,
		LimitingVenue:      siz.LimitingVenue,
		BalancesBefore: &state.BalanceSnapshot{
			LongVenueTotal:      b.venueTotal(capital, res.LongVenue),
			LongVenueAvailable:  b.venueAvailable(capital, res.LongVenue),
			ShortVenueTotal:     b.venueTotal(capital, res.ShortVenue),
			ShortVenueAvailable: b.venueAvailable(capital, res.ShortVenue),
			Timestamp:           capital.LastUpdated,
		},
		ExpectedFundingRatePerPeriod: opp.ShortVenueRate,
		FundingPeriodHours:           fundingPeriodHours(opp.FundingFreqPerDay),
		ExpectedNetAPR:               netAPR,
		EntryFeesPaid:                monitor.EstimateFees(siz.NotionalActual, pm.TakerFeeRate) / 2,
		LongIsSpot:                   longIsSpot,
	}
}

func fundingPeriodHours(freqPerDay float64) float64 {
	if freqPerDay <= 0 {
		return 8
	}
	return 24 / freqPerDay
}

func (b *Bot) venueTotal(capital *state.CapitalStatus, venue exchange.Venue) float64 {
	if venue == b.venueA {
		return capital.VenueATotal
	}
	return capital.VenueBTotal
}

// holdTick runs one HOLDING pass: refresh capital, rescan for a rotation
// target, evaluate the exit rules, and close when one fires.
func (b *Bot) holdTick(ctx context.Context) error {
	pos := b.states.Position()
	if pos == nil {
		// should not happen; reconcile on the spot instead of guessing
		b.log.Warn().Msg("HOLDING with no recorded position, clearing")
		return b.states.ClearPosition()
	}

	if capital, err := b.tracker.Refresh(ctx); err == nil {
		monitoring.UpdateCapital(capital.TotalCapital)
		if lt, ok := b.tracker.LongTerm(); ok {
			monitoring.UpdateLongTermPnL(lt.PnLUSD)
		}
	} else {
		b.log.Warn().Err(err).Msg("capital refresh failed during hold")
	}

	if pos.LotStep == 0 {
		step, err := b.coarserStep(ctx, pos.Symbol)
		if err != nil {
			b.log.Warn().Err(err).Msg("could not resolve lot step, skipping tick")
			return nil
		}
		pos.LotStep = step
		if err := b.states.UpdatePosition(func(p *state.Position) { p.LotStep = step }); err != nil {
			return err
		}
	}

	result := b.scan.Scan(ctx, b.cfg.Universe.SymbolsToMonitor, b.scanConfig())
	b.lastScan = result
	alt := result.BestExcluding(pos.Symbol)

	snap, decision, err := b.mon.Tick(ctx, monitor.TickInput{
		Position:        pos,
		LotStep:         pos.LotStep,
		BestAlternative: alt,
	})
	if err != nil {
		b.log.Warn().Err(err).Msg("monitor tick failed, retrying next tick")
		return nil
	}

	if err := b.states.UpdatePosition(func(p *state.Position) {
		p.CumulativeFundingReceived = snap.FundingReceived
		p.LastRefreshedPnL = snap.TotalUPnL
		p.LastRefreshedAt = snap.Timestamp
	}); err != nil {
		return err
	}
	monitoring.UpdatePosition(pos.Symbol, pos.ActualNotional, pos.ExpectedNetAPR, snap.FundingReceived)
	monitoring.UpdateUnrealizedPnL(snap.TotalUPnL)
	display.PrintPosition(b.out, pos, snap.FundingReceived, snap.TotalUPnL)

	if decision == nil {
		return nil
	}
	if decision.Reason == state.ExitStopLoss {
		if err := b.states.UpdatePosition(func(p *state.Position) {
			p.StopLossTriggered = true
			p.StopLossReason = decision.Detail
		}); err != nil {
			return err
		}
	}
	// re-read so the cycle record carries the refreshed funding and
	// stop-loss fields
	if p := b.states.Position(); p != nil {
		pos = p
	}
	return b.closePosition(ctx, pos, snap, decision.Reason, decision.Detail)
}

func (b *Bot) coarserStep(ctx context.Context, symbol string) (float64, error) {
	metaA, err := b.symbolMeta(ctx, b.venueA, symbol)
	if err != nil {
		return 0, err
	}
	metaB, err := b.symbolMeta(ctx, b.venueB, symbol)
	if err != nil {
		return 0, err
	}
	step := metaA.LotStep
	if metaB.LotStep > step {
		step = metaB.LotStep
	}
	return step, nil
}

// closePosition flattens both legs and records the completed cycle. A close
// where neither leg reached the venue is retried once; any remaining failure
// halts the bot with the legs standing.
func (b *Bot) closePosition(ctx context.Context, pos *state.Position, snap *monitor.Snapshot, reason state.ExitReason, detail string) error {
	if err := b.states.Transition(state.StateClosing); err != nil {
		return err
	}

	req := executor.CloseRequest{
		Symbol:     pos.Symbol,
		LongVenue:  pos.LongVenue,
		ShortVenue: pos.ShortVenue,
		LotStep:    pos.LotStep,
		LongIsSpot: pos.LongIsSpot,
	}

	res, err := b.exec.Close(ctx, req)
	if err != nil {
		var bothFailed *executor.BothLegsFailedError
		if errors.As(err, &bothFailed) {
			b.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("close rejected on both legs, retrying once")
			sleepCtx(ctx, closeRetryDelay)
			res, err = b.exec.Close(ctx, req)
		}
	}
	if err != nil {
		b.health.RecordError(err.Error())
		b.alert("error", notifications.ManualActionNeeded("Close", pos.Symbol, err))
		if rerr := b.states.RecordError(err); rerr != nil {
			return rerr
		}
		return err
	}

	cycle := b.buildCycle(pos, snap, res, reason)
	if err := b.states.RecordCycle(cycle); err != nil {
		return err
	}
	if err := b.states.Transition(state.StateWaiting); err != nil {
		return err
	}

	monitoring.RecordCycle(pos.Symbol, string(reason), cycle.RealizedPnL.NetPnL)
	monitoring.ClearPosition(pos.Symbol)
	b.alert("info", notifications.CycleClosed(pos.Symbol, string(reason),
		cycle.RealizedPnL.NetPnL, cycle.DurationHours, detail))
	display.PrintStats(b.out, b.states.Stats(), b.states.Capital())
	b.exportReport()
	b.startCooldown(fmt.Sprintf("cycle closed: %s", reason))
	return nil
}

// buildCycle assembles the immutable cycle record. snap may be nil on a
// shutdown close; funding then falls back to the last persisted figure.
func (b *Bot) buildCycle(pos *state.Position, snap *monitor.Snapshot, res *executor.CloseResult, reason state.ExitReason) state.CompletedCycle {
	funding := pos.CumulativeFundingReceived
	if snap != nil {
		funding = snap.FundingReceived
	}

	size := pos.SizeBase
	pricePnL := (res.ExitLongPrice-pos.LongEntryPrice)*size + (pos.ShortEntryPrice-res.ExitShortPrice)*size
	exitFees := monitor.EstimateFees(pos.ActualNotional, b.cfg.PositionManagement.TakerFeeRate) / 2
	fees := pos.EntryFeesPaid + exitFees

	var exitBalances *state.BalanceSnapshot
	if capital := b.states.Capital(); !capital.LastUpdated.IsZero() {
		exitBalances = &state.BalanceSnapshot{
			LongVenueTotal:      b.venueTotal(&capital, pos.LongVenue),
			LongVenueAvailable:  b.venueAvailable(&capital, pos.LongVenue),
			ShortVenueTotal:     b.venueTotal(&capital, pos.ShortVenue),
			ShortVenueAvailable: b.venueAvailable(&capital, pos.ShortVenue),
			Timestamp:           capital.LastUpdated,
		}
	}

	closed := res.ClosedAt
	return state.CompletedCycle{
		Position:       *pos,
		ClosedAt:       closed,
		DurationHours:  closed.Sub(pos.OpenedAt).Hours(),
		ExitLongPrice:  res.ExitLongPrice,
		ExitShortPrice: res.ExitShortPrice,
		ExitBalances:   exitBalances,
		RealizedPnL: state.PnLBreakdown{
			FundingReceived: funding,
			PricePnL:        pricePnL,
			FeesPaid:        fees,
			NetPnL:          funding + pricePnL - fees,
		},
		ExitReason: reason,
	}
}
