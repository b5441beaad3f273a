package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	documentVersion = "1.0.0"
	maxCycleHistory = 100

	renameAttempts   = 3
	renameRetryDelay = 50 * time.Millisecond
)

// ErrInvalidTransition is returned for a transition the state machine does
// not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// Manager owns the state document. The main loop is the single writer; the
// mutex only guards against read access from display and metrics goroutines.
type Manager struct {
	path string
	log  zerolog.Logger

	mu  sync.RWMutex
	doc *Document
}

// NewManager creates a manager over the given state file path. Nothing is
// read from disk until Load.
func NewManager(path string, log zerolog.Logger) *Manager {
	return &Manager{
		path: path,
		log:  log.With().Str("component", "state").Logger(),
		doc:  newDocument(),
	}
}

func newDocument() *Document {
	return &Document{
		Version:         documentVersion,
		State:           StateIdle,
		CompletedCycles: []CompletedCycle{},
		CumulativeStats: &CumulativeStats{BySymbol: map[string]*SymbolStats{}},
		CapitalStatus:   &CapitalStatus{},
	}
}

// Load reads the state file. A missing, empty, or corrupt file starts fresh
// with a warning; load never blocks startup.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		m.log.Info().Str("path", m.path).Msg("no state file, starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		m.log.Warn().Str("path", m.path).Msg("state file empty, starting fresh")
		return nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		m.log.Warn().Err(err).Str("path", m.path).Msg("state file corrupt, starting fresh")
		return nil
	}

	if doc.State == "" {
		doc.State = StateIdle
	}
	// a clean shutdown persists SHUTDOWN; the next run resumes from it,
	// going back to HOLDING when a position was left for the reconciler
	if doc.State == StateShutdown {
		if doc.CurrentPosition != nil {
			doc.State = StateHolding
		} else {
			doc.State = StateIdle
		}
	}
	if doc.Version == "" {
		doc.Version = documentVersion
	}
	if doc.CompletedCycles == nil {
		doc.CompletedCycles = []CompletedCycle{}
	}
	if doc.CumulativeStats == nil {
		doc.CumulativeStats = &CumulativeStats{}
	}
	if doc.CumulativeStats.BySymbol == nil {
		doc.CumulativeStats.BySymbol = map[string]*SymbolStats{}
	}
	if doc.CapitalStatus == nil {
		doc.CapitalStatus = &CapitalStatus{}
	}

	m.doc = &doc
	m.log.Info().
		Str("state", string(doc.State)).
		Int("completed_cycles", len(doc.CompletedCycles)).
		Msg("state loaded")
	return nil
}

// Save writes the document atomically: marshal, write to a temp file beside
// the target, then rename over it. The rename is retried on transient
// failures, which shows up on some filesystems when the target is briefly
// held open.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	m.doc.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(m.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}

	var renameErr error
	for attempt := 0; attempt < renameAttempts; attempt++ {
		if renameErr = os.Rename(tmp, m.path); renameErr == nil {
			return nil
		}
		time.Sleep(renameRetryDelay << attempt)
	}
	return fmt.Errorf("rename state file after %d attempts: %w", renameAttempts, renameErr)
}

// State returns the current lifecycle state.
func (m *Manager) State() BotState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.State
}

// Transition moves the state machine and persists. SHUTDOWN is allowed from
// any state; all other edges must be in the transition table.
func (m *Manager) Transition(to BotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.doc.State
	if to != StateShutdown && !transitionAllowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	m.doc.State = to
	m.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("state transition")
	return m.saveLocked()
}

func transitionAllowed(from, to BotState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Position returns the current open position, or nil.
func (m *Manager) Position() *Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.doc.CurrentPosition == nil {
		return nil
	}
	p := *m.doc.CurrentPosition
	return &p
}

// SetPosition installs the open position and persists. Called by the
// executor after a verified open, and by the reconciler when adopting.
func (m *Manager) SetPosition(p *Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.CurrentPosition = p
	m.doc.CurrentCycle++
	return m.saveLocked()
}

// UpdatePosition applies fn to the open position under the lock and
// persists. No-op when there is no position.
func (m *Manager) UpdatePosition(fn func(*Position)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc.CurrentPosition == nil {
		return nil
	}
	fn(m.doc.CurrentPosition)
	return m.saveLocked()
}

// ClearPosition drops the open position without recording a cycle and
// returns to IDLE. Used by the reconciler when the position was closed
// externally.
func (m *Manager) ClearPosition() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.CurrentPosition = nil
	m.doc.State = StateIdle
	return m.saveLocked()
}

// AdoptPosition installs a position recovered from live exchange state and
// jumps straight to HOLDING, bypassing the normal open path.
func (m *Manager) AdoptPosition(p *Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.CurrentPosition = p
	m.doc.CurrentCycle++
	m.doc.State = StateHolding
	return m.saveLocked()
}

// RecordCycle closes out the open position: appends the completed cycle
// (FIFO-capped), folds it into cumulative stats, clears the position, and
// persists.
func (m *Manager) RecordCycle(cycle CompletedCycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.doc.CompletedCycles = append(m.doc.CompletedCycles, cycle)
	if len(m.doc.CompletedCycles) > maxCycleHistory {
		m.doc.CompletedCycles = m.doc.CompletedCycles[len(m.doc.CompletedCycles)-maxCycleHistory:]
	}

	stats := m.doc.CumulativeStats
	pnl := cycle.RealizedPnL.NetPnL
	stats.TotalCycles++
	if pnl >= 0 {
		stats.SuccessfulCycles++
	}
	stats.TotalRealizedPnL += pnl
	if stats.TotalCycles == 1 || pnl > stats.BestCyclePnL {
		stats.BestCyclePnL = pnl
	}
	if stats.TotalCycles == 1 || pnl < stats.WorstCyclePnL {
		stats.WorstCyclePnL = pnl
	}
	stats.TotalVolumeTraded += cycle.ActualNotional * 2
	stats.TotalHoldTimeHours += cycle.DurationHours

	if stats.BySymbol == nil {
		stats.BySymbol = map[string]*SymbolStats{}
	}
	sym := stats.BySymbol[cycle.Symbol]
	if sym == nil {
		sym = &SymbolStats{}
		stats.BySymbol[cycle.Symbol] = sym
	}
	sym.Cycles++
	sym.TotalPnL += pnl
	sym.AvgPnL = sym.TotalPnL / float64(sym.Cycles)

	m.doc.CurrentPosition = nil
	return m.saveLocked()
}

// RecordError persists an error state: last_error fields, failed-cycle
// count, and the ERROR lifecycle state.
func (m *Manager) RecordError(cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.doc.CumulativeStats.LastError = cause.Error()
	m.doc.CumulativeStats.LastErrorAt = &now
	m.doc.CumulativeStats.FailedCycles++
	m.doc.State = StateError
	return m.saveLocked()
}

// UpdateCapital refreshes the capital snapshot. initial_total_capital is
// written exactly once, at the first refresh where total is positive.
func (m *Manager) UpdateCapital(cs CapitalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	initial := m.doc.CapitalStatus.InitialTotalCapital
	if initial == nil && cs.TotalCapital > 0 {
		v := cs.TotalCapital
		initial = &v
		m.log.Info().Float64("initial_total_capital", v).Msg("baseline capital recorded")
	}
	cs.InitialTotalCapital = initial
	cs.LastUpdated = time.Now().UTC()
	m.doc.CapitalStatus = &cs
	return m.saveLocked()
}

// Capital returns a copy of the latest capital snapshot.
func (m *Manager) Capital() CapitalStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.doc.CapitalStatus
}

// Stats returns a copy of the cumulative stats. The by-symbol map is
// copied shallowly into fresh values so callers cannot mutate ours.
func (m *Manager) Stats() CumulativeStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := *m.doc.CumulativeStats
	stats.BySymbol = make(map[string]*SymbolStats, len(m.doc.CumulativeStats.BySymbol))
	for k, v := range m.doc.CumulativeStats.BySymbol {
		sv := *v
		stats.BySymbol[k] = &sv
	}
	return stats
}

// CompletedCycles returns a copy of the cycle history, oldest first.
func (m *Manager) CompletedCycles() []CompletedCycle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CompletedCycle, len(m.doc.CompletedCycles))
	copy(out, m.doc.CompletedCycles)
	return out
}

// SetConfigSnapshot stores the active config alongside the state for
// post-mortem inspection.
func (m *Manager) SetConfigSnapshot(raw json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.ConfigSnapshot = raw
	return m.saveLocked()
}
