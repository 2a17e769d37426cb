// Package safety implements the daily counters, per-window trade dedup,
// kill switch, and trade sizing that gate every order the agent places.
package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/updown-agent/internal/activity"
)

// Confidence mirrors the decision-policy confidence tiers.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Config controls the ledger's caps and sizing table.
type Config struct {
	MaxTradeSize float64 // HIGH-confidence trade size; MEDIUM = half
	DailyLossLimit float64
	MaxDailyLosses int

	// BudgetForwardLosses controls whether getTradeSize clamps its result
	// to the remaining daily loss budget. Only strategies that opt in
	// (the spike detector) set this; the model-scored policy leaves it
	// false and returns the raw confidence-tiered size (see SPEC_FULL.md
	// §9, Open Question 1).
	BudgetForwardLosses bool
}

// CanTradeResult is the answer to canTrade().
type CanTradeResult struct {
	Allowed bool
	Reason  string
}

// windowKey is the canonical "asset|YYYYMMDD_HHMM" dedup key.
type windowKey struct {
	asset string
	key   string
}

// Ledger is the single-writer safety state described in §3/§4.B. All
// public methods call resetDailyIfNeeded first, so callers never need to.
type Ledger struct {
	mu sync.Mutex

	cfg Config
	bus *activity.Bus

	killSwitch        bool
	dailyLossDollars  decimal.Decimal
	dailySpentDollars decimal.Decimal
	dailyTradeCount   int
	dailyWinCount     int
	dailyLossCount    int
	lastResetDate     string // local calendar date, YYYY-MM-DD
	tradedWindows     map[windowKey]struct{}
}

// New creates a Ledger bound to an activity bus for safety-event logging.
func New(cfg Config, bus *activity.Bus) *Ledger {
	l := &Ledger{
		cfg:           cfg,
		bus:           bus,
		tradedWindows: make(map[windowKey]struct{}),
		lastResetDate: localDateString(time.Now()),
	}
	return l
}

func localDateString(t time.Time) string {
	return t.Format("2006-01-02")
}

// resetDailyIfNeeded rolls counters and tradedWindows when the local
// calendar day has changed since the last reset. Caller must hold mu.
func (l *Ledger) resetDailyIfNeeded() {
	today := localDateString(time.Now())
	if today == l.lastResetDate {
		return
	}
	l.lastResetDate = today
	l.dailyLossDollars = decimal.Zero
	l.dailySpentDollars = decimal.Zero
	l.dailyTradeCount = 0
	l.dailyWinCount = 0
	l.dailyLossCount = 0
	l.tradedWindows = make(map[windowKey]struct{})
	if l.bus != nil {
		l.bus.AppendActivity("daily_reset", "safety ledger counters reset for new day", nil)
	}
}

// CanTrade reports whether a new trade is currently permitted.
func (l *Ledger) CanTrade() CanTradeResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyIfNeeded()

	if l.killSwitch {
		return l.deny("kill switch active")
	}
	lossLimit := decimal.NewFromFloat(l.cfg.DailyLossLimit)
	if l.cfg.DailyLossLimit > 0 && l.dailyLossDollars.GreaterThanOrEqual(lossLimit) {
		return l.deny(fmt.Sprintf("daily loss limit reached: %s/%s", l.dailyLossDollars.StringFixed(2), lossLimit.StringFixed(2)))
	}
	if l.cfg.MaxDailyLosses > 0 && l.dailyLossCount >= l.cfg.MaxDailyLosses {
		return l.deny(fmt.Sprintf("max daily losses reached: %d/%d", l.dailyLossCount, l.cfg.MaxDailyLosses))
	}
	return CanTradeResult{Allowed: true}
}

func (l *Ledger) deny(reason string) CanTradeResult {
	if l.bus != nil {
		l.bus.AppendActivity("safety_block", reason, nil)
	}
	return CanTradeResult{Allowed: false, Reason: reason}
}

// GetTradeSize maps a confidence tier to a dollar size. When
// BudgetForwardLosses is set, the result is clamped to the remaining
// daily loss budget (see Config.BudgetForwardLosses).
func (l *Ledger) GetTradeSize(confidence Confidence) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyIfNeeded()

	var size float64
	switch confidence {
	case ConfidenceHigh:
		size = l.cfg.MaxTradeSize
	case ConfidenceMedium:
		size = l.cfg.MaxTradeSize / 2
	default:
		return 0
	}

	if !l.cfg.BudgetForwardLosses || l.cfg.DailyLossLimit <= 0 {
		return size
	}
	remaining := decimal.NewFromFloat(l.cfg.DailyLossLimit).Sub(l.dailyLossDollars)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	remainingFloat, _ := remaining.Float64()
	if size > remainingFloat {
		size = remainingFloat
	}
	return size
}

// HasTraded reports whether (asset, windowKey) was already traded.
func (l *Ledger) HasTraded(asset, window string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyIfNeeded()
	_, ok := l.tradedWindows[windowKey{asset: asset, key: window}]
	return ok
}

// MarkTraded records (asset, windowKey) as traded. Idempotent.
func (l *Ledger) MarkTraded(asset, window string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyIfNeeded()
	l.tradedWindows[windowKey{asset: asset, key: window}] = struct{}{}
}

// RecordTrade increments the daily trade counter and spend.
func (l *Ledger) RecordTrade(dollars float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyIfNeeded()
	l.dailyTradeCount++
	l.dailySpentDollars = l.dailySpentDollars.Add(decimal.NewFromFloat(dollars))
	if l.bus != nil {
		l.bus.AppendActivity("trade_recorded", fmt.Sprintf("recorded trade of $%.2f", dollars), nil)
	}
}

// RecordWin increments the daily win counter.
func (l *Ledger) RecordWin(dollars float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyIfNeeded()
	l.dailyWinCount++
	if l.bus != nil {
		l.bus.AppendActivity("trade_win", fmt.Sprintf("win of $%.2f", dollars), nil)
	}
}

// RecordLoss increments the daily loss counter and dollar total.
func (l *Ledger) RecordLoss(dollars float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyIfNeeded()
	l.dailyLossCount++
	l.dailyLossDollars = l.dailyLossDollars.Add(decimal.NewFromFloat(dollars))
	if l.bus != nil {
		l.bus.AppendActivity("trade_loss", fmt.Sprintf("loss of $%.2f (daily count=%d)", dollars, l.dailyLossCount), nil)
	}
}

// ToggleKillSwitch flips the kill switch and returns its new value.
func (l *Ledger) ToggleKillSwitch() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.killSwitch = !l.killSwitch
	l.logKillSwitch()
	return l.killSwitch
}

// SetKillSwitch sets the kill switch to an explicit value.
func (l *Ledger) SetKillSwitch(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.killSwitch == v {
		return
	}
	l.killSwitch = v
	l.logKillSwitch()
}

func (l *Ledger) logKillSwitch() {
	if l.bus == nil {
		return
	}
	state := "disengaged"
	if l.killSwitch {
		state = "engaged"
	}
	l.bus.AppendActivity("kill_switch", "kill switch "+state, nil)
}

// KillSwitch reports the current kill-switch state.
func (l *Ledger) KillSwitch() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.killSwitch
}

// GetWindowKey derives the canonical UTC YYYYMMDD_HHMM key for a window's
// end time.
func GetWindowKey(endTime time.Time) string {
	return endTime.UTC().Format("20060102_1504")
}

// Snapshot is a point-in-time, copied view of the ledger for API/status use.
type Snapshot struct {
	KillSwitch        bool
	DailyLossDollars  float64
	DailySpentDollars float64
	DailyTradeCount   int
	DailyWinCount     int
	DailyLossCount    int
	DailyLossLimit    float64
	MaxDailyLosses    int
}

// Snapshot returns a consistent, copied view of the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyIfNeeded()
	lossDollars, _ := l.dailyLossDollars.Float64()
	spentDollars, _ := l.dailySpentDollars.Float64()
	return Snapshot{
		KillSwitch:        l.killSwitch,
		DailyLossDollars:  lossDollars,
		DailySpentDollars: spentDollars,
		DailyTradeCount:   l.dailyTradeCount,
		DailyWinCount:     l.dailyWinCount,
		DailyLossCount:    l.dailyLossCount,
		DailyLossLimit:    l.cfg.DailyLossLimit,
		MaxDailyLosses:    l.cfg.MaxDailyLosses,
	}
}
