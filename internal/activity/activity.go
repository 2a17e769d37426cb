// Package activity holds the bounded, newest-first event/decision/trade
// rings shared by every other subsystem.
package activity

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxRingLength bounds every ring in this package.
const MaxRingLength = 500

// Entry is a single activity-log event.
type Entry struct {
	ID        string
	Timestamp time.Time
	Kind      string // e.g. "safety_block", "spike_detected", "redemption"
	Message   string
	Data      map[string]interface{}
}

// Decision is a recorded policy output, kept for the dashboard and for
// post-hoc review of why a window was skipped or traded.
type Decision struct {
	ID         string
	Timestamp  time.Time
	Action     string
	Confidence string
	Pattern    string
	Reasoning  string
	Asset      string
}

// TradeResult is the outcome tag a trade record carries; it is mutated
// only by UpdateTrade once external reconciliation learns the true result.
type TradeResult string

const (
	TradeResultPending TradeResult = "pending"
	TradeResultWin      TradeResult = "win"
	TradeResultLoss     TradeResult = "loss"
	TradeResultFailed   TradeResult = "failed"
)

// Trade is the durable (in-memory) record of a single order placement.
type Trade struct {
	ID            string
	Timestamp     time.Time
	Action        string // BUY_YES | BUY_NO
	Side          string // YES | NO
	TokenID       string
	ConditionID   string
	Size          float64
	Price         float64
	OrderID       string
	Result        TradeResult
	Reason        string // set on failure, e.g. "rate-limited" for a permanent reject
	Question      string
	MarketEndTime time.Time
	NegRisk       bool
}

// TradePatch carries the mutable subset of Trade that UpdateTrade is
// allowed to change.
type TradePatch struct {
	Result  *TradeResult
	OrderID *string
}

// Bus owns the three bounded rings. Zero value is not usable; use New.
type Bus struct {
	mu         sync.Mutex
	activities []Entry
	decisions  []Decision
	trades     []Trade
}

// New returns an empty, ready-to-use Bus.
func New() *Bus {
	return &Bus{}
}

// AppendActivity records a new activity event, newest-first, bounded to
// MaxRingLength. The Entry is returned with ID/Timestamp assigned.
func (b *Bus) AppendActivity(kind, message string, data map[string]interface{}) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Kind:      kind,
		Message:   message,
		Data:      data,
	}
	b.mu.Lock()
	b.activities = prepend(b.activities, e, MaxRingLength)
	b.mu.Unlock()
	return e
}

// AppendDecision records a policy decision.
func (b *Bus) AppendDecision(d Decision) Decision {
	d.ID = uuid.NewString()
	d.Timestamp = time.Now()
	b.mu.Lock()
	b.decisions = prepend(b.decisions, d, MaxRingLength)
	b.mu.Unlock()
	return d
}

// AppendTrade records a new trade. Returns the assigned trade with ID set.
func (b *Bus) AppendTrade(t Trade) Trade {
	t.ID = uuid.NewString()
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	b.mu.Lock()
	b.trades = prepend(b.trades, t, MaxRingLength)
	b.mu.Unlock()
	return t
}

// UpdateTrade mutates a trade in place by ID. Used only for result
// reconciliation; no-op if the ID is not found.
func (b *Bus) UpdateTrade(id string, patch TradePatch) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.trades {
		if b.trades[i].ID != id {
			continue
		}
		if patch.Result != nil {
			b.trades[i].Result = *patch.Result
		}
		if patch.OrderID != nil {
			b.trades[i].OrderID = *patch.OrderID
		}
		return true
	}
	return false
}

// ListActivities returns the most recent limit entries (or all if limit<=0).
func (b *Bus) ListActivities(limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneLimit(b.activities, limit)
}

// ListDecisions returns the most recent limit decisions.
func (b *Bus) ListDecisions(limit int) []Decision {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneLimit(b.decisions, limit)
}

// ListTrades returns the most recent limit trades.
func (b *Bus) ListTrades(limit int) []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneLimit(b.trades, limit)
}

// prepend inserts v at the front of a newest-first slice, evicting the
// oldest entry once length exceeds max.
func prepend[T any](s []T, v T, max int) []T {
	n := len(s) + 1
	if n > max {
		n = max
	}
	out := make([]T, n)
	out[0] = v
	copy(out[1:], s)
	return out
}

func cloneLimit[T any](s []T, limit int) []T {
	n := len(s)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]T, limit)
	copy(out, s[:limit])
	return out
}
