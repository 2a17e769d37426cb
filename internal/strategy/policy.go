// Package strategy decides whether and how to trade a scanned Up/Down
// market, given its order-book snapshot and the reference-price context.
package strategy

import (
	"github.com/GoPolymarket/updown-agent/internal/feed"
	"github.com/GoPolymarket/updown-agent/internal/market"
)

// Action is a policy's recommended trading action.
type Action string

const (
	ActionSkip   Action = "SKIP"
	ActionBuyYes Action = "BUY_YES"
	ActionBuyNo  Action = "BUY_NO"
)

// Confidence is the policy's conviction in its Action.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Decision is a policy's output for one market, one tick.
type Decision struct {
	Action     Action
	Confidence Confidence
	Pattern    string
	Reasoning  string
}

// skipDecision is returned whenever a policy has nothing actionable;
// LOW confidence always implies SKIP (see Policy.Decide contract).
func skipDecision(pattern, reasoning string) Decision {
	return Decision{Action: ActionSkip, Confidence: ConfidenceLow, Pattern: pattern, Reasoning: reasoning}
}

// Policy turns a market snapshot and the current price context into a
// Decision. Implementations must never return a non-SKIP action paired
// with LOW confidence.
type Policy interface {
	Decide(snapshot market.Snapshot, priceCtx feed.Context) Decision
}
