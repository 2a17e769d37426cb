// Package execution places orders for a trading decision and tracks
// their resulting fills and positions.
package execution

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/clobtypes"

	"github.com/GoPolymarket/updown-agent/internal/activity"
	"github.com/GoPolymarket/updown-agent/internal/market"
	"github.com/GoPolymarket/updown-agent/internal/strategy"
)

// maxAttempts and the backoff schedule below implement the order-placement
// retry policy: attempt N waits n*3s before retrying a soft business
// reject, or n*5s for a permanent reject (HTTP 403, or the CLOB's
// "blocked" response).
const maxAttempts = 3

// Executor places a single order per decision and records the outcome.
type Executor struct {
	clobClient  clob.Client
	signer      auth.Signer
	tracker     *Tracker
	bus         *activity.Bus
	tradingMode string // "paper" | "live"
}

// New creates an Executor. tradingMode selects whether orders are placed
// for real ("live") or left to the caller's paper-fill path ("paper").
func New(clobClient clob.Client, signer auth.Signer, tracker *Tracker, bus *activity.Bus, tradingMode string) *Executor {
	return &Executor{
		clobClient:  clobClient,
		signer:      signer,
		tracker:     tracker,
		bus:         bus,
		tradingMode: tradingMode,
	}
}

// Execute implements the order-placement algorithm: pick the token for
// the decision's action, round the entry price to the market's tick
// size, size the order in whole shares, and place a GTC limit order
// (FOK for the spike pattern, which needs immediate-or-never fills)
// with up to maxAttempts retries.
func (e *Executor) Execute(ctx context.Context, decision strategy.Decision, snapshot market.Snapshot, sizeDollars float64) (activity.Trade, error) {
	if decision.Action != strategy.ActionBuyYes && decision.Action != strategy.ActionBuyNo {
		return activity.Trade{}, fmt.Errorf("execute called with non-actionable decision %s", decision.Action)
	}

	token, book, side := e.pickToken(decision.Action, snapshot)
	if token == "" {
		return activity.Trade{}, fmt.Errorf("market %s has no token for %s", snapshot.Market.ConditionID, decision.Action)
	}

	price := roundToTick(book.BestAsk, snapshot.Market.TickSize)
	if price <= 0 {
		return activity.Trade{}, fmt.Errorf("no ask liquidity for token %s", token)
	}
	shares := floor2(sizeDollars / price)
	if shares <= 0 {
		return activity.Trade{}, fmt.Errorf("computed non-positive share count for %.2f at price %.4f", sizeDollars, price)
	}

	orderType := clobtypes.OrderTypeGTC
	if decision.Pattern == "spike" {
		orderType = clobtypes.OrderTypeFAK
	}

	resp, err, hardReject := e.placeWithRetry(ctx, token, side, price, shares, orderType)
	trade := activity.Trade{
		Action:        string(decision.Action),
		Side:          sideLabel(decision.Action),
		TokenID:       token,
		ConditionID:   snapshot.Market.ConditionID,
		Size:          shares,
		Price:         price,
		Question:      snapshot.Market.Question,
		MarketEndTime: snapshot.Market.EndTime,
		NegRisk:       snapshot.Market.NegRisk,
		Result:        activity.TradeResultPending,
	}
	if err != nil {
		trade.Result = activity.TradeResultFailed
		if hardReject {
			trade.Reason = "rate-limited"
		}
		if e.bus != nil {
			e.bus.AppendActivity("order_failed", fmt.Sprintf("order for %s failed after %d attempts: %v", token, maxAttempts, err), nil)
		}
		return trade, err
	}

	trade.OrderID = resp.ID
	if e.tracker != nil {
		e.tracker.RegisterOrder(resp.ID, token, snapshot.Market.ConditionID, side, price, shares)
	}
	if e.bus != nil {
		e.bus.AppendActivity("order_placed", fmt.Sprintf("placed %s %s x%.2f @ %.4f (order %s)", side, token, shares, price, resp.ID), nil)
	}
	return trade, nil
}

func (e *Executor) pickToken(action strategy.Action, snapshot market.Snapshot) (string, market.TokenBook, string) {
	switch action {
	case strategy.ActionBuyYes:
		tok, ok := snapshot.Market.YesToken()
		if !ok {
			return "", market.TokenBook{}, ""
		}
		return tok.TokenID, snapshot.Yes, "BUY"
	case strategy.ActionBuyNo:
		tok, ok := snapshot.Market.NoToken()
		if !ok {
			return "", market.TokenBook{}, ""
		}
		return tok.TokenID, snapshot.No, "BUY"
	default:
		return "", market.TokenBook{}, ""
	}
}

func sideLabel(action strategy.Action) string {
	if action == strategy.ActionBuyYes {
		return "YES"
	}
	return "NO"
}

// placeWithRetry returns the order response, the final error (if any),
// and whether that final error was a permanent reject — the caller uses
// the latter to annotate the trade record.
func (e *Executor) placeWithRetry(ctx context.Context, tokenID, side string, price, shares float64, orderType clobtypes.OrderType) (clobtypes.OrderResponse, error, bool) {
	if e.tradingMode != "live" {
		return clobtypes.OrderResponse{}, fmt.Errorf("executor configured for %s mode; live order placement unavailable", e.tradingMode), false
	}

	var lastErr error
	var hardReject bool
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		builder := clob.NewOrderBuilder(e.clobClient, e.signer).
			TokenID(tokenID).
			Side(side).
			Price(price).
			AmountUSDC(price * shares).
			OrderType(orderType)

		signable, err := builder.BuildSignableWithContext(ctx)
		if err != nil {
			lastErr = fmt.Errorf("build order: %w", err)
			hardReject = isPermanentReject(err)
			e.backoff(ctx, attempt, hardReject)
			continue
		}

		resp, err := e.clobClient.CreateOrderFromSignable(ctx, signable)
		if err != nil {
			lastErr = fmt.Errorf("place order: %w", err)
			hardReject = isPermanentReject(err)
			log.Printf("execution: attempt %d/%d for %s %s failed: %v", attempt, maxAttempts, side, tokenID, err)
			e.backoff(ctx, attempt, hardReject)
			continue
		}
		return resp, nil, false
	}
	return clobtypes.OrderResponse{}, lastErr, hardReject
}

// isPermanentReject classifies an order-placement error as a geoblock or
// other permanent rejection (HTTP 403, or the CLOB's "blocked" response)
// rather than a soft, retryable business reject.
func isPermanentReject(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "403") || strings.Contains(msg, "blocked")
}

// backoff waits attempt*3s before retrying a soft reject, or attempt*5s
// for a permanent one — the delay grows with each retry either way.
func (e *Executor) backoff(ctx context.Context, attempt int, hard bool) {
	delay := time.Duration(attempt) * 3 * time.Second
	if hard {
		delay = time.Duration(attempt) * 5 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// roundToTick rounds price down to the nearest multiple of tickSize.
func roundToTick(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	return math.Floor(price/tickSize) * tickSize
}

// floor2 truncates to 2 decimal places (the CLOB's share-size precision).
func floor2(v float64) float64 {
	return math.Floor(v*100) / 100
}
