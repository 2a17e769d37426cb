// Package app wires every subsystem together and runs the per-tick
// trading loop.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/GoPolymarket/updown-agent/internal/activity"
	"github.com/GoPolymarket/updown-agent/internal/config"
	"github.com/GoPolymarket/updown-agent/internal/execution"
	"github.com/GoPolymarket/updown-agent/internal/feed"
	"github.com/GoPolymarket/updown-agent/internal/market"
	"github.com/GoPolymarket/updown-agent/internal/paper"
	"github.com/GoPolymarket/updown-agent/internal/positions"
	"github.com/GoPolymarket/updown-agent/internal/redemption"
	"github.com/GoPolymarket/updown-agent/internal/safety"
	"github.com/GoPolymarket/updown-agent/internal/strategy"
)

// Notifier defines the alert methods the coordinator calls out to.
type Notifier interface {
	NotifyFill(ctx context.Context, assetID, side string, price, size float64) error
	NotifyKillSwitch(ctx context.Context, enabled bool) error
	NotifyTradingHalted(ctx context.Context, reason string) error
	NotifyRedemptionOutcome(ctx context.Context, question string, success bool, amount float64) error
}

// SpikePolicy is the subset of *strategy.SpikeDetector the coordinator's
// fast path depends on.
type SpikePolicy interface {
	QuickScan(priceCtx feed.Context) bool
	Decide(snapshot market.Snapshot, priceCtx feed.Context) strategy.Decision
}

// Coordinator runs the bot's per-tick algorithm: consult the safety
// ledger, look for a fast-path spike or call the model policy, place an
// order when warranted, and always sweep for redeemable positions.
// A sync.Mutex plus a non-blocking re-entrancy guard (mirroring the
// teacher's mu sync.RWMutex + running bool) keeps ticks from
// overlapping if a scan takes longer than the configured interval.
type Coordinator struct {
	cfg config.Config

	bus             *activity.Bus
	safetyLedger    *safety.Ledger
	priceFeed       *feed.Feed
	discoverer      *market.Discoverer
	fetcher         *market.Fetcher
	spikePolicy     SpikePolicy
	modelPolicy     strategy.Policy
	executor        *execution.Executor
	paperSim        *paper.Simulator
	redemptionQueue *redemption.Queue
	redemptionEng   *redemption.Engine
	posScanner      *positions.Scanner
	notifier        Notifier

	asset         string
	maxEntryPrice float64
	tradingMode   string

	mu          sync.Mutex
	ticking     chan struct{}
	running     bool
	lastScanAt  time.Time
	lastOutcome string
}

// Deps bundles every collaborator the coordinator needs. Any nil field
// degrades gracefully: a tick simply skips the step that depends on it.
type Deps struct {
	Bus             *activity.Bus
	SafetyLedger    *safety.Ledger
	PriceFeed       *feed.Feed
	Discoverer      *market.Discoverer
	Fetcher         *market.Fetcher
	SpikePolicy     SpikePolicy
	ModelPolicy     strategy.Policy
	Executor        *execution.Executor
	PaperSim        *paper.Simulator
	RedemptionQueue *redemption.Queue
	RedemptionEng   *redemption.Engine
	PosScanner      *positions.Scanner
	Notifier        Notifier
}

// New builds a Coordinator from cfg and its wired dependencies.
func New(cfg config.Config, deps Deps) *Coordinator {
	return &Coordinator{
		cfg:             cfg,
		bus:             deps.Bus,
		safetyLedger:    deps.SafetyLedger,
		priceFeed:       deps.PriceFeed,
		discoverer:      deps.Discoverer,
		fetcher:         deps.Fetcher,
		spikePolicy:     deps.SpikePolicy,
		modelPolicy:     deps.ModelPolicy,
		executor:        deps.Executor,
		paperSim:        deps.PaperSim,
		redemptionQueue: deps.RedemptionQueue,
		redemptionEng:   deps.RedemptionEng,
		posScanner:      deps.PosScanner,
		notifier:        deps.Notifier,
		asset:           cfg.Asset,
		maxEntryPrice:   cfg.Strategy.MaxEntryPrice,
		tradingMode:     cfg.TradingMode,
		ticking:         make(chan struct{}, 1),
	}
}

// Run starts the price feed and ticks once every cfg.ScanInterval until
// ctx is cancelled or Stop is called.
func (c *Coordinator) Run(ctx context.Context) {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	if c.priceFeed != nil {
		go c.priceFeed.Run()
	}
	if c.posScanner != nil {
		c.posScanner.ScanIfNeeded(ctx)
	}

	interval := c.cfg.ScanInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Stop()
			if c.priceFeed != nil {
				c.priceFeed.Stop()
			}
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Start resumes tick processing after Stop. Run must already be looping
// (the ticker keeps firing even while stopped; Tick just no-ops).
func (c *Coordinator) Start() {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
}

// Stop halts the tick loop; an in-flight tick completes before the
// coordinator observes the stopped state.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// TickNow forces an immediate tick outside the regular ticker cadence,
// for the manual "scan now" control surface.
func (c *Coordinator) TickNow(ctx context.Context) {
	c.Tick(ctx)
}

// SafetySnapshot returns a copied view of the safety ledger's state.
func (c *Coordinator) SafetySnapshot() safety.Snapshot {
	if c.safetyLedger == nil {
		return safety.Snapshot{}
	}
	return c.safetyLedger.Snapshot()
}

// PriceContext exposes the price feed's derived context to readers.
func (c *Coordinator) PriceContext() (feed.Context, bool) {
	return c.priceCtx()
}

// Activities returns the last limit (0 = all) activity-bus entries.
func (c *Coordinator) Activities(limit int) []activity.Entry {
	if c.bus == nil {
		return nil
	}
	return c.bus.ListActivities(limit)
}

// Trades returns the last limit (0 = all) recorded trades.
func (c *Coordinator) Trades(limit int) []activity.Trade {
	if c.bus == nil {
		return nil
	}
	return c.bus.ListTrades(limit)
}

// Decisions returns the last limit (0 = all) recorded decisions.
func (c *Coordinator) Decisions(limit int) []activity.Decision {
	if c.bus == nil {
		return nil
	}
	return c.bus.ListDecisions(limit)
}

// RedemptionState reports the pending/history queues and their totals.
func (c *Coordinator) RedemptionState() (pending []redemption.Entry, history []redemption.Entry, redeemed, lost int) {
	if c.redemptionQueue == nil {
		return nil, nil, 0, 0
	}
	redeemed, lost = c.redemptionQueue.Totals()
	return c.redemptionQueue.Pending(), c.redemptionQueue.History(), redeemed, lost
}

// LastPositionScan returns the most recent position-discovery result.
func (c *Coordinator) LastPositionScan() positions.Result {
	if c.posScanner == nil {
		return positions.Result{}
	}
	return c.posScanner.LastResult()
}

// IsRunning reports whether the coordinator is accepting ticks.
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// LastScanAt returns the time of the most recently completed tick.
func (c *Coordinator) LastScanAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastScanAt
}

// LastOutcome returns a short human-readable summary of the last tick,
// for the status endpoint.
func (c *Coordinator) LastOutcome() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOutcome
}

// Tick runs one pass of the 8-step per-tick algorithm. Overlapping
// invocations (a manual scan-now racing the ticker, say) are dropped
// via a non-blocking send on a 1-buffered channel rather than blocking
// the caller.
func (c *Coordinator) Tick(ctx context.Context) {
	select {
	case c.ticking <- struct{}{}:
	default:
		return
	}
	defer func() { <-c.ticking }()

	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	outcome := "idle"
	if running {
		outcome = c.runTick(ctx)
	}

	c.mu.Lock()
	c.lastScanAt = time.Now()
	c.lastOutcome = outcome
	c.mu.Unlock()

	if c.redemptionEng != nil {
		c.redemptionEng.CheckAndRedeem(ctx)
	}
}

func (c *Coordinator) runTick(ctx context.Context) string {
	if c.safetyLedger == nil {
		return "no safety ledger configured"
	}

	canTrade := c.safetyLedger.CanTrade()
	if !canTrade.Allowed {
		if c.notifier != nil {
			_ = c.notifier.NotifyTradingHalted(ctx, canTrade.Reason)
		}
		return "blocked: " + canTrade.Reason
	}

	priceCtx, ok := c.priceCtx()
	if !ok {
		return "no price data yet"
	}

	fastPath := c.spikePolicy != nil && c.spikePolicy.QuickScan(priceCtx)

	snapshot, ok := c.discoverCandidate(ctx)
	if !ok {
		return "no qualifying market this tick"
	}

	windowKey := safety.GetWindowKey(snapshot.Market.EndTime)
	if c.safetyLedger.HasTraded(c.asset, windowKey) {
		return "already traded this window"
	}

	if snapshot.Yes.BestAsk <= 0 && snapshot.No.BestAsk <= 0 {
		return "no liquidity on either side"
	}

	decision := c.decide(fastPath, snapshot, priceCtx)
	c.bus.AppendDecision(activity.Decision{
		Action:     string(decision.Action),
		Confidence: string(decision.Confidence),
		Pattern:    decision.Pattern,
		Reasoning:  decision.Reasoning,
		Asset:      c.asset,
	})

	if decision.Action != strategy.ActionSkip && !c.entryPriceGateOK(decision, snapshot) {
		decision = strategy.Decision{Action: strategy.ActionSkip, Confidence: strategy.ConfidenceLow, Pattern: decision.Pattern, Reasoning: "entry price exceeds coordinator gate"}
	}

	if decision.Action == strategy.ActionSkip {
		return fmt.Sprintf("skip: %s", decision.Reasoning)
	}

	return c.actOnDecision(ctx, decision, snapshot, windowKey)
}

func (c *Coordinator) priceCtx() (feed.Context, bool) {
	if c.priceFeed == nil {
		return feed.Context{}, false
	}
	return c.priceFeed.PriceContext()
}

func (c *Coordinator) discoverCandidate(ctx context.Context) (market.Snapshot, bool) {
	if c.discoverer == nil || c.fetcher == nil {
		return market.Snapshot{}, false
	}
	candidates, err := c.discoverer.ScanMarkets(ctx)
	if err != nil || len(candidates) == 0 {
		return market.Snapshot{}, false
	}
	snapshot, err := c.fetcher.FetchFullMarketData(ctx, candidates[0])
	if err != nil {
		return market.Snapshot{}, false
	}
	return snapshot, true
}

func (c *Coordinator) decide(fastPath bool, snapshot market.Snapshot, priceCtx feed.Context) strategy.Decision {
	if fastPath && c.spikePolicy != nil {
		return c.spikePolicy.Decide(snapshot, priceCtx)
	}
	if c.modelPolicy != nil {
		return c.modelPolicy.Decide(snapshot, priceCtx)
	}
	return strategy.Decision{Action: strategy.ActionSkip, Confidence: strategy.ConfidenceLow, Pattern: "none", Reasoning: "no policy configured"}
}

func (c *Coordinator) entryPriceGateOK(decision strategy.Decision, snapshot market.Snapshot) bool {
	if c.maxEntryPrice <= 0 {
		return true
	}
	ask := snapshot.Yes.BestAsk
	if decision.Action == strategy.ActionBuyNo {
		ask = snapshot.No.BestAsk
	}
	return ask > 0 && ask <= c.maxEntryPrice
}

func (c *Coordinator) actOnDecision(ctx context.Context, decision strategy.Decision, snapshot market.Snapshot, windowKey string) string {
	canTrade := c.safetyLedger.CanTrade()
	if !canTrade.Allowed {
		return "blocked on recheck: " + canTrade.Reason
	}

	size := c.safetyLedger.GetTradeSize(decision.Confidence)
	if size <= 0 {
		return "zero trade size"
	}

	trade, err := c.place(ctx, decision, snapshot, size)
	if err != nil {
		log.Printf("coordinator: order placement failed: %v", err)
		return fmt.Sprintf("order failed: %v", err)
	}

	c.safetyLedger.RecordTrade(size)
	c.safetyLedger.MarkTraded(c.asset, windowKey)
	c.enqueueRedemption(trade, snapshot)

	if c.notifier != nil {
		_ = c.notifier.NotifyFill(ctx, trade.TokenID, trade.Side, trade.Price, trade.Size)
	}
	return fmt.Sprintf("traded %s %s x%.2f @ %.4f", trade.Side, trade.TokenID, trade.Size, trade.Price)
}

func (c *Coordinator) place(ctx context.Context, decision strategy.Decision, snapshot market.Snapshot, size float64) (activity.Trade, error) {
	if c.tradingMode == "live" && c.executor != nil {
		trade, err := c.executor.Execute(ctx, decision, snapshot, size)
		if err != nil {
			return trade, err
		}
		return c.bus.AppendTrade(trade), nil
	}
	return c.placePaper(decision, snapshot, size)
}

func (c *Coordinator) placePaper(decision strategy.Decision, snapshot market.Snapshot, size float64) (activity.Trade, error) {
	if c.paperSim == nil {
		return activity.Trade{}, fmt.Errorf("no paper simulator configured")
	}

	token, book, side := pickTokenForPaper(decision.Action, snapshot)
	if token == "" {
		return activity.Trade{}, fmt.Errorf("market has no token for %s", decision.Action)
	}
	price := book.BestAsk
	if price <= 0 {
		return activity.Trade{}, fmt.Errorf("no ask liquidity for %s", token)
	}

	result, err := c.paperSim.ExecuteAtPrice(token, side, price, size, book.BestBid, book.BestAsk)
	if err != nil {
		return activity.Trade{}, err
	}

	trade := activity.Trade{
		Action:        string(decision.Action),
		Side:          sidePaperLabel(decision.Action),
		TokenID:       token,
		ConditionID:   snapshot.Market.ConditionID,
		Size:          result.Size,
		Price:         result.Price,
		OrderID:       result.OrderID,
		Question:      snapshot.Market.Question,
		MarketEndTime: snapshot.Market.EndTime,
		NegRisk:       snapshot.Market.NegRisk,
		Result:        activity.TradeResultPending,
	}
	return c.bus.AppendTrade(trade), nil
}

func pickTokenForPaper(action strategy.Action, snapshot market.Snapshot) (string, market.TokenBook, string) {
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

func sidePaperLabel(action strategy.Action) string {
	if action == strategy.ActionBuyYes {
		return "YES"
	}
	return "NO"
}

func (c *Coordinator) enqueueRedemption(trade activity.Trade, snapshot market.Snapshot) {
	if c.redemptionQueue == nil || trade.TokenID == "" {
		return
	}
	outcome := "Yes"
	if trade.Side == "NO" {
		outcome = "No"
	}
	c.redemptionQueue.Append(redemption.Entry{
		ConditionID:   trade.ConditionID,
		TokenID:       trade.TokenID,
		Outcome:       outcome,
		Question:      trade.Question,
		MarketEndTime: snapshot.Market.EndTime,
	})
}

// ScanPositions triggers an ad-hoc position scan outside the startup path.
func (c *Coordinator) ScanPositions(ctx context.Context) (positions.Result, error) {
	if c.posScanner == nil {
		return positions.Result{}, fmt.Errorf("no position scanner configured")
	}
	return c.posScanner.ScanOnce(ctx), nil
}

// ToggleKillSwitch flips the safety ledger's kill switch and notifies.
func (c *Coordinator) ToggleKillSwitch(ctx context.Context) bool {
	if c.safetyLedger == nil {
		return false
	}
	enabled := c.safetyLedger.ToggleKillSwitch()
	if c.notifier != nil {
		_ = c.notifier.NotifyKillSwitch(ctx, enabled)
	}
	return enabled
}
