package app

import (
	"context"
	"testing"
	"time"

	"github.com/GoPolymarket/updown-agent/internal/activity"
	"github.com/GoPolymarket/updown-agent/internal/config"
	"github.com/GoPolymarket/updown-agent/internal/feed"
	"github.com/GoPolymarket/updown-agent/internal/market"
	"github.com/GoPolymarket/updown-agent/internal/paper"
	"github.com/GoPolymarket/updown-agent/internal/redemption"
	"github.com/GoPolymarket/updown-agent/internal/safety"
	"github.com/GoPolymarket/updown-agent/internal/strategy"
)

type fakeSpikePolicy struct {
	quickScan bool
	decision  strategy.Decision
}

func (f *fakeSpikePolicy) QuickScan(feed.Context) bool { return f.quickScan }
func (f *fakeSpikePolicy) Decide(market.Snapshot, feed.Context) strategy.Decision {
	return f.decision
}

func sampleSnapshot() market.Snapshot {
	return market.Snapshot{
		Market: market.Market{
			ConditionID: "cond-1",
			Question:    "Will BTC be up?",
			EndTime:     time.Now().Add(5 * time.Minute),
			Tokens:      [2]market.Token{{TokenID: "yes-1", Outcome: "Yes"}, {TokenID: "no-1", Outcome: "No"}},
		},
		Yes: market.TokenBook{TokenID: "yes-1", BestBid: 0.40, BestAsk: 0.42},
		No:  market.TokenBook{TokenID: "no-1", BestBid: 0.55, BestAsk: 0.58},
	}
}

func newTestCoordinator() (*Coordinator, *fakeSpikePolicy) {
	bus := activity.New()
	ledger := safety.New(safety.Config{MaxTradeSize: 10, DailyLossLimit: 100, MaxDailyLosses: 10}, bus)
	sim := paper.NewSimulator(paper.Config{InitialBalanceUSDC: 1000})
	queue := redemption.NewQueue()
	spike := &fakeSpikePolicy{}

	c := New(config.Config{Asset: "BTC", TradingMode: "paper", Strategy: config.StrategyConfig{MaxEntryPrice: 0.45}}, Deps{
		Bus:             bus,
		SafetyLedger:    ledger,
		SpikePolicy:     spike,
		PaperSim:        sim,
		RedemptionQueue: queue,
	})
	return c, spike
}

func TestTickNoopWhenNotRunning(t *testing.T) {
	c, _ := newTestCoordinator()
	c.Tick(context.Background())
	if c.LastOutcome() != "idle" {
		t.Fatalf("expected idle outcome, got %q", c.LastOutcome())
	}
}

func TestTickReportsMissingSafetyLedger(t *testing.T) {
	c := New(config.Config{}, Deps{Bus: activity.New()})
	c.Start()
	c.Tick(context.Background())
	if c.LastOutcome() != "no safety ledger configured" {
		t.Fatalf("unexpected outcome: %q", c.LastOutcome())
	}
}

func TestTickBlocksOnKillSwitch(t *testing.T) {
	c, _ := newTestCoordinator()
	c.Start()
	c.safetyLedger.SetKillSwitch(true)
	c.Tick(context.Background())
	if c.LastOutcome() != "blocked: kill switch active" {
		t.Fatalf("unexpected outcome: %q", c.LastOutcome())
	}
}

func TestTickSkipsWithoutPriceFeed(t *testing.T) {
	c, _ := newTestCoordinator()
	c.Start()
	c.Tick(context.Background())
	if c.LastOutcome() != "no price data yet" {
		t.Fatalf("unexpected outcome: %q", c.LastOutcome())
	}
}

func TestEntryPriceGateRejectsExpensiveAsk(t *testing.T) {
	c, _ := newTestCoordinator()
	snapshot := sampleSnapshot()
	snapshot.No.BestAsk = 0.80
	decision := strategy.Decision{Action: strategy.ActionBuyNo}
	if c.entryPriceGateOK(decision, snapshot) {
		t.Fatal("expected gate to reject an ask above MaxEntryPrice")
	}
}

func TestEntryPriceGateAcceptsCheapAsk(t *testing.T) {
	c, _ := newTestCoordinator()
	snapshot := sampleSnapshot()
	decision := strategy.Decision{Action: strategy.ActionBuyYes}
	if !c.entryPriceGateOK(decision, snapshot) {
		t.Fatal("expected gate to accept an ask below MaxEntryPrice")
	}
}

func TestPlacePaperFillsAndEnqueuesRedemption(t *testing.T) {
	c, _ := newTestCoordinator()
	snapshot := sampleSnapshot()
	decision := strategy.Decision{Action: strategy.ActionBuyYes, Confidence: strategy.ConfidenceHigh}

	outcome := c.actOnDecision(context.Background(), decision, snapshot, "window-1")
	if outcome == "" {
		t.Fatal("expected a non-empty outcome")
	}

	pending, _, _, _ := c.RedemptionState()
	if len(pending) != 1 {
		t.Fatalf("expected one pending redemption entry, got %d", len(pending))
	}
	if pending[0].ConditionID != "cond-1" {
		t.Fatalf("unexpected redemption entry: %+v", pending[0])
	}
}

func TestTickDoesNotOverlap(t *testing.T) {
	c, _ := newTestCoordinator()
	c.ticking <- struct{}{}
	c.Tick(context.Background())
	if c.LastOutcome() != "" {
		t.Fatalf("expected overlapping tick to be dropped, got %q", c.LastOutcome())
	}
	<-c.ticking
}

func TestToggleKillSwitchNotifiesAndFlips(t *testing.T) {
	c, _ := newTestCoordinator()
	before := c.safetyLedger.KillSwitch()
	after := c.ToggleKillSwitch(context.Background())
	if after == before {
		t.Fatal("expected kill switch to flip")
	}
}
