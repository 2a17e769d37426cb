package safety

import (
	"testing"
	"time"

	"github.com/GoPolymarket/updown-agent/internal/activity"
)

func TestCanTradeDeniesOnKillSwitch(t *testing.T) {
	l := New(Config{MaxTradeSize: 10}, activity.New())
	l.SetKillSwitch(true)
	res := l.CanTrade()
	if res.Allowed {
		t.Fatalf("expected deny when kill switch engaged")
	}
}

func TestCanTradeDeniesOnDailyLossLimit(t *testing.T) {
	l := New(Config{MaxTradeSize: 10, DailyLossLimit: 50}, activity.New())
	l.RecordLoss(50)
	res := l.CanTrade()
	if res.Allowed {
		t.Fatalf("expected deny once daily loss limit reached")
	}
}

func TestCanTradeDeniesOnMaxDailyLosses(t *testing.T) {
	l := New(Config{MaxTradeSize: 10, MaxDailyLosses: 2}, activity.New())
	l.RecordLoss(1)
	l.RecordLoss(1)
	res := l.CanTrade()
	if res.Allowed {
		t.Fatalf("expected deny once max daily losses reached")
	}
}

func TestGetTradeSizeTiers(t *testing.T) {
	l := New(Config{MaxTradeSize: 20}, activity.New())
	if got := l.GetTradeSize(ConfidenceHigh); got != 20 {
		t.Fatalf("expected HIGH size 20, got %v", got)
	}
	if got := l.GetTradeSize(ConfidenceMedium); got != 10 {
		t.Fatalf("expected MEDIUM size 10, got %v", got)
	}
	if got := l.GetTradeSize(ConfidenceLow); got != 0 {
		t.Fatalf("expected LOW size 0, got %v", got)
	}
}

func TestGetTradeSizeBudgetForwardLossesClamps(t *testing.T) {
	l := New(Config{MaxTradeSize: 20, DailyLossLimit: 15, BudgetForwardLosses: true}, activity.New())
	l.RecordLoss(10)
	got := l.GetTradeSize(ConfidenceHigh)
	if got != 5 {
		t.Fatalf("expected clamp to remaining budget 5, got %v", got)
	}
}

func TestHasTradedAndMarkTraded(t *testing.T) {
	l := New(Config{}, activity.New())
	if l.HasTraded("BTC", "20260730_1200") {
		t.Fatalf("expected not yet traded")
	}
	l.MarkTraded("BTC", "20260730_1200")
	if !l.HasTraded("BTC", "20260730_1200") {
		t.Fatalf("expected traded after MarkTraded")
	}
	if l.HasTraded("ETH", "20260730_1200") {
		t.Fatalf("expected different asset to be untouched")
	}
}

func TestGetWindowKeyFormat(t *testing.T) {
	end := time.Date(2026, 7, 30, 14, 45, 0, 0, time.UTC)
	got := GetWindowKey(end)
	want := "20260730_1445"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestToggleKillSwitch(t *testing.T) {
	l := New(Config{}, activity.New())
	if l.KillSwitch() {
		t.Fatalf("expected initial kill switch off")
	}
	if !l.ToggleKillSwitch() {
		t.Fatalf("expected kill switch on after toggle")
	}
	if l.ToggleKillSwitch() {
		t.Fatalf("expected kill switch off after second toggle")
	}
}
