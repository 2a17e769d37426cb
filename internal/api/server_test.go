package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GoPolymarket/updown-agent/internal/activity"
	"github.com/GoPolymarket/updown-agent/internal/feed"
	"github.com/GoPolymarket/updown-agent/internal/positions"
	"github.com/GoPolymarket/updown-agent/internal/redemption"
	"github.com/GoPolymarket/updown-agent/internal/safety"
)

type fakeState struct {
	running       bool
	lastScanAt    time.Time
	lastOutcome   string
	startCalled   bool
	stopCalled    bool
	tickCalled    bool
	killSwitch    bool
	scanPositions positions.Result
	scanErr       error

	trades    []activity.Trade
	decisions []activity.Decision
	entries   []activity.Entry
}

func (f *fakeState) IsRunning() bool           { return f.running }
func (f *fakeState) LastScanAt() time.Time     { return f.lastScanAt }
func (f *fakeState) LastOutcome() string       { return f.lastOutcome }
func (f *fakeState) Start()                    { f.startCalled = true; f.running = true }
func (f *fakeState) Stop()                     { f.stopCalled = true; f.running = false }
func (f *fakeState) TickNow(ctx context.Context) { f.tickCalled = true }
func (f *fakeState) ToggleKillSwitch(ctx context.Context) bool {
	f.killSwitch = !f.killSwitch
	return f.killSwitch
}
func (f *fakeState) ScanPositions(ctx context.Context) (positions.Result, error) {
	return f.scanPositions, f.scanErr
}
func (f *fakeState) SafetySnapshot() safety.Snapshot { return safety.Snapshot{MaxDailyLosses: 4} }
func (f *fakeState) PriceContext() (feed.Context, bool) {
	return feed.Context{Price: 100, Direction: feed.DirectionRising}, true
}
func (f *fakeState) Activities(limit int) []activity.Entry  { return f.entries }
func (f *fakeState) Trades(limit int) []activity.Trade      { return f.trades }
func (f *fakeState) Decisions(limit int) []activity.Decision { return f.decisions }
func (f *fakeState) RedemptionState() ([]redemption.Entry, []redemption.Entry, int, int) {
	return []redemption.Entry{{ConditionID: "c1"}}, []redemption.Entry{{ConditionID: "c2"}}, 3, 1
}
func (f *fakeState) LastPositionScan() positions.Result { return f.scanPositions }

func decodeJSON(t *testing.T, body *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(body.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHandleStatusReportsRunningState(t *testing.T) {
	state := &fakeState{running: true, lastOutcome: "skip: no liquidity"}
	s := NewServer(":0", state)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	var got map[string]interface{}
	decodeJSON(t, rec, &got)
	if got["isRunning"] != true {
		t.Fatalf("expected isRunning=true, got %v", got["isRunning"])
	}
}

func TestHandleTradesReturnsBusContents(t *testing.T) {
	state := &fakeState{trades: []activity.Trade{{TokenID: "tok-1"}}}
	s := NewServer(":0", state)

	req := httptest.NewRequest(http.MethodGet, "/api/trades?limit=10", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	var got []activity.Trade
	decodeJSON(t, rec, &got)
	if len(got) != 1 || got[0].TokenID != "tok-1" {
		t.Fatalf("unexpected trades: %+v", got)
	}
}

func TestHandleRedemptionsReportsTotals(t *testing.T) {
	state := &fakeState{}
	s := NewServer(":0", state)

	req := httptest.NewRequest(http.MethodGet, "/api/redemptions", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	var got map[string]interface{}
	decodeJSON(t, rec, &got)
	if got["totalRedeemed"].(float64) != 3 {
		t.Fatalf("expected totalRedeemed=3, got %v", got["totalRedeemed"])
	}
}

func TestHandleBotStartStop(t *testing.T) {
	state := &fakeState{}
	s := NewServer(":0", state)

	req := httptest.NewRequest(http.MethodPost, "/api/bot/start", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	if !state.startCalled {
		t.Fatal("expected Start to be called")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/bot/stop", nil)
	rec = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	if !state.stopCalled {
		t.Fatal("expected Stop to be called")
	}
}

func TestHandleBotStartRejectsGet(t *testing.T) {
	state := &fakeState{}
	s := NewServer(":0", state)

	req := httptest.NewRequest(http.MethodGet, "/api/bot/start", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if state.startCalled {
		t.Fatal("expected Start not to be called on GET")
	}
}

func TestHandleKillSwitchToggles(t *testing.T) {
	state := &fakeState{}
	s := NewServer(":0", state)

	req := httptest.NewRequest(http.MethodPost, "/api/killswitch", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	var got map[string]interface{}
	decodeJSON(t, rec, &got)
	if got["killSwitch"] != true {
		t.Fatalf("expected killSwitch=true after toggle, got %v", got["killSwitch"])
	}
}

func TestHandleScanPositionsPropagatesError(t *testing.T) {
	state := &fakeState{scanErr: context.DeadlineExceeded}
	s := NewServer(":0", state)

	req := httptest.NewRequest(http.MethodPost, "/api/scan-positions", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
