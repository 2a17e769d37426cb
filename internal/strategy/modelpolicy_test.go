package strategy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GoPolymarket/updown-agent/internal/feed"
	"github.com/GoPolymarket/updown-agent/internal/market"
)

func TestModelPolicyDecidesFromResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req modelRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(modelResponse{Action: "BUY_YES", Confidence: "HIGH", Reasoning: "test"})
	}))
	defer srv.Close()

	p := NewModelPolicy("BTC", srv.URL)
	dec := p.Decide(market.Snapshot{}, feed.Context{Change: map[int]feed.ChangeWindow{}})
	if dec.Action != ActionBuyYes || dec.Confidence != ConfidenceHigh {
		t.Fatalf("expected BUY_YES/HIGH, got %s/%s", dec.Action, dec.Confidence)
	}
}

func TestModelPolicySkipsOnLowConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(modelResponse{Action: "BUY_YES", Confidence: "LOW"})
	}))
	defer srv.Close()

	p := NewModelPolicy("BTC", srv.URL)
	dec := p.Decide(market.Snapshot{}, feed.Context{})
	if dec.Action != ActionSkip {
		t.Fatalf("expected SKIP on LOW confidence, got %s", dec.Action)
	}
}

func TestModelPolicySkipsOnTransportError(t *testing.T) {
	p := NewModelPolicy("BTC", "http://127.0.0.1:0")
	dec := p.Decide(market.Snapshot{}, feed.Context{})
	if dec.Action != ActionSkip || dec.Confidence != ConfidenceLow {
		t.Fatalf("expected SKIP/LOW on transport error, got %s/%s", dec.Action, dec.Confidence)
	}
}

func TestModelPolicySkipsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewModelPolicy("BTC", srv.URL)
	dec := p.Decide(market.Snapshot{}, feed.Context{})
	if dec.Action != ActionSkip {
		t.Fatalf("expected SKIP on non-200 status, got %s", dec.Action)
	}
}
