package market

import "testing"

func TestMarketYesNoToken(t *testing.T) {
	m := Market{Tokens: [2]Token{{TokenID: "y1", Outcome: "Yes"}, {TokenID: "n1", Outcome: "No"}}}
	yes, ok := m.YesToken()
	if !ok || yes.TokenID != "y1" {
		t.Fatalf("expected yes token y1, got %+v ok=%v", yes, ok)
	}
	no, ok := m.NoToken()
	if !ok || no.TokenID != "n1" {
		t.Fatalf("expected no token n1, got %+v ok=%v", no, ok)
	}
}

func TestMarketMissingToken(t *testing.T) {
	m := Market{Tokens: [2]Token{{TokenID: "y1", Outcome: "Yes"}, {TokenID: "y2", Outcome: "Yes"}}}
	if _, ok := m.NoToken(); ok {
		t.Fatal("expected no No token to be found")
	}
}

func TestBidAskRatio(t *testing.T) {
	s := Snapshot{Yes: TokenBook{BidDepth: 300, AskDepth: 100}}
	if got := s.BidAskRatio(); got != 3 {
		t.Fatalf("expected ratio 3, got %f", got)
	}
}

func TestBidAskRatioZeroAskDepth(t *testing.T) {
	s := Snapshot{Yes: TokenBook{BidDepth: 10, AskDepth: 0}}
	if got := s.BidAskRatio(); got != 0 {
		t.Fatalf("expected 0 ratio when ask depth is 0, got %f", got)
	}
}
