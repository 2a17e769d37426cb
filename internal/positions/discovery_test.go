package positions

import (
	"testing"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/data"

	"github.com/GoPolymarket/updown-agent/internal/redemption"
)

func TestEnqueueCandidateSkipsZeroSize(t *testing.T) {
	q := redemption.NewQueue()
	p := data.Position{ConditionID: "a", TokenID: "1", Size: 0, CurPrice: 1}
	if enqueueCandidate(q, p) {
		t.Fatal("expected zero-size position to be skipped")
	}
}

func TestEnqueueCandidateSkipsMissingIdentifiers(t *testing.T) {
	q := redemption.NewQueue()
	p := data.Position{ConditionID: "", TokenID: "1", Size: 10, CurPrice: 1}
	if enqueueCandidate(q, p) {
		t.Fatal("expected missing condition id to be skipped")
	}
}

func TestEnqueueCandidateSkipsZeroPrice(t *testing.T) {
	q := redemption.NewQueue()
	p := data.Position{ConditionID: "a", TokenID: "1", Size: 10, CurPrice: 0, Redeemable: true}
	if enqueueCandidate(q, p) {
		t.Fatal("expected curPrice==0 to be skipped as a loss")
	}
}

func TestEnqueueCandidateEnqueuesOnCurPriceOne(t *testing.T) {
	q := redemption.NewQueue()
	p := data.Position{ConditionID: "a", TokenID: "1", Size: 10, CurPrice: 1}
	if !enqueueCandidate(q, p) {
		t.Fatal("expected curPrice==1 position to enqueue")
	}
	if len(q.Pending()) != 1 {
		t.Fatalf("expected 1 pending entry, got %d", len(q.Pending()))
	}
}

func TestEnqueueCandidateEnqueuesOnRedeemableFlag(t *testing.T) {
	q := redemption.NewQueue()
	p := data.Position{ConditionID: "a", TokenID: "1", Size: 10, CurPrice: 0.5, Redeemable: true}
	if !enqueueCandidate(q, p) {
		t.Fatal("expected redeemable position to enqueue regardless of curPrice")
	}
}

func TestEnqueueCandidateSkipsNonRedeemableMidPrice(t *testing.T) {
	q := redemption.NewQueue()
	p := data.Position{ConditionID: "a", TokenID: "1", Size: 10, CurPrice: 0.5, Redeemable: false}
	if enqueueCandidate(q, p) {
		t.Fatal("expected mid-priced non-redeemable position to be skipped")
	}
}

func TestScanIfNeededRunsOnlyOnce(t *testing.T) {
	s := &Scanner{queue: redemption.NewQueue()}
	s.hasScanned = true
	s.lastResult = Result{TotalFound: 7}

	result := s.ScanIfNeeded(nil)
	if result.TotalFound != 7 {
		t.Fatalf("expected cached result to be returned, got %+v", result)
	}
}
