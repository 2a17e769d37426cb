package strategy

import (
	"fmt"
	"math"

	"github.com/GoPolymarket/updown-agent/internal/feed"
	"github.com/GoPolymarket/updown-agent/internal/market"
)

// spikeWindows are the lookback windows (seconds) the detector scans,
// widest last so the first qualifying (and therefore fastest) window wins.
var spikeWindows = []int{60, 180, 300}

// SpikeConfig controls the deterministic spike detector.
type SpikeConfig struct {
	// Threshold is the minimum absolute dollar move over a window to
	// flag a spike.
	Threshold float64
	// MinSpeed is the minimum dollars/minute implied by the qualifying
	// window.
	MinSpeed float64
	// MaxEntryPrice caps the price paid per share; a market already
	// pricing the move in is skipped.
	MaxEntryPrice float64
}

// SpikeDetector flags a fast, large reference-price move and buys the
// outcome token consistent with its direction.
type SpikeDetector struct {
	cfg SpikeConfig
}

// NewSpikeDetector creates a SpikeDetector with the given thresholds.
func NewSpikeDetector(cfg SpikeConfig) *SpikeDetector {
	return &SpikeDetector{cfg: cfg}
}

// Decide implements Policy. It looks for the shortest window among
// spikeWindows whose absolute dollar change clears Threshold at a speed
// of at least MinSpeed dollars/minute, then recommends the outcome
// token matching the move's direction provided its price hasn't already
// priced the move in.
func (d *SpikeDetector) Decide(snapshot market.Snapshot, priceCtx feed.Context) Decision {
	for _, w := range spikeWindows {
		cw, ok := priceCtx.Change[w]
		if !ok {
			continue
		}
		change := cw.Dollars
		if math.Abs(change) < d.cfg.Threshold {
			continue
		}
		speed := math.Abs(change) / (float64(w) / 60)
		if speed < d.cfg.MinSpeed {
			continue
		}

		action := ActionBuyYes
		book := snapshot.Yes
		if change < 0 {
			action = ActionBuyNo
			book = snapshot.No
		}

		entryPrice := book.BestAsk
		if entryPrice <= 0 {
			return skipDecision("spike", fmt.Sprintf("spike detected (%ds window, $%.2f move) but no ask liquidity", w, change))
		}
		if d.cfg.MaxEntryPrice > 0 && entryPrice > d.cfg.MaxEntryPrice {
			return skipDecision("spike", fmt.Sprintf("spike detected (%ds window, $%.2f move) but entry price %.3f exceeds cap %.3f", w, change, entryPrice, d.cfg.MaxEntryPrice))
		}

		confidence := ConfidenceMedium
		if speed >= d.cfg.MinSpeed*2 {
			confidence = ConfidenceHigh
		}

		return Decision{
			Action:     action,
			Confidence: confidence,
			Pattern:    "spike",
			Reasoning: fmt.Sprintf("%ds window moved $%.2f (%.2f $/min, threshold %.2f/%.2f)",
				w, change, speed, d.cfg.Threshold, d.cfg.MinSpeed),
		}
	}

	return skipDecision("spike", "no qualifying price spike in any window")
}

// QuickScan reports whether priceCtx alone shows a move large and fast
// enough to be worth fetching a full market snapshot for. It mirrors the
// threshold/speed check in Decide but skips the entry-price gate, which
// needs a live order book the coordinator hasn't fetched yet.
func (d *SpikeDetector) QuickScan(priceCtx feed.Context) bool {
	for _, w := range spikeWindows {
		cw, ok := priceCtx.Change[w]
		if !ok {
			continue
		}
		change := cw.Dollars
		if math.Abs(change) < d.cfg.Threshold {
			continue
		}
		if math.Abs(change)/(float64(w)/60) >= d.cfg.MinSpeed {
			return true
		}
	}
	return false
}
