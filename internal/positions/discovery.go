// Package positions scans the signer and proxy-wallet addresses against
// the external positions index and enqueues anything redeemable or
// already resolved into the pending-redemption queue.
package positions

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/data"
	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/updown-agent/internal/redemption"
)

// enqueueGrace is how far in the past the synthetic market end time is
// set for a discovered position, so it clears the redemption engine's
// grace delay on the very next tick.
const enqueueGrace = 10 * time.Minute

// fetchTimeout bounds each Data API call this scan makes.
const fetchTimeout = 15 * time.Second

// Scanner discovers redeemable or resolved positions for the signer and
// (optionally) a proxy wallet, and enqueues them into a redemption
// Queue. A scan is idempotent at startup (hasScanned) but may also be
// triggered manually at any time.
type Scanner struct {
	dataClient data.Client
	queue      *redemption.Queue
	signer     common.Address
	proxy      common.Address
	hasProxy   bool

	mu         sync.Mutex
	hasScanned bool
	lastResult Result
}

// Result summarizes the outcome of a single scan, kept for the read API.
type Result struct {
	ScannedAt     time.Time
	TotalFound    int
	Enqueued      int
	Skipped       int
	LastError     string
}

// New creates a Scanner. proxy may be the zero address if no proxy
// wallet has been discovered yet; HasProxy reports whether it should be
// queried.
func New(dataClient data.Client, queue *redemption.Queue, signer common.Address, proxy common.Address, hasProxy bool) *Scanner {
	return &Scanner{
		dataClient: dataClient,
		queue:      queue,
		signer:     signer,
		proxy:      proxy,
		hasProxy:   hasProxy,
	}
}

// ScanOnce runs the discovery algorithm once. Safe to call repeatedly;
// the startup path should call it exactly once (gated by hasScanned at
// the call site), manual triggers can call it any number of times.
func (s *Scanner) ScanOnce(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	positions, err := s.fetchAll(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasScanned = true

	result := Result{ScannedAt: time.Now(), TotalFound: len(positions)}
	if err != nil {
		result.LastError = err.Error()
		s.lastResult = result
		return result
	}

	for _, p := range positions {
		if enqueueCandidate(s.queue, p) {
			result.Enqueued++
		} else {
			result.Skipped++
		}
	}
	s.lastResult = result
	return result
}

// ScanIfNeeded runs ScanOnce only if a scan has never completed, the
// idempotent startup path from §4.J.
func (s *Scanner) ScanIfNeeded(ctx context.Context) Result {
	s.mu.Lock()
	alreadyScanned := s.hasScanned
	s.mu.Unlock()
	if alreadyScanned {
		return s.LastResult()
	}
	return s.ScanOnce(ctx)
}

// LastResult returns the most recent scan's outcome.
func (s *Scanner) LastResult() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func (s *Scanner) fetchAll(ctx context.Context) ([]data.Position, error) {
	signerPositions, err := s.dataClient.Positions(ctx, &data.PositionsRequest{User: s.signer})
	if err != nil {
		return nil, fmt.Errorf("fetch signer positions: %w", err)
	}

	merged := make([]data.Position, len(signerPositions))
	copy(merged, signerPositions)

	if s.hasProxy {
		proxyPositions, err := s.dataClient.Positions(ctx, &data.PositionsRequest{User: s.proxy})
		if err != nil {
			log.Printf("positions: fetch proxy positions: %v", err)
		} else {
			merged = append(merged, proxyPositions...)
		}
	}
	return merged, nil
}

// enqueueCandidate applies the §4.J filter: skip zero-size or missing
// identifiers, skip curPrice==0 as a loss that isn't worth a redemption
// attempt, and otherwise enqueue with a synthetic market end time far
// enough in the past to clear the redemption engine's grace delay.
func enqueueCandidate(queue *redemption.Queue, p data.Position) bool {
	if p.Size <= 0 || p.ConditionID == "" || p.TokenID == "" {
		return false
	}
	if p.CurPrice == 0 {
		return false
	}
	if !(p.CurPrice == 1 || p.Redeemable) {
		return false
	}

	entry := redemption.Entry{
		ConditionID:   p.ConditionID,
		TokenID:       p.TokenID,
		Outcome:       p.Outcome,
		Question:      p.MarketSlug,
		MarketEndTime: time.Now().Add(-enqueueGrace),
	}
	return queue.Append(entry)
}
