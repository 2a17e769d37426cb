package market

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/gamma"
)

// DefaultMinMinutesLeft and DefaultMaxMinutesLeft bound the normal scan
// window: markets that just opened or are about to close are skipped.
const (
	DefaultMinMinutesLeft = 3
	DefaultMaxMinutesLeft = 12

	// SpikeMinMinutesLeft and SpikeMaxMinutesLeft widen the window for the
	// spike-detector strategy, which can act usefully closer to either edge.
	SpikeMinMinutesLeft = 1
	SpikeMaxMinutesLeft = 14
)

// windowSeconds is the fixed Up/Down market duration.
const windowSeconds = 15 * 60

// DiscoveryConfig controls ScanMarkets.
type DiscoveryConfig struct {
	Asset          string
	MinMinutesLeft int
	MaxMinutesLeft int
}

// Discoverer finds the currently-tradeable Up/Down market for an asset.
type Discoverer struct {
	gammaClient gamma.Client
	cfg         DiscoveryConfig
}

// NewDiscoverer creates a Discoverer over the given Gamma client.
func NewDiscoverer(gammaClient gamma.Client, cfg DiscoveryConfig) *Discoverer {
	if cfg.MinMinutesLeft == 0 && cfg.MaxMinutesLeft == 0 {
		cfg.MinMinutesLeft = DefaultMinMinutesLeft
		cfg.MaxMinutesLeft = DefaultMaxMinutesLeft
	}
	return &Discoverer{gammaClient: gammaClient, cfg: cfg}
}

// candidateSlugs builds the slug(s) a 15-minute Up/Down market for this
// asset could currently be published under: the window containing now,
// and the window before it (covers a market that started just before
// the scan tick but hasn't closed).
func (d *Discoverer) candidateSlugs(now time.Time) []string {
	currentWindowStart := now.Unix() / windowSeconds * windowSeconds
	slugs := make([]string, 0, 2)
	for _, start := range []int64{currentWindowStart, currentWindowStart - windowSeconds} {
		slugs = append(slugs, fmt.Sprintf("%s-updown-15m-%d", lowerAsset(d.cfg.Asset), start))
	}
	return slugs
}

func lowerAsset(asset string) string {
	out := make([]byte, len(asset))
	for i := 0; i < len(asset); i++ {
		c := asset[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// ScanMarkets implements the market-discovery algorithm:
//  1. build candidate slugs for the current and previous 15-minute window
//  2. query Gamma for each candidate slug
//  3. keep only markets that are active and not yet closed
//  4. parse end time, negRisk and tick size off each match
//  5. filter to markets with minutesLeft within [MinMinutesLeft, MaxMinutesLeft]
//  6. return the remaining candidates, most time-remaining first
func (d *Discoverer) ScanMarkets(ctx context.Context) ([]Market, error) {
	now := time.Now()
	slugs := d.candidateSlugs(now)

	active := true
	closed := false

	var found []Market
	for _, slug := range slugs {
		markets, err := d.gammaClient.Markets(ctx, &gamma.MarketsRequest{
			Active: &active,
			Closed: &closed,
			Slug:   slug,
			Limit:  intPtr(5),
		})
		if err != nil {
			return nil, fmt.Errorf("query slug %s: %w", slug, err)
		}

		for _, gm := range markets {
			m, ok := parseGammaMarket(gm)
			if !ok {
				continue
			}
			minutesLeft := time.Until(m.EndTime).Minutes()
			if minutesLeft < float64(d.cfg.MinMinutesLeft) || minutesLeft > float64(d.cfg.MaxMinutesLeft) {
				continue
			}
			found = append(found, m)
		}
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].EndTime.Before(found[j].EndTime)
	})
	return found, nil
}

func parseGammaMarket(gm gamma.Market) (Market, bool) {
	endTime, err := time.Parse(time.RFC3339, gm.EndDate)
	if err != nil {
		return Market{}, false
	}

	tokens := gm.ParsedTokens()
	if len(tokens) != 2 {
		return Market{}, false
	}

	tickSize, _ := strconv.ParseFloat(gm.MinimumTickSize, 64)
	if tickSize <= 0 {
		tickSize = 0.01
	}

	m := Market{
		ConditionID: gm.ConditionID,
		Question:    gm.Question,
		EndTime:     endTime,
		NegRisk:     gm.NegRisk,
		TickSize:    tickSize,
	}
	for i, t := range tokens {
		if i >= 2 {
			break
		}
		m.Tokens[i] = Token{TokenID: t.TokenID, Outcome: t.Outcome}
	}
	return m, true
}

func intPtr(v int) *int { return &v }
