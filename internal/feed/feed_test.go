package feed

import (
	"testing"
	"time"
)

func samplesAt(base time.Time, prices []float64, step time.Duration) []Sample {
	out := make([]Sample, len(prices))
	for i, p := range prices {
		out[i] = Sample{Price: p, T: base.Add(time.Duration(i) * step)}
	}
	return out
}

func TestLatestPriceReflectsMostRecentSample(t *testing.T) {
	f := New("wss://example.invalid", "BTC")
	base := time.Now().Add(-5 * time.Minute)
	f.Seed(samplesAt(base, []float64{100, 101, 102}, time.Second))

	s, ok := f.LatestPrice()
	if !ok {
		t.Fatal("expected a latest price")
	}
	if s.Price != 102 {
		t.Fatalf("expected latest price 102, got %f", s.Price)
	}
}

func TestLatestPriceEmptyFeed(t *testing.T) {
	f := New("wss://example.invalid", "BTC")
	if _, ok := f.LatestPrice(); ok {
		t.Fatal("expected no price for empty feed")
	}
}

func TestLatestPriceStaleAfter30s(t *testing.T) {
	f := New("wss://example.invalid", "BTC")
	f.Seed(samplesAt(time.Now().Add(-5*time.Minute), []float64{100}, time.Second))

	s, ok := f.LatestPrice()
	if !ok {
		t.Fatal("expected a latest price")
	}
	if !s.Stale {
		t.Fatal("expected a 5-minute-old sample to be stale")
	}
	if s.Connected {
		t.Fatal("expected connected=false for a seeded feed that never dialed")
	}
}

func TestLatestPriceFreshNotStale(t *testing.T) {
	f := New("wss://example.invalid", "BTC")
	f.Seed(samplesAt(time.Now().Add(-1*time.Second), []float64{100}, time.Second))

	s, ok := f.LatestPrice()
	if !ok {
		t.Fatal("expected a latest price")
	}
	if s.Stale {
		t.Fatal("expected a 1-second-old sample to not be stale")
	}
}

func TestPriceContextAvailableRequiresRecentSample(t *testing.T) {
	f := New("wss://example.invalid", "BTC")
	f.Seed(samplesAt(time.Now().Add(-5*time.Minute), []float64{100, 101}, time.Second))

	ctx, ok := f.PriceContext()
	if !ok {
		t.Fatal("expected a price context for a seeded feed")
	}
	if ctx.Available {
		t.Fatal("expected available=false when the latest sample is minutes old")
	}
}

func TestPriceContextAvailableWithRecentSample(t *testing.T) {
	f := New("wss://example.invalid", "BTC")
	f.Seed(samplesAt(time.Now().Add(-2*time.Second), []float64{100, 101}, time.Second))

	ctx, ok := f.PriceContext()
	if !ok {
		t.Fatal("expected a price context")
	}
	if !ctx.Available {
		t.Fatal("expected available=true when the latest sample is seconds old")
	}
}

func TestPriceContextDirectionRising(t *testing.T) {
	f := New("wss://example.invalid", "BTC")
	base := time.Now().Add(-10 * time.Minute)
	prices := make([]float64, 0, 600)
	price := 100.0
	for i := 0; i < 600; i++ {
		prices = append(prices, price)
		price *= 1.001 // ~6.2%/60s compounding, comfortably clears the 5% band
	}
	f.Seed(samplesAt(base, prices, time.Second))

	ctx, ok := f.PriceContext()
	if !ok {
		t.Fatal("expected price context")
	}
	if ctx.Direction != DirectionRising {
		t.Fatalf("expected RISING, got %s", ctx.Direction)
	}
	if ctx.Change[60].Dollars <= 0 {
		t.Fatalf("expected positive 60s dollar change, got %f", ctx.Change[60].Dollars)
	}
	if ctx.Change[60].Percent <= 0.05 {
		t.Fatalf("expected 60s percent change above the 5%% band, got %f", ctx.Change[60].Percent)
	}
}

func TestPriceContextDirectionFlat(t *testing.T) {
	f := New("wss://example.invalid", "BTC")
	base := time.Now().Add(-5 * time.Minute)
	prices := make([]float64, 200)
	for i := range prices {
		prices[i] = 100
	}
	f.Seed(samplesAt(base, prices, time.Second))

	ctx, ok := f.PriceContext()
	if !ok {
		t.Fatal("expected price context")
	}
	if ctx.Direction != DirectionFlat {
		t.Fatalf("expected FLAT, got %s", ctx.Direction)
	}
	if ctx.RecentVolatility != 0 {
		t.Fatalf("expected zero volatility for a flat feed, got %f", ctx.RecentVolatility)
	}
}

func TestRecentVolatilityIsMaxMinusMinOverLast30s(t *testing.T) {
	f := New("wss://example.invalid", "BTC")
	base := time.Now().Add(-29 * time.Second)
	// Prices bounce within the last 30s; the oldest sample (40s old) should
	// be excluded from the range.
	f.Seed([]Sample{
		{Price: 500, T: time.Now().Add(-40 * time.Second)},
		{Price: 100, T: base},
		{Price: 112, T: base.Add(10 * time.Second)},
		{Price: 90, T: base.Add(20 * time.Second)},
		{Price: 105, T: base.Add(28 * time.Second)},
	})

	ctx, ok := f.PriceContext()
	if !ok {
		t.Fatal("expected price context")
	}
	if ctx.RecentVolatility != 22 {
		t.Fatalf("expected volatility (max 112 - min 90) = 22, got %f", ctx.RecentVolatility)
	}
}

func TestMomentumAccelerating(t *testing.T) {
	// change_60.percent large relative to change_180.percent/3 -> accelerating.
	got := classifyMomentum(0.20, 0.03)
	if got != MomentumAccelerating {
		t.Fatalf("expected ACCELERATING, got %s", got)
	}
}

func TestMomentumDecelerating(t *testing.T) {
	got := classifyMomentum(0.01, 0.30)
	if got != MomentumDecelerating {
		t.Fatalf("expected DECELERATING, got %s", got)
	}
}

func TestSeedBoundsHistoryToMaxHistory(t *testing.T) {
	f := New("wss://example.invalid", "BTC")
	base := time.Now().Add(-20 * time.Minute)
	prices := make([]float64, MaxHistory+100)
	for i := range prices {
		prices[i] = float64(i)
	}
	f.Seed(samplesAt(base, prices, time.Second))

	f.mu.RLock()
	n := len(f.samples)
	f.mu.RUnlock()
	if n != MaxHistory {
		t.Fatalf("expected history bounded to %d, got %d", MaxHistory, n)
	}
}

func TestBuildPriceTextNoData(t *testing.T) {
	f := New("wss://example.invalid", "ETH")
	text := f.BuildPriceText()
	if text == "" {
		t.Fatal("expected non-empty text even with no data")
	}
}
