// Package feed maintains a reconnecting reference-price ticker feed for
// a single crypto asset, sourced from a public market-data websocket.
package feed

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MaxHistory bounds the number of price samples retained.
const MaxHistory = 600

// reconnectDelay is the fixed pause between dial attempts after a drop.
const reconnectDelay = 5 * time.Second

// heartbeatInterval is how often a ping is sent to keep the connection alive.
const heartbeatInterval = 30 * time.Second

// Sample is a single reference-price observation.
type Sample struct {
	Price float64
	Bid   float64
	Ask   float64
	T     time.Time
}

// Direction describes the short-term trend of the price window.
type Direction string

const (
	DirectionRising  Direction = "RISING"
	DirectionFalling Direction = "FALLING"
	DirectionFlat    Direction = "FLAT"
)

// Momentum describes whether the rate of change is increasing or decreasing.
type Momentum string

const (
	MomentumAccelerating Momentum = "ACCELERATING"
	MomentumDecelerating Momentum = "DECELERATING"
	MomentumStable       Momentum = "STABLE"
)

// ChangeWindow is a window's price move expressed both ways: the raw
// dollar delta and the delta as a fraction of the window's starting price.
type ChangeWindow struct {
	Dollars float64
	Percent float64
}

// Context is the derived price context used by decision policies.
type Context struct {
	Price            float64
	Change           map[int]ChangeWindow // window seconds -> change
	Direction        Direction
	Momentum         Momentum
	RecentVolatility float64 // price range (max-min) over the last 30s
	Available        bool    // latest sample is within 60s of now
}

// changeWindows are the lookback windows (seconds) reported in Change.
var changeWindows = []int{60, 180, 300, 600}

// Feed streams a single symbol's trade price over a websocket, keeping a
// bounded, timestamped sample history behind a read-write lock.
type Feed struct {
	url    string
	symbol string

	mu        sync.RWMutex
	samples   []Sample
	connected bool

	stop chan struct{}
	once sync.Once
}

// New creates a Feed for symbol (e.g. "BTC") dialing wsURL. wsURL must
// already be the fully-formed ticker stream endpoint for that symbol.
func New(wsURL, symbol string) *Feed {
	return &Feed{
		url:    wsURL,
		symbol: strings.ToUpper(symbol),
		stop:   make(chan struct{}),
	}
}

// Run dials the feed and blocks, reconnecting on every drop, until Stop
// is called. Intended to run in its own goroutine.
func (f *Feed) Run() {
	for {
		select {
		case <-f.stop:
			return
		default:
		}

		if err := f.runOnce(); err != nil {
			log.Printf("feed: %s connection error: %v, reconnecting in %s", f.symbol, err, reconnectDelay)
		}

		select {
		case <-f.stop:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// Stop terminates the feed's run loop.
func (f *Feed) Stop() {
	f.once.Do(func() { close(f.stop) })
}

type tickerMessage struct {
	Price string `json:"c"` // last trade price
	Bid   string `json:"b"`
	Ask   string `json:"a"`
}

func (f *Feed) runOnce() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	f.setConnected(true)
	defer f.setConnected(false)

	done := make(chan struct{})
	go f.heartbeat(conn, done)
	defer close(done)

	for {
		select {
		case <-f.stop:
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg tickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		price, err := strconv.ParseFloat(msg.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		bid, _ := strconv.ParseFloat(msg.Bid, 64)
		ask, _ := strconv.ParseFloat(msg.Ask, 64)
		f.append(Sample{Price: price, Bid: bid, Ask: ask, T: time.Now()})
	}
}

func (f *Feed) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *Feed) append(s Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s)
	if len(f.samples) > MaxHistory {
		f.samples = f.samples[len(f.samples)-MaxHistory:]
	}
}

// Seed injects samples directly, bypassing the network dial. Used by
// tests and by any future backfill path.
func (f *Feed) Seed(samples []Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append([]Sample(nil), samples...)
	if len(f.samples) > MaxHistory {
		f.samples = f.samples[len(f.samples)-MaxHistory:]
	}
}

// staleAfter is how long since the last sample before a feed is
// considered stale.
const staleAfter = 30 * time.Second

// LatestPrice describes the most recent sample plus connection health.
type LatestPrice struct {
	Price      float64
	Bid        float64
	Ask        float64
	LastUpdate time.Time
	Connected  bool
	Stale      bool
}

// LatestPrice returns the most recent sample and connection/freshness
// status, or ok=false if no sample has arrived yet.
func (f *Feed) LatestPrice() (LatestPrice, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.samples) == 0 {
		return LatestPrice{}, false
	}
	latest := f.samples[len(f.samples)-1]
	return LatestPrice{
		Price:      latest.Price,
		Bid:        latest.Bid,
		Ask:        latest.Ask,
		LastUpdate: latest.T,
		Connected:  f.connected,
		Stale:      time.Since(latest.T) > staleAfter,
	}, true
}

// PriceContext derives direction, momentum, multi-window change and
// recent volatility from the current sample history.
func (f *Feed) PriceContext() (Context, bool) {
	f.mu.RLock()
	samples := append([]Sample(nil), f.samples...)
	f.mu.RUnlock()

	if len(samples) == 0 {
		return Context{}, false
	}
	latest := samples[len(samples)-1]

	ctx := Context{
		Price:  latest.Price,
		Change: make(map[int]ChangeWindow, len(changeWindows)),
	}
	for _, w := range changeWindows {
		ctx.Change[w] = changeOverWindow(samples, latest, w)
	}

	shortChange := ctx.Change[60]
	ctx.Direction = classifyDirection(shortChange.Percent)

	longChange := ctx.Change[180]
	ctx.Momentum = classifyMomentum(shortChange.Percent, longChange.Percent)

	ctx.RecentVolatility = recentVolatility(samples, latest, 30*time.Second)
	ctx.Available = time.Since(latest.T) <= 60*time.Second

	return ctx, true
}

// BuildPriceText renders a short human-readable summary of the current
// price context, used in decision reasoning and Telegram alerts.
func (f *Feed) BuildPriceText() string {
	ctx, ok := f.PriceContext()
	if !ok {
		return fmt.Sprintf("%s: no price data yet", f.symbol)
	}
	return fmt.Sprintf("%s $%.2f (1m %+.2f, %s/%s, vol %.3f)",
		f.symbol, ctx.Price, ctx.Change[60].Dollars, ctx.Direction, ctx.Momentum, ctx.RecentVolatility)
}

// changeOverWindow reports the dollar and percent change from the oldest
// sample within windowSeconds of latest, up to latest itself.
func changeOverWindow(samples []Sample, latest Sample, windowSeconds int) ChangeWindow {
	cutoff := latest.T.Add(-time.Duration(windowSeconds) * time.Second)
	old := latest
	for _, s := range samples {
		if !s.T.Before(cutoff) {
			old = s
			break
		}
	}
	dollars := latest.Price - old.Price
	var percent float64
	if old.Price != 0 {
		percent = dollars / old.Price
	}
	return ChangeWindow{Dollars: dollars, Percent: percent}
}

// classifyDirection applies the ±5% band on change_60.percent.
func classifyDirection(shortPercent float64) Direction {
	const band = 0.05
	switch {
	case shortPercent > band:
		return DirectionRising
	case shortPercent < -band:
		return DirectionFalling
	default:
		return DirectionFlat
	}
}

// classifyMomentum compares |change_60.percent| against |change_180.percent|/3.
func classifyMomentum(shortPercent, longPercent float64) Momentum {
	longRate := math.Abs(longPercent) / 3
	if longRate == 0 {
		return MomentumStable
	}
	ratio := math.Abs(shortPercent) / longRate
	switch {
	case ratio > 2:
		return MomentumAccelerating
	case ratio < 0.3:
		return MomentumDecelerating
	default:
		return MomentumStable
	}
}

// recentVolatility is the price range (max-min) over the trailing window.
func recentVolatility(samples []Sample, latest Sample, window time.Duration) float64 {
	cutoff := latest.T.Add(-window)
	max, min := latest.Price, latest.Price
	found := false
	for _, s := range samples {
		if s.T.Before(cutoff) {
			continue
		}
		found = true
		if s.Price > max {
			max = s.Price
		}
		if s.Price < min {
			min = s.Price
		}
	}
	if !found {
		return 0
	}
	return max - min
}
