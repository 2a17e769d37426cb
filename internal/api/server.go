// Package api exposes the coordinator's read/control surface as a
// small JSON HTTP API, independent of any dashboard front-end.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/GoPolymarket/updown-agent/internal/activity"
	"github.com/GoPolymarket/updown-agent/internal/feed"
	"github.com/GoPolymarket/updown-agent/internal/positions"
	"github.com/GoPolymarket/updown-agent/internal/redemption"
	"github.com/GoPolymarket/updown-agent/internal/safety"
)

// AppState exposes the coordinator's state for the API layer. The API
// package depends only on this interface, never on coordinator internals.
type AppState interface {
	IsRunning() bool
	LastScanAt() time.Time
	LastOutcome() string
	Start()
	Stop()
	TickNow(ctx context.Context)
	ToggleKillSwitch(ctx context.Context) bool
	ScanPositions(ctx context.Context) (positions.Result, error)

	SafetySnapshot() safety.Snapshot
	PriceContext() (feed.Context, bool)
	Activities(limit int) []activity.Entry
	Trades(limit int) []activity.Trade
	Decisions(limit int) []activity.Decision
	RedemptionState() (pending []redemption.Entry, history []redemption.Entry, redeemed, lost int)
	LastPositionScan() positions.Result
}

// Server is the HTTP API surface described in spec.md §6.
type Server struct {
	httpServer *http.Server
	state      AppState
	startedAt  time.Time
}

// NewServer creates a new API server bound to addr.
func NewServer(addr string, state AppState) *Server {
	s := &Server{state: state, startedAt: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/activities", s.handleActivities)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/decisions", s.handleDecisions)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/btc-price", s.handlePrice)
	mux.HandleFunc("/api/redemptions", s.handleRedemptions)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/bot/start", s.handleBotStart)
	mux.HandleFunc("/api/bot/stop", s.handleBotStop)
	mux.HandleFunc("/api/bot/scan-now", s.handleBotScanNow)
	mux.HandleFunc("/api/killswitch", s.handleKillSwitch)
	mux.HandleFunc("/api/scan-positions", s.handleScanPositions)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	log.Printf("api server listening on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("api server: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	safetySnap := s.state.SafetySnapshot()
	s.writeJSON(w, map[string]interface{}{
		"isRunning":       s.state.IsRunning(),
		"lastScanTime":    s.state.LastScanAt(),
		"lastSpikeStatus": s.state.LastOutcome(),
		"safety":          safetySnap,
	})
}

// GET /api/activities?limit=N
func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.state.Activities(limitParam(r, 50)))
}

// GET /api/trades?limit=N
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.state.Trades(limitParam(r, 50)))
}

// GET /api/decisions?limit=N
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.state.Decisions(limitParam(r, 50)))
}

// GET /api/stats — aggregated win/loss/P&L over the trade ring.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	trades := s.state.Trades(0)
	var wins, losses, pending int
	var realizedPnL, volume float64
	for _, t := range trades {
		volume += t.Size * t.Price
		switch t.Result {
		case activity.TradeResultWin:
			wins++
		case activity.TradeResultLoss:
			losses++
		case activity.TradeResultPending:
			pending++
		}
	}
	_, _, redeemed, lost := s.state.RedemptionState()
	s.writeJSON(w, map[string]interface{}{
		"totalTrades": len(trades),
		"wins":        wins,
		"losses":      losses,
		"pending":     pending,
		"volumeUSDC":  volume,
		"realizedPnL": realizedPnL,
		"redeemed":    redeemed,
		"lost":        lost,
	})
}

// GET /api/btc-price — current reference-price context.
func (s *Server) handlePrice(w http.ResponseWriter, _ *http.Request) {
	ctx, ok := s.state.PriceContext()
	if !ok {
		s.writeJSON(w, map[string]interface{}{"available": false})
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"available":  ctx.Available,
		"price":      ctx.Price,
		"change":     ctx.Change,
		"direction":  ctx.Direction,
		"momentum":   ctx.Momentum,
		"volatility": ctx.RecentVolatility,
	})
}

// GET /api/redemptions
func (s *Server) handleRedemptions(w http.ResponseWriter, _ *http.Request) {
	pending, history, redeemed, lost := s.state.RedemptionState()
	s.writeJSON(w, map[string]interface{}{
		"pending":       pending,
		"history":       history,
		"totalRedeemed": redeemed,
		"totalLost":     lost,
	})
}

// GET /api/positions — last position-scan result.
func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.state.LastPositionScan())
}

// POST /api/bot/start
func (s *Server) handleBotStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.state.Start()
	s.writeJSON(w, map[string]interface{}{"isRunning": true})
}

// POST /api/bot/stop
func (s *Server) handleBotStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.state.Stop()
	s.writeJSON(w, map[string]interface{}{"isRunning": false})
}

// POST /api/bot/scan-now — runs one coordinator tick immediately.
func (s *Server) handleBotScanNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.state.TickNow(r.Context())
	s.writeJSON(w, map[string]interface{}{"lastOutcome": s.state.LastOutcome()})
}

// POST /api/killswitch — toggles the safety ledger's kill switch.
func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	enabled := s.state.ToggleKillSwitch(r.Context())
	s.writeJSON(w, map[string]interface{}{"killSwitch": enabled})
}

// POST /api/scan-positions — triggers a manual position-discovery scan.
func (s *Server) handleScanPositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.state.ScanPositions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, result)
}
