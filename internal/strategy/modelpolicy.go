package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/GoPolymarket/updown-agent/internal/feed"
	"github.com/GoPolymarket/updown-agent/internal/market"
)

// modelRequestTimeout bounds the scoring call.
const modelRequestTimeout = 5 * time.Second

type modelRequest struct {
	Asset            string                       `json:"asset"`
	Question         string                       `json:"question"`
	Price            float64                      `json:"price"`
	Change           map[string]feed.ChangeWindow `json:"change"`
	Direction        string                       `json:"direction"`
	Momentum         string                       `json:"momentum"`
	RecentVolatility float64                      `json:"recent_volatility"`
	YesBestBid       float64                      `json:"yes_best_bid"`
	YesBestAsk       float64                      `json:"yes_best_ask"`
	NoBestBid        float64                      `json:"no_best_bid"`
	NoBestAsk        float64                      `json:"no_best_ask"`
	MinutesLeft      float64                      `json:"minutes_left"`
}

type modelResponse struct {
	Action     string `json:"action"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// ModelPolicy scores a market snapshot against an external HTTP model
// endpoint. Any transport or parse failure degrades to SKIP/LOW rather
// than propagating an error, since a missed tick is cheap and a bad
// trade is not.
type ModelPolicy struct {
	url        string
	httpClient *http.Client
	asset      string
}

// NewModelPolicy creates a ModelPolicy that posts to url.
func NewModelPolicy(asset, url string) *ModelPolicy {
	return &ModelPolicy{
		url:        url,
		httpClient: &http.Client{Timeout: modelRequestTimeout},
		asset:      asset,
	}
}

// Decide implements Policy.
func (p *ModelPolicy) Decide(snapshot market.Snapshot, priceCtx feed.Context) Decision {
	req := modelRequest{
		Asset:            p.asset,
		Question:         snapshot.Market.Question,
		Price:            priceCtx.Price,
		Change:           changeKeysToStrings(priceCtx.Change),
		Direction:        string(priceCtx.Direction),
		Momentum:         string(priceCtx.Momentum),
		RecentVolatility: priceCtx.RecentVolatility,
		YesBestBid:       snapshot.Yes.BestBid,
		YesBestAsk:       snapshot.Yes.BestAsk,
		NoBestBid:        snapshot.No.BestBid,
		NoBestAsk:        snapshot.No.BestAsk,
		MinutesLeft:      time.Until(snapshot.Market.EndTime).Minutes(),
	}

	resp, err := p.score(req)
	if err != nil {
		return skipDecision("model", fmt.Sprintf("model scoring unavailable: %v", err))
	}

	action := Action(resp.Action)
	confidence := Confidence(resp.Confidence)
	if confidence == ConfidenceLow || (action != ActionBuyYes && action != ActionBuyNo) {
		return skipDecision("model", resp.Reasoning)
	}

	return Decision{Action: action, Confidence: confidence, Pattern: "model", Reasoning: resp.Reasoning}
}

func (p *ModelPolicy) score(req modelRequest) (modelResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return modelResponse{}, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), modelRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return modelResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return modelResponse{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return modelResponse{}, fmt.Errorf("model endpoint returned %d", resp.StatusCode)
	}

	var out modelResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return modelResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func changeKeysToStrings(change map[int]feed.ChangeWindow) map[string]feed.ChangeWindow {
	out := make(map[string]feed.ChangeWindow, len(change))
	for w, v := range change {
		out[fmt.Sprintf("%d", w)] = v
	}
	return out
}
