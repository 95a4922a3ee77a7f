// Package marketdata supplies the one concrete MarketDataProvider CycleEngine
// drives in production. Indicator math and OHLCV retrieval are out of scope:
// this provider fetches only the current mid price and leaves Indicators
// empty, so PromptBuilder renders a coin snapshot with no historical series
// until a real indicator pipeline is wired in front of it.
package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"futuresagent/internal/prompt"
	"futuresagent/pkg/exchanges/common"
)

type wireMidsResponse map[string]string

// HTTPProvider fetches current prices from a venue's public market-data
// endpoint. It POSTs a {"type": "allMids"} body to the public /info
// endpoint, paces requests with the same RateLimiter the live exchange
// adapter uses, and never calls an authenticated account route.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	limiter *common.RateLimiter
}

// NewHTTPProvider constructs a provider against baseURL (the venue's public
// info endpoint).
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: common.NewRateLimiter(1200, time.Minute),
	}
}

// Snapshot returns coin's current mid price. Indicators is left empty: the
// enumerated indicator set (§ data/indicators) requires OHLCV history and
// rolling-window math that sits outside this agent's scope.
func (p *HTTPProvider) Snapshot(ctx context.Context, coin string) (prompt.CoinSnapshot, error) {
	if p.limiter.ShouldDelay() {
		time.Sleep(50 * time.Millisecond)
	}

	reqBody := []byte(`{"type":"allMids"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/info", bytes.NewReader(reqBody))
	if err != nil {
		return prompt.CoinSnapshot{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return prompt.CoinSnapshot{}, err
	}
	defer resp.Body.Close()
	p.limiter.UpdateFromHeader(resp.Header.Get("X-Used-Weight"))

	if resp.StatusCode != http.StatusOK {
		return prompt.CoinSnapshot{}, fmt.Errorf("marketdata: status %d fetching mids", resp.StatusCode)
	}

	var mids wireMidsResponse
	if err := json.NewDecoder(resp.Body).Decode(&mids); err != nil {
		return prompt.CoinSnapshot{}, err
	}

	raw, ok := mids[coin]
	if !ok {
		return prompt.CoinSnapshot{}, fmt.Errorf("marketdata: no mid price for %s", coin)
	}
	var price float64
	if _, err := fmt.Sscanf(raw, "%f", &price); err != nil {
		return prompt.CoinSnapshot{}, fmt.Errorf("marketdata: unparseable mid price %q: %w", raw, err)
	}

	return prompt.CoinSnapshot{Coin: coin, CurrentPrice: price}, nil
}
