package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"futuresagent/pkg/exchanges/common"
)

// Credentials are the live backend's signing secrets. Callers load these
// from encrypted storage (see pkg/crypto) before constructing a LiveAdapter.
type Credentials struct {
	APIKey    string
	APISecret string
}

// wireAssetPosition mirrors the provider's assetPositions entry shape from
// the collaborator contract: {coin, szi, entryPx, unrealizedPnl, marginUsed,
// leverage:{value}}.
type wireAssetPosition struct {
	Coin          string  `json:"coin"`
	Szi           float64 `json:"szi"`
	EntryPx       float64 `json:"entryPx"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	MarginUsed    float64 `json:"marginUsed"`
	Leverage      struct {
		Value float64 `json:"value"`
	} `json:"leverage"`
}

type wireAccountState struct {
	AccountValue    float64             `json:"accountValue"`
	WithdrawableUSD float64             `json:"withdrawable"`
	AssetPositions  []wireAssetPosition `json:"assetPositions"`
}

type wireOrderResponse struct {
	Status    string  `json:"status"`
	FillPrice float64 `json:"fillPrice"`
	FillSize  float64 `json:"fillSize"`
	Error     string  `json:"error"`
}

type wireMeta struct {
	Universe []struct {
		Name         string `json:"name"`
		MaxLeverage  int    `json:"maxLeverage"`
		SzDecimals   int    `json:"szDecimals"`
	} `json:"universe"`
}

// httpDoer is the subset of *http.Client the adapter needs, so tests can
// substitute a fake transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// LiveAdapter trades against a real exchange over its REST API. It enforces
// the same safety rails regardless of what the decision or exchange allow:
// a hard 20x leverage cap, per-asset size rounding, and dust rejection.
type LiveAdapter struct {
	baseURL     string
	creds       Credentials
	client      httpDoer
	limiter     *common.RateLimiter
	timeSync    *common.TimeSync
	coinMeta    map[string]coinLimits
}

// NewLiveAdapter constructs a live adapter against baseURL, authenticating
// with creds. It keeps its own rate limiter and clock-sync helper, mirroring
// the teacher's exchange-client composition.
func NewLiveAdapter(baseURL string, creds Credentials) *LiveAdapter {
	a := &LiveAdapter{
		baseURL: baseURL,
		creds:   creds,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: common.NewRateLimiter(1200, time.Minute),
		coinMeta: make(map[string]coinLimits),
	}
	a.timeSync = common.NewTimeSync(a.serverTimeMillis)
	return a
}

func (a *LiveAdapter) serverTimeMillis() (int64, error) {
	var out struct {
		Time int64 `json:"time"`
	}
	if err := a.doJSON(context.Background(), http.MethodGet, "/info/time", nil, &out); err != nil {
		return 0, err
	}
	return out.Time, nil
}

// RefreshMeta loads per-asset max leverage and size-decimal precision into
// the adapter's cache. Coins with no cached entry fall back to the 20x
// global cap and 4 size decimals.
func (a *LiveAdapter) RefreshMeta(ctx context.Context) error {
	var meta wireMeta
	if err := a.doJSON(ctx, http.MethodGet, "/info/meta", nil, &meta); err != nil {
		return fmt.Errorf("exchange: refresh meta: %w", err)
	}
	for _, u := range meta.Universe {
		maxLev := u.MaxLeverage
		if maxLev > globalMaxLeverage {
			maxLev = globalMaxLeverage
		}
		a.coinMeta[u.Name] = coinLimits{maxLeverage: maxLev, sizeDecimals: u.SzDecimals}
	}
	return nil
}

// AccountState queries the exchange for balance, equity, and open positions.
func (a *LiveAdapter) AccountState(ctx context.Context) (AccountState, error) {
	var wire wireAccountState
	if err := a.doJSON(ctx, http.MethodGet, "/info/accountState", map[string]string{"user": a.creds.APIKey}, &wire); err != nil {
		return AccountState{}, fmt.Errorf("exchange: account state: %w", err)
	}

	out := AccountState{
		Balance: wire.WithdrawableUSD,
		Equity:  wire.AccountValue,
	}
	for _, p := range wire.AssetPositions {
		if p.Szi == 0 {
			continue
		}
		side := "long"
		if p.Szi < 0 {
			side = "short"
		}
		quantityUSD := math.Abs(p.Szi) * p.EntryPx / math.Max(p.Leverage.Value, 1)
		out.UnrealizedPnL += p.UnrealizedPnl
		out.Positions = append(out.Positions, PositionState{
			Coin:          p.Coin,
			Side:          side,
			EntryPrice:    p.EntryPx,
			QuantityUSD:   quantityUSD,
			Leverage:      p.Leverage.Value,
			UnrealizedPnL: p.UnrealizedPnl,
		})
	}
	return out, nil
}

// Open submits a market order, enforcing the 20x leverage cap, per-asset
// size rounding, and the dust floor before anything is sent over the wire.
// decisionID is unused here — the live venue has no notion of it — but the
// caller persists the resulting Position against it, per the Adapter
// contract shared with PaperAdapter.Open.
func (a *LiveAdapter) Open(ctx context.Context, coin string, isBuy bool, quantityUSD, currentPrice, leverage, slippageTolerance float64, decisionID int64) (OpenResult, error) {
	if quantityUSD*leverage < minNotionalUSD {
		return OpenResult{Status: OpenRejected, Error: "notional below dust floor"}, nil
	}
	if currentPrice <= 0 {
		return OpenResult{Status: OpenRejected, Error: "invalid current price"}, nil
	}

	cappedLeverage := leverage
	if max := float64(a.MaxLeverage(coin)); cappedLeverage > max {
		cappedLeverage = max
	}

	decimals := a.SizeDecimals(coin)
	rawUnits := (quantityUSD * cappedLeverage) / currentPrice
	units := roundToDecimals(rawUnits, decimals)
	if units <= 0 {
		return OpenResult{Status: OpenRejected, Error: "rounded size is zero"}, nil
	}

	body := map[string]any{
		"coin":      coin,
		"isBuy":     isBuy,
		"size":      units,
		"leverage":  cappedLeverage,
		"slippage":  slippageTolerance,
	}

	var resp wireOrderResponse
	if err := a.doJSON(ctx, http.MethodPost, "/exchange/order", body, &resp); err != nil {
		return OpenResult{}, fmt.Errorf("exchange: open: %w", err)
	}
	if resp.Status != "filled" {
		return OpenResult{Status: OpenRejected, Error: resp.Error}, nil
	}
	return OpenResult{Status: OpenFilled, FillPrice: resp.FillPrice, FillSize: resp.FillSize}, nil
}

// Close closes a coin's entire position at the exchange.
func (a *LiveAdapter) Close(ctx context.Context, coin string) (CloseResult, error) {
	var resp wireOrderResponse
	body := map[string]any{"coin": coin}
	if err := a.doJSON(ctx, http.MethodPost, "/exchange/closePosition", body, &resp); err != nil {
		return CloseResult{}, fmt.Errorf("exchange: close: %w", err)
	}
	if resp.Status != "filled" {
		return CloseResult{Status: CloseRejected, Error: resp.Error}, nil
	}
	return CloseResult{Status: CloseFilled}, nil
}

// MaxLeverage returns the cached per-coin cap, globally bounded at 20x.
func (a *LiveAdapter) MaxLeverage(coin string) int {
	if meta, ok := a.coinMeta[coin]; ok {
		return meta.maxLeverage
	}
	return globalMaxLeverage
}

// SizeDecimals returns the cached per-coin size precision.
func (a *LiveAdapter) SizeDecimals(coin string) int {
	if meta, ok := a.coinMeta[coin]; ok {
		return meta.sizeDecimals
	}
	return 4
}

func roundToDecimals(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}

func (a *LiveAdapter) doJSON(ctx context.Context, method, path string, body any, out any) error {
	if a.limiter.ShouldDelay() {
		time.Sleep(200 * time.Millisecond)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", a.creds.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	a.limiter.UpdateFromHeader(resp.Header.Get("X-Used-Weight"))

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("exchange: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
