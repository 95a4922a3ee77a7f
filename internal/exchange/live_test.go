package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"futuresagent/pkg/exchanges/common"
)

// fakeTransport maps a request path to a canned JSON response body.
type fakeTransport struct {
	responses map[string]string
	lastBody  map[string][]byte
}

func (f *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	if f.lastBody == nil {
		f.lastBody = make(map[string][]byte)
	}
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		f.lastBody[req.URL.Path] = data
	}
	body, ok := f.responses[req.URL.Path]
	if !ok {
		body = "{}"
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}, nil
}

func newTestLiveAdapter(responses map[string]string) (*LiveAdapter, *fakeTransport) {
	ft := &fakeTransport{responses: responses}
	a := &LiveAdapter{
		baseURL:  "http://exchange.test",
		creds:    Credentials{APIKey: "key", APISecret: "secret"},
		client:   ft,
		coinMeta: make(map[string]coinLimits),
		limiter:  common.NewRateLimiter(1200, time.Minute),
	}
	return a, ft
}

func TestLiveAdapterAccountStateParsesPositions(t *testing.T) {
	a, _ := newTestLiveAdapter(map[string]string{
		"/info/accountState": `{
			"accountValue": 1200.5,
			"withdrawable": 800,
			"assetPositions": [
				{"coin": "BTC/USDC:USDC", "szi": 0.01, "entryPx": 100000, "unrealizedPnl": 5, "marginUsed": 50, "leverage": {"value": 2}}
			]
		}`,
	})

	state, err := a.AccountState(context.Background())
	if err != nil {
		t.Fatalf("AccountState: %v", err)
	}
	if state.Equity != 1200.5 || state.Balance != 800 {
		t.Errorf("unexpected top-level state: %+v", state)
	}
	if len(state.Positions) != 1 || state.Positions[0].Side != "long" {
		t.Fatalf("expected one long position, got %+v", state.Positions)
	}
}

func TestLiveAdapterOpenCapsLeverageAndRoundsSize(t *testing.T) {
	a, ft := newTestLiveAdapter(map[string]string{
		"/exchange/order": `{"status": "filled", "fillPrice": 100000, "fillSize": 0.001}`,
	})
	a.coinMeta["BTC/USDC:USDC"] = coinLimits{maxLeverage: 10, sizeDecimals: 3}

	result, err := a.Open(context.Background(), "BTC/USDC:USDC", true, 50, 100000, 50, 0.001, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if result.Status != OpenFilled {
		t.Fatalf("expected filled, got %s: %s", result.Status, result.Error)
	}

	var sent map[string]any
	if err := json.Unmarshal(ft.lastBody["/exchange/order"], &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if lev, _ := sent["leverage"].(float64); lev != 10 {
		t.Errorf("expected leverage capped to 10, got %v", sent["leverage"])
	}
	if size, _ := sent["size"].(float64); size != 0.005 {
		t.Errorf("expected size rounded to 0.005, got %v", sent["size"])
	}
}

func TestLiveAdapterOpenRejectsDustBelowOneUSD(t *testing.T) {
	a, _ := newTestLiveAdapter(nil)
	result, err := a.Open(context.Background(), "BTC/USDC:USDC", true, 0.5, 100000, 1, 0, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if result.Status != OpenRejected {
		t.Fatalf("expected rejected for dust, got %s", result.Status)
	}
}

func TestLiveAdapterMaxLeverageDefaultsToGlobalCapWithoutMeta(t *testing.T) {
	a, _ := newTestLiveAdapter(nil)
	if got := a.MaxLeverage("UNKNOWN/USDC:USDC"); got != globalMaxLeverage {
		t.Errorf("expected default global cap, got %d", got)
	}
}

func TestLiveAdapterCloseSubmitsCoin(t *testing.T) {
	a, ft := newTestLiveAdapter(map[string]string{
		"/exchange/closePosition": `{"status": "filled"}`,
	})
	result, err := a.Close(context.Background(), "BTC/USDC:USDC")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if result.Status != CloseFilled {
		t.Fatalf("expected filled, got %s", result.Status)
	}
	if !bytes.Contains(ft.lastBody["/exchange/closePosition"], []byte("BTC/USDC:USDC")) {
		t.Errorf("expected coin in close request body")
	}
}
