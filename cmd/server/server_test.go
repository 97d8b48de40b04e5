package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azurepeal/neighbor-swap/internal/config"
	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/types"
)

const (
	trader     = "0x1111111111111111111111111111111111111111"
	routeProxy = "0x208da73f71fe00387c3fe0c4d71b77b39a8d1c5d"
	wethAddr   = "0xc9bdeed33cd01541e1eed10f90519d2c06fe3feb"
	usdcAddr   = "0xb12bfca5a55806aaf64e99521918a4bf0fc40802"
	usdtAddr   = "0x4988a896b1227218e4a686fde5eabdcabd91571f"
)

// routingAPI fakes the quote, price list and currency endpoints
type routingAPI struct {
	*httptest.Server
	quoteCalls atomic.Int32
	lastAmount atomic.Value
	failQuotes atomic.Bool
}

func newRoutingAPI(t *testing.T) *routingAPI {
	api := &routingAPI{}
	api.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/quote/calculate":
			api.quoteCalls.Add(1)
			if api.failQuotes.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			var body struct {
				Options model.QuoteRequest `json:"options"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			api.lastAmount.Store(body.Options.Amount)

			out := "3000000000"
			if body.Options.TokenOutAddr == usdtAddr {
				out = "3100000000"
			}
			fmt.Fprintf(w, `{
				"ts": "x",
				"dexAgg": {"expectedAmountOut": %q, "routes": [{"dex": "trisolaris", "percent": 100, "path": [%q, %q]}]},
				"singleDexes": [{"dexId": "trisolaris", "expectedAmountOut": %q}],
				"metamaskSwapTransaction": {"to": %q, "data": "0x12345678", "value": "0x0"}
			}`, out, body.Options.TokenInAddr, body.Options.TokenOutAddr, out, routeProxy)
		case "/v1/tokens/balance":
			fmt.Fprint(w, `{"ts": "x", "result": [
				{"tokenAddress": "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee", "amount": "0", "priceUsdc": 2500},
				{"tokenAddress": "0xb12bfca5a55806aaf64e99521918a4bf0fc40802", "amount": "0", "priceUsdc": 1}
			]}`)
		case "/css/currency":
			if r.URL.Query().Get("targetCurrency") == "krw" {
				fmt.Fprint(w, `1300`)
				return
			}
			fmt.Fprint(w, `1`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(api.Close)
	return api
}

func testConfig() config.Config {
	return config.Config{
		Port:            "0",
		TargetCurrency:  "usd",
		QuoteCacheTTL:   time.Minute,
		QuoteRetries:    0,
		SlippageBps:     100,
		MaxEdge:         4,
		MaxSplit:        1,
		RequestTimeout:  2 * time.Second,
		PriceTTL:        time.Minute,
		PriceRefresh:    time.Minute,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
		RateLimitRPS:    1000,
		RateLimitBurst:  1000,
	}
}

func newTestServer(t *testing.T, cfg config.Config, api *routingAPI) (*Server, *httptest.Server) {
	catalog := config.DefaultCatalog()
	aurora := catalog.Chains[types.ChainAurora]
	aurora.APIEndpoint = api.URL
	catalog.Chains[types.ChainAurora] = aurora
	catalog.CommonAPIEndpoint = api.URL

	s := NewServer(cfg, catalog, prometheus.NewRegistry())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.query.Wait()
		s.prices.Wait()
	})
	return s, srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t, testConfig(), newRoutingAPI(t))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, version, body["version"])
}

func TestTokens(t *testing.T) {
	_, srv := newTestServer(t, testConfig(), newRoutingAPI(t))

	resp, err := http.Get(srv.URL + "/v1/tokens")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body tokensResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, types.ChainAurora, body.Chain)
	assert.Equal(t, "0x4e454152", body.ChainID)
	assert.Equal(t, "ETH", body.NativeCurrency.Symbol)
	require.Len(t, body.Tokens, 6)
	assert.Equal(t, "ETH", body.Tokens[0].Symbol)

	missing, err := http.Get(srv.URL + "/v1/tokens?chain=ethereum")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestPrice(t *testing.T) {
	_, srv := newTestServer(t, testConfig(), newRoutingAPI(t))

	resp, err := http.Get(srv.URL + "/v1/price?token=WETH&currency=krw")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body priceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "WETH", body.Token.Symbol)
	assert.Equal(t, "krw", body.Currency)
	assert.Equal(t, "3250000", body.Price.String())
	assert.Equal(t, "2500", body.PriceUSD.String())
}

func TestPriceRejectsInput(t *testing.T) {
	_, srv := newTestServer(t, testConfig(), newRoutingAPI(t))

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"unknown token", "token=DOGE", http.StatusNotFound},
		{"unknown currency", "token=USDC&currency=eur", http.StatusBadRequest},
		{"unlisted price", "token=AURORA", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/v1/price?" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestQuotePreview(t *testing.T) {
	api := newRoutingAPI(t)
	_, srv := newTestServer(t, testConfig(), api)

	req := QuoteRequest{TokenIn: "WETH", TokenOut: "usdc", Amount: "1.5", From: trader}
	resp := postJSON(t, srv.URL+"/v1/quote", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body QuoteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "1500000000000000000", api.lastAmount.Load())
	assert.Equal(t, "swap", body.Preview.IntentName)
	assert.Equal(t, "3000", body.Preview.AmountOut.String())
	assert.Equal(t, "3000000000", body.Preview.ExpectedRaw)
	assert.Equal(t, "2000", body.Preview.Rate.Decimal.String())
	assert.True(t, body.Preview.HasPayload)
	assert.True(t, body.Preview.SwapEnabled)
	assert.Equal(t, 1, body.Preview.SingleDexes)
	require.NotNil(t, body.Transaction)
	assert.Equal(t, routeProxy, body.Transaction.To)
	require.Len(t, body.Routes, 1)

	// identical requests are answered from the cache
	again := postJSON(t, srv.URL+"/v1/quote", req)
	require.Equal(t, http.StatusOK, again.StatusCode)
	assert.Equal(t, int32(1), api.quoteCalls.Load())
}

func TestQuoteWrapNeedsNoRoute(t *testing.T) {
	api := newRoutingAPI(t)
	_, srv := newTestServer(t, testConfig(), api)

	resp := postJSON(t, srv.URL+"/v1/quote", QuoteRequest{TokenIn: "ETH", TokenOut: "WETH", Amount: "2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body QuoteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "wrap", body.Preview.IntentName)
	assert.Equal(t, "2", body.Preview.AmountOut.String())
	assert.False(t, body.Preview.HasPayload)
	assert.Nil(t, body.Transaction)
	assert.Equal(t, int32(0), api.quoteCalls.Load())
}

func TestQuoteRejectsInput(t *testing.T) {
	api := newRoutingAPI(t)
	_, srv := newTestServer(t, testConfig(), api)

	tests := []struct {
		name string
		req  QuoteRequest
	}{
		{"same token", QuoteRequest{TokenIn: "USDC", TokenOut: usdcAddr, Amount: "1", From: trader}},
		{"unknown token", QuoteRequest{TokenIn: "DOGE", TokenOut: "USDC", Amount: "1", From: trader}},
		{"zero amount", QuoteRequest{TokenIn: "WETH", TokenOut: "USDC", Amount: "0", From: trader}},
		{"empty amount", QuoteRequest{TokenIn: "WETH", TokenOut: "USDC", Amount: "", From: trader}},
		{"missing trader", QuoteRequest{TokenIn: "WETH", TokenOut: "USDC", Amount: "1"}},
		{"bad trader", QuoteRequest{TokenIn: "WETH", TokenOut: "USDC", Amount: "1", From: "alice"}},
		{"bad slippage", QuoteRequest{TokenIn: "WETH", TokenOut: "USDC", Amount: "1", From: trader, SlippagePercent: "-1"}},
		{"bad mode", QuoteRequest{TokenIn: "WETH", TokenOut: "USDC", Amount: "1", From: trader, Mode: "turbo"}},
		{"bad currency", QuoteRequest{TokenIn: "WETH", TokenOut: "USDC", Amount: "1", From: trader, Currency: "eur"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/v1/quote", tt.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "error", body.Status)
			assert.NotEmpty(t, body.Error)
		})
	}

	t.Run("unknown field", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/v1/quote", "application/json", strings.NewReader(`{"tokenIn": "WETH", "bogus": 1}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	assert.Equal(t, int32(0), api.quoteCalls.Load())
}

func TestQuoteUpstreamFailure(t *testing.T) {
	api := newRoutingAPI(t)
	api.failQuotes.Store(true)
	_, srv := newTestServer(t, testConfig(), api)

	resp := postJSON(t, srv.URL+"/v1/quote", QuoteRequest{TokenIn: "WETH", TokenOut: "USDC", Amount: "1", From: trader})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestQuoteCircuitOpens(t *testing.T) {
	api := newRoutingAPI(t)
	api.failQuotes.Store(true)
	cfg := testConfig()
	cfg.BreakerFailures = 2
	_, srv := newTestServer(t, cfg, api)

	// vary the amount so no request is served from a shared flight
	for i := 1; i <= 2; i++ {
		resp := postJSON(t, srv.URL+"/v1/quote", QuoteRequest{TokenIn: "WETH", TokenOut: "USDC", Amount: fmt.Sprint(i), From: trader})
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	}

	resp := postJSON(t, srv.URL+"/v1/quote", QuoteRequest{TokenIn: "WETH", TokenOut: "USDC", Amount: "3", From: trader})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(2), api.quoteCalls.Load())

	status, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer status.Body.Close()

	var body struct {
		Circuits map[string]string `json:"circuits"`
	}
	require.NoError(t, json.NewDecoder(status.Body).Decode(&body))
	assert.Equal(t, "open", body.Circuits[api.URL])
}

func TestCompare(t *testing.T) {
	api := newRoutingAPI(t)
	_, srv := newTestServer(t, testConfig(), api)

	endpoints := []model.EndpointRequest{
		{Chain: "aurora", Endpoint: api.URL, From: wethAddr, To: usdcAddr, FromSymbol: "WETH", ToSymbol: "USDC", ToDecimals: 6, Amount: "1000000000000000000"},
		{Chain: "aurora", Endpoint: api.URL, From: wethAddr, To: usdtAddr, FromSymbol: "WETH", ToSymbol: "USDT", ToDecimals: 6, Amount: "1000000000000000000"},
	}

	tests := []struct {
		policy string
		first  string
	}{
		{"", "USDC"},
		{"best-output", "USDT"},
	}

	for _, tt := range tests {
		t.Run("policy "+tt.policy, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/v1/quote/compare", CompareRequest{From: trader, Policy: tt.policy, Endpoints: endpoints})
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var body CompareResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.Len(t, body.Quotes, 2)
			assert.Equal(t, tt.first, body.Quotes[0].ToSymbol)
			assert.Equal(t, "3050", body.Median)
		})
	}

	t.Run("unknown policy", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/quote/compare", CompareRequest{From: trader, Policy: "cheapest", Endpoints: endpoints})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("no endpoints", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/quote/compare", CompareRequest{From: trader})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	_, srv := newTestServer(t, cfg, newRoutingAPI(t))

	first, err := http.Get(srv.URL + "/v1/tokens")
	require.NoError(t, err)
	defer first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(srv.URL + "/v1/tokens")
	require.NoError(t, err)
	defer second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	// operational endpoints are not limited
	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer(t, testConfig(), newRoutingAPI(t))

	tokens, err := http.Get(srv.URL + "/v1/tokens")
	require.NoError(t, err)
	tokens.Body.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `swap_http_requests_total{route="tokens",status="2xx"} 1`)
}
