package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Azurepeal/neighbor-swap/internal/metrics"
	"github.com/Azurepeal/neighbor-swap/internal/model"
)

// USDCoinID is the coin the currency endpoint converts from
const USDCoinID = "usd-coin"

// PriceClient reads token price lists and fiat conversion rates
type PriceClient struct {
	transport
	metrics *metrics.Metrics
}

// NewPriceClient creates a price client with the given transport options
func NewPriceClient(opts Options) *PriceClient {
	return &PriceClient{
		transport: newTransport(opts, "price-client"),
		metrics:   opts.Metrics,
	}
}

// FetchPriceList reads the USD price of every listed token from a chain
// endpoint. address is optional; when set the amounts are that holder's balances.
func (c *PriceClient) FetchPriceList(ctx context.Context, endpoint, address string) ([]model.TokenPrice, error) {
	u := strings.TrimRight(endpoint, "/") + "/v1/tokens/balance"
	if address != "" {
		u += "?" + url.Values{"address": {address}}.Encode()
	}

	var response struct {
		Error  *model.APIError    `json:"error,omitempty"`
		Ts     string             `json:"ts"`
		Result []model.TokenPrice `json:"result"`
	}

	start := time.Now()
	err := c.doJSON(ctx, http.MethodGet, u, nil, &response)
	c.metrics.PriceRefresh("prices", statusLabel(err))
	if err != nil {
		return nil, err
	}

	if response.Error != nil && len(response.Result) == 0 {
		return nil, fmt.Errorf("price list error: %s", response.Error.Message)
	}

	c.log.Debugf("Received %d token prices from %s in %s", len(response.Result), endpoint, time.Since(start))
	return response.Result, nil
}

// FetchCurrencyRate reads how many units of targetCurrency one coinID is worth
func (c *PriceClient) FetchCurrencyRate(ctx context.Context, endpoint, coinID, targetCurrency string) (decimal.Decimal, error) {
	params := url.Values{
		"coinId":         {coinID},
		"targetCurrency": {targetCurrency},
	}
	u := strings.TrimRight(endpoint, "/") + "/css/currency?" + params.Encode()

	var rate json.Number
	err := c.doJSON(ctx, http.MethodGet, u, nil, &rate)
	c.metrics.PriceRefresh("currency", statusLabel(err))
	if err != nil {
		return decimal.Zero, err
	}

	d, err := decimal.NewFromString(rate.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("currency rate %q is not numeric: %w", rate, err)
	}
	return d, nil
}
