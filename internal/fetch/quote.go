package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Azurepeal/neighbor-swap/internal/amount"
	"github.com/Azurepeal/neighbor-swap/internal/circuitbreaker"
	"github.com/Azurepeal/neighbor-swap/internal/metrics"
	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/otel"
)

// quoteMetaData is sent verbatim in every quote body
const quoteMetaData = "string"

// QuoteClient requests routes from a chain's routing endpoint
type QuoteClient struct {
	transport
	breakers *circuitbreaker.Set
	metrics  *metrics.Metrics
}

// NewQuoteClient creates a quote client with the given transport options
func NewQuoteClient(opts Options) *QuoteClient {
	return &QuoteClient{
		transport: newTransport(opts, "quote-client"),
		breakers:  opts.Breakers,
		metrics:   opts.Metrics,
	}
}

type quoteBody struct {
	Options  model.QuoteRequest `json:"options"`
	MetaData string             `json:"metaData"`
}

type quoteEnvelope struct {
	Error *model.APIError `json:"error,omitempty"`
	Ts    string          `json:"ts"`
	model.QuoteResult
}

// FetchSingleQuote posts req to endpoint's calculate route. A zero or empty
// amount is skipped without touching the network and yields (nil, nil).
func (c *QuoteClient) FetchSingleQuote(ctx context.Context, endpoint string, req model.QuoteRequest) (*model.QuoteResult, error) {
	if amount.IsZero(req.Amount) {
		c.log.WithField("endpoint", endpoint).Debug("Skipping quote for zero amount")
		return nil, nil
	}
	return c.calculate(ctx, endpoint, req)
}

func (c *QuoteClient) calculate(ctx context.Context, endpoint string, req model.QuoteRequest) (*model.QuoteResult, error) {
	ctx, span := otel.Tracer().Start(ctx, "quote.calculate", trace.WithAttributes(
		attribute.String("quote.endpoint", endpoint),
		attribute.String("quote.token_in", req.TokenInAddr),
		attribute.String("quote.token_out", req.TokenOutAddr),
		attribute.String("quote.amount", req.Amount),
	))
	defer span.End()

	var breaker *circuitbreaker.CircuitBreaker
	if c.breakers != nil {
		breaker = c.breakers.For(endpoint)
		if err := breaker.Allow(); err != nil {
			otel.RecordError(ctx, err)
			c.metrics.ObserveQuote("circuit_open", 0)
			return nil, fmt.Errorf("quote %s: %w", endpoint, err)
		}
	}

	start := time.Now()
	var envelope quoteEnvelope
	url := strings.TrimRight(endpoint, "/") + "/v1/quote/calculate"
	err := c.doJSON(ctx, http.MethodPost, url, quoteBody{Options: req, MetaData: quoteMetaData}, &envelope)
	c.metrics.ObserveQuote(statusLabel(err), time.Since(start))

	if err != nil {
		// a cancelled request says nothing about endpoint health
		if breaker != nil && !errors.Is(err, context.Canceled) {
			breaker.RecordFailure(err)
		}
		otel.RecordError(ctx, err)
		return nil, err
	}
	if breaker != nil {
		breaker.RecordSuccess()
	}

	if envelope.Error != nil {
		c.log.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"code":     envelope.Error.Code,
		}).Warnf("Routing API reported an error: %s", envelope.Error.Message)
	}

	result := envelope.QuoteResult
	return &result, nil
}

// FetchFanOutQuotes issues one request per endpoint in parallel. Shared
// options come from params; token pair and amount come from each endpoint
// entry. Results keep the input order. The first failure cancels the rest
// and fails the whole call.
func (c *QuoteClient) FetchFanOutQuotes(ctx context.Context, params model.QuoteRequest, endpoints []model.EndpointRequest) ([]model.EndpointQuote, error) {
	results := make([]model.EndpointQuote, len(endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range endpoints {
		g.Go(func() error {
			req := params
			req.TokenInAddr = e.From
			req.TokenOutAddr = e.To
			req.Amount = e.Amount

			result, err := c.calculate(gctx, e.Endpoint, req)
			if err != nil {
				return fmt.Errorf("fan-out quote %s (%s→%s): %w", e.Chain, e.FromSymbol, e.ToSymbol, err)
			}
			results[i] = model.EndpointQuote{EndpointRequest: e, Result: result}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
