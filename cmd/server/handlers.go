package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Azurepeal/neighbor-swap/internal/aggregate"
	"github.com/Azurepeal/neighbor-swap/internal/amount"
	"github.com/Azurepeal/neighbor-swap/internal/app"
	"github.com/Azurepeal/neighbor-swap/internal/circuitbreaker"
	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/quote"
	"github.com/Azurepeal/neighbor-swap/internal/state"
	"github.com/Azurepeal/neighbor-swap/internal/types"
	"github.com/Azurepeal/neighbor-swap/internal/validation"
)

// QuoteRequest is the body of POST /v1/quote. Amount is in human units.
type QuoteRequest struct {
	Chain           string `json:"chain,omitempty"`
	TokenIn         string `json:"tokenIn"`
	TokenOut        string `json:"tokenOut"`
	Amount          string `json:"amount"`
	From            string `json:"from,omitempty"`
	SlippagePercent string `json:"slippagePercent,omitempty"`
	Mode            string `json:"mode,omitempty"`
	Currency        string `json:"currency,omitempty"`
}

// QuoteResponse is the preview plus the route and transaction behind it
type QuoteResponse struct {
	Preview     app.Preview      `json:"preview"`
	Routes      []model.Route    `json:"routes,omitempty"`
	Transaction *model.TxPayload `json:"transaction,omitempty"`
}

// CompareRequest is the body of POST /v1/quote/compare. Endpoint amounts
// are integer strings in the input token's smallest unit.
type CompareRequest struct {
	From            string                  `json:"from"`
	SlippagePercent string                  `json:"slippagePercent,omitempty"`
	Mode            string                  `json:"mode,omitempty"`
	Policy          string                  `json:"policy,omitempty"`
	Endpoints       []model.EndpointRequest `json:"endpoints"`
}

// ComparedQuote is one ranked fan-out result
type ComparedQuote struct {
	model.EndpointQuote
	Output string `json:"output"`
}

// CompareResponse lists usable quotes in policy order
type CompareResponse struct {
	Policy string          `json:"policy"`
	Median string          `json:"median_output"`
	Quotes []ComparedQuote `json:"quotes"`
}

type tokensResponse struct {
	Chain          types.SupportedChain `json:"chain"`
	ChainID        string               `json:"chainId"`
	ChainName      string               `json:"chainName"`
	RPCURLs        []string             `json:"rpcUrls"`
	NativeCurrency types.NativeCurrency `json:"nativeCurrency"`
	Tokens         []model.Token        `json:"tokens"`
}

type priceResponse struct {
	Chain    types.SupportedChain `json:"chain"`
	Token    model.Token          `json:"token"`
	Currency string               `json:"currency"`
	Price    decimal.Decimal      `json:"price"`
	PriceUSD decimal.Decimal      `json:"priceUsd"`
}

// handleTokens lists the token catalog of a chain
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	chain, err := s.chain(r.URL.Query().Get("chain"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, tokensResponse{
		Chain:          chain.Name,
		ChainID:        chain.HexChainID(),
		ChainName:      chain.ChainName,
		RPCURLs:        chain.RPCURLs,
		NativeCurrency: chain.NativeCurrency,
		Tokens:         chain.Tokens,
	})
}

// handlePrice returns a token's unit price in the requested currency
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	chain, err := s.chain(params.Get("chain"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	token, ok := chain.Lookup(params.Get("token"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("token %q is not listed on %s", params.Get("token"), chain.Name))
		return
	}
	currency, err := s.currency(params.Get("currency"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	price := s.prices.UnitPriceInCurrency(chain, token.Address, currency)
	if !price.Valid {
		// nothing cached yet; load once in the foreground
		if err := s.prices.Refresh(r.Context(), chain, currency); err != nil {
			s.log.WithError(err).WithField("chain", chain.Name).Warn("Price refresh failed")
		}
		price = s.prices.UnitPriceInCurrency(chain, token.Address, currency)
	}
	if !price.Valid {
		s.errorResponse(w, http.StatusServiceUnavailable, fmt.Sprintf("no %s price available for %s", currency, token.Symbol))
		return
	}

	writeJSON(w, http.StatusOK, priceResponse{
		Chain:    chain.Name,
		Token:    token,
		Currency: currency,
		Price:    price.Decimal,
		PriceUSD: s.prices.UnitPriceUSD(chain, token.Address).Decimal,
	})
}

// handleQuote previews a swap of a human amount
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := decodeBody(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := s.quoteState(req)
	if err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}

	res := quote.Result{}
	if state.Intent(st).NeedsQuote() {
		if !state.QuoteEnabled(st) {
			s.errorResponse(w, http.StatusBadRequest, "from address is required to quote a swap")
			return
		}
		key := state.QuoteKey(st)
		if err := validation.ValidateQuoteRequest(key.Request(), validation.DefaultValidationOptions()); err != nil {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}

		q, err := s.query.Get(r.Context(), key)
		if err != nil {
			s.log.WithError(err).WithField("key", key.String()).Warn("Quote failed")
			s.errorResponse(w, upstreamStatus(err), err.Error())
			return
		}
		res = quote.Result{Key: key, Quote: q}
	}

	resp := QuoteResponse{Preview: app.BuildPreview(st, res, s.prices)}
	if res.Quote != nil {
		resp.Routes = res.Quote.DexAgg.Routes
		resp.Transaction = res.Quote.MetamaskSwapTransaction
	}

	s.log.WithFields(logrus.Fields{
		"chain":     st.Chain.Name,
		"intent":    resp.Preview.IntentName,
		"token_in":  st.TokenIn.Symbol,
		"token_out": st.TokenOut.Symbol,
		"amount":    st.Amount,
	}).Debug("Quote preview served")

	writeJSON(w, http.StatusOK, resp)
}

// handleCompare fans one request out to several endpoints and ranks the results
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := decodeBody(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Endpoints) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "at least one endpoint is required")
		return
	}

	policy, err := aggregate.ParsePolicy(req.Policy)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	params := model.QuoteRequest{
		From:        req.From,
		SlippageBps: s.config.SlippageBps,
		MaxEdge:     s.config.MaxEdge,
		MaxSplit:    s.config.MaxSplit,
	}
	if req.SlippagePercent != "" {
		pct, err := decimal.NewFromString(req.SlippagePercent)
		if err != nil || pct.IsNegative() {
			s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid slippage %q", req.SlippagePercent))
			return
		}
		params.SlippageBps = int(pct.Mul(decimal.NewFromInt(100)).IntPart())
	}
	if req.Mode != "" {
		mode, ok := state.ParseMode(req.Mode)
		if !ok {
			s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
			return
		}
		params.WithCycle = mode == state.ModeFlash
	}

	for _, e := range req.Endpoints {
		check := params
		check.TokenInAddr, check.TokenOutAddr, check.Amount = e.From, e.To, e.Amount
		if err := validation.ValidateQuoteRequest(check, validation.DefaultValidationOptions()); err != nil {
			s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("endpoint %s: %v", e.Endpoint, err))
			return
		}
	}

	results, err := s.quotes.FetchFanOutQuotes(r.Context(), params, req.Endpoints)
	if err != nil {
		s.errorResponse(w, upstreamStatus(err), err.Error())
		return
	}

	usable := aggregate.FilterOutliers(validation.FilterQuotes(results))
	ranked := aggregate.RankQuotes(usable, policy)
	resp := CompareResponse{
		Policy: policy.String(),
		Median: aggregate.MedianOutput(usable).String(),
		Quotes: make([]ComparedQuote, 0, len(ranked)),
	}
	for _, q := range ranked {
		resp.Quotes = append(resp.Quotes, ComparedQuote{EndpointQuote: q, Output: aggregate.Output(q).String()})
	}

	writeJSON(w, http.StatusOK, resp)
}

// quoteState builds the swap state a quote request describes
func (s *Server) quoteState(req QuoteRequest) (state.State, error) {
	chain, err := s.chain(req.Chain)
	if err != nil {
		return state.State{}, err
	}
	tokenIn, ok := chain.Lookup(req.TokenIn)
	if !ok {
		return state.State{}, fmt.Errorf("%w: token %q is not listed on %s", validation.ErrInvalid, req.TokenIn, chain.Name)
	}
	tokenOut, ok := chain.Lookup(req.TokenOut)
	if !ok {
		return state.State{}, fmt.Errorf("%w: token %q is not listed on %s", validation.ErrInvalid, req.TokenOut, chain.Name)
	}
	if model.SameAddress(tokenIn.Address, tokenOut.Address) {
		return state.State{}, fmt.Errorf("%w: input and output token are both %s", validation.ErrInvalid, tokenIn.Symbol)
	}

	st := state.New(chain)
	st.SlippageBps = s.config.SlippageBps
	st.MaxEdge = s.config.MaxEdge
	st.MaxSplit = s.config.MaxSplit

	actions := []state.Action{
		state.SelectTokenIn{Token: tokenIn},
		state.SelectTokenOut{Token: tokenOut},
		state.EditAmount{Raw: req.Amount},
	}
	for _, a := range actions {
		st = state.Reduce(st, a)
	}
	st = state.Reduce(st, state.CommitAmount{Amount: st.AmountInput})

	if in, ok := amount.Parse(st.Amount); !ok || !in.IsPositive() {
		return state.State{}, fmt.Errorf("%w: amount %q must be a positive number", validation.ErrInvalid, req.Amount)
	}

	if req.From != "" {
		if !common.IsHexAddress(req.From) {
			return state.State{}, fmt.Errorf("%w: from %q is not an address", validation.ErrInvalid, req.From)
		}
		st = state.Reduce(st, state.SetTrader{Address: req.From})
	}
	if req.SlippagePercent != "" {
		pct, err := decimal.NewFromString(req.SlippagePercent)
		if err != nil || pct.IsNegative() {
			return state.State{}, fmt.Errorf("%w: slippage %q", validation.ErrInvalid, req.SlippagePercent)
		}
		st = state.Reduce(st, state.SetSlippagePercent{Percent: pct})
	}
	if req.Mode != "" {
		mode, ok := state.ParseMode(req.Mode)
		if !ok {
			return state.State{}, fmt.Errorf("%w: unknown mode %q", validation.ErrInvalid, req.Mode)
		}
		st = state.Reduce(st, state.SetMode{Mode: mode})
	}
	currency, err := s.currency(req.Currency)
	if err != nil {
		return state.State{}, err
	}
	return state.Reduce(st, state.SetCurrency{Currency: state.Currency(currency)}), nil
}

// chain resolves a chain name, defaulting to the catalog's default chain
func (s *Server) chain(name string) (types.ChainConfig, error) {
	if name == "" {
		return s.catalog.Chain(s.catalog.DefaultChain)
	}
	return s.catalog.Chain(types.SupportedChain(strings.ToLower(name)))
}

func (s *Server) currency(raw string) (string, error) {
	if raw == "" {
		return s.config.TargetCurrency, nil
	}
	c := state.Currency(strings.ToLower(raw))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unsupported currency %q", validation.ErrInvalid, raw)
	}
	return string(c), nil
}

// statusFor maps request building errors onto client statuses
func statusFor(err error) int {
	if errors.Is(err, validation.ErrInvalid) {
		return http.StatusBadRequest
	}
	return http.StatusNotFound
}

// upstreamStatus maps routing API failures onto gateway statuses
func upstreamStatus(err error) int {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}
