// Package pricing resolves token unit prices and derives rates and price
// impact from quotes.
package pricing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Azurepeal/neighbor-swap/internal/fetch"
	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/types"
)

// PriceSource is the subset of fetch.PriceClient the resolver needs
type PriceSource interface {
	FetchPriceList(ctx context.Context, endpoint, address string) ([]model.TokenPrice, error)
	FetchCurrencyRate(ctx context.Context, endpoint, coinID, targetCurrency string) (decimal.Decimal, error)
}

type priceEntry struct {
	prices    map[string]decimal.Decimal
	fetchedAt time.Time
}

type rateEntry struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Resolver answers unit price lookups from cached price lists and currency
// rates. Lookups never block: a stale or missing entry schedules one
// background refresh and the previous value is returned meanwhile.
type Resolver struct {
	source         PriceSource
	commonEndpoint string
	ttl            time.Duration
	timeout        time.Duration
	now            func() time.Time
	log            *logrus.Entry

	mu         sync.RWMutex
	prices     map[types.SupportedChain]priceEntry
	rates      map[string]rateEntry
	refreshing map[string]bool

	wg sync.WaitGroup
}

// NewResolver creates a resolver. commonEndpoint serves currency rates; ttl
// is how long an entry is considered fresh.
func NewResolver(source PriceSource, commonEndpoint string, ttl time.Duration) *Resolver {
	return &Resolver{
		source:         source,
		commonEndpoint: commonEndpoint,
		ttl:            ttl,
		timeout:        10 * time.Second,
		now:            time.Now,
		log:            logrus.WithField("component", "price-resolver"),
		prices:         make(map[types.SupportedChain]priceEntry),
		rates:          make(map[string]rateEntry),
		refreshing:     make(map[string]bool),
	}
}

// UnitPriceUSD returns the USD price of token on chain. The wrapped-native
// token shares the native token's entry. Unknown tokens and chains whose
// price list has not loaded yet are reported as invalid, not zero.
func (r *Resolver) UnitPriceUSD(chain types.ChainConfig, token string) decimal.NullDecimal {
	if chain.IsWrappedNative(token) {
		token = chain.NativeToken
	}

	r.mu.RLock()
	entry, ok := r.prices[chain.Name]
	r.mu.RUnlock()

	if !ok || r.isStale(entry.fetchedAt) {
		r.revalidate("prices:"+string(chain.Name), func(ctx context.Context) error {
			return r.refreshPrices(ctx, chain)
		})
	}
	if !ok {
		return decimal.NullDecimal{}
	}

	price, found := entry.prices[strings.ToLower(token)]
	if !found {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(price)
}

// UnitPriceInCurrency converts the USD price into currency. It is invalid
// when either the price or the rate is unavailable.
func (r *Resolver) UnitPriceInCurrency(chain types.ChainConfig, token, currency string) decimal.NullDecimal {
	usd := r.UnitPriceUSD(chain, token)
	rate := r.CurrencyRate(currency)
	if !usd.Valid || !rate.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(usd.Decimal.Mul(rate.Decimal))
}

// CurrencyRate returns the cached USD to currency rate
func (r *Resolver) CurrencyRate(currency string) decimal.NullDecimal {
	currency = strings.ToLower(currency)

	r.mu.RLock()
	entry, ok := r.rates[currency]
	r.mu.RUnlock()

	if !ok || r.isStale(entry.fetchedAt) {
		r.revalidate("rate:"+currency, func(ctx context.Context) error {
			return r.refreshRate(ctx, currency)
		})
	}
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(entry.rate)
}

// Refresh synchronously reloads the price list of chain and the rate of currency
func (r *Resolver) Refresh(ctx context.Context, chain types.ChainConfig, currency string) error {
	return errors.Join(
		r.refreshPrices(ctx, chain),
		r.refreshRate(ctx, strings.ToLower(currency)),
	)
}

// Start refreshes on every tick until ctx is cancelled
func (r *Resolver) Start(ctx context.Context, chain types.ChainConfig, currency string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.WithFields(logrus.Fields{
		"chain":    chain.Name,
		"currency": currency,
		"interval": interval,
	}).Info("Price refresh loop started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Price refresh loop stopped")
			return
		case <-ticker.C:
			if err := r.Refresh(ctx, chain, currency); err != nil {
				r.log.WithError(err).Warn("Periodic price refresh failed")
			}
		}
	}
}

// Wait blocks until background refreshes started so far have finished
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) isStale(fetchedAt time.Time) bool {
	return r.now().Sub(fetchedAt) >= r.ttl
}

// revalidate runs fn in the background unless a refresh for key is already in flight
func (r *Resolver) revalidate(key string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	if r.refreshing[key] {
		r.mu.Unlock()
		return
	}
	r.refreshing[key] = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.refreshing, key)
			r.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			r.log.WithError(err).WithField("key", key).Warn("Background price refresh failed, keeping cached value")
		}
	}()
}

func (r *Resolver) refreshPrices(ctx context.Context, chain types.ChainConfig) error {
	list, err := r.source.FetchPriceList(ctx, chain.APIEndpoint, "")
	if err != nil {
		return err
	}

	prices := make(map[string]decimal.Decimal, len(list))
	for _, p := range list {
		prices[strings.ToLower(p.TokenAddress)] = decimal.NewFromFloat(p.PriceUsdc)
	}

	r.mu.Lock()
	r.prices[chain.Name] = priceEntry{prices: prices, fetchedAt: r.now()}
	r.mu.Unlock()
	return nil
}

func (r *Resolver) refreshRate(ctx context.Context, currency string) error {
	rate, err := r.source.FetchCurrencyRate(ctx, r.commonEndpoint, fetch.USDCoinID, currency)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.rates[currency] = rateEntry{rate: rate, fetchedAt: r.now()}
	r.mu.Unlock()
	return nil
}
