// Package main is the entry point for the NeighborSwap HTTP API: token
// catalog, prices and swap quote previews for the chains in the catalog.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Azurepeal/neighbor-swap/internal/circuitbreaker"
	"github.com/Azurepeal/neighbor-swap/internal/config"
	"github.com/Azurepeal/neighbor-swap/internal/fetch"
	"github.com/Azurepeal/neighbor-swap/internal/metrics"
	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/otel"
	"github.com/Azurepeal/neighbor-swap/internal/pricing"
	"github.com/Azurepeal/neighbor-swap/internal/quote"
)

// version is reported by /health and /status
const version = "1.0.0"

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server serves the quote API
type Server struct {
	config  config.Config
	catalog *config.Catalog

	// Shared quote cache; concurrent identical requests share one fetch
	query  *quote.Query
	quotes *fetch.QuoteClient
	prices *pricing.Resolver

	breakers  *circuitbreaker.Set
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	rateLimit *rate.Limiter

	server *http.Server
	log    *logrus.Entry
}

// main is the entry point for the application
func main() {
	setupLogging()

	cfg := config.Load()

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		logrus.Fatalf("Failed to load chain catalog: %v", err)
	}

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint, "neighbor-swap-api")
	defer shutdownTracer()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server := NewServer(cfg, catalog, registry)
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// NewServer creates a server for catalog, registering its collectors with registry
func NewServer(cfg config.Config, catalog *config.Catalog, registry *prometheus.Registry) *Server {
	m := metrics.New(registry)

	breakers := circuitbreaker.NewSet(func(name string) *circuitbreaker.CircuitBreaker {
		return circuitbreaker.New(name, cfg.BreakerFailures).
			WithResetDelay(cfg.BreakerCooldown).
			WithStateCallback(func(name string, state circuitbreaker.State) {
				m.CircuitState(name, int(state))
				logrus.WithFields(logrus.Fields{
					"endpoint": name,
					"state":    state.String(),
				}).Warn("Quote endpoint circuit changed state")
			})
	})

	opts := fetch.DefaultOptions()
	opts.Retries = cfg.QuoteRetries
	opts.Timeout = cfg.RequestTimeout
	opts.Breakers = breakers
	opts.Metrics = m

	quotes := fetch.NewQuoteClient(opts)
	s := &Server{
		config:    cfg,
		catalog:   catalog,
		quotes:    quotes,
		prices:    pricing.NewResolver(fetch.NewPriceClient(opts), catalog.CommonAPIEndpoint, cfg.PriceTTL),
		breakers:  breakers,
		metrics:   m,
		registry:  registry,
		rateLimit: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		log:       logrus.WithField("component", "api"),
	}
	s.query = quote.NewQuery(func(ctx context.Context, key quote.Key) (*model.QuoteResult, error) {
		return quotes.FetchSingleQuote(ctx, key.Endpoint, key.Request())
	}, cfg.QuoteCacheTTL)

	s.log.WithFields(logrus.Fields{
		"port":           cfg.Port,
		"chains":         len(catalog.Chains),
		"default_chain":  catalog.DefaultChain,
		"currency":       cfg.TargetCurrency,
		"rate_limit_rps": cfg.RateLimitRPS,
		"rate_burst":     cfg.RateLimitBurst,
	}).Info("Server initialized")

	return s
}

// Handler builds the routed, rate limited handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /v1/tokens", s.instrument("tokens", s.handleTokens))
	mux.Handle("GET /v1/price", s.instrument("price", s.handlePrice))
	mux.Handle("POST /v1/quote", s.instrument("quote", s.handleQuote))
	mux.Handle("POST /v1/quote/compare", s.instrument("compare", s.handleCompare))

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/status", s.handleStatus)

	return mux
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, name := range s.catalog.ChainNames() {
		chain, _ := s.catalog.Chain(name)
		go s.prices.Start(ctx, chain, s.config.TargetCurrency, s.config.PriceRefresh)
	}

	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logrus.Fatalf("Server shutdown failed: %v", err)
	}

	cancel()
	s.query.Clear()
	s.query.Wait()
	s.prices.Wait()

	logrus.Info("Server stopped")
}

// instrument applies rate limiting and request metrics to an API route
func (s *Server) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if s.rateLimit != nil && !s.rateLimit.Allow() {
			s.errorResponse(rec, http.StatusTooManyRequests, "rate limit exceeded")
		} else {
			next(rec, r)
		}

		s.metrics.ObserveRequest(route, statusClass(rec.status), time.Since(start))
	})
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMetrics exposes Prometheus metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	circuits := make(map[string]string)
	for name, state := range s.breakers.States() {
		circuits[name] = state.String()
	}

	status := map[string]interface{}{
		"status":   "operational",
		"uptime":   time.Since(startTime).String(),
		"version":  version,
		"chains":   s.catalog.ChainNames(),
		"circuits": circuits,
		"configuration": map[string]interface{}{
			"currency":         s.config.TargetCurrency,
			"slippage_bps":     s.config.SlippageBps,
			"quote_cache_ttl":  s.config.QuoteCacheTTL.String(),
			"breaker_failures": s.config.BreakerFailures,
			"breaker_cooldown": s.config.BreakerCooldown.String(),
		},
	}

	writeJSON(w, http.StatusOK, status)
}
