package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/Azurepeal/neighbor-swap/internal/app"
	"github.com/Azurepeal/neighbor-swap/internal/config"
	"github.com/Azurepeal/neighbor-swap/internal/export"
	"github.com/Azurepeal/neighbor-swap/internal/fetch"
	"github.com/Azurepeal/neighbor-swap/internal/pricing"
	"github.com/Azurepeal/neighbor-swap/internal/types"
	"github.com/Azurepeal/neighbor-swap/internal/wallet"
)

// envPrefix namespaces every swapctl environment variable
const envPrefix = "SWAPCTL"

// errNoKey is returned when a command needs the signing key and none is set
var errNoKey = errors.New("no private key configured; set SWAPCTL_PRIVATE_KEY or private_key in the config file")

// settings is the resolved swapctl configuration
type settings struct {
	PrivateKey      string
	CatalogPath     string
	PreferencesPath string
	Chain           string
	Currency        string

	SlippageBps    int
	MaxEdge        int
	MaxSplit       int
	QuoteRetries   int
	RequestTimeout time.Duration
	ReceiptTimeout time.Duration

	// Settled swaps are posted here when set
	WebhookURL    string
	WebhookAPIKey string
}

// loadSettings reads the config file, SWAPCTL_* variables and the engine
// defaults, in that order of precedence from last to first
func loadSettings(v *viper.Viper, file string) (*settings, error) {
	base := config.Load()

	v.SetDefault("catalog", base.CatalogPath)
	v.SetDefault("preferences", defaultPreferencesPath())
	v.SetDefault("chain", base.DefaultChain)
	v.SetDefault("currency", base.TargetCurrency)
	v.SetDefault("slippage_bps", base.SlippageBps)
	v.SetDefault("max_edge", base.MaxEdge)
	v.SetDefault("max_split", base.MaxSplit)
	v.SetDefault("quote_retries", base.QuoteRetries)
	v.SetDefault("request_timeout", base.RequestTimeout)
	v.SetDefault("receipt_timeout", base.ReceiptTimeout)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(".swapctl")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return &settings{
		PrivateKey:      strings.TrimSpace(v.GetString("private_key")),
		CatalogPath:     v.GetString("catalog"),
		PreferencesPath: v.GetString("preferences"),
		Chain:           strings.ToLower(v.GetString("chain")),
		Currency:        strings.ToLower(v.GetString("currency")),
		SlippageBps:     v.GetInt("slippage_bps"),
		MaxEdge:         v.GetInt("max_edge"),
		MaxSplit:        v.GetInt("max_split"),
		QuoteRetries:    v.GetInt("quote_retries"),
		RequestTimeout:  v.GetDuration("request_timeout"),
		ReceiptTimeout:  v.GetDuration("receipt_timeout"),
		WebhookURL:      v.GetString("webhook_url"),
		WebhookAPIKey:   v.GetString("webhook_api_key"),
	}, nil
}

// engineConfig overlays the resolved settings on the environment defaults
func (s *settings) engineConfig() config.Config {
	cfg := config.Load()
	cfg.CatalogPath = s.CatalogPath
	cfg.PreferencesPath = s.PreferencesPath
	cfg.DefaultChain = s.Chain
	cfg.TargetCurrency = s.Currency
	cfg.SlippageBps = s.SlippageBps
	cfg.MaxEdge = s.MaxEdge
	cfg.MaxSplit = s.MaxSplit
	cfg.QuoteRetries = s.QuoteRetries
	cfg.RequestTimeout = s.RequestTimeout
	cfg.ReceiptTimeout = s.ReceiptTimeout
	return cfg
}

func defaultPreferencesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".swapctl-state.yaml"
	}
	return filepath.Join(home, ".swapctl-state.yaml")
}

// runtime is the engine and its collaborators for one command invocation
type runtime struct {
	settings *settings
	catalog  *config.Catalog
	chain    types.ChainConfig
	engine   *app.Engine
	prices   *pricing.Resolver
	exporter *export.Exporter

	keyWallet *wallet.KeyWallet
}

// newRuntime loads settings and builds an engine on the selected chain
func newRuntime() (*runtime, error) {
	s, err := loadSettings(viper.New(), configFile)
	if err != nil {
		return nil, err
	}
	if chainFlag != "" {
		s.Chain = strings.ToLower(chainFlag)
	}

	catalog, err := config.LoadCatalog(s.CatalogPath)
	if err != nil {
		return nil, err
	}
	chain, err := catalog.Chain(types.SupportedChain(s.Chain))
	if err != nil {
		return nil, err
	}
	prefs, err := config.OpenFilePreferences(s.PreferencesPath)
	if err != nil {
		return nil, err
	}

	opts := fetch.DefaultOptions()
	opts.Retries = s.QuoteRetries
	opts.Timeout = s.RequestTimeout

	r := &runtime{
		settings: s,
		catalog:  catalog,
		chain:    chain,
		prices:   pricing.NewResolver(fetch.NewPriceClient(opts), catalog.CommonAPIEndpoint, time.Minute),
		exporter: export.New(export.Config{
			WebhookURL:    s.WebhookURL,
			WebhookAPIKey: s.WebhookAPIKey,
			Retries:       s.QuoteRetries,
			Timeout:       s.RequestTimeout,
		}),
	}

	o := app.OptionsFromConfig(s.engineConfig())
	o.Catalog = catalog
	o.Chain = chain.Name
	o.Quotes = fetch.NewQuoteClient(opts)
	o.Prices = r.prices
	o.Wallets = r.openWallet
	o.Preferences = prefs
	o.Settlements = r.exporter

	engine, err := app.New(o)
	if err != nil {
		r.exporter.Stop()
		return nil, err
	}
	r.engine = engine
	return r, nil
}

// openWallet is the engine's wallet factory; only the local key is supported
func (r *runtime) openWallet(kind wallet.Kind) (wallet.Capability, error) {
	if kind != wallet.KindKeystore {
		return nil, fmt.Errorf("%w: %s", wallet.ErrUnsupportedKind, kind)
	}
	if r.keyWallet != nil {
		return r.keyWallet, nil
	}
	if r.settings.PrivateKey == "" {
		return nil, errNoKey
	}

	chains := make(map[int64]types.SupportedChain, len(r.catalog.Chains))
	for name, c := range r.catalog.Chains {
		chains[c.ChainID] = name
	}
	w, err := wallet.NewKeyWallet(r.settings.PrivateKey, chains, wallet.DialEthClient)
	if err != nil {
		return nil, err
	}
	r.keyWallet = w
	return w, nil
}

// keyAddress is the configured key's address, without connecting
func (r *runtime) keyAddress() (common.Address, bool) {
	if r.settings.PrivateKey == "" {
		return common.Address{}, false
	}
	capability, err := r.openWallet(wallet.KindKeystore)
	if err != nil {
		return common.Address{}, false
	}
	return capability.(*wallet.KeyWallet).Address(), true
}

// connect attaches the key wallet and moves it onto the selected chain
func (r *runtime) connect(ctx context.Context) (*wallet.Account, error) {
	account, err := r.engine.Connect(ctx, wallet.KindKeystore)
	if err != nil {
		return nil, err
	}
	if err := r.engine.SelectChain(ctx, r.chain.Name); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *runtime) Close() {
	r.engine.Close()
	r.exporter.Stop()
	if r.keyWallet != nil {
		r.keyWallet.Close()
	}
	r.prices.Wait()
}
