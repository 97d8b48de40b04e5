package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Azurepeal/neighbor-swap/internal/app"
	"github.com/Azurepeal/neighbor-swap/internal/quote"
	"github.com/Azurepeal/neighbor-swap/internal/state"
)

var (
	quoteFrom       string
	slippagePercent string
	modeFlag        string
	currencyFlag    string
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <token-in> to <token-out>",
	Short: "Preview a swap without sending anything",
	Long: `Preview the output, rate and price impact of a swap.

The trader address defaults to the configured key's address.

Examples:
  swapctl quote 1.5 WETH to USDC
  swapctl quote 100 USDC to wNEAR --slippage 0.5 --from 0x...`,
	Args: cobra.RangeArgs(3, 4),
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().StringVar(&quoteFrom, "from", "", "Trader address (default: configured key)")
	for _, c := range []*cobra.Command{quoteCmd, swapCmd} {
		c.Flags().StringVar(&slippagePercent, "slippage", "", "Slippage tolerance in percent")
		c.Flags().StringVar(&modeFlag, "mode", "", "Page mode (swap, flash)")
		c.Flags().StringVar(&currencyFlag, "currency", "", "Display currency (usd, krw)")
	}
}

// prepareSelection applies the command line selection to the engine
func prepareSelection(r *runtime, args []string) error {
	parsed, err := parseSwapArgs(args)
	if err != nil {
		return err
	}
	if err := r.engine.SelectPair(parsed.TokenIn, parsed.TokenOut); err != nil {
		return err
	}
	r.engine.SetAmount(parsed.Amount)

	if slippagePercent != "" {
		pct, err := decimal.NewFromString(slippagePercent)
		if err != nil || pct.IsNegative() {
			return fmt.Errorf("invalid slippage %q", slippagePercent)
		}
		r.engine.Dispatch(state.SetSlippagePercent{Percent: pct})
	}
	if modeFlag != "" {
		mode, ok := state.ParseMode(modeFlag)
		if !ok {
			return fmt.Errorf("unknown mode %q", modeFlag)
		}
		r.engine.Dispatch(state.SetMode{Mode: mode})
	}
	if currencyFlag != "" {
		c := state.Currency(strings.ToLower(currencyFlag))
		if !c.Valid() {
			return fmt.Errorf("unsupported currency %q", currencyFlag)
		}
		r.engine.Dispatch(state.SetCurrency{Currency: c})
	}
	return nil
}

// fetchPreview quotes the current selection when it needs a route and
// builds the preview
func fetchPreview(ctx context.Context, r *runtime) (app.Preview, quote.Result, error) {
	s := r.engine.Snapshot()
	if err := r.prices.Refresh(ctx, s.Chain, string(s.Currency)); err != nil {
		// prices only feed impact and value; the quote still stands
		color.Yellow("Prices unavailable: %v", err)
	}

	var res quote.Result
	if state.Intent(s).NeedsQuote() {
		sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		if !jsonOutput {
			sp.Suffix = " Fetching quote..."
			sp.Start()
		}
		var err error
		res, err = r.engine.Quote(ctx)
		if !jsonOutput {
			sp.Stop()
		}
		if errors.Is(err, app.ErrQuoteDisabled) {
			return app.Preview{}, res, errors.New("a trader address is required to quote; pass --from or configure a key")
		}
		if err != nil {
			return app.Preview{}, res, err
		}
	}

	return app.BuildPreview(r.engine.Snapshot(), res, r.prices), res, nil
}

func runQuote(cmd *cobra.Command, args []string) error {
	r, err := newRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	if err := prepareSelection(r, args); err != nil {
		return err
	}

	trader := quoteFrom
	if trader == "" {
		if addr, ok := r.keyAddress(); ok {
			trader = addr.Hex()
		}
	}
	if trader != "" {
		if !common.IsHexAddress(trader) {
			return fmt.Errorf("from %q is not an address", trader)
		}
		r.engine.Dispatch(state.SetTrader{Address: trader})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	preview, _, err := fetchPreview(ctx, r)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(preview)
	}
	displayPreview(preview)
	return nil
}

func displayPreview(p app.Preview) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP PREVIEW")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Type:              %s\n", p.IntentName)
	fmt.Printf("  From:              %s %s", p.AmountIn.String(), color.YellowString(p.TokenIn.Symbol))
	if p.ValueInText != "" {
		fmt.Printf("  (%s %s)", p.ValueInText, strings.ToUpper(string(p.Currency)))
	}
	fmt.Println()
	fmt.Printf("  To:                ~%s %s", p.AmountOutText, color.YellowString(p.TokenOut.Symbol))
	if p.ValueOutText != "" {
		fmt.Printf("  (%s %s)", p.ValueOutText, strings.ToUpper(string(p.Currency)))
	}
	fmt.Println()

	if p.RateText != "" {
		fmt.Printf("  Rate:              %s\n", p.RateText)
	}

	impact := p.ImpactLabel
	if p.SevereImpact {
		impact = color.RedString(impact)
	}
	fmt.Printf("  Price impact:      %s\n", impact)

	if p.SingleDexes > 0 {
		fmt.Printf("  DEXes compared:    %d\n", p.SingleDexes)
	}
	if p.Intent.NeedsQuote() && !p.HasPayload {
		color.Yellow("\n  Quote only: the routing API returned no transaction for this trader.")
	}
	fmt.Println()
}
