package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Azurepeal/neighbor-swap/internal/pricing"
	"github.com/Azurepeal/neighbor-swap/internal/state"
)

var priceCurrency string

var tokensCmd = &cobra.Command{
	Use:     "tokens",
	Aliases: []string{"list-tokens", "ls"},
	Short:   "List the tokens of the selected chain",
	Args:    cobra.NoArgs,
	RunE:    runTokens,
}

var priceCmd = &cobra.Command{
	Use:   "price <token>",
	Short: "Show a token's unit price",
	Long: `Show a token's unit price in USD or KRW. The token is a symbol or an address.

Examples:
  swapctl price ETH
  swapctl price 0xb12bfca5a55806aaf64e99521918a4bf0fc40802 --currency krw`,
	Args: cobra.ExactArgs(1),
	RunE: runPrice,
}

func init() {
	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(priceCmd)

	priceCmd.Flags().StringVar(&priceCurrency, "currency", "", "Target currency (usd, krw)")
}

func runTokens(cmd *cobra.Command, args []string) error {
	r, err := newRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	if jsonOutput {
		return printJSON(r.chain.Tokens)
	}

	fmt.Println()
	color.Green("Tokens on %s (chain id %d)", r.chain.Name, r.chain.ChainID)
	fmt.Println(strings.Repeat("-", 72))
	for _, t := range r.chain.Tokens {
		fmt.Printf("  %-8s %-44s %3d  %s\n", color.YellowString(t.Symbol), t.Address, t.Decimals, t.Name)
	}
	fmt.Println()
	return nil
}

func runPrice(cmd *cobra.Command, args []string) error {
	r, err := newRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	token, ok := r.chain.Lookup(args[0])
	if !ok {
		return fmt.Errorf("token %q is not listed on %s", args[0], r.chain.Name)
	}

	currency := state.Currency(strings.ToLower(priceCurrency))
	if currency == "" {
		currency = state.Currency(r.settings.Currency)
	}
	if !currency.Valid() {
		return fmt.Errorf("unsupported currency %q", priceCurrency)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.prices.Refresh(ctx, r.chain, string(currency)); err != nil {
		return fmt.Errorf("price refresh failed: %w", err)
	}

	usd := r.prices.UnitPriceUSD(r.chain, token.Address)
	price := r.prices.UnitPriceInCurrency(r.chain, token.Address, string(currency))
	if !price.Valid {
		return fmt.Errorf("no price available for %s", token.Symbol)
	}

	if jsonOutput {
		return printJSON(map[string]interface{}{
			"token":     token.Symbol,
			"address":   token.Address,
			"currency":  currency,
			"price":     price.Decimal.String(),
			"price_usd": usd.Decimal.String(),
		})
	}

	fmt.Printf("\n  1 %s = %s %s\n\n",
		color.YellowString(token.Symbol),
		color.CyanString(pricing.ValueText(price)),
		strings.ToUpper(string(currency)))
	return nil
}
