package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Azurepeal/neighbor-swap/internal/amount"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage the wallet session",
}

var walletConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect the configured key and remember it for later runs",
	Args:  cobra.NoArgs,
	RunE:  runWalletConnect,
}

var walletDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Forget the remembered wallet",
	Args:  cobra.NoArgs,
	RunE:  runWalletDisconnect,
}

var walletStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the remembered wallet and its balances",
	Args:  cobra.NoArgs,
	RunE:  runWalletStatus,
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletConnectCmd, walletDisconnectCmd, walletStatusCmd)
}

func runWalletConnect(cmd *cobra.Command, args []string) error {
	r, err := newRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	account, err := r.connect(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]string{"address": account.Address.Hex(), "kind": string(account.Kind)})
	}
	color.Green("\nConnected %s", account.Address.Hex())
	return showBalances(ctx, r)
}

func runWalletDisconnect(cmd *cobra.Command, args []string) error {
	r, err := newRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	r.engine.Disconnect()
	if !jsonOutput {
		fmt.Println("\nWallet disconnected.")
	}
	return nil
}

func runWalletStatus(cmd *cobra.Command, args []string) error {
	r, err := newRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	account, err := r.engine.Reconnect(ctx)
	if err != nil {
		return err
	}
	if account == nil {
		if jsonOutput {
			return printJSON(map[string]bool{"connected": false})
		}
		color.Yellow("\nNo wallet connected. Run: swapctl wallet connect\n")
		return nil
	}
	if err := r.engine.SelectChain(ctx, r.chain.Name); err != nil {
		return err
	}

	if !jsonOutput {
		fmt.Printf("\n  Address:           %s\n", color.CyanString(account.Address.Hex()))
		fmt.Printf("  Chain:             %s\n", r.chain.Name)
	}
	return showBalances(ctx, r)
}

// showBalances prints the native balance and the balances of the selected pair
func showBalances(ctx context.Context, r *runtime) error {
	native, err := r.engine.Session().Balance(ctx)
	if err != nil {
		return err
	}
	nativeAmount := amount.FromScaledInteger(native, r.chain.NativeCurrency.Decimals)

	s := r.engine.Snapshot()
	balances := map[string]decimal.Decimal{r.chain.NativeCurrency.Symbol: nativeAmount}
	for _, t := range []string{s.TokenIn.Address, s.TokenOut.Address} {
		token, ok := r.chain.Token(t)
		if !ok || token.IsNative() {
			continue
		}
		b, err := r.engine.Balance(ctx, token)
		if err != nil {
			return err
		}
		balances[token.Symbol] = b
	}

	if jsonOutput {
		out := make(map[string]string, len(balances))
		for sym, b := range balances {
			out[sym] = b.String()
		}
		return printJSON(out)
	}

	fmt.Println()
	for sym, b := range balances {
		fmt.Printf("  %-8s %s\n", color.YellowString(sym), amount.FormatDecimal(b, displayDigits))
	}
	fmt.Println()
	return nil
}

// displayDigits is the fraction budget for printed balances
const displayDigits = 6
