package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Azurepeal/neighbor-swap/internal/swap"
)

var noConfirm bool

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <token-in> to <token-out>",
	Short: "Execute a swap with the configured key",
	Long: `Quote, confirm and execute a swap. Tokens that need an allowance are
approved for the chain's approve proxy first. Native to wrapped-native and
back are sent straight to the wrapped-native contract.

Examples:
  swapctl swap 1.5 WETH to USDC
  swapctl swap 0.1 ETH to WETH --yes`,
	Args: cobra.RangeArgs(3, 4),
	RunE: runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runSwap(cmd *cobra.Command, args []string) error {
	r, err := newRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), r.settings.ReceiptTimeout+2*time.Minute)
	defer cancel()

	account, err := r.connect(ctx)
	if err != nil {
		return err
	}
	if err := prepareSelection(r, args); err != nil {
		return err
	}

	preview, _, err := fetchPreview(ctx, r)
	if err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Printf("\n  Trader:            %s\n", color.CyanString(account.Address.Hex()))
		displayPreview(preview)
	}
	if !preview.SwapEnabled {
		return fmt.Errorf("swap is not available for this selection")
	}

	if !noConfirm && !jsonOutput {
		if preview.SevereImpact {
			color.Red("  Warning: price impact is %s", preview.ImpactLabel)
		}
		if !confirmSwap() {
			fmt.Println("\nSwap cancelled.")
			return nil
		}
	}

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		sp.Suffix = " Sending transaction and waiting for confirmation..."
		sp.Start()
	}
	settlement, err := r.engine.Execute(ctx)
	if !jsonOutput {
		sp.Stop()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]interface{}{
			"id":           settlement.ID,
			"intent":       settlement.Intent.String(),
			"tx_hash":      settlement.TxHash.Hex(),
			"explorer_url": settlement.ExplorerURL,
			"block":        settlement.BlockNumber,
			"outcome":      settlement.Outcome.String(),
		})
	}
	displaySettlement(settlement)
	return nil
}

func confirmSwap() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Proceed with swap? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func displaySettlement(s *swap.Settlement) {
	if s.Succeeded() {
		color.Green("\nSwap confirmed")
	} else {
		color.Red("\nSwap reverted on chain")
	}

	fmt.Printf("  Transaction:       %s\n", color.CyanString(s.TxHash.Hex()))
	if s.ApprovalTx != nil {
		fmt.Printf("  Approval:          %s\n", s.ApprovalTx.Hex())
	}
	if s.BlockNumber != nil {
		fmt.Printf("  Block:             %s\n", s.BlockNumber.String())
	}
	if s.ExplorerURL != "" {
		fmt.Printf("  Explorer:          %s\n", s.ExplorerURL)
	}
	fmt.Println()
}
