package main

import (
	"fmt"
	"strings"

	"github.com/Azurepeal/neighbor-swap/internal/amount"
)

// swapArgs is a parsed "<amount> <token-in> [to] <token-out>" command line
type swapArgs struct {
	Amount   string
	TokenIn  string
	TokenOut string
}

// parseSwapArgs accepts "1.5 WETH to USDC" and "1.5 WETH USDC"
func parseSwapArgs(args []string) (swapArgs, error) {
	switch {
	case len(args) == 4 && strings.EqualFold(args[2], "to"):
		args = []string{args[0], args[1], args[3]}
	case len(args) != 3:
		return swapArgs{}, fmt.Errorf("expected <amount> <token-in> to <token-out>, got %q", strings.Join(args, " "))
	}

	d, ok := amount.Parse(args[0])
	if !ok || !d.IsPositive() {
		return swapArgs{}, fmt.Errorf("amount %q must be a positive number", args[0])
	}
	if strings.EqualFold(args[1], args[2]) {
		return swapArgs{}, fmt.Errorf("input and output token are both %s", args[1])
	}

	return swapArgs{Amount: args[0], TokenIn: args[1], TokenOut: args[2]}, nil
}
