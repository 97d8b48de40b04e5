package main

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile string
	chainFlag  string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "swapctl",
	Short: "Quote and execute token swaps through the routing API",
	Long: `swapctl previews and executes swaps on the chains of the swap catalog.
Quotes come from the routing API; swaps are signed with a local private key.

Examples:
  swapctl tokens
  swapctl price WETH --currency krw
  swapctl quote 1.5 WETH to USDC --from 0x...
  swapctl swap 0.1 ETH to WETH
  swapctl wallet status`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(verbose)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $HOME/.swapctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&chainFlag, "chain", "", "Chain to operate on (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
}

// setupLogging keeps engine logs quiet unless verbose output was asked for
func setupLogging(verbose bool) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
		return
	}
	logrus.SetLevel(logrus.WarnLevel)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
