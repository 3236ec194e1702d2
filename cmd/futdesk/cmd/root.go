package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "futdesk",
	Short: "A semi-automated futures trading desk",
	Long: `futdesk routes discretionary orders to a brokerage gateway and keeps a
virtual ledger of the resulting positions.

It provides:
  - An interactive console for opening, closing and cancelling orders
  - Automatic stop-loss, take-profit and trailing exits
  - Price-level trigger points that enter from a pre-configured ladder
  - A CSV or SQLite audit journal with a durable position snapshot`,
	SilenceUsage: true,
}

var cfgFile string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
}
