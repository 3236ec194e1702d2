package cmd

import (
	"fmt"

	"github.com/rustyeddy/futdesk/config"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted positions marked to the current quote",
	Long: `Reload the position snapshot, quote each instrument through the configured
gateway and print the same table as the console's /status command.

Example:
  futdesk status -c futdesk.yaml`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return oneShot(cmd, cfg, "/status")
}

// oneShot builds the desk without starting its loops, runs one console
// command and prints the result.
func oneShot(cmd *cobra.Command, cfg *config.Config, line string) error {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close(false)

	out, err := a.console().Execute(cmd.Context(), line)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}
