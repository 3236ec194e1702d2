package cmd

import (
	"fmt"

	"github.com/rustyeddy/futdesk/points"
	"github.com/spf13/cobra"
)

var pointsCmd = &cobra.Command{
	Use:   "points [POINT_ID]",
	Short: "Show trigger point state",
	Long: `Load the point catalogue, re-attach persisted point positions and print
each point's hit count, ladder usage and PnL.

Examples:
  futdesk points -c futdesk.yaml
  futdesk points DS1 -c futdesk.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPoints,
}

var pointsCheckCmd = &cobra.Command{
	Use:   "check <dir>",
	Short: "Validate a point catalogue directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runPointsCheck,
}

func init() {
	rootCmd.AddCommand(pointsCmd)
	pointsCmd.AddCommand(pointsCheckCmd)
}

func runPoints(cmd *cobra.Command, args []string) error {
	line := "/points"
	if len(args) == 1 {
		line += " " + args[0]
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Points.Enabled {
		return fmt.Errorf("points are disabled in the config")
	}
	return oneShot(cmd, cfg, line)
}

func runPointsCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pts, err := points.LoadDir(args[0], points.Defaults{
		Tolerance:   cfg.Points.Tolerance,
		TrailOffset: cfg.Points.TrailOffset,
	})
	out := cmd.OutOrStdout()
	for _, p := range pts {
		fmt.Fprintf(out, "✓ %s %s hit %.0f, %d orders\n", p.ID, p.Type, p.HitPrice, len(p.Ladder))
	}
	if err != nil {
		return fmt.Errorf("catalogue %s: %w", args[0], err)
	}
	return nil
}
