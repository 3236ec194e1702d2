package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rustyeddy/futdesk/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the desk and its operator console",
	Long: `Start the reconciliation loop, the threshold monitor and, when enabled,
the point trigger engine, then read operator commands from stdin.

The desk stops on the exit command, at end of input or on SIGINT/SIGTERM,
and rewrites the position snapshot before returning.

Example:
  futdesk run -c futdesk.yaml
  futdesk run -c futdesk.yaml --headless`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var runHeadless bool

// errConsoleDone stops the group when the operator leaves the console.
var errConsoleDone = errors.New("console closed")

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "run without the console until signalled")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return fmt.Errorf("start desk: %w", err)
	}
	defer a.close(true)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.desk.RunReconciler(gctx) })
	g.Go(func() error { return a.desk.RunMonitor(gctx) })
	if a.points != nil {
		g.Go(func() error { return a.points.Run(gctx) })
	}
	if cfg.Metrics.Addr != "" {
		mux := metrics.NewMux(a.registry, a.health)
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, mux, log) })
	}
	if !runHeadless {
		g.Go(func() error {
			if err := a.console().Run(gctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return err
			}
			return errConsoleDone
		})
	}

	log.Info("desk started",
		zap.String("gateway", cfg.Gateway.Kind),
		zap.Int("positions", a.desk.Ledger().Len()),
		zap.Bool("points", a.points != nil),
	)

	err = g.Wait()
	log.Info("desk stopping", zap.Int("positions", a.desk.Ledger().Len()))
	if errors.Is(err, errConsoleDone) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
