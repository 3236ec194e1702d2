package cmd

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rustyeddy/futdesk/broker"
	"github.com/rustyeddy/futdesk/broker/bridge"
	"github.com/rustyeddy/futdesk/broker/sim"
	"github.com/rustyeddy/futdesk/config"
	"github.com/rustyeddy/futdesk/console"
	"github.com/rustyeddy/futdesk/desk"
	"github.com/rustyeddy/futdesk/journal"
	"github.com/rustyeddy/futdesk/metrics"
	"github.com/rustyeddy/futdesk/pkg/logger"
	"github.com/rustyeddy/futdesk/points"
	"go.uber.org/zap"
)

// app is the wired desk shared by run, status and points.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	gw       broker.Gateway
	journal  journal.Journal
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	desk     *desk.Desk
	points   *points.Engine
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if log == nil {
		return nil, err
	}
	// a file error leaves a usable console logger
	return log, nil
}

func newGateway(cfg *config.Config) (broker.Gateway, error) {
	switch cfg.Gateway.Kind {
	case "bridge":
		env, err := bridge.ParseEnv(cfg.Gateway.Env)
		if err != nil {
			return nil, err
		}
		return bridge.New(cfg.Gateway.BaseURL, env, cfg.GatewayTimeout()), nil
	case "sim":
		e := sim.NewEngine()
		for instr, p := range cfg.Sim.Prices {
			e.Prices().Set(instr, p)
		}
		e.SetAutoFill(cfg.Sim.AutoFill)
		return e, nil
	}
	return nil, fmt.Errorf("unknown gateway kind %q", cfg.Gateway.Kind)
}

// openJournal opens the audit log and snapshot store. If the configured
// files cannot be opened the desk keeps running with fills logged only and
// no snapshot.
func openJournal(cfg *config.Config, log *zap.Logger) (journal.Journal, journal.SnapshotStore) {
	fallback := journal.NewLog(log)

	switch cfg.Journal.Type {
	case "sqlite":
		db, err := journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			log.Warn("journal unavailable, fills go to the log only",
				zap.Error(errors.Join(desk.ErrPersistence, err)))
			return fallback, nil
		}
		return journal.Multi{db, fallback}, db
	default:
		snap := journal.NewCSVSnapshot(cfg.Journal.SnapshotFile)
		j, err := journal.NewCSV(cfg.Journal.TradesFile)
		if err != nil {
			log.Warn("journal unavailable, fills go to the log only",
				zap.Error(errors.Join(desk.ErrPersistence, err)))
			return fallback, snap
		}
		return journal.Multi{j, fallback}, snap
	}
}

func newApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	gw, err := newGateway(cfg)
	if err != nil {
		return nil, err
	}
	poll, _ := cfg.DeskPollInterval()
	backoff, _ := cfg.DeskErrorBackoff()

	a := &app{cfg: cfg, log: log, gw: gw, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	var snap journal.SnapshotStore
	a.journal, snap = openJournal(cfg, log)

	opts := []desk.Option{
		desk.WithJournal(a.journal),
		desk.WithMetrics(a.metrics),
		desk.WithLogger(log),
	}
	if snap != nil {
		opts = append(opts, desk.WithSnapshots(snap))
	}
	a.desk = desk.New(gw, desk.Config{
		OrderPrefix:        cfg.Desk.OrderPrefix,
		ContractMultiplier: cfg.Desk.ContractMultiplier,
		TrailingThreshold:  cfg.Desk.TrailingThreshold,
		PollInterval:       poll,
		ErrorBackoff:       backoff,
	}, opts...)

	if _, err := a.desk.Restore(); err != nil {
		log.Warn("snapshot reload incomplete", zap.Error(err))
	}

	if cfg.Points.Enabled {
		a.points = a.newPoints()
	}
	return a, nil
}

func (a *app) newPoints() *points.Engine {
	cfg := a.cfg
	pts, err := points.LoadDir(cfg.Points.Dir, points.Defaults{
		Tolerance:   cfg.Points.Tolerance,
		TrailOffset: cfg.Points.TrailOffset,
	})
	if err != nil {
		a.log.Warn("point catalogue loaded with errors", zap.Error(err), zap.Int("loaded", len(pts)))
	}

	poll, _ := cfg.PointsPollInterval()
	backoff, _ := cfg.DeskErrorBackoff()
	eng := points.NewEngine(a.desk, a.gw, pts, points.Config{
		Instrument:         cfg.Points.Instrument,
		ContractMultiplier: cfg.Desk.ContractMultiplier,
		TrailOffset:        cfg.Points.TrailOffset,
		PollInterval:       poll,
		ErrorBackoff:       backoff,
	}, points.WithLogger(a.log), points.WithMetrics(a.metrics))

	n := eng.Adopt(a.desk.Ledger().Snapshot())
	a.desk.AddListener(eng)
	a.log.Info("points loaded", zap.Int("points", len(pts)), zap.Int("adopted", n))
	return eng
}

func (a *app) console() *console.Console {
	var pts console.Points
	if a.points != nil {
		pts = a.points
	}
	return console.New(a.desk, pts, a.log)
}

func (a *app) health() map[string]any {
	return map[string]any{
		"gateway":       a.cfg.Gateway.Kind,
		"openPositions": a.desk.Ledger().Len(),
		"pendingOrders": a.desk.Pending().Len(),
		"closing":       len(a.desk.Ledger().ClosingIDs()),
	}
}

// close releases the journal. The snapshot is rewritten only when save is
// set, so read-only commands never touch it.
func (a *app) close(save bool) {
	if save {
		if err := a.desk.SaveSnapshot(); err != nil {
			a.log.Error("final snapshot failed", zap.Error(err))
		}
	}
	if err := a.journal.Close(); err != nil {
		a.log.Error("close journal", zap.Error(err))
	}
	_ = a.log.Sync()
}
