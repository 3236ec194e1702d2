// Package desk owns the order lifecycle: it submits opens and closes to the
// gateway, reconciles their terminal status into the virtual ledger, and
// watches open positions for stop-loss, take-profit and trailing exits.
package desk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/futdesk/broker"
	"github.com/rustyeddy/futdesk/internal/poll"
	"github.com/rustyeddy/futdesk/journal"
	"github.com/rustyeddy/futdesk/ledger"
	"github.com/rustyeddy/futdesk/metrics"
	"github.com/rustyeddy/futdesk/pkg/id"
	"go.uber.org/zap"
)

type Config struct {
	OrderPrefix        string
	ContractMultiplier float64
	TrailingThreshold  float64
	PollInterval       time.Duration
	ErrorBackoff       time.Duration
}

func DefaultConfig() Config {
	return Config{
		OrderPrefix:        "HSI",
		ContractMultiplier: 10,
		TrailingThreshold:  100,
		PollInterval:       time.Second,
		ErrorBackoff:       5 * time.Second,
	}
}

// CloseEvent describes a close fill applied to the ledger.
type CloseEvent struct {
	Position   ledger.Position // before the fill
	Qty        int
	ExitPrice  float64
	RealizedPL float64
	Remaining  int
	Reason     string
	Time       time.Time
}

// FillListener observes ledger changes made by the reconciler. Callbacks run
// on the reconciler goroutine with no desk or ledger lock held.
type FillListener interface {
	OpenFilled(p ledger.Position)
	OpenRejected(o *ledger.OpenOrder, status broker.OrderStatus)
	CloseFilled(ev CloseEvent)
}

type Desk struct {
	gw        broker.Gateway
	ledger    *ledger.Ledger
	pending   *ledger.PendingTable
	seq       *id.Sequence
	journal   journal.Journal
	snapshots journal.SnapshotStore
	metrics   *metrics.Metrics
	log       *zap.Logger
	cfg       Config
	now       func() time.Time
	sleep     poll.SleepFunc

	mu        sync.Mutex
	listeners []FillListener
}

type Option func(*Desk)

func WithJournal(j journal.Journal) Option { return func(d *Desk) { d.journal = j } }

func WithSnapshots(s journal.SnapshotStore) Option { return func(d *Desk) { d.snapshots = s } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Desk) { d.metrics = m } }

func WithLogger(l *zap.Logger) Option { return func(d *Desk) { d.log = l } }

func WithClock(now func() time.Time) Option { return func(d *Desk) { d.now = now } }

func WithSleep(s poll.SleepFunc) Option { return func(d *Desk) { d.sleep = s } }

func New(gw broker.Gateway, cfg Config, opts ...Option) *Desk {
	d := &Desk{
		gw:      gw,
		ledger:  ledger.New(),
		pending: ledger.NewPendingTable(),
		seq:     id.NewSequence(cfg.OrderPrefix),
		log:     zap.NewNop(),
		cfg:     cfg,
		now:     time.Now,
		sleep:   poll.Sleep,
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.Named("desk")
	return d
}

func (d *Desk) Ledger() *ledger.Ledger { return d.ledger }

func (d *Desk) Pending() *ledger.PendingTable { return d.pending }

func (d *Desk) Gateway() broker.Gateway { return d.gw }

func (d *Desk) Config() Config { return d.cfg }

func (d *Desk) AddListener(l FillListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *Desk) listenersSnapshot() []FillListener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]FillListener(nil), d.listeners...)
}

// Restore loads the persisted snapshot into the ledger and moves the local
// id sequence past every id it contains. Closed records still advance the
// sequence so ids are never reused. A snapshot with unreadable rows still
// restores every good record; the ids of skipped rows advance the sequence too.
func (d *Desk) Restore() (int, error) {
	if d.snapshots == nil {
		return 0, nil
	}
	recs, loadErr := d.snapshots.LoadSnapshot()
	if loadErr != nil {
		d.log.Error("snapshot partly unreadable", zap.Int("loaded", len(recs)), zap.Error(loadErr))
	}

	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.LocalID)
	}
	d.seq.SeedFrom(append(ids, journal.RejectedIDs(loadErr)...))

	n, err := d.ledger.Load(recs)
	d.metrics.SetBook(d.ledger.Len(), d.pending.Len())
	d.log.Info("ledger restored", zap.Int("positions", n), zap.String("next_id", d.seq.Peek()))
	if err = errors.Join(loadErr, err); err != nil {
		return n, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return n, nil
}

// SaveSnapshot writes the current ledger to the snapshot store.
func (d *Desk) SaveSnapshot() error {
	if d.snapshots == nil {
		return nil
	}
	if err := d.snapshots.SaveSnapshot(d.ledger.Records()); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (d *Desk) record(rec journal.FillRecord) {
	if d.journal == nil {
		return
	}
	rec.EventID = id.New()
	if err := d.journal.RecordFill(rec); err != nil {
		d.log.Error("audit log write failed",
			zap.Error(errors.Join(ErrPersistence, err)),
			zap.String("local_id", rec.LocalID),
		)
	}
}

func (d *Desk) persist() {
	if err := d.SaveSnapshot(); err != nil {
		d.log.Error("snapshot write failed", zap.Error(err))
	}
}

func (d *Desk) loop(name string) poll.Loop {
	return poll.Loop{
		Name:    name,
		Period:  d.cfg.PollInterval,
		Backoff: d.cfg.ErrorBackoff,
		Sleep:   d.sleep,
		Log:     d.log,
		OnError: func(error) { d.metrics.LoopError(name) },
	}
}

