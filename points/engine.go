package points

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/futdesk/broker"
	"github.com/rustyeddy/futdesk/desk"
	"github.com/rustyeddy/futdesk/internal/poll"
	"github.com/rustyeddy/futdesk/ledger"
	"github.com/rustyeddy/futdesk/metrics"
	"go.uber.org/zap"
)

// ErrUnknownPoint is returned for a point id not in the catalogue.
var ErrUnknownPoint = errors.New("unknown point")

// Desk is the part of *desk.Desk the engine submits through.
type Desk interface {
	Open(ctx context.Context, req desk.OpenRequest) (desk.Result, error)
	Close(ctx context.Context, req desk.CloseRequest) (desk.Result, error)
}

type Quoter interface {
	Quote(ctx context.Context, instrument string) (float64, error)
}

type Config struct {
	Instrument         string
	ContractMultiplier float64
	TrailOffset        float64
	PollInterval       time.Duration
	ErrorBackoff       time.Duration
}

type Engine struct {
	desk   Desk
	quotes Quoter
	cfg    Config
	log    *zap.Logger
	m      *metrics.Metrics
	sleep  poll.SleepFunc

	mu     sync.Mutex
	points []*Point
	byID   map[string]*Point
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.m = m } }

func WithSleep(s poll.SleepFunc) Option { return func(e *Engine) { e.sleep = s } }

func NewEngine(d Desk, q Quoter, points []*Point, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		desk:   d,
		quotes: q,
		cfg:    cfg,
		log:    zap.NewNop(),
		byID:   map[string]*Point{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("points")
	for _, p := range points {
		p.init()
		e.points = append(e.points, p)
		e.byID[p.ID] = p
	}
	return e
}

var _ desk.FillListener = (*Engine)(nil)

// Adopt re-attaches point positions reloaded from a snapshot so their
// ladder slots stay consumed across restarts.
func (e *Engine) Adopt(positions []ledger.Position) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, pos := range positions {
		if pos.Origin == nil {
			continue
		}
		p, ok := e.byID[pos.Origin.PointID]
		if !ok {
			e.log.Warn("position references unknown point",
				zap.String("local_id", pos.LocalID), zap.String("point", pos.Origin.PointID))
			continue
		}
		p.RegisterFill(pos)
		n++
	}
	return n
}

// Run drives RunOnce until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	loop := poll.Loop{
		Name:    "points",
		Period:  e.cfg.PollInterval,
		Backoff: e.cfg.ErrorBackoff,
		Sleep:   e.sleep,
		Log:     e.log,
		OnError: func(error) { e.m.LoopError("points") },
	}
	return loop.Run(ctx, e.RunOnce)
}

type candidate struct {
	point    *Point
	tpl      OrderTemplate
	trailing bool
}

// RunOnce performs one cycle: trigger ladder entries near the quote, count
// hits, then mark holdings to market.
func (e *Engine) RunOnce(ctx context.Context) error {
	quote, err := e.quotes.Quote(ctx, e.cfg.Instrument)
	if err != nil {
		e.m.GatewayError("quote")
		return fmt.Errorf("points quote %s: %w", e.cfg.Instrument, err)
	}

	e.mu.Lock()
	var cands []candidate
	for _, p := range e.points {
		for _, t := range p.Ladder {
			if !p.near(t, quote) {
				continue
			}
			ok, why := p.CanOpen(t.Index)
			if !ok {
				if why == RefuseQuantityLimit && p.notifyLimit() {
					e.log.Info("quantity limit reached",
						zap.String("point", p.ID),
						zap.Int("limit", p.QuantityLimit),
						zap.Int("exposure", p.exposure()))
				}
				continue
			}
			cands = append(cands, candidate{point: p, tpl: t, trailing: p.useTrailing()})
			p.reserve(t.Index, t.Quantity)
			p.tradeCount++
		}
	}
	e.mu.Unlock()

	for _, c := range cands {
		e.submit(ctx, c, quote)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.points {
		if p.CheckHit(quote) {
			e.m.PointHit(p.ID)
			e.log.Info("point hit",
				zap.String("point", p.ID),
				zap.Float64("quote", quote),
				zap.Int("hit_count", p.hitCount),
				zap.Int("hit_limit", p.HitLimit))
		}
		p.UpdatePnL(quote, e.cfg.ContractMultiplier)
		for _, r := range p.RatchetTakeProfit(quote, e.cfg.TrailOffset) {
			e.log.Debug("take-profit ratcheted",
				zap.String("point", p.ID),
				zap.String("local_id", r.LocalID),
				zap.Float64("take_profit", r.To))
		}
	}
	return nil
}

func (e *Engine) submit(ctx context.Context, c candidate, quote float64) {
	p, t := c.point, c.tpl
	res, err := e.desk.Open(ctx, desk.OpenRequest{
		Instrument:  e.cfg.Instrument,
		Direction:   t.Direction,
		Qty:         t.Quantity,
		Price:       t.EntryPrice,
		StopLoss:    t.StopLoss,
		TakeProfit:  t.TakeProfit,
		Trailing:    c.trailing,
		Origin:      &ledger.Origin{PointID: p.ID, Index: t.Index},
		Strategy:    t.Strategy,
		TrailOffset: t.TrailOffset,
	})
	if err != nil {
		e.mu.Lock()
		p.release(t.Index)
		p.tradeCount--
		e.mu.Unlock()
		e.log.Warn("point entry failed",
			zap.String("point", p.ID),
			zap.Int("index", t.Index),
			zap.Error(err))
		return
	}
	e.m.PointEntry(p.ID)
	e.log.Info("point entry submitted",
		zap.String("point", p.ID),
		zap.Int("index", t.Index),
		zap.String("local_id", res.LocalID),
		zap.Stringer("direction", t.Direction),
		zap.Float64("entry_price", t.EntryPrice),
		zap.Float64("quote", quote),
		zap.Bool("trailing", c.trailing))
}

func (e *Engine) pointFor(o *ledger.Origin) *Point {
	if o == nil {
		return nil
	}
	return e.byID[o.PointID]
}

func (e *Engine) OpenFilled(pos ledger.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p := e.pointFor(pos.Origin); p != nil {
		p.RegisterFill(pos)
	}
}

func (e *Engine) OpenRejected(o *ledger.OpenOrder, status broker.OrderStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pointFor(o.Origin)
	if p == nil {
		return
	}
	p.release(o.Origin.Index)
	e.log.Info("point entry did not fill, index released",
		zap.String("point", p.ID),
		zap.Int("index", o.Origin.Index),
		zap.Stringer("status", status))
}

func (e *Engine) CloseFilled(ev desk.CloseEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p := e.pointFor(ev.Position.Origin); p != nil {
		p.RecordClose(ev.Position.LocalID, ev.Qty, ev.ExitPrice, ev.RealizedPL, ev.Reason, ev.Time)
	}
}

// Status returns every point's state, ordered by id.
func (e *Engine) Status() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Status, 0, len(e.points))
	for _, p := range e.points {
		out = append(out, p.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) PointStatus(id string) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byID[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownPoint, id)
	}
	return p.Status(), nil
}

// ClosePoint submits market closes for every open position of one point.
func (e *Engine) ClosePoint(ctx context.Context, id string) ([]desk.Result, error) {
	e.mu.Lock()
	p, ok := e.byID[id]
	var ids []string
	if ok {
		ids = p.holdingIDs()
	}
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPoint, id)
	}

	var (
		out  []desk.Result
		errs []error
	)
	for _, localID := range ids {
		res, err := e.desk.Close(ctx, desk.CloseRequest{
			LocalID: localID,
			Market:  true,
			Reason:  desk.ReasonCloseAll,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

// CloseAll runs ClosePoint for every point.
func (e *Engine) CloseAll(ctx context.Context) ([]desk.Result, error) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.points))
	for _, p := range e.points {
		ids = append(ids, p.ID)
	}
	e.mu.Unlock()

	var (
		out  []desk.Result
		errs []error
	)
	for _, id := range ids {
		res, err := e.ClosePoint(ctx, id)
		out = append(out, res...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}
