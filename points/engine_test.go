package points

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rustyeddy/futdesk/broker/sim"
	"github.com/rustyeddy/futdesk/desk"
	"github.com/rustyeddy/futdesk/ledger"
	"github.com/rustyeddy/futdesk/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const instr = "HK.MHI2506"

type harness struct {
	gw     *sim.Engine
	desk   *desk.Desk
	engine *Engine
	reg    *prometheus.Registry
}

func newHarness(t *testing.T, p *Point) *harness {
	t.Helper()

	gw := sim.NewEngine()
	gw.Prices().Set(instr, p.HitPrice)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := zaptest.NewLogger(t)

	d := desk.New(gw, desk.DefaultConfig(),
		desk.WithMetrics(m),
		desk.WithLogger(log),
		desk.WithClock(func() time.Time { return time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC) }),
	)
	e := NewEngine(d, gw, []*Point{p}, Config{
		Instrument:         instr,
		ContractMultiplier: d.Config().ContractMultiplier,
		TrailOffset:        50,
	}, WithLogger(log), WithMetrics(m))
	d.AddListener(e)
	return &harness{gw: gw, desk: d, engine: e, reg: reg}
}

func (h *harness) cycle(t *testing.T, quote float64) int {
	t.Helper()
	before := len(h.gw.Orders())
	h.gw.Prices().Set(instr, quote)
	require.NoError(t, h.engine.RunOnce(context.Background()))
	return len(h.gw.Orders()) - before
}

func (h *harness) openOrders() []*ledger.OpenOrder {
	var out []*ledger.OpenOrder
	for _, e := range h.desk.Pending().List() {
		if o, ok := e.Order.(*ledger.OpenOrder); ok {
			out = append(out, o)
		}
	}
	return out
}

func scenarioPoint() *Point {
	p := &Point{
		ID:            "DS1",
		HitPrice:      23000,
		Tolerance:     2,
		HitLimit:      2,
		AllowHit:      true,
		AllowEntry:    true,
		QtyPerEntry:   1,
		QuantityLimit: 10,
		Ladder: []OrderTemplate{
			{Index: 0, EntryPrice: 22999, Direction: ledger.Long, Quantity: 1,
				StopLoss: ledger.Price(22900), TakeProfit: ledger.Price(23100)},
			{Index: 1, EntryPrice: 23001, Direction: ledger.Long, Quantity: 1,
				StopLoss: ledger.Price(22900), TakeProfit: ledger.Price(23100)},
		},
	}
	return p
}

func TestHitLimitBoundsEntries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scenarioPoint())

	assert.Equal(t, 1, h.cycle(t, 22998))
	assert.Equal(t, 1, h.cycle(t, 23002))
	assert.Equal(t, 0, h.cycle(t, 23000))

	st, err := h.engine.PointStatus("DS1")
	require.NoError(t, err)
	assert.Equal(t, 2, st.HitCount)
	assert.Equal(t, 2, st.TradeCount)
	assert.Equal(t, 2, st.Reserved)
	assert.Equal(t, 2.0, h.counter(t, "futdesk_point_hits_total"))
	assert.Equal(t, 2.0, h.counter(t, "futdesk_point_entries_total"))
}

func TestHitLimitCountedAfterSameCycleEntries(t *testing.T) {
	t.Parallel()

	p := scenarioPoint()
	p.HitLimit = 1
	p.Ladder = append(p.Ladder, OrderTemplate{Index: 2, EntryPrice: 23000, Direction: ledger.Long, Quantity: 1})
	h := newHarness(t, p)

	assert.Equal(t, 3, h.cycle(t, 23000), "every template in tolerance enters before the hit is counted")
	assert.Equal(t, 0, h.cycle(t, 23000))

	st, err := h.engine.PointStatus("DS1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.HitCount)
	assert.Equal(t, 3, st.TradeCount)
	assert.Equal(t, 1.0, h.counter(t, "futdesk_point_hits_total"))
}

func (h *harness) counter(t *testing.T, name string) float64 {
	t.Helper()
	mfs, err := h.reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func TestParityAlternatesExitMode(t *testing.T) {
	t.Parallel()

	p := scenarioPoint()
	p.Ladder[1].EntryPrice = 22999
	h := newHarness(t, p)

	assert.Equal(t, 2, h.cycle(t, 22999))

	orders := h.openOrders()
	require.Len(t, orders, 2)
	byIndex := map[int]*ledger.OpenOrder{}
	for _, o := range orders {
		require.NotNil(t, o.Origin)
		assert.Equal(t, "DS1", o.Origin.PointID)
		assert.Equal(t, 22999.0, o.Price)
		assert.False(t, o.Market)
		byIndex[o.Origin.Index] = o
	}
	assert.False(t, byIndex[0].Trailing, "first trade uses fixed thresholds")
	assert.True(t, byIndex[1].Trailing, "second trade trails")
	assert.Equal(t, 23100.0, *byIndex[0].TakeProfit)
}

func TestFillCloseRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scenarioPoint())
	ctx := context.Background()

	require.Equal(t, 1, h.cycle(t, 22998))
	orders := h.gw.PendingOrders()
	require.Len(t, orders, 1)
	require.NoError(t, h.gw.Fill(orders[0].ID, 22999))
	require.NoError(t, h.desk.ReconcileOnce(ctx))

	st, err := h.engine.PointStatus("DS1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalQuantity)
	assert.Zero(t, st.Reserved)
	assert.Equal(t, "filled", st.Slots[0])
	require.Len(t, st.Holdings, 1)
	localID := st.Holdings[0].LocalID
	assert.Equal(t, "HSI-001", localID)

	h.gw.Prices().Set(instr, 23019)
	res, err := h.engine.ClosePoint(ctx, "DS1")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, localID, res[0].LocalID)

	closes := h.gw.PendingOrders()
	require.Len(t, closes, 1)
	require.NoError(t, h.gw.Fill(closes[0].ID, 23019))
	require.NoError(t, h.desk.ReconcileOnce(ctx))

	st, err = h.engine.PointStatus("DS1")
	require.NoError(t, err)
	assert.Zero(t, st.TotalQuantity)
	assert.Empty(t, st.Holdings)
	require.Len(t, st.Trades, 1)
	assert.InDelta(t, 200, st.Trades[0].PnL, 1e-9)
	assert.InDelta(t, 200, st.RealizedPL, 1e-9)
	assert.Equal(t, string(desk.ReasonCloseAll), st.Trades[0].Reason)

	// consumed for good
	h.cycle(t, 22998)
	assert.Empty(t, h.gw.PendingOrders())
}

func TestRejectedSubmitReleasesIndex(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scenarioPoint())
	h.gw.RejectNext(1)

	assert.Equal(t, 0, h.cycle(t, 22998))
	st, err := h.engine.PointStatus("DS1")
	require.NoError(t, err)
	assert.Equal(t, "unconsumed", st.Slots[0])
	assert.Zero(t, st.TradeCount)
	assert.Zero(t, st.Reserved)

	assert.Equal(t, 1, h.cycle(t, 22998))
}

func TestCancelledEntryReleasesIndex(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scenarioPoint())
	require.Equal(t, 1, h.cycle(t, 22998))
	orders := h.gw.PendingOrders()
	require.Len(t, orders, 1)
	require.NoError(t, h.gw.Cancel(orders[0].ID))
	require.NoError(t, h.desk.ReconcileOnce(context.Background()))

	st, err := h.engine.PointStatus("DS1")
	require.NoError(t, err)
	assert.Equal(t, "unconsumed", st.Slots[0])
	assert.Zero(t, st.TotalQuantity)
	assert.Empty(t, h.desk.Ledger().Snapshot())
}

func TestQuoteFailureIsCycleError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scenarioPoint())
	h.gw.Prices().Delete(instr)
	assert.Error(t, h.engine.RunOnce(context.Background()))
}

func TestAdoptKeepsSlotsConsumed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scenarioPoint())
	n := h.engine.Adopt([]ledger.Position{
		{LocalID: "HSI-004", Direction: ledger.Long, Quantity: 1, EntryPrice: 22999,
			Origin: &ledger.Origin{PointID: "DS1", Index: 0}},
		{LocalID: "HSI-005", Direction: ledger.Long, Quantity: 1, EntryPrice: 22999},
		{LocalID: "HSI-006", Direction: ledger.Long, Quantity: 1, EntryPrice: 22999,
			Origin: &ledger.Origin{PointID: "GONE", Index: 0}},
	})
	assert.Equal(t, 1, n)

	st, err := h.engine.PointStatus("DS1")
	require.NoError(t, err)
	assert.Equal(t, "filled", st.Slots[0])
	assert.Equal(t, 1, st.TotalQuantity)
}

func TestUnknownPoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scenarioPoint())
	_, err := h.engine.PointStatus("X")
	assert.ErrorIs(t, err, ErrUnknownPoint)
	_, err = h.engine.ClosePoint(context.Background(), "X")
	assert.ErrorIs(t, err, ErrUnknownPoint)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scenarioPoint())
	h.engine.cfg.PollInterval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}
