package desk

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rustyeddy/futdesk/broker"
	"github.com/rustyeddy/futdesk/broker/sim"
	"github.com/rustyeddy/futdesk/journal"
	"github.com/rustyeddy/futdesk/ledger"
	"github.com/rustyeddy/futdesk/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const instr = "HK.MHI2506"

var t0 = time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)

type testJournal struct {
	mu    sync.Mutex
	fills []journal.FillRecord
}

func (j *testJournal) RecordFill(r journal.FillRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fills = append(j.fills, r)
	return nil
}

func (j *testJournal) Close() error { return nil }

func (j *testJournal) all() []journal.FillRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.FillRecord(nil), j.fills...)
}

type memSnapshots struct {
	mu    sync.Mutex
	recs  []ledger.Record
	saves int
}

func (s *memSnapshots) SaveSnapshot(recs []ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = recs
	s.saves++
	return nil
}

func (s *memSnapshots) LoadSnapshot() ([]ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs, nil
}

type testListener struct {
	opened   []ledger.Position
	rejected []*ledger.OpenOrder
	closed   []CloseEvent
}

func (l *testListener) OpenFilled(p ledger.Position) { l.opened = append(l.opened, p) }

func (l *testListener) OpenRejected(o *ledger.OpenOrder, _ broker.OrderStatus) {
	l.rejected = append(l.rejected, o)
}

func (l *testListener) CloseFilled(ev CloseEvent) { l.closed = append(l.closed, ev) }

type fixture struct {
	desk     *Desk
	gw       *sim.Engine
	journal  *testJournal
	snaps    *memSnapshots
	listener *testListener
}

func newFixture(t *testing.T, price float64) *fixture {
	t.Helper()

	gw := sim.NewEngine()
	gw.Prices().Set(instr, price)

	f := &fixture{
		gw:       gw,
		journal:  &testJournal{},
		snaps:    &memSnapshots{},
		listener: &testListener{},
	}
	f.desk = New(gw, DefaultConfig(),
		WithJournal(f.journal),
		WithSnapshots(f.snaps),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return t0 }),
	)
	f.desk.AddListener(f.listener)
	return f
}

func (f *fixture) setPrice(p float64) { f.gw.Prices().Set(instr, p) }

// openFilled opens a position and fills it at price.
func (f *fixture) openFilled(t *testing.T, req OpenRequest, price float64) string {
	t.Helper()
	if req.Instrument == "" {
		req.Instrument = instr
	}
	if req.Price == 0 && !req.Market {
		req.Price = price
	}
	res, err := f.desk.Open(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, f.gw.Fill(res.BrokerID, price))
	require.NoError(t, f.desk.ReconcileOnce(context.Background()))
	_, ok := f.desk.Ledger().Get(res.LocalID)
	require.True(t, ok)
	return res.LocalID
}

func (f *fixture) pendingCloses() []ledger.PendingEntry {
	var out []ledger.PendingEntry
	for _, e := range f.desk.Pending().List() {
		if e.Order.Kind() == ledger.KindClose {
			out = append(out, e)
		}
	}
	return out
}

func TestOpenFillCreatesPosition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)

	res, err := f.desk.Open(ctx, OpenRequest{
		Instrument: instr,
		Direction:  ledger.Long,
		Qty:        2,
		Price:      23260,
		StopLoss:   ledger.Price(23200),
	})
	require.NoError(t, err)
	assert.Equal(t, "HSI-001", res.LocalID)
	assert.Equal(t, 1, f.desk.Pending().Len())

	require.NoError(t, f.desk.ReconcileOnce(ctx))
	assert.Equal(t, 0, f.desk.Ledger().Len(), "still pending at the gateway")

	require.NoError(t, f.gw.Fill(res.BrokerID, 23255))
	require.NoError(t, f.desk.ReconcileOnce(ctx))

	p, ok := f.desk.Ledger().Get("HSI-001")
	require.True(t, ok)
	assert.Equal(t, 2, p.Quantity)
	assert.Equal(t, 23255.0, p.EntryPrice)
	assert.Equal(t, 23255.0, p.Highest)
	assert.Equal(t, 23255.0, p.Lowest)
	assert.Equal(t, 23200.0, *p.StopLoss)
	assert.Equal(t, t0, p.OpenedAt)
	assert.Equal(t, 0, f.desk.Pending().Len())

	fills := f.journal.all()
	require.Len(t, fills, 1)
	assert.Equal(t, "open", fills[0].Kind)
	assert.Equal(t, 2, fills[0].Remaining)
	assert.NotEmpty(t, fills[0].EventID)

	require.Len(t, f.listener.opened, 1)
	assert.Equal(t, 1, f.snaps.saves)
	require.Len(t, f.snaps.recs, 1)
	assert.Equal(t, "HSI-001", f.snaps.recs[0].LocalID)
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)

	tests := []struct {
		name string
		req  OpenRequest
	}{
		{"no instrument", OpenRequest{Direction: ledger.Long, Qty: 1, Price: 1}},
		{"no direction", OpenRequest{Instrument: instr, Qty: 1, Price: 1}},
		{"zero qty", OpenRequest{Instrument: instr, Direction: ledger.Long, Price: 1}},
		{"zero price", OpenRequest{Instrument: instr, Direction: ledger.Long, Qty: 1}},
		{"long stop above entry", OpenRequest{Instrument: instr, Direction: ledger.Long, Qty: 1, Price: 23260, StopLoss: ledger.Price(23300)}},
		{"long target below entry", OpenRequest{Instrument: instr, Direction: ledger.Long, Qty: 1, Price: 23260, TakeProfit: ledger.Price(23200)}},
		{"short stop below entry", OpenRequest{Instrument: instr, Direction: ledger.Short, Qty: 1, Price: 23260, StopLoss: ledger.Price(23200)}},
		{"short target above entry", OpenRequest{Instrument: instr, Direction: ledger.Short, Qty: 1, Price: 23260, TakeProfit: ledger.Price(23300)}},
		{"market stop wrong side of quote", OpenRequest{Instrument: instr, Direction: ledger.Long, Qty: 1, Market: true, StopLoss: ledger.Price(23260)}},
	}
	for _, tt := range tests {
		_, err := f.desk.Open(ctx, tt.req)
		assert.ErrorIs(t, err, ErrValidation, tt.name)
	}
	assert.Empty(t, f.gw.Orders(), "nothing reaches the gateway")
}

func TestOpenMarketNeedsQuote(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)

	res, err := f.desk.Open(ctx, OpenRequest{Instrument: instr, Direction: ledger.Short, Qty: 1, Market: true})
	require.NoError(t, err)
	assert.Equal(t, 23260.0, res.Price)
	orders := f.gw.Orders()
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Request.Market)
	assert.Equal(t, broker.Sell, orders[0].Request.Side)

	f.gw.Prices().Delete(instr)
	_, err = f.desk.Open(ctx, OpenRequest{Instrument: instr, Direction: ledger.Short, Qty: 1, Market: true})
	assert.ErrorIs(t, err, broker.ErrUnavailable)
}

func TestRejectedOpenDoesNotConsumeID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	f.gw.RejectNext(1)

	_, err := f.desk.Open(ctx, OpenRequest{Instrument: instr, Direction: ledger.Long, Qty: 1, Price: 23260})
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.ErrorIs(t, err, broker.ErrRejected)
	assert.Equal(t, 0, f.desk.Pending().Len())

	res, err := f.desk.Open(ctx, OpenRequest{Instrument: instr, Direction: ledger.Long, Qty: 1, Price: 23260})
	require.NoError(t, err)
	assert.Equal(t, "HSI-001", res.LocalID)
}

func TestStopLossScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	id := f.openFilled(t, OpenRequest{
		Direction:  ledger.Long,
		Qty:        1,
		StopLoss:   ledger.Price(23200),
		TakeProfit: ledger.Price(23350),
	}, 23260)

	f.setPrice(23280)
	require.NoError(t, f.desk.MonitorOnce(ctx))
	assert.Empty(t, f.pendingCloses())

	f.setPrice(23200)
	require.NoError(t, f.desk.MonitorOnce(ctx))
	closes := f.pendingCloses()
	require.Len(t, closes, 1)
	co := closes[0].Order.(*ledger.CloseOrder)
	assert.Equal(t, string(ReasonStopLoss), co.Reason)
	assert.Equal(t, 1, co.Qty)
	assert.True(t, co.Market)

	p, _ := f.desk.Ledger().Get(id)
	assert.True(t, p.Closing)

	// Closing positions are skipped: no second submission.
	require.NoError(t, f.desk.MonitorOnce(ctx))
	assert.Len(t, f.pendingCloses(), 1)

	require.NoError(t, f.gw.Fill(closes[0].BrokerID, 0))
	require.NoError(t, f.desk.ReconcileOnce(ctx))

	assert.Equal(t, 0, f.desk.Ledger().Len())
	assert.Empty(t, f.desk.Ledger().ClosingIDs())
	fills := f.journal.all()
	require.Len(t, fills, 2)
	assert.Equal(t, "close", fills[1].Kind)
	assert.Equal(t, (23200.0-23260.0)*1*10, fills[1].RealizedPL)
	assert.Equal(t, 0, fills[1].Remaining)

	require.Len(t, f.listener.closed, 1)
	assert.Equal(t, -600.0, f.listener.closed[0].RealizedPL)
	assert.Empty(t, f.snaps.recs)
}

func TestTakeProfitShort(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23600)
	f.openFilled(t, OpenRequest{Direction: ledger.Short, Qty: 1, TakeProfit: ledger.Price(23500)}, 23600)

	f.setPrice(23501)
	require.NoError(t, f.desk.MonitorOnce(ctx))
	assert.Empty(t, f.pendingCloses())

	f.setPrice(23500)
	require.NoError(t, f.desk.MonitorOnce(ctx))
	closes := f.pendingCloses()
	require.Len(t, closes, 1)
	co := closes[0].Order.(*ledger.CloseOrder)
	assert.Equal(t, string(ReasonTakeProfit), co.Reason)

	require.NoError(t, f.gw.Fill(closes[0].BrokerID, 23500))
	require.NoError(t, f.desk.ReconcileOnce(ctx))
	fills := f.journal.all()
	assert.Equal(t, 1000.0, fills[len(fills)-1].RealizedPL)
}

func TestTrailingStopLong(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	id := f.openFilled(t, OpenRequest{Direction: ledger.Long, Qty: 1, Trailing: true}, 23260)

	f.setPrice(23500)
	require.NoError(t, f.desk.MonitorOnce(ctx))
	p, _ := f.desk.Ledger().Get(id)
	assert.Equal(t, 23500.0, p.Highest)

	f.setPrice(23401)
	require.NoError(t, f.desk.MonitorOnce(ctx))
	assert.Empty(t, f.pendingCloses())

	f.setPrice(23400)
	require.NoError(t, f.desk.MonitorOnce(ctx))
	closes := f.pendingCloses()
	require.Len(t, closes, 1)
	assert.Equal(t, string(ReasonTrailingStop), closes[0].Order.(*ledger.CloseOrder).Reason)
}

func TestFailedCloseSubmissionReleasesPosition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	id := f.openFilled(t, OpenRequest{Direction: ledger.Long, Qty: 1, StopLoss: ledger.Price(23200)}, 23260)

	f.setPrice(23150)
	f.gw.RejectNext(1)
	require.NoError(t, f.desk.MonitorOnce(ctx))

	p, _ := f.desk.Ledger().Get(id)
	assert.False(t, p.Closing)
	assert.Empty(t, f.desk.Ledger().ClosingIDs())
	assert.Empty(t, f.pendingCloses())

	require.NoError(t, f.desk.MonitorOnce(ctx))
	assert.Len(t, f.pendingCloses(), 1, "re-evaluated on the next cycle")
}

func TestCancelledCloseRestoresAndReseeds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	id := f.openFilled(t, OpenRequest{Direction: ledger.Long, Qty: 1, Trailing: true}, 23260)

	f.setPrice(23500)
	require.NoError(t, f.desk.MonitorOnce(ctx))
	f.setPrice(23400)
	require.NoError(t, f.desk.MonitorOnce(ctx))
	closes := f.pendingCloses()
	require.Len(t, closes, 1)

	require.NoError(t, f.gw.Cancel(closes[0].BrokerID))
	f.setPrice(23410)
	require.NoError(t, f.desk.ReconcileOnce(ctx))

	p, ok := f.desk.Ledger().Get(id)
	require.True(t, ok)
	assert.False(t, p.Closing)
	assert.Equal(t, 23410.0, p.Highest)
	assert.Equal(t, 23410.0, p.Lowest)
	assert.Empty(t, f.desk.Ledger().ClosingIDs())
	assert.Equal(t, 0, f.desk.Pending().Len())

	require.NoError(t, f.desk.MonitorOnce(ctx))
	assert.Empty(t, f.pendingCloses(), "reseeded extrema do not retrigger")
}

func TestFailedCloseWithoutQuoteReseedsToEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	id := f.openFilled(t, OpenRequest{Direction: ledger.Short, Qty: 1, Trailing: true}, 23260)

	f.setPrice(23100)
	require.NoError(t, f.desk.MonitorOnce(ctx))
	p, _ := f.desk.Ledger().Get(id)
	require.Equal(t, 23100.0, p.Lowest)

	res, err := f.desk.Close(ctx, CloseRequest{LocalID: id, Price: 23300})
	require.NoError(t, err)
	require.NoError(t, f.gw.Fail(res.BrokerID))
	f.gw.Prices().Delete(instr)
	require.NoError(t, f.desk.ReconcileOnce(ctx))

	p, _ = f.desk.Ledger().Get(id)
	assert.False(t, p.Closing)
	assert.Equal(t, 23260.0, p.Lowest)
}

func TestPartialClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	id := f.openFilled(t, OpenRequest{Direction: ledger.Long, Qty: 3}, 23260)

	_, err := f.desk.Close(ctx, CloseRequest{LocalID: id, Qty: 5, Market: true})
	assert.ErrorIs(t, err, ErrInsufficientQuantity)
	_, err = f.desk.Close(ctx, CloseRequest{LocalID: id, Direction: ledger.Short, Qty: 1, Market: true})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.desk.Close(ctx, CloseRequest{LocalID: "HSI-999", Qty: 1, Market: true})
	assert.ErrorIs(t, err, ErrNotFound)

	f.setPrice(23300)
	res, err := f.desk.Close(ctx, CloseRequest{LocalID: id, Direction: ledger.Long, Qty: 1, Market: true})
	require.NoError(t, err)
	assert.Equal(t, 23300.0, res.Price)

	_, err = f.desk.Close(ctx, CloseRequest{LocalID: id, Qty: 1, Market: true})
	assert.ErrorIs(t, err, ErrClosingInFlight)

	require.NoError(t, f.gw.Fill(res.BrokerID, 0))
	require.NoError(t, f.desk.ReconcileOnce(ctx))

	p, ok := f.desk.Ledger().Get(id)
	require.True(t, ok)
	assert.Equal(t, 2, p.Quantity)
	assert.False(t, p.Closing)

	fills := f.journal.all()
	last := fills[len(fills)-1]
	assert.Equal(t, 1, last.Qty)
	assert.Equal(t, 2, last.Remaining)
	assert.Equal(t, 400.0, last.RealizedPL)
}

func TestManualCloseRacesMonitor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	id := f.openFilled(t, OpenRequest{Direction: ledger.Long, Qty: 1, StopLoss: ledger.Price(23200)}, 23260)
	f.setPrice(23100)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.desk.Close(ctx, CloseRequest{LocalID: id, Market: true}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			_ = f.desk.MonitorOnce(ctx)
		}()
	}
	wg.Wait()

	assert.Len(t, f.pendingCloses(), 1, "exactly one close outstanding")
	assert.LessOrEqual(t, wins, 1)
	assert.Equal(t, []string{id}, f.desk.Ledger().ClosingIDs())
}

func TestFillAppliedOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	f.gw.SetAutoFill(true)

	_, err := f.desk.Open(ctx, OpenRequest{Instrument: instr, Direction: ledger.Long, Qty: 2, Price: 23260})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.desk.ReconcileOnce(ctx)
		}()
	}
	wg.Wait()
	require.NoError(t, f.desk.ReconcileOnce(ctx))

	assert.Equal(t, 1, f.desk.Ledger().Len())
	assert.Equal(t, 2, f.desk.Ledger().TotalQuantity())
	assert.Len(t, f.journal.all(), 1)
}

func TestQueryErrorKeepsOrderPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	res, err := f.desk.Open(ctx, OpenRequest{Instrument: instr, Direction: ledger.Long, Qty: 1, Price: 23260})
	require.NoError(t, err)
	require.NoError(t, f.gw.Fill(res.BrokerID, 0))

	f.gw.SetQueryError(broker.ErrTransient)
	require.NoError(t, f.desk.ReconcileOnce(ctx))
	assert.Equal(t, 1, f.desk.Pending().Len())
	assert.Equal(t, 0, f.desk.Ledger().Len())

	f.gw.SetQueryError(nil)
	require.NoError(t, f.desk.ReconcileOnce(ctx))
	assert.Equal(t, 0, f.desk.Pending().Len())
	assert.Equal(t, 1, f.desk.Ledger().Len())
}

func TestCancelCommand(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)

	res, err := f.desk.Open(ctx, OpenRequest{Instrument: instr, Direction: ledger.Long, Qty: 1, Price: 23000})
	require.NoError(t, err)

	out, err := f.desk.Cancel(ctx, res.LocalID)
	require.NoError(t, err)
	assert.Contains(t, out.Message, "cancelled open order HSI-001")
	assert.Equal(t, 0, f.desk.Pending().Len())
	require.Len(t, f.listener.rejected, 1)
	assert.Empty(t, f.gw.PendingOrders())

	_, err = f.desk.Cancel(ctx, res.LocalID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Cancelling a close restores the position.
	id := f.openFilled(t, OpenRequest{Direction: ledger.Long, Qty: 1}, 23260)
	_, err = f.desk.Close(ctx, CloseRequest{LocalID: id, Price: 23400})
	require.NoError(t, err)
	_, err = f.desk.Cancel(ctx, id)
	require.NoError(t, err)
	p, _ := f.desk.Ledger().Get(id)
	assert.False(t, p.Closing)
	assert.Empty(t, f.desk.Ledger().ClosingIDs())
}

func TestCloseAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)

	_, err := f.desk.CloseAll(ctx)
	assert.ErrorIs(t, err, ErrNothingToClose)

	a := f.openFilled(t, OpenRequest{Direction: ledger.Long, Qty: 1}, 23260)
	b := f.openFilled(t, OpenRequest{Direction: ledger.Short, Qty: 2}, 23260)
	c := f.openFilled(t, OpenRequest{Direction: ledger.Long, Qty: 1}, 23260)

	_, err = f.desk.Close(ctx, CloseRequest{LocalID: c, Price: 23300})
	require.NoError(t, err)

	results, err := f.desk.CloseAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, a, results[0].LocalID)
	assert.Equal(t, b, results[1].LocalID)
	assert.Equal(t, 2, results[1].Qty)
	assert.Len(t, f.pendingCloses(), 3)
}

func TestRestoreSeedsSequence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	f.snaps.recs = []ledger.Record{
		{LocalID: "HSI-007", Instrument: instr, Direction: ledger.Long, Quantity: 1, EntryPrice: 23000, IsOpen: true, IsClosing: true},
		{LocalID: "HSI-009", Instrument: instr, Direction: ledger.Short, Quantity: 1, EntryPrice: 23100, IsOpen: false},
	}

	n, err := f.desk.Restore()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, ok := f.desk.Ledger().Get("HSI-007")
	require.True(t, ok)
	assert.False(t, p.Closing, "reloaded positions are monitorable")

	res, err := f.desk.Open(ctx, OpenRequest{Instrument: instr, Direction: ledger.Long, Qty: 1, Price: 23260})
	require.NoError(t, err)
	assert.Equal(t, "HSI-010", res.LocalID)
}

func TestRestoreKeepsGoodRowsOfDamagedSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "virtual_orders.csv")
	damaged := "id,code,direction,quantity,entry_price,is_open\n" +
		"HSI-003,HK.MHI2506,long,2,23260.0,True\n" +
		"HSI-005,HK.MHI2506,sideways,1,23300.0,True\n"
	require.NoError(t, os.WriteFile(path, []byte(damaged), 0o644))

	gw := sim.NewEngine()
	gw.Prices().Set(instr, 23260)
	snaps := journal.NewCSVSnapshot(path)
	d := New(gw, DefaultConfig(), WithSnapshots(snaps), WithLogger(zaptest.NewLogger(t)))

	n, err := d.Restore()
	require.ErrorIs(t, err, ErrPersistence)
	assert.ErrorContains(t, err, "sideways")
	assert.Equal(t, 1, n)

	p, ok := d.Ledger().Get("HSI-003")
	require.True(t, ok)
	assert.Equal(t, 2, p.Quantity)

	res, err := d.Open(ctx, OpenRequest{Instrument: instr, Direction: ledger.Long, Qty: 1, Price: 23260})
	require.NoError(t, err)
	assert.Equal(t, "HSI-006", res.LocalID, "skipped ids are not reused")

	require.NoError(t, d.SaveSnapshot())
	recs, err := snaps.LoadSnapshot()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "HSI-003", recs[0].LocalID)

	kept, err := filepath.Glob(path + ".*.bak")
	require.NoError(t, err)
	require.Len(t, kept, 1)
	data, err := os.ReadFile(kept[0])
	require.NoError(t, err)
	assert.Equal(t, damaged, string(data))
}

func TestMonitorSkipsOnlyUnquotedInstrument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	f.openFilled(t, OpenRequest{Direction: ledger.Long, Qty: 1, StopLoss: ledger.Price(23200)}, 23260)

	other := "HK.HSI2506"
	f.gw.Prices().Set(other, 18000)
	f.openFilled(t, OpenRequest{Instrument: other, Direction: ledger.Long, Qty: 1, StopLoss: ledger.Price(17900)}, 18000)

	f.gw.Prices().Delete(other)
	f.setPrice(23100)
	require.NoError(t, f.desk.MonitorOnce(ctx))

	closes := f.pendingCloses()
	require.Len(t, closes, 1)
	assert.Equal(t, instr, closes[0].Order.Info().Instrument)
}

func TestCloseFillForUnknownPositionIsDropped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	id := f.openFilled(t, OpenRequest{Direction: ledger.Long, Qty: 1}, 23260)

	res, err := f.desk.Close(ctx, CloseRequest{LocalID: id, Price: 23300})
	require.NoError(t, err)

	// The position disappears behind the reconciler's back.
	_, err = f.desk.Ledger().ApplyClose(id, ledger.Long, 1)
	require.NoError(t, err)

	require.NoError(t, f.gw.Fill(res.BrokerID, 23300))
	require.NoError(t, f.desk.ReconcileOnce(ctx))
	assert.Equal(t, 0, f.desk.Pending().Len())
	assert.Len(t, f.journal.all(), 1, "only the open was journaled")
}

func TestStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 23260)
	f.openFilled(t, OpenRequest{Direction: ledger.Long, Qty: 2}, 23260)
	f.openFilled(t, OpenRequest{Direction: ledger.Short, Qty: 1}, 23300)
	_, err := f.desk.Open(ctx, OpenRequest{Instrument: instr, Direction: ledger.Long, Qty: 1, Price: 23000})
	require.NoError(t, err)

	f.setPrice(23280)
	st := f.desk.Status(ctx)
	require.Len(t, st.Positions, 2)
	assert.True(t, st.Positions[0].HasQuote)
	assert.Equal(t, 400.0, st.Positions[0].FloatingPL)
	assert.Equal(t, 200.0, st.Positions[1].FloatingPL)
	assert.Equal(t, 600.0, st.FloatingPL)
	assert.Len(t, st.Pending, 1)
}

func TestRunLoopsStopOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		calls++
		if calls >= 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	gw := sim.NewEngine()
	d := New(gw, DefaultConfig(), WithSleep(sleep), WithLogger(zaptest.NewLogger(t)))
	assert.ErrorIs(t, d.RunReconciler(ctx), context.Canceled)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	cancel2()
	assert.ErrorIs(t, d.RunMonitor(ctx2), context.Canceled)
}
