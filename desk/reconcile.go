package desk

import (
	"context"
	"fmt"

	"github.com/rustyeddy/futdesk/broker"
	"github.com/rustyeddy/futdesk/journal"
	"github.com/rustyeddy/futdesk/ledger"
	"go.uber.org/zap"
)

// RunReconciler polls pending orders until ctx is cancelled.
func (d *Desk) RunReconciler(ctx context.Context) error {
	return d.loop("reconcile").Run(ctx, d.ReconcileOnce)
}

// ReconcileOnce queries every pending order once and applies the terminal
// ones. Query failures leave the order pending for the next cycle.
func (d *Desk) ReconcileOnce(ctx context.Context) error {
	applied := 0
	for _, brokerID := range d.pending.Keys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := d.pending.Get(brokerID); !ok {
			continue
		}

		st, err := d.gw.QueryStatus(ctx, brokerID)
		if err != nil {
			d.metrics.GatewayError("query_status")
			d.log.Warn("status query failed", zap.String("broker_id", brokerID), zap.Error(err))
			continue
		}
		if !st.Status.Terminal() {
			continue
		}

		// Remove decides which caller applies the status.
		o, ok := d.pending.Remove(brokerID)
		if !ok {
			continue
		}
		d.applyTerminal(ctx, brokerID, o, st)
		applied++
	}

	if applied > 0 {
		d.persist()
	}
	d.metrics.SetBook(d.ledger.Len(), d.pending.Len())
	return nil
}

func (d *Desk) applyTerminal(ctx context.Context, brokerID string, o ledger.Order, st broker.OrderState) {
	d.metrics.Terminal(st.Status.String())
	switch o := o.(type) {
	case *ledger.OpenOrder:
		if st.Status == broker.Filled {
			d.applyOpenFill(brokerID, o, st)
			return
		}
		d.log.Warn("open order ended without fill",
			zap.String("local_id", o.LocalID),
			zap.String("broker_id", brokerID),
			zap.Stringer("status", st.Status),
		)
		for _, l := range d.listenersSnapshot() {
			l.OpenRejected(o, st.Status)
		}

	case *ledger.CloseOrder:
		if st.Status == broker.Filled {
			d.applyCloseFill(brokerID, o, st)
			return
		}
		d.restoreAfterFailedClose(ctx, brokerID, o, st.Status)
	}
}

func fillPrice(st broker.OrderState, requested float64) float64 {
	if st.FillPrice > 0 {
		return st.FillPrice
	}
	return requested
}

func (d *Desk) applyOpenFill(brokerID string, o *ledger.OpenOrder, st broker.OrderState) {
	now := d.now()
	price := fillPrice(st, o.Price)
	pos := o.Position(price, now)

	if err := d.ledger.Add(pos); err != nil {
		d.log.Error("open fill dropped",
			zap.Error(fmt.Errorf("%w: %w", ErrReconciliationMismatch, err)),
			zap.String("local_id", o.LocalID),
			zap.String("broker_id", brokerID),
		)
		return
	}

	d.metrics.Fill(ledger.KindOpen.String())
	reason := "manual"
	if o.Origin != nil {
		reason = fmt.Sprintf("point:%s#%d", o.Origin.PointID, o.Origin.Index)
	}
	d.record(journal.FillRecord{
		Time:       now,
		LocalID:    o.LocalID,
		BrokerID:   brokerID,
		Instrument: o.Instrument,
		Direction:  o.Direction.String(),
		Kind:       ledger.KindOpen.String(),
		Qty:        pos.Quantity,
		Price:      price,
		Remaining:  pos.Quantity,
		Reason:     reason,
	})
	d.log.Info("position opened",
		zap.String("local_id", pos.LocalID),
		zap.String("broker_id", brokerID),
		zap.String("instrument", pos.Instrument),
		zap.Stringer("direction", pos.Direction),
		zap.Int("qty", pos.Quantity),
		zap.Float64("price", price),
	)

	for _, l := range d.listenersSnapshot() {
		l.OpenFilled(pos)
	}
}

func (d *Desk) applyCloseFill(brokerID string, o *ledger.CloseOrder, st broker.OrderState) {
	now := d.now()
	price := fillPrice(st, o.Price)

	res, err := d.ledger.ApplyClose(o.LocalID, o.Direction, o.Qty)
	if err != nil {
		d.log.Error("close fill dropped",
			zap.Error(fmt.Errorf("%w: %w", ErrReconciliationMismatch, err)),
			zap.String("local_id", o.LocalID),
			zap.String("broker_id", brokerID),
		)
		return
	}

	pl := ledger.RealizedPL(o.Direction, res.Position.EntryPrice, price, res.Closed, d.cfg.ContractMultiplier)
	d.metrics.Fill(ledger.KindClose.String())
	d.metrics.AddRealized(pl)
	d.record(journal.FillRecord{
		Time:       now,
		LocalID:    o.LocalID,
		BrokerID:   brokerID,
		Instrument: o.Instrument,
		Direction:  o.Direction.String(),
		Kind:       ledger.KindClose.String(),
		Qty:        res.Closed,
		Price:      price,
		Remaining:  res.Remaining,
		RealizedPL: pl,
		Reason:     o.Reason,
	})
	d.log.Info("position reduced",
		zap.String("local_id", o.LocalID),
		zap.String("broker_id", brokerID),
		zap.Int("qty", res.Closed),
		zap.Int("remaining", res.Remaining),
		zap.Float64("price", price),
		zap.Float64("realized_pl", pl),
		zap.String("reason", o.Reason),
	)

	ev := CloseEvent{
		Position:   res.Position,
		Qty:        res.Closed,
		ExitPrice:  price,
		RealizedPL: pl,
		Remaining:  res.Remaining,
		Reason:     o.Reason,
		Time:       now,
	}
	for _, l := range d.listenersSnapshot() {
		l.CloseFilled(ev)
	}
}

// restoreAfterFailedClose makes a position whose close was cancelled or
// failed monitorable again. Trailing extrema restart from the current quote,
// or from the entry price when no quote is available.
func (d *Desk) restoreAfterFailedClose(ctx context.Context, brokerID string, o *ledger.CloseOrder, status broker.OrderStatus) {
	pos, ok := d.ledger.Get(o.LocalID)
	if !ok {
		d.log.Error("close terminal for unknown position",
			zap.Error(ErrReconciliationMismatch),
			zap.String("local_id", o.LocalID),
			zap.String("broker_id", brokerID),
		)
		return
	}

	reseed := pos.EntryPrice
	if pos.Trailing {
		if q, err := d.gw.Quote(ctx, pos.Instrument); err == nil {
			reseed = q
		} else {
			d.metrics.GatewayError("quote")
		}
	}

	if _, err := d.ledger.Restore(o.LocalID, reseed); err != nil {
		d.log.Error("restore failed", zap.Error(err), zap.String("local_id", o.LocalID))
		return
	}
	d.log.Warn("close ended without fill, position restored",
		zap.String("local_id", o.LocalID),
		zap.String("broker_id", brokerID),
		zap.Stringer("status", status),
		zap.Float64("reseed", reseed),
	)
}
