package desk

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/futdesk/broker"
	"github.com/rustyeddy/futdesk/ledger"
	"go.uber.org/zap"
)

type OpenRequest struct {
	Instrument string
	Direction  ledger.Direction
	Qty        int
	Price      float64 // ignored when Market is set
	Market     bool
	StopLoss   *float64
	TakeProfit *float64
	Trailing   bool

	// Set by the point engine.
	Origin      *ledger.Origin
	Strategy    string
	TrailOffset float64
}

type CloseRequest struct {
	LocalID   string
	Direction ledger.Direction // zero means the position's own direction
	Qty       int              // zero means the full open quantity
	Price     float64
	Market    bool
	Reason    Reason
}

// Result is what a command reports back on success.
type Result struct {
	LocalID  string
	BrokerID string
	Qty      int
	Price    float64
	Message  string
}

func (r Result) String() string { return r.Message }

// Open submits an open order and adds it to the pending table. The local id
// is only consumed when the gateway accepts the order.
func (d *Desk) Open(ctx context.Context, req OpenRequest) (Result, error) {
	if req.Instrument == "" {
		return Result{}, invalid("instrument", "is required")
	}
	if !req.Direction.Valid() {
		return Result{}, invalid("direction", "must be long or short")
	}
	if req.Qty <= 0 {
		return Result{}, invalid("quantity", "must be positive, got %d", req.Qty)
	}

	price, err := d.resolvePrice(ctx, req.Instrument, req.Price, req.Market)
	if err != nil {
		return Result{}, err
	}
	if err := checkThresholds(req.Direction, price, req.StopLoss, req.TakeProfit); err != nil {
		return Result{}, err
	}

	order := &ledger.OpenOrder{
		OrderInfo: ledger.OrderInfo{
			Instrument: req.Instrument,
			Direction:  req.Direction,
			Qty:        req.Qty,
			Price:      price,
			Market:     req.Market,
		},
		StopLoss:    req.StopLoss,
		TakeProfit:  req.TakeProfit,
		Trailing:    req.Trailing,
		Origin:      req.Origin,
		Strategy:    req.Strategy,
		TrailOffset: req.TrailOffset,
	}

	var brokerID string
	localID, err := d.seq.Allocate(func(localID string) error {
		bid, err := d.gw.SubmitOrder(ctx, broker.OrderRequest{
			Instrument: req.Instrument,
			Side:       req.Direction.OpenSide(),
			Qty:        req.Qty,
			Price:      price,
			Market:     req.Market,
			Remark:     localID,
		})
		if err != nil {
			return err
		}
		brokerID = bid
		order.LocalID = localID
		order.BrokerID = bid
		order.SubmittedAt = d.now()
		d.pending.Add(bid, order)
		return nil
	})
	if err != nil {
		d.metrics.OrderRejected(ledger.KindOpen.String())
		d.log.Warn("open rejected",
			zap.Error(err),
			zap.String("instrument", req.Instrument),
			zap.Stringer("direction", req.Direction),
			zap.Int("qty", req.Qty),
			zap.Float64("price", price),
		)
		return Result{}, fmt.Errorf("open %s %s x%d: %w: %w", req.Instrument, req.Direction, req.Qty, ErrOrderRejected, err)
	}

	d.metrics.OrderSubmitted(ledger.KindOpen.String())
	d.metrics.SetBook(d.ledger.Len(), d.pending.Len())
	d.log.Info("open submitted",
		zap.String("local_id", localID),
		zap.String("broker_id", brokerID),
		zap.String("instrument", req.Instrument),
		zap.Stringer("direction", req.Direction),
		zap.Int("qty", req.Qty),
		zap.Float64("price", price),
		zap.Bool("trailing", req.Trailing),
	)
	return Result{
		LocalID:  localID,
		BrokerID: brokerID,
		Qty:      req.Qty,
		Price:    price,
		Message:  fmt.Sprintf("submitted open %s %s %s x%d @ %.2f", localID, req.Instrument, req.Direction, req.Qty, price),
	}, nil
}

// Close claims the position and submits a closing order for it.
func (d *Desk) Close(ctx context.Context, req CloseRequest) (Result, error) {
	pos, ok := d.ledger.Get(req.LocalID)
	if !ok {
		return Result{}, fmt.Errorf("close %s: %w: no open position", req.LocalID, ErrNotFound)
	}
	if req.Direction != 0 && req.Direction != pos.Direction {
		return Result{}, fmt.Errorf("close %s %s: %w: no open position in that direction", req.LocalID, req.Direction, ErrNotFound)
	}
	qty := req.Qty
	if qty == 0 {
		qty = pos.Quantity
	}
	if qty < 0 {
		return Result{}, invalid("quantity", "must be positive, got %d", qty)
	}
	if qty > pos.Quantity {
		return Result{}, fmt.Errorf("close %s: %w: want %d, open %d", req.LocalID, ErrInsufficientQuantity, qty, pos.Quantity)
	}
	reason := req.Reason
	if reason == "" {
		reason = ReasonManual
	}

	claimed, err := d.ledger.ClaimClose(req.LocalID)
	if errors.Is(err, ledger.ErrClosing) {
		return Result{}, fmt.Errorf("close %s: %w", req.LocalID, ErrClosingInFlight)
	}
	if err != nil {
		return Result{}, fmt.Errorf("close %s: %w: %w", req.LocalID, ErrNotFound, err)
	}
	if qty > claimed.Quantity {
		d.ledger.ReleaseClose(req.LocalID)
		return Result{}, fmt.Errorf("close %s: %w: want %d, open %d", req.LocalID, ErrInsufficientQuantity, qty, claimed.Quantity)
	}

	price, err := d.resolvePrice(ctx, claimed.Instrument, req.Price, req.Market)
	if err != nil {
		d.ledger.ReleaseClose(req.LocalID)
		return Result{}, err
	}
	return d.submitClaimed(ctx, claimed, qty, price, req.Market, reason)
}

// submitClaimed sends a close for a position already claimed via
// ClaimClose. The claim is released if the gateway refuses the order.
func (d *Desk) submitClaimed(ctx context.Context, pos ledger.Position, qty int, price float64, market bool, reason Reason) (Result, error) {
	brokerID, err := d.gw.SubmitOrder(ctx, broker.OrderRequest{
		Instrument: pos.Instrument,
		Side:       pos.Direction.CloseSide(),
		Qty:        qty,
		Price:      price,
		Market:     market,
		Remark:     pos.LocalID,
	})
	if err != nil {
		d.ledger.ReleaseClose(pos.LocalID)
		d.metrics.OrderRejected(ledger.KindClose.String())
		d.log.Warn("close rejected, position released",
			zap.Error(err),
			zap.String("local_id", pos.LocalID),
			zap.String("reason", string(reason)),
		)
		return Result{}, fmt.Errorf("close %s: %w: %w", pos.LocalID, ErrOrderRejected, err)
	}

	d.pending.Add(brokerID, &ledger.CloseOrder{
		OrderInfo: ledger.OrderInfo{
			LocalID:     pos.LocalID,
			BrokerID:    brokerID,
			Instrument:  pos.Instrument,
			Direction:   pos.Direction,
			Qty:         qty,
			Price:       price,
			Market:      market,
			SubmittedAt: d.now(),
		},
		Reason: string(reason),
	})

	d.metrics.OrderSubmitted(ledger.KindClose.String())
	d.metrics.SetBook(d.ledger.Len(), d.pending.Len())
	d.log.Info("close submitted",
		zap.String("local_id", pos.LocalID),
		zap.String("broker_id", brokerID),
		zap.Stringer("direction", pos.Direction),
		zap.Int("qty", qty),
		zap.Float64("price", price),
		zap.String("reason", string(reason)),
	)
	return Result{
		LocalID:  pos.LocalID,
		BrokerID: brokerID,
		Qty:      qty,
		Price:    price,
		Message:  fmt.Sprintf("submitted close %s x%d @ %.2f (%s)", pos.LocalID, qty, price, reason),
	}, nil
}

// CloseAll submits a full market close for every position not already
// closing. Failures are collected and returned together.
func (d *Desk) CloseAll(ctx context.Context) ([]Result, error) {
	var (
		out  []Result
		errs []error
		seen int
	)
	for _, p := range d.ledger.Snapshot() {
		if p.Closing {
			continue
		}
		seen++
		res, err := d.Close(ctx, CloseRequest{
			LocalID:   p.LocalID,
			Direction: p.Direction,
			Market:    true,
			Reason:    ReasonCloseAll,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, res)
	}
	if seen == 0 {
		return nil, ErrNothingToClose
	}
	return out, errors.Join(errs...)
}

// Cancel asks the gateway to cancel the pending order carrying localID and
// applies the cancellation locally, exactly as if the reconciler had seen it.
func (d *Desk) Cancel(ctx context.Context, localID string) (Result, error) {
	brokerID, _, ok := d.pending.FindByLocalID(localID)
	if !ok {
		return Result{}, fmt.Errorf("cancel %s: %w: no pending order", localID, ErrNotFound)
	}
	if err := d.gw.CancelOrder(ctx, brokerID); err != nil {
		d.metrics.GatewayError("cancel_order")
		return Result{}, fmt.Errorf("cancel %s: %w", localID, err)
	}

	o, ok := d.pending.Remove(brokerID)
	if !ok {
		return Result{}, fmt.Errorf("cancel %s: %w: order settled before cancel", localID, ErrNotFound)
	}
	d.applyTerminal(ctx, brokerID, o, broker.OrderState{Status: broker.Cancelled})
	d.persist()

	return Result{
		LocalID:  localID,
		BrokerID: brokerID,
		Message:  fmt.Sprintf("cancelled %s order %s", o.Kind(), localID),
	}, nil
}

func (d *Desk) resolvePrice(ctx context.Context, instrument string, price float64, market bool) (float64, error) {
	if !market {
		if price <= 0 {
			return 0, invalid("price", "must be positive, got %v", price)
		}
		return price, nil
	}
	q, err := d.gw.Quote(ctx, instrument)
	if err != nil {
		d.metrics.GatewayError("quote")
		return 0, fmt.Errorf("market price for %s: %w", instrument, err)
	}
	return q, nil
}

// checkThresholds rejects a stop-loss or take-profit on the wrong side of
// the entry price.
func checkThresholds(dir ledger.Direction, entry float64, sl, tp *float64) error {
	if dir == ledger.Long {
		if sl != nil && *sl >= entry {
			return invalid("stop_loss", "%.2f must be below entry %.2f for long", *sl, entry)
		}
		if tp != nil && *tp <= entry {
			return invalid("take_profit", "%.2f must be above entry %.2f for long", *tp, entry)
		}
		return nil
	}
	if sl != nil && *sl <= entry {
		return invalid("stop_loss", "%.2f must be above entry %.2f for short", *sl, entry)
	}
	if tp != nil && *tp >= entry {
		return invalid("take_profit", "%.2f must be below entry %.2f for short", *tp, entry)
	}
	return nil
}
