package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/futdesk/broker"
	"github.com/rustyeddy/futdesk/pkg/id"
)

// Order is one submission held by the simulated gateway.
type Order struct {
	ID          string
	Request     broker.OrderRequest
	State       broker.OrderState
	SubmittedAt time.Time
}

// Engine is an in-memory Gateway. Orders stay pending until filled, cancelled
// or failed by the caller, unless auto-fill is enabled, in which case the
// first status query fills them at the current quote.
type Engine struct {
	mu         sync.Mutex
	prices     *PriceStore
	orders     map[string]*Order
	autoFill   bool
	rejectNext int
	queryErr   error
}

var _ broker.Gateway = (*Engine)(nil)

func NewEngine() *Engine {
	return &Engine{
		prices: NewPriceStore(),
		orders: make(map[string]*Order),
	}
}

func (e *Engine) Prices() *PriceStore { return e.prices }

func (e *Engine) SetAutoFill(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoFill = on
}

// RejectNext makes the next n submissions fail with broker.ErrRejected.
func (e *Engine) RejectNext(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejectNext = n
}

// SetQueryError makes every QueryStatus call fail with err until cleared
// with nil.
func (e *Engine) SetQueryError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryErr = err
}

func (e *Engine) Quote(ctx context.Context, instrument string) (float64, error) {
	p, err := e.prices.Get(instrument)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	return p, nil
}

func (e *Engine) SubmitOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrRejected, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rejectNext > 0 {
		e.rejectNext--
		return "", fmt.Errorf("%w: simulated rejection", broker.ErrRejected)
	}

	oid := id.New()
	e.orders[oid] = &Order{
		ID:          oid,
		Request:     req,
		State:       broker.OrderState{Status: broker.Pending},
		SubmittedAt: time.Now(),
	}
	return oid, nil
}

func (e *Engine) CancelOrder(ctx context.Context, brokerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[brokerID]
	if !ok {
		return fmt.Errorf("cancel order %q: %w", brokerID, broker.ErrNotFound)
	}
	if o.State.Status.Terminal() {
		return fmt.Errorf("cancel order %q: already %s", brokerID, o.State.Status)
	}
	o.State = broker.OrderState{Status: broker.Cancelled}
	return nil
}

func (e *Engine) QueryStatus(ctx context.Context, brokerID string) (broker.OrderState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.queryErr != nil {
		return broker.OrderState{}, e.queryErr
	}

	o, ok := e.orders[brokerID]
	if !ok {
		return broker.OrderState{}, fmt.Errorf("query order %q: %w", brokerID, broker.ErrNotFound)
	}

	if e.autoFill && o.State.Status == broker.Pending {
		e.fillLocked(o, 0)
	}
	return o.State, nil
}

// Fill marks a pending order filled. A zero price fills at the current
// quote, or at the requested price when no quote is set.
func (e *Engine) Fill(brokerID string, price float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.pendingLocked(brokerID)
	if err != nil {
		return fmt.Errorf("fill: %w", err)
	}
	e.fillLocked(o, price)
	return nil
}

func (e *Engine) Cancel(brokerID string) error {
	return e.finish(brokerID, broker.Cancelled)
}

func (e *Engine) Fail(brokerID string) error {
	return e.finish(brokerID, broker.Failed)
}

func (e *Engine) finish(brokerID string, st broker.OrderStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.pendingLocked(brokerID)
	if err != nil {
		return fmt.Errorf("%s: %w", st, err)
	}
	o.State = broker.OrderState{Status: st}
	return nil
}

func (e *Engine) pendingLocked(brokerID string) (*Order, error) {
	o, ok := e.orders[brokerID]
	if !ok {
		return nil, fmt.Errorf("order %q: %w", brokerID, broker.ErrNotFound)
	}
	if o.State.Status.Terminal() {
		return nil, fmt.Errorf("order %q already %s", brokerID, o.State.Status)
	}
	return o, nil
}

func (e *Engine) fillLocked(o *Order, price float64) {
	if price <= 0 {
		if p, err := e.prices.Get(o.Request.Instrument); err == nil {
			price = p
		} else {
			price = o.Request.Price
		}
	}
	o.State = broker.OrderState{
		Status:    broker.Filled,
		FillPrice: price,
		FilledQty: o.Request.Qty,
	}
}

// Orders returns copies of every submitted order in submission order.
func (e *Engine) Orders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingOrders returns the orders still awaiting a terminal status.
func (e *Engine) PendingOrders() []Order {
	var out []Order
	for _, o := range e.Orders() {
		if o.State.Status == broker.Pending {
			out = append(out, o)
		}
	}
	return out
}
