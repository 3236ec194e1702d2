package broker

import (
	"context"
	"errors"
	"fmt"
)

// Gateway is the brokerage terminal as seen by the desk: quotes, order
// placement, cancellation and status polling. Implementations must return
// within a bounded time.
type Gateway interface {
	Quote(ctx context.Context, instrument string) (float64, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, brokerID string) error
	QueryStatus(ctx context.Context, brokerID string) (OrderState, error)
}

var (
	ErrUnavailable = errors.New("gateway unavailable")
	ErrRejected    = errors.New("order rejected")
	ErrTransient   = errors.New("transient gateway error")
	ErrNotFound    = errors.New("order not found")
)

type Side int

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// ParseSide accepts BUY/SELL in any case.
func ParseSide(s string) (Side, error) {
	switch s {
	case "BUY", "buy", "Buy":
		return Buy, nil
	case "SELL", "sell", "Sell":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

type OrderStatus int

const (
	Pending OrderStatus = iota
	Filled
	Cancelled
	Failed
)

func (s OrderStatus) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("OrderStatus(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled || s == Failed
}

// ParseStatus maps gateway status strings onto OrderStatus. Anything not
// recognised as terminal is treated as pending.
func ParseStatus(s string) OrderStatus {
	switch s {
	case "FILLED", "FILLED_ALL", "filled":
		return Filled
	case "CANCELLED", "CANCELLED_ALL", "CANCELLED_PART", "FILL_CANCELLED", "cancelled", "canceled":
		return Cancelled
	case "FAILED", "SUBMIT_FAILED", "TIMEOUT", "DISABLED", "DELETED", "failed":
		return Failed
	default:
		return Pending
	}
}

// OrderRequest is a single limit or market order. Price is always set: for
// market orders callers resolve it from a live quote first and the gateway may
// ignore it.
type OrderRequest struct {
	Instrument string
	Side       Side
	Qty        int
	Price      float64
	Market     bool
	Remark     string
}

func (r OrderRequest) Validate() error {
	if r.Instrument == "" {
		return errors.New("instrument is required")
	}
	if r.Side != Buy && r.Side != Sell {
		return fmt.Errorf("invalid side %v", r.Side)
	}
	if r.Qty <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", r.Qty)
	}
	if r.Price <= 0 {
		return fmt.Errorf("price must be positive, got %v", r.Price)
	}
	return nil
}

// OrderState is the gateway's view of one order. FillPrice is zero when the
// gateway did not report one.
type OrderState struct {
	Status    OrderStatus
	FillPrice float64
	FilledQty int
}
