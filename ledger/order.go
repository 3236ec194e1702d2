package ledger

import "time"

type Kind int

const (
	KindOpen Kind = iota + 1
	KindClose
)

func (k Kind) String() string {
	if k == KindClose {
		return "close"
	}
	return "open"
}

// Order is a pending submission, either *OpenOrder or *CloseOrder.
type Order interface {
	Kind() Kind
	Info() OrderInfo
}

// OrderInfo holds the fields shared by both order kinds.
type OrderInfo struct {
	LocalID     string
	BrokerID    string
	Instrument  string
	Direction   Direction
	Qty         int
	Price       float64
	Market      bool
	SubmittedAt time.Time
}

type OpenOrder struct {
	OrderInfo
	StopLoss    *float64
	TakeProfit  *float64
	Trailing    bool
	Origin      *Origin
	Strategy    string
	TrailOffset float64
}

func (o *OpenOrder) Kind() Kind      { return KindOpen }
func (o *OpenOrder) Info() OrderInfo { return o.OrderInfo }

// Position builds the position that results from filling o at price.
func (o *OpenOrder) Position(price float64, at time.Time) Position {
	p := Position{
		LocalID:     o.LocalID,
		Instrument:  o.Instrument,
		Direction:   o.Direction,
		Quantity:    o.Qty,
		EntryPrice:  price,
		StopLoss:    copyPrice(o.StopLoss),
		TakeProfit:  copyPrice(o.TakeProfit),
		Trailing:    o.Trailing,
		Strategy:    o.Strategy,
		TrailOffset: o.TrailOffset,
		OpenedAt:    at,
	}
	if o.Origin != nil {
		org := *o.Origin
		p.Origin = &org
	}
	p.Reseed(price)
	return p
}

// CloseOrder reduces the position with the same LocalID.
type CloseOrder struct {
	OrderInfo
	Reason string
}

func (o *CloseOrder) Kind() Kind      { return KindClose }
func (o *CloseOrder) Info() OrderInfo { return o.OrderInfo }
