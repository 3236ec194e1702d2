package ledger

import "time"

// Origin links a position to the point ladder slot that opened it.
type Origin struct {
	PointID string
	Index   int
}

// Position is one open virtual position. Quantity is always positive while
// the position is held by a Ledger.
type Position struct {
	LocalID    string
	Instrument string
	Direction  Direction
	Quantity   int
	EntryPrice float64
	StopLoss   *float64
	TakeProfit *float64

	// Price extrema since entry, used by the trailing stop.
	Highest float64
	Lowest  float64

	Trailing    bool
	Closing     bool
	Origin      *Origin
	Strategy    string
	TrailOffset float64
	OpenedAt    time.Time
}

// Observe folds a quote into the running extrema.
func (p *Position) Observe(quote float64) {
	if quote > p.Highest || p.Highest == 0 {
		p.Highest = quote
	}
	if quote < p.Lowest || p.Lowest == 0 {
		p.Lowest = quote
	}
}

// Reseed resets both extrema to price.
func (p *Position) Reseed(price float64) {
	p.Highest = price
	p.Lowest = price
}

// UnrealizedPL values the whole position at quote.
func (p Position) UnrealizedPL(quote, multiplier float64) float64 {
	return RealizedPL(p.Direction, p.EntryPrice, quote, p.Quantity, multiplier)
}

// RealizedPL is (exit-entry)*qty*multiplier for long and the negation for short.
func RealizedPL(d Direction, entry, exit float64, qty int, multiplier float64) float64 {
	return d.Sign() * (exit - entry) * float64(qty) * multiplier
}

func (p Position) clone() Position {
	c := p
	c.StopLoss = copyPrice(p.StopLoss)
	c.TakeProfit = copyPrice(p.TakeProfit)
	if p.Origin != nil {
		o := *p.Origin
		c.Origin = &o
	}
	return c
}

func copyPrice(v *float64) *float64 {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

// Price returns a pointer to v, for the optional threshold fields.
func Price(v float64) *float64 { return &v }
