package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Record is the persisted form of one open position.
type Record struct {
	LocalID     string    `json:"local_id" yaml:"local_id"`
	Instrument  string    `json:"instrument" yaml:"instrument"`
	Direction   Direction `json:"direction" yaml:"direction"`
	Quantity    int       `json:"quantity" yaml:"quantity"`
	EntryPrice  float64   `json:"entry_price" yaml:"entry_price"`
	IsOpen      bool      `json:"is_open" yaml:"is_open"`
	StopLoss    *float64  `json:"stop_loss,omitempty" yaml:"stop_loss,omitempty"`
	TakeProfit  *float64  `json:"take_profit,omitempty" yaml:"take_profit,omitempty"`
	Highest     *float64  `json:"highest_price,omitempty" yaml:"highest_price,omitempty"`
	Lowest      *float64  `json:"lowest_price,omitempty" yaml:"lowest_price,omitempty"`
	IsClosing   bool      `json:"is_closing" yaml:"is_closing"`
	Trailing    bool      `json:"trailing,omitempty" yaml:"trailing,omitempty"`
	PointID     string    `json:"point_id,omitempty" yaml:"point_id,omitempty"`
	PointIndex  int       `json:"point_index,omitempty" yaml:"point_index,omitempty"`
	Strategy    string    `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	TrailOffset float64   `json:"trail_offset,omitempty" yaml:"trail_offset,omitempty"`
	OpenedAt    time.Time `json:"opened_at,omitempty" yaml:"opened_at,omitempty"`
}

func ToRecord(p Position) Record {
	r := Record{
		LocalID:     p.LocalID,
		Instrument:  p.Instrument,
		Direction:   p.Direction,
		Quantity:    p.Quantity,
		EntryPrice:  p.EntryPrice,
		IsOpen:      p.Quantity > 0,
		StopLoss:    copyPrice(p.StopLoss),
		TakeProfit:  copyPrice(p.TakeProfit),
		IsClosing:   p.Closing,
		Trailing:    p.Trailing,
		Strategy:    p.Strategy,
		TrailOffset: p.TrailOffset,
		OpenedAt:    p.OpenedAt,
	}
	if p.Highest != 0 {
		r.Highest = Price(p.Highest)
	}
	if p.Lowest != 0 {
		r.Lowest = Price(p.Lowest)
	}
	if p.Origin != nil {
		r.PointID = p.Origin.PointID
		r.PointIndex = p.Origin.Index
	}
	return r
}

// Position rebuilds the position. Missing extrema fall back to the entry
// price.
func (r Record) Position() (Position, error) {
	if r.LocalID == "" {
		return Position{}, fmt.Errorf("record: local id is required")
	}
	if !r.Direction.Valid() {
		return Position{}, fmt.Errorf("record %q: invalid direction", r.LocalID)
	}
	if r.Quantity <= 0 {
		return Position{}, fmt.Errorf("record %q: quantity must be positive, got %d", r.LocalID, r.Quantity)
	}

	p := Position{
		LocalID:     r.LocalID,
		Instrument:  r.Instrument,
		Direction:   r.Direction,
		Quantity:    r.Quantity,
		EntryPrice:  r.EntryPrice,
		StopLoss:    copyPrice(r.StopLoss),
		TakeProfit:  copyPrice(r.TakeProfit),
		Highest:     r.EntryPrice,
		Lowest:      r.EntryPrice,
		Closing:     r.IsClosing,
		Trailing:    r.Trailing,
		Strategy:    r.Strategy,
		TrailOffset: r.TrailOffset,
		OpenedAt:    r.OpenedAt,
	}
	if r.Highest != nil {
		p.Highest = *r.Highest
	}
	if r.Lowest != nil {
		p.Lowest = *r.Lowest
	}
	if r.PointID != "" {
		p.Origin = &Origin{PointID: r.PointID, Index: r.PointIndex}
	}
	return p, nil
}

// Records returns the persisted form of every open position.
func (l *Ledger) Records() []Record {
	snap := l.Snapshot()
	out := make([]Record, 0, len(snap))
	for _, p := range snap {
		out = append(out, ToRecord(p))
	}
	return out
}

// Load adds the open records to the ledger. Closed records are skipped.
// Closing marks are not restored: no close order survives a restart, so a
// reloaded position is always monitorable. Invalid records are reported
// together after the valid ones are loaded.
func (l *Ledger) Load(records []Record) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, r := range records {
		if !r.IsOpen {
			continue
		}
		p, err := r.Position()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := l.Add(p); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	if len(errs) > 0 {
		return n, fmt.Errorf("load ledger: %w", errors.Join(errs...))
	}
	return n, nil
}
