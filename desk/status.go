package desk

import (
	"context"

	"github.com/rustyeddy/futdesk/ledger"
)

type PositionStatus struct {
	ledger.Position
	Quote      float64
	HasQuote   bool
	FloatingPL float64
}

// Status is a read-only view of the desk. It may be slightly stale.
type Status struct {
	Positions  []PositionStatus
	Pending    []ledger.PendingEntry
	Closing    []string
	FloatingPL float64
}

func (d *Desk) Status(ctx context.Context) Status {
	quotes := d.newQuoteCache()

	var st Status
	for _, p := range d.ledger.Snapshot() {
		ps := PositionStatus{Position: p}
		if q, ok := quotes.get(ctx, p.Instrument); ok {
			ps.Quote = q
			ps.HasQuote = true
			ps.FloatingPL = p.UnrealizedPL(q, d.cfg.ContractMultiplier)
			st.FloatingPL += ps.FloatingPL
		}
		st.Positions = append(st.Positions, ps)
	}
	st.Pending = d.pending.List()
	st.Closing = d.ledger.ClosingIDs()
	return st
}
