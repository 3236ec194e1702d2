package journal

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/futdesk/ledger"
)

// FillRecord is one audit line: an applied open or close fill.
type FillRecord struct {
	EventID    string
	Time       time.Time
	LocalID    string
	BrokerID   string
	Instrument string
	Direction  string
	Kind       string // "open" or "close"
	Qty        int
	Price      float64
	Remaining  int // open quantity left on LocalID after this fill
	RealizedPL float64
	Reason     string
}

// Journal is the append-only audit trail.
type Journal interface {
	RecordFill(FillRecord) error
	Close() error
}

// SnapshotStore persists the set of open positions. SaveSnapshot replaces
// the previous snapshot as a whole.
type SnapshotStore interface {
	SaveSnapshot([]ledger.Record) error
	LoadSnapshot() ([]ledger.Record, error)
}

// RowError is a snapshot row that could not be loaded. The rest of the
// snapshot still loads; LocalID is set when the row carried one.
type RowError struct {
	Row     int
	LocalID string
	Err     error
}

func (e *RowError) Error() string {
	if e.LocalID != "" {
		return fmt.Sprintf("snapshot row %d (%s): %v", e.Row, e.LocalID, e.Err)
	}
	return fmt.Sprintf("snapshot row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// RejectedIDs collects the local ids of every RowError in err's tree.
func RejectedIDs(err error) []string {
	var ids []string
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case nil:
		case *RowError:
			if e.LocalID != "" {
				ids = append(ids, e.LocalID)
			}
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(e.Unwrap())
		}
	}
	walk(err)
	return ids
}

// Reader answers history queries over a recorded audit log.
type Reader interface {
	ListFills(localID string) ([]FillRecord, error)
	ListFillsBetween(start, end time.Time) ([]FillRecord, error)
	RealizedBetween(start, end time.Time) (float64, error)
	Outstanding() ([]FillRecord, error)
}

var (
	_ Reader = (*SQLite)(nil)
	_ Reader = CSVHistory(nil)
)

// Multi fans every record out to all journals and joins their errors.
type Multi []Journal

func (m Multi) RecordFill(rec FillRecord) error {
	var errs []error
	for _, j := range m {
		if err := j.RecordFill(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, j := range m {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Outstanding reduces a fill history to the latest record per local id that
// still has open quantity, in first-seen order.
func Outstanding(recs []FillRecord) []FillRecord {
	last := make(map[string]FillRecord)
	var order []string
	for _, r := range recs {
		if _, ok := last[r.LocalID]; !ok {
			order = append(order, r.LocalID)
		}
		last[r.LocalID] = r
	}

	var out []FillRecord
	for _, id := range order {
		if r := last[id]; r.Remaining > 0 {
			out = append(out, r)
		}
	}
	return out
}
