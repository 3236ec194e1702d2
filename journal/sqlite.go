package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/futdesk/ledger"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite stores both the audit trail and the position snapshot.
type SQLite struct {
	db *sql.DB
}

var (
	_ Journal       = (*SQLite)(nil)
	_ SnapshotStore = (*SQLite)(nil)
)

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordFill(r FillRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO fills
		(event_id, time, local_id, broker_id, instrument, direction, kind, qty, price, remaining, realized_pl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.EventID, r.Time, r.LocalID, r.BrokerID, r.Instrument, r.Direction,
		r.Kind, r.Qty, r.Price, r.Remaining, r.RealizedPL, r.Reason,
	)
	return err
}

func (j *SQLite) SaveSnapshot(recs []ledger.Record) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM positions`); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO positions
		(local_id, instrument, direction, quantity, entry_price, is_open, stop_loss, take_profit,
		 highest_price, lowest_price, is_closing, trailing, point_id, point_index, strategy,
		 trail_offset, opened_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	defer stmt.Close()

	for i, r := range recs {
		var opened any
		if !r.OpenedAt.IsZero() {
			opened = r.OpenedAt
		}
		_, err := stmt.Exec(
			r.LocalID, r.Instrument, r.Direction.String(), r.Quantity, r.EntryPrice, r.IsOpen,
			r.StopLoss, r.TakeProfit, r.Highest, r.Lowest, r.IsClosing, r.Trailing,
			r.PointID, r.PointIndex, r.Strategy, r.TrailOffset, opened, i,
		)
		if err != nil {
			return fmt.Errorf("save snapshot %q: %w", r.LocalID, err)
		}
	}
	return tx.Commit()
}

// LoadSnapshot skips rows it cannot decode and returns them as RowErrors
// alongside the good records. Skipped rows are copied to positions_rejected
// so the next save does not lose them.
func (j *SQLite) LoadSnapshot() ([]ledger.Record, error) {
	rows, err := j.db.Query(`
		SELECT local_id, instrument, direction, quantity, entry_price, is_open, stop_loss, take_profit,
		       highest_price, lowest_price, is_closing, trailing, point_id, point_index, strategy,
		       trail_offset, opened_at
		FROM positions
		ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	var (
		out  []ledger.Record
		errs []error
		bad  []*RowError
	)
	for n := 1; rows.Next(); n++ {
		var (
			r      ledger.Record
			dir    string
			sl, tp sql.NullFloat64
			hi, lo sql.NullFloat64
			opened sql.NullTime
		)
		if err := rows.Scan(
			&r.LocalID, &r.Instrument, &dir, &r.Quantity, &r.EntryPrice, &r.IsOpen,
			&sl, &tp, &hi, &lo, &r.IsClosing, &r.Trailing,
			&r.PointID, &r.PointIndex, &r.Strategy, &r.TrailOffset, &opened,
		); err != nil {
			bad = append(bad, &RowError{Row: n, LocalID: r.LocalID, Err: err})
			continue
		}
		if r.Direction, err = ledger.ParseDirection(dir); err != nil {
			bad = append(bad, &RowError{Row: n, LocalID: r.LocalID, Err: err})
			continue
		}
		r.StopLoss, r.TakeProfit = nullPrice(sl), nullPrice(tp)
		r.Highest, r.Lowest = nullPrice(hi), nullPrice(lo)
		if opened.Valid {
			r.OpenedAt = opened.Time
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("load snapshot: %w", err)
	}
	if len(bad) == 0 {
		return out, nil
	}
	// the read cursor must be released before writing
	rows.Close()

	for _, e := range bad {
		errs = append(errs, e)
		if err := j.reject(e); err != nil {
			errs = append(errs, err)
		}
	}
	return out, fmt.Errorf("load snapshot: %d rows skipped: %w", len(bad), errors.Join(errs...))
}

func (j *SQLite) reject(e *RowError) error {
	_, err := j.db.Exec(`
		INSERT INTO positions_rejected
		(local_id, instrument, direction, quantity, entry_price, is_open, stop_loss, take_profit,
		 highest_price, lowest_price, is_closing, trailing, point_id, point_index, strategy,
		 trail_offset, opened_at, seq, reason, rejected_at)
		SELECT local_id, instrument, direction, quantity, entry_price, is_open, stop_loss, take_profit,
		       highest_price, lowest_price, is_closing, trailing, point_id, point_index, strategy,
		       trail_offset, opened_at, seq, ?, ?
		FROM positions WHERE local_id = ?`,
		e.Err.Error(), time.Now(), e.LocalID,
	)
	if err != nil {
		return fmt.Errorf("keep rejected %q: %w", e.LocalID, err)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

func nullPrice(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return ledger.Price(v.Float64)
}
