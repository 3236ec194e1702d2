package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const fillColumns = `event_id, time, local_id, broker_id, instrument, direction, kind, qty, price, remaining, realized_pl, reason`

// GetFill returns a single fill by event id.
func (j *SQLite) GetFill(eventID string) (FillRecord, error) {
	row := j.db.QueryRow(`SELECT `+fillColumns+` FROM fills WHERE event_id = ?`, eventID)

	rec, err := scanFill(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FillRecord{}, fmt.Errorf("fill %q not found", eventID)
		}
		return FillRecord{}, err
	}
	return rec, nil
}

// ListFills returns every fill for one local order id, oldest first.
func (j *SQLite) ListFills(localID string) ([]FillRecord, error) {
	return j.queryFills(`SELECT `+fillColumns+` FROM fills WHERE local_id = ? ORDER BY time ASC, event_id ASC`, localID)
}

// ListFillsBetween returns fills with time in [start, end).
func (j *SQLite) ListFillsBetween(start, end time.Time) ([]FillRecord, error) {
	return j.queryFills(`SELECT `+fillColumns+` FROM fills WHERE time >= ? AND time < ? ORDER BY time ASC, event_id ASC`, start, end)
}

// Outstanding returns the latest fill of every local id that still has open
// quantity.
func (j *SQLite) Outstanding() ([]FillRecord, error) {
	all, err := j.queryFills(`SELECT ` + fillColumns + ` FROM fills ORDER BY event_id ASC`)
	if err != nil {
		return nil, err
	}
	return Outstanding(all), nil
}

// RealizedBetween sums realized PnL of close fills in [start, end).
func (j *SQLite) RealizedBetween(start, end time.Time) (float64, error) {
	var total sql.NullFloat64
	err := j.db.QueryRow(`
		SELECT SUM(realized_pl) FROM fills
		WHERE kind = 'close' AND time >= ? AND time < ?`, start, end).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

func (j *SQLite) queryFills(q string, args ...any) ([]FillRecord, error) {
	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		rec, err := scanFill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFill(s scanner) (FillRecord, error) {
	var rec FillRecord
	err := s.Scan(
		&rec.EventID,
		&rec.Time,
		&rec.LocalID,
		&rec.BrokerID,
		&rec.Instrument,
		&rec.Direction,
		&rec.Kind,
		&rec.Qty,
		&rec.Price,
		&rec.Remaining,
		&rec.RealizedPL,
		&rec.Reason,
	)
	return rec, err
}
