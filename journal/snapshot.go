package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rustyeddy/futdesk/ledger"
)

var snapshotHeader = []string{
	"id", "code", "direction", "quantity", "entry_price", "is_open",
	"stop_loss", "take_profit", "highest_price", "lowest_price", "is_closing",
	"trailing", "point_id", "point_index", "strategy", "trail_offset", "opened_at",
}

// CSVSnapshot keeps the open-position snapshot in a single CSV file,
// replaced atomically on every save.
type CSVSnapshot struct {
	path string
}

func NewCSVSnapshot(path string) *CSVSnapshot {
	return &CSVSnapshot{path: path}
}

func (s *CSVSnapshot) SaveSnapshot(recs []ledger.Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(snapshotHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("save snapshot: %w", err)
	}
	for _, r := range recs {
		if err := w.Write(recordRow(r)); err != nil {
			tmp.Close()
			return fmt.Errorf("save snapshot %q: %w", r.LocalID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns no records and no error when the file does not exist.
// Rows that fail to parse are skipped and reported as RowErrors next to the
// records that did load. The file is then copied aside first, since the next
// save would drop the skipped rows.
func (s *CSVSnapshot) LoadSnapshot() ([]ledger.Record, error) {
	fh, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1

	var (
		out  []ledger.Record
		errs []error
	)
	for row := 1; ; row++ {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			errs = append(errs, &RowError{Row: row, Err: err})
			continue
		}
		if err != nil {
			return out, fmt.Errorf("load snapshot row %d: %w", row, err)
		}
		if row == 1 && fields[0] == snapshotHeader[0] {
			continue
		}
		rec, err := parseRecordRow(fields)
		if err != nil {
			errs = append(errs, &RowError{Row: row, LocalID: rec.LocalID, Err: err})
			continue
		}
		out = append(out, rec)
	}
	if len(errs) == 0 {
		return out, nil
	}

	bak, err := s.keepOriginal()
	if err != nil {
		errs = append(errs, err)
		return out, fmt.Errorf("load snapshot: %d rows skipped: %w", len(errs)-1, errors.Join(errs...))
	}
	return out, fmt.Errorf("load snapshot: %d rows skipped, original kept at %s: %w", len(errs), bak, errors.Join(errs...))
}

// keepOriginal copies the snapshot file next to itself with a timestamp.
func (s *CSVSnapshot) keepOriginal() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("keep snapshot: %w", err)
	}
	bak := fmt.Sprintf("%s.%s.bak", s.path, time.Now().Format("20060102T150405.000"))
	if err := os.WriteFile(bak, data, 0o644); err != nil {
		return "", fmt.Errorf("keep snapshot: %w", err)
	}
	return bak, nil
}

func recordRow(r ledger.Record) []string {
	opened := ""
	if !r.OpenedAt.IsZero() {
		opened = r.OpenedAt.Format(time.RFC3339)
	}
	return []string{
		r.LocalID,
		r.Instrument,
		r.Direction.String(),
		strconv.Itoa(r.Quantity),
		f(r.EntryPrice),
		strconv.FormatBool(r.IsOpen),
		optFloat(r.StopLoss),
		optFloat(r.TakeProfit),
		optFloat(r.Highest),
		optFloat(r.Lowest),
		strconv.FormatBool(r.IsClosing),
		strconv.FormatBool(r.Trailing),
		r.PointID,
		strconv.Itoa(r.PointIndex),
		r.Strategy,
		f(r.TrailOffset),
		opened,
	}
}

// parseRecordRow accepts both the full layout and the six-column layout
// (id, code, direction, quantity, entry_price, is_open) of older snapshots.
func parseRecordRow(row []string) (ledger.Record, error) {
	if len(row) < 6 {
		return ledger.Record{LocalID: row[0]}, fmt.Errorf("want at least 6 fields, got %d", len(row))
	}
	col := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	var (
		r   ledger.Record
		err error
	)
	r.LocalID, r.Instrument = row[0], row[1]
	if r.Direction, err = ledger.ParseDirection(row[2]); err != nil {
		return r, err
	}
	if r.Quantity, err = strconv.Atoi(row[3]); err != nil {
		return r, fmt.Errorf("quantity: %w", err)
	}
	if r.EntryPrice, err = strconv.ParseFloat(row[4], 64); err != nil {
		return r, fmt.Errorf("entry_price: %w", err)
	}
	if r.IsOpen, err = parseBool(row[5]); err != nil {
		return r, fmt.Errorf("is_open: %w", err)
	}
	for i, dst := range []**float64{&r.StopLoss, &r.TakeProfit, &r.Highest, &r.Lowest} {
		if *dst, err = parseOptFloat(col(6 + i)); err != nil {
			return r, fmt.Errorf("%s: %w", snapshotHeader[6+i], err)
		}
	}
	if r.IsClosing, err = parseBool(col(10)); err != nil {
		return r, fmt.Errorf("is_closing: %w", err)
	}
	if r.Trailing, err = parseBool(col(11)); err != nil {
		return r, fmt.Errorf("trailing: %w", err)
	}
	r.PointID = col(12)
	if v := col(13); v != "" {
		if r.PointIndex, err = strconv.Atoi(v); err != nil {
			return r, fmt.Errorf("point_index: %w", err)
		}
	}
	r.Strategy = col(14)
	if v := col(15); v != "" {
		if r.TrailOffset, err = strconv.ParseFloat(v, 64); err != nil {
			return r, fmt.Errorf("trail_offset: %w", err)
		}
	}
	if v := col(16); v != "" {
		if r.OpenedAt, err = time.Parse(time.RFC3339, v); err != nil {
			return r, fmt.Errorf("opened_at: %w", err)
		}
	}
	return r, nil
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return f(*v)
}

func parseOptFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// parseBool treats an empty field as false and accepts True/False as
// written by older snapshots.
func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
