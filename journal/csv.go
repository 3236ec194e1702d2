package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

var fillHeader = []string{"event_id", "time", "local_id", "broker_id", "instrument", "direction", "kind", "qty", "price", "remaining", "realized_pl", "reason"}

// CSVJournal appends fills to a CSV file. The header is written only when
// the file is new, so restarts keep extending the same log.
type CSVJournal struct {
	mu sync.Mutex
	w  *csv.Writer
	f  *os.File
}

func NewCSV(path string) (*CSVJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := w.Write(fillHeader); err != nil {
			f.Close()
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &CSVJournal{w: w, f: f}, nil
}

func (j *CSVJournal) RecordFill(r FillRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.w.Write([]string{
		r.EventID,
		r.Time.Format(time.RFC3339),
		r.LocalID,
		r.BrokerID,
		r.Instrument,
		r.Direction,
		r.Kind,
		strconv.Itoa(r.Qty),
		f(r.Price),
		strconv.Itoa(r.Remaining),
		f(r.RealizedPL),
		r.Reason,
	})
	if err != nil {
		return err
	}
	j.w.Flush()
	return j.w.Error()
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.w.Flush()
	if err := j.w.Error(); err != nil {
		return err
	}
	return j.f.Close()
}

// ReadCSV loads every fill from a file written by CSVJournal.
func ReadCSV(path string) ([]FillRecord, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = len(fillHeader)

	var out []FillRecord
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read fills line %d: %w", line, err)
		}
		if line == 1 && row[0] == fillHeader[0] {
			continue
		}
		rec, err := parseFillRow(row)
		if err != nil {
			return nil, fmt.Errorf("read fills line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseFillRow(row []string) (FillRecord, error) {
	var (
		rec FillRecord
		err error
	)
	rec.EventID = row[0]
	if rec.Time, err = time.Parse(time.RFC3339, row[1]); err != nil {
		return rec, err
	}
	rec.LocalID, rec.BrokerID, rec.Instrument = row[2], row[3], row[4]
	rec.Direction, rec.Kind = row[5], row[6]
	if rec.Qty, err = strconv.Atoi(row[7]); err != nil {
		return rec, err
	}
	if rec.Price, err = strconv.ParseFloat(row[8], 64); err != nil {
		return rec, err
	}
	if rec.Remaining, err = strconv.Atoi(row[9]); err != nil {
		return rec, err
	}
	if rec.RealizedPL, err = strconv.ParseFloat(row[10], 64); err != nil {
		return rec, err
	}
	rec.Reason = row[11]
	return rec, nil
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}

// CSVHistory is a CSV audit log loaded into memory for querying.
type CSVHistory []FillRecord

func LoadCSVHistory(path string) (CSVHistory, error) {
	recs, err := ReadCSV(path)
	if err != nil {
		return nil, err
	}
	return CSVHistory(recs), nil
}

func (h CSVHistory) ListFills(localID string) ([]FillRecord, error) {
	var out []FillRecord
	for _, r := range h {
		if r.LocalID == localID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (h CSVHistory) ListFillsBetween(start, end time.Time) ([]FillRecord, error) {
	var out []FillRecord
	for _, r := range h {
		if !r.Time.Before(start) && r.Time.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (h CSVHistory) RealizedBetween(start, end time.Time) (float64, error) {
	fills, _ := h.ListFillsBetween(start, end)
	var total float64
	for _, r := range fills {
		if r.Kind == "close" {
			total += r.RealizedPL
		}
	}
	return total, nil
}

func (h CSVHistory) Outstanding() ([]FillRecord, error) {
	return Outstanding(h), nil
}
