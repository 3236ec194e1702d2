package points

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rustyeddy/futdesk/ledger"
	"gopkg.in/yaml.v3"
)

const (
	defaultHitLimit      = 10
	defaultQuantityLimit = 10
	defaultQtyPerEntry   = 1
)

// Defaults fill in what a catalogue file leaves out.
type Defaults struct {
	Tolerance   float64
	TrailOffset float64
}

type templateFile struct {
	Index       int      `json:"order_index" yaml:"order_index"`
	EntryPrice  float64  `json:"entry_price" yaml:"entry_price"`
	Direction   string   `json:"direction" yaml:"direction"`
	Quantity    int      `json:"quantity" yaml:"quantity"`
	StopLoss    *float64 `json:"stop_loss,omitempty" yaml:"stop_loss,omitempty"`
	TakeProfit  *float64 `json:"take_profit,omitempty" yaml:"take_profit,omitempty"`
	Strategy    string   `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	TrailOffset *float64 `json:"trail_offset,omitempty" yaml:"trail_offset,omitempty"`
}

type pointFile struct {
	PointID        string         `json:"point_id" yaml:"point_id"`
	Type           string         `json:"type" yaml:"type"`
	HitPrice       float64        `json:"hit_price" yaml:"hit_price"`
	Tolerance      *float64       `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	HitLimit       *int           `json:"hit_limit,omitempty" yaml:"hit_limit,omitempty"`
	AllowHit       *bool          `json:"allow_hit,omitempty" yaml:"allow_hit,omitempty"`
	AllowEntry     *bool          `json:"allow_entry,omitempty" yaml:"allow_entry,omitempty"`
	QtyEachTime    *int           `json:"qty_each_time,omitempty" yaml:"qty_each_time,omitempty"`
	QuantityLimits *int           `json:"quantity_limits,omitempty" yaml:"quantity_limits,omitempty"`
	Orders         []templateFile `json:"orders" yaml:"orders"`
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func (f pointFile) point(fallbackID string, def Defaults) (*Point, error) {
	p := &Point{
		ID:            f.PointID,
		Type:          f.Type,
		HitPrice:      f.HitPrice,
		Tolerance:     floatOr(f.Tolerance, def.Tolerance),
		HitLimit:      intOr(f.HitLimit, defaultHitLimit),
		AllowHit:      boolOr(f.AllowHit, true),
		AllowEntry:    boolOr(f.AllowEntry, true),
		QtyPerEntry:   intOr(f.QtyEachTime, defaultQtyPerEntry),
		QuantityLimit: intOr(f.QuantityLimits, defaultQuantityLimit),
	}
	if p.ID == "" {
		p.ID = fallbackID
	}
	for _, o := range f.Orders {
		dir, err := ledger.ParseDirection(o.Direction)
		if err != nil {
			return nil, fmt.Errorf("point %s: order %d: %w", p.ID, o.Index, err)
		}
		p.Ladder = append(p.Ladder, OrderTemplate{
			Index:       o.Index,
			EntryPrice:  o.EntryPrice,
			Direction:   dir,
			Quantity:    o.Quantity,
			StopLoss:    o.StopLoss,
			TakeProfit:  o.TakeProfit,
			Strategy:    o.Strategy,
			TrailOffset: floatOr(o.TrailOffset, def.TrailOffset),
		})
	}
	sort.Slice(p.Ladder, func(i, j int) bool { return p.Ladder[i].Index < p.Ladder[j].Index })
	return p, p.Validate()
}

// ParseFile decodes a file holding an array of point definitions. YAML is
// tried first, then JSON.
func ParseFile(path string, def Defaults) ([]*Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read points file: %w", err)
	}

	var files []pointFile
	if err := yaml.Unmarshal(data, &files); err != nil {
		if jerr := json.Unmarshal(data, &files); jerr != nil {
			return nil, fmt.Errorf("parse %s (tried YAML and JSON): %w", path, jerr)
		}
	}

	folder := filepath.Base(filepath.Dir(path))
	out := make([]*Point, 0, len(files))
	for _, f := range files {
		p, err := f.point(folder, def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadDir reads every <dir>/<NAME>/<NAME>.{json,yaml,yml}. Folders without
// such a file are skipped. A file that fails to parse is reported in the
// returned error but does not stop the rest from loading.
func LoadDir(dir string, def Defaults) ([]*Point, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read points dir: %w", err)
	}

	var (
		points []*Point
		errs   []error
		seen   = map[string]string{}
	)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := findPointFile(filepath.Join(dir, e.Name()), e.Name())
		if path == "" {
			continue
		}
		ps, err := ParseFile(path, def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, p := range ps {
			if prev, dup := seen[p.ID]; dup {
				errs = append(errs, fmt.Errorf("point %s in %s already loaded from %s", p.ID, path, prev))
				continue
			}
			seen[p.ID] = path
			points = append(points, p)
		}
	}
	return points, errors.Join(errs...)
}

func findPointFile(folder, name string) string {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(folder, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
