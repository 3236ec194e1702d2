// Package points watches a catalogue of named price levels and opens
// positions from each level's order ladder when the market trades near it.
package points

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/futdesk/ledger"
)

// Strategy tags that get their take-profit ratcheted toward the market.
const (
	StrategyTrailingStop        = "trailing_stop"
	StrategyDailyTrailingStop   = "daily_trailing_stop"
	StrategyMidlongTrailingStop = "midlong_trailing_stop"
)

func ratchets(strategy string) bool {
	switch strategy {
	case StrategyTrailingStop, StrategyDailyTrailingStop, StrategyMidlongTrailingStop:
		return true
	}
	return false
}

// OrderTemplate is one rung of a point's ladder.
type OrderTemplate struct {
	Index       int
	EntryPrice  float64
	Direction   ledger.Direction
	Quantity    int
	StopLoss    *float64
	TakeProfit  *float64
	Strategy    string
	TrailOffset float64
}

// SlotState tracks a ladder index through its single use.
type SlotState int

const (
	Unconsumed SlotState = iota
	Submitted
	Filled
)

func (s SlotState) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Filled:
		return "filled"
	}
	return "unconsumed"
}

// Holding is a filled point position as the point sees it.
type Holding struct {
	LocalID     string           `json:"local_id"`
	Index       int              `json:"index"`
	Direction   ledger.Direction `json:"direction"`
	Qty         int              `json:"qty"`
	EntryPrice  float64          `json:"entry_price"`
	TakeProfit  *float64         `json:"take_profit,omitempty"`
	Strategy    string           `json:"strategy,omitempty"`
	TrailOffset float64          `json:"trail_offset,omitempty"`
	FloatingPL  float64          `json:"floating_pl"`
}

// Trade is a closed (or partially closed) point position.
type Trade struct {
	LocalID    string           `json:"local_id"`
	Index      int              `json:"index"`
	Direction  ledger.Direction `json:"direction"`
	Qty        int              `json:"qty"`
	EntryPrice float64          `json:"entry_price"`
	ExitPrice  float64          `json:"exit_price"`
	PnL        float64          `json:"pnl"`
	Reason     string           `json:"reason"`
	Time       time.Time        `json:"time"`
}

// Point is a named price level with an order ladder. Its methods are not
// safe for concurrent use; the Engine serializes access.
type Point struct {
	ID            string
	Type          string
	HitPrice      float64
	Tolerance     float64
	HitLimit      int
	AllowHit      bool
	AllowEntry    bool
	QtyPerEntry   int
	QuantityLimit int
	Ladder        []OrderTemplate

	hitCount      int
	tradeCount    int
	totalQty      int
	reserved      map[int]int
	slots         map[int]SlotState
	holdings      map[string]*Holding
	trades        []Trade
	realized      float64
	floating      float64
	limitNotified bool
}

func (p *Point) init() {
	if p.reserved == nil {
		p.reserved = map[int]int{}
	}
	if p.slots == nil {
		p.slots = map[int]SlotState{}
	}
	if p.holdings == nil {
		p.holdings = map[string]*Holding{}
	}
}

func (p *Point) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("point: id is required")
	}
	if p.HitLimit < 0 || p.QtyPerEntry < 0 || p.QuantityLimit < 0 {
		return fmt.Errorf("point %s: limits must not be negative", p.ID)
	}
	seen := map[int]bool{}
	for _, t := range p.Ladder {
		if seen[t.Index] {
			return fmt.Errorf("point %s: duplicate order_index %d", p.ID, t.Index)
		}
		seen[t.Index] = true
		if !t.Direction.Valid() {
			return fmt.Errorf("point %s: order %d: invalid direction", p.ID, t.Index)
		}
		if t.Quantity <= 0 {
			return fmt.Errorf("point %s: order %d: quantity must be positive", p.ID, t.Index)
		}
		if t.EntryPrice <= 0 {
			return fmt.Errorf("point %s: order %d: entry_price must be positive", p.ID, t.Index)
		}
	}
	return nil
}

func (p *Point) template(index int) (OrderTemplate, bool) {
	for _, t := range p.Ladder {
		if t.Index == index {
			return t, true
		}
	}
	return OrderTemplate{}, false
}

// near reports whether quote is within tolerance of the template's entry.
func (p *Point) near(t OrderTemplate, quote float64) bool {
	return math.Abs(quote-t.EntryPrice) <= p.Tolerance
}

// exposure is filled quantity plus quantity submitted but not yet filled.
func (p *Point) exposure() int {
	n := p.totalQty
	for _, q := range p.reserved {
		n += q
	}
	return n
}

// Refusal explains why CanOpen said no.
type Refusal string

const (
	RefuseEntryDisabled Refusal = "entry disabled"
	RefuseUnknownIndex  Refusal = "unknown order index"
	RefuseConsumed      Refusal = "order index already used"
	RefuseHitLimit      Refusal = "hit limit reached"
	RefuseQuantityLimit Refusal = "quantity limit reached"
)

// CanOpen checks, in order: entry allowed, index known and unused, hit
// budget remaining, quantity limit.
func (p *Point) CanOpen(index int) (bool, Refusal) {
	p.init()
	if !p.AllowEntry {
		return false, RefuseEntryDisabled
	}
	if _, ok := p.template(index); !ok {
		return false, RefuseUnknownIndex
	}
	if p.slots[index] != Unconsumed {
		return false, RefuseConsumed
	}
	if p.hitCount >= p.HitLimit {
		return false, RefuseHitLimit
	}
	if p.exposure()+p.QtyPerEntry > p.QuantityLimit {
		return false, RefuseQuantityLimit
	}
	return true, ""
}

// notifyLimit reports true the first time the quantity limit blocks an entry.
func (p *Point) notifyLimit() bool {
	if p.limitNotified {
		return false
	}
	p.limitNotified = true
	return true
}

// CheckHit counts a hit when quote is within tolerance of the hit price.
func (p *Point) CheckHit(quote float64) bool {
	if !p.AllowHit || p.hitCount >= p.HitLimit {
		return false
	}
	if math.Abs(quote-p.HitPrice) > p.Tolerance {
		return false
	}
	p.hitCount++
	return true
}

// useTrailing alternates exit modes: fixed thresholds on even trade counts,
// trailing on odd.
func (p *Point) useTrailing() bool { return p.tradeCount%2 == 1 }

func (p *Point) reserve(index, qty int) {
	p.init()
	p.slots[index] = Submitted
	p.reserved[index] = qty
}

// release makes a submitted index consumable again.
func (p *Point) release(index int) {
	p.init()
	if p.slots[index] == Submitted {
		p.slots[index] = Unconsumed
	}
	delete(p.reserved, index)
}

// RegisterFill moves the position's index to Filled and starts tracking it.
func (p *Point) RegisterFill(pos ledger.Position) {
	p.init()
	index := 0
	if pos.Origin != nil {
		index = pos.Origin.Index
	}
	p.slots[index] = Filled
	delete(p.reserved, index)
	if _, ok := p.holdings[pos.LocalID]; ok {
		return
	}
	p.totalQty += pos.Quantity
	h := &Holding{
		LocalID:     pos.LocalID,
		Index:       index,
		Direction:   pos.Direction,
		Qty:         pos.Quantity,
		EntryPrice:  pos.EntryPrice,
		Strategy:    pos.Strategy,
		TrailOffset: pos.TrailOffset,
	}
	if pos.TakeProfit != nil {
		h.TakeProfit = ledger.Price(*pos.TakeProfit)
	}
	p.holdings[pos.LocalID] = h
}

// RecordClose books a close fill against the holding it came from.
func (p *Point) RecordClose(localID string, qty int, exit, pnl float64, reason string, at time.Time) {
	p.init()
	h, ok := p.holdings[localID]
	if !ok {
		return
	}
	if qty > h.Qty {
		qty = h.Qty
	}
	h.Qty -= qty
	p.totalQty -= qty
	p.realized += pnl
	p.trades = append(p.trades, Trade{
		LocalID:    localID,
		Index:      h.Index,
		Direction:  h.Direction,
		Qty:        qty,
		EntryPrice: h.EntryPrice,
		ExitPrice:  exit,
		PnL:        pnl,
		Reason:     reason,
		Time:       at,
	})
	if h.Qty == 0 {
		delete(p.holdings, localID)
	}
}

// UpdatePnL marks every holding to quote.
func (p *Point) UpdatePnL(quote, multiplier float64) {
	p.floating = 0
	for _, h := range p.holdings {
		h.FloatingPL = ledger.RealizedPL(h.Direction, h.EntryPrice, quote, h.Qty, multiplier)
		p.floating += h.FloatingPL
	}
}

// Ratchet is a take-profit move made by RatchetTakeProfit.
type Ratchet struct {
	LocalID string
	From    *float64
	To      float64
}

// RatchetTakeProfit moves the take-profit of trailing-strategy holdings
// toward quote: up only for longs, down only for shorts.
func (p *Point) RatchetTakeProfit(quote, defaultOffset float64) []Ratchet {
	var out []Ratchet
	for _, id := range p.holdingIDs() {
		h := p.holdings[id]
		if !ratchets(h.Strategy) {
			continue
		}
		offset := h.TrailOffset
		if offset <= 0 {
			offset = defaultOffset
		}
		var next float64
		var better bool
		if h.Direction == ledger.Long {
			next = quote - offset
			better = h.TakeProfit == nil || next > *h.TakeProfit
		} else {
			next = quote + offset
			better = h.TakeProfit == nil || next < *h.TakeProfit
		}
		if !better {
			continue
		}
		out = append(out, Ratchet{LocalID: id, From: h.TakeProfit, To: next})
		h.TakeProfit = ledger.Price(next)
	}
	return out
}

func (p *Point) holdingIDs() []string {
	ids := make([]string, 0, len(p.holdings))
	for id := range p.holdings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status is a point's externally visible state.
type Status struct {
	ID            string         `json:"point_id"`
	Type          string         `json:"type"`
	HitPrice      float64        `json:"hit_price"`
	HitCount      int            `json:"hit_count"`
	HitLimit      int            `json:"hit_limit"`
	AllowHit      bool           `json:"allow_hit"`
	AllowEntry    bool           `json:"allow_entry"`
	QtyPerEntry   int            `json:"qty_each_time"`
	QuantityLimit int            `json:"quantity_limits"`
	TradeCount    int            `json:"trade_count"`
	TotalQuantity int            `json:"total_quantity"`
	Reserved      int            `json:"reserved_quantity"`
	FloatingPL    float64        `json:"floating_pnl"`
	RealizedPL    float64        `json:"total_pnl"`
	Holdings      []Holding      `json:"open_positions"`
	Slots         map[int]string `json:"slots"`
	Trades        []Trade        `json:"trades"`
}

func (p *Point) Status() Status {
	p.init()
	st := Status{
		ID:            p.ID,
		Type:          p.Type,
		HitPrice:      p.HitPrice,
		HitCount:      p.hitCount,
		HitLimit:      p.HitLimit,
		AllowHit:      p.AllowHit,
		AllowEntry:    p.AllowEntry,
		QtyPerEntry:   p.QtyPerEntry,
		QuantityLimit: p.QuantityLimit,
		TradeCount:    p.tradeCount,
		TotalQuantity: p.totalQty,
		FloatingPL:    p.floating,
		RealizedPL:    p.realized,
		Slots:         map[int]string{},
		Trades:        append([]Trade(nil), p.trades...),
	}
	for _, q := range p.reserved {
		st.Reserved += q
	}
	for _, id := range p.holdingIDs() {
		h := *p.holdings[id]
		if h.TakeProfit != nil {
			h.TakeProfit = ledger.Price(*h.TakeProfit)
		}
		st.Holdings = append(st.Holdings, h)
	}
	for _, t := range p.Ladder {
		st.Slots[t.Index] = p.slots[t.Index].String()
	}
	return st
}
