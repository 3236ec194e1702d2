package ledger

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotFound = errors.New("position not found")
	ErrClosing  = errors.New("close already in flight")
	ErrExists   = errors.New("position already exists")
)

// Ledger is the set of open virtual positions. The closing set and each
// position's Closing flag are only ever changed together under mu.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*Position
	order     []string
	closing   map[string]struct{}
}

func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*Position),
		closing:   make(map[string]struct{}),
	}
}

func (l *Ledger) Add(p Position) error {
	if p.LocalID == "" {
		return errors.New("add position: local id is required")
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("add position %q: quantity must be positive, got %d", p.LocalID, p.Quantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.positions[p.LocalID]; ok {
		return fmt.Errorf("add position %q: %w", p.LocalID, ErrExists)
	}
	c := p.clone()
	c.Closing = false
	l.positions[p.LocalID] = &c
	l.order = append(l.order, p.LocalID)
	return nil
}

// Get returns a copy of the position.
func (l *Ledger) Get(localID string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[localID]
	if !ok {
		return Position{}, false
	}
	return p.clone(), true
}

// Snapshot copies every open position in the order they were opened.
func (l *Ledger) Snapshot() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Position, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.positions[id].clone())
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

func (l *Ledger) TotalQuantity() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for _, p := range l.positions {
		total += p.Quantity
	}
	return total
}

// ClaimClose marks the position as closing. It fails if the position is
// unknown or already claimed, so at most one close can be outstanding.
func (l *Ledger) ClaimClose(localID string) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[localID]
	if !ok {
		return Position{}, fmt.Errorf("claim close %q: %w", localID, ErrNotFound)
	}
	if p.Closing {
		return Position{}, fmt.Errorf("claim close %q: %w", localID, ErrClosing)
	}
	p.Closing = true
	l.closing[localID] = struct{}{}
	return p.clone(), nil
}

// ReleaseClose clears the closing mark. It reports whether a mark was held.
func (l *Ledger) ReleaseClose(localID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(localID)
}

func (l *Ledger) releaseLocked(localID string) bool {
	_, held := l.closing[localID]
	delete(l.closing, localID)
	if p, ok := l.positions[localID]; ok {
		p.Closing = false
	}
	return held
}

// Restore returns a position whose close failed to monitorable state. When
// trailing is enabled its extrema are reseeded to price.
func (l *Ledger) Restore(localID string, price float64) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[localID]
	if !ok {
		return Position{}, fmt.Errorf("restore %q: %w", localID, ErrNotFound)
	}
	l.releaseLocked(localID)
	if p.Trailing && price > 0 {
		p.Reseed(price)
	}
	return p.clone(), nil
}

// CloseResult describes one applied close fill.
type CloseResult struct {
	Position  Position // state before the fill
	Closed    int
	Remaining int
}

// ApplyClose reduces the position by qty. A qty at or above the open quantity
// closes and evicts it; otherwise the position stays open with its closing
// mark cleared.
func (l *Ledger) ApplyClose(localID string, d Direction, qty int) (CloseResult, error) {
	if qty <= 0 {
		return CloseResult{}, fmt.Errorf("apply close %q: quantity must be positive, got %d", localID, qty)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[localID]
	if !ok || p.Direction != d {
		return CloseResult{}, fmt.Errorf("apply close %q %s: %w", localID, d, ErrNotFound)
	}

	res := CloseResult{Position: p.clone()}
	l.releaseLocked(localID)

	if qty >= p.Quantity {
		res.Closed = p.Quantity
		l.removeLocked(localID)
		return res, nil
	}

	p.Quantity -= qty
	res.Closed = qty
	res.Remaining = p.Quantity
	return res, nil
}

func (l *Ledger) removeLocked(localID string) {
	delete(l.positions, localID)
	for i, id := range l.order {
		if id == localID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// Update applies fn to the live position under the write lock and returns
// the result. fn must not change LocalID, Quantity or Closing.
func (l *Ledger) Update(localID string, fn func(*Position)) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[localID]
	if !ok {
		return Position{}, fmt.Errorf("update %q: %w", localID, ErrNotFound)
	}
	id, qty, closing := p.LocalID, p.Quantity, p.Closing
	fn(p)
	p.LocalID, p.Quantity, p.Closing = id, qty, closing
	return p.clone(), nil
}

// ClosingIDs lists the ids currently marked as closing.
func (l *Ledger) ClosingIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.closing))
	for _, id := range l.order {
		if _, ok := l.closing[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// LocalIDs lists every open position id.
func (l *Ledger) LocalIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

func (l *Ledger) checkClosing() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for id, p := range l.positions {
		_, in := l.closing[id]
		if in != p.Closing {
			return fmt.Errorf("position %q: closing flag %v but set membership %v", id, p.Closing, in)
		}
	}
	for id := range l.closing {
		if _, ok := l.positions[id]; !ok {
			return fmt.Errorf("closing set holds unknown position %q", id)
		}
	}
	return nil
}
