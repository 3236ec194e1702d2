package ledger

import (
	"sort"
	"sync"
)

// PendingTable maps broker order ids to the orders awaiting a terminal
// status. Remove is the single point where an order leaves the table, so a
// terminal status can be applied at most once.
type PendingTable struct {
	mu     sync.Mutex
	orders map[string]Order
}

func NewPendingTable() *PendingTable {
	return &PendingTable{orders: make(map[string]Order)}
}

func (t *PendingTable) Add(brokerID string, o Order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[brokerID] = o
}

func (t *PendingTable) Get(brokerID string) (Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[brokerID]
	return o, ok
}

// Remove deletes and returns the order. The second result is false if it was
// already gone.
func (t *PendingTable) Remove(brokerID string) (Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[brokerID]
	if ok {
		delete(t.orders, brokerID)
	}
	return o, ok
}

// Keys is a point-in-time copy of the broker ids, oldest submission first.
func (t *PendingTable) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.orders))
	for k := range t.orders {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := t.orders[keys[i]].Info(), t.orders[keys[j]].Info()
		if a.SubmittedAt.Equal(b.SubmittedAt) {
			return keys[i] < keys[j]
		}
		return a.SubmittedAt.Before(b.SubmittedAt)
	})
	return keys
}

// FindByLocalID returns the pending order carrying localID. A position can
// have both its open and a close pending only in theory; the first match in
// submission order wins.
func (t *PendingTable) FindByLocalID(localID string) (string, Order, bool) {
	for _, k := range t.Keys() {
		o, ok := t.Get(k)
		if ok && o.Info().LocalID == localID {
			return k, o, true
		}
	}
	return "", nil, false
}

// PendingEntry pairs a broker id with its order for display.
type PendingEntry struct {
	BrokerID string
	Order    Order
}

func (t *PendingTable) List() []PendingEntry {
	var out []PendingEntry
	for _, k := range t.Keys() {
		if o, ok := t.Get(k); ok {
			out = append(out, PendingEntry{BrokerID: k, Order: o})
		}
	}
	return out
}

func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.orders)
}
