package sim

import (
	"fmt"
	"sync"
)

type PriceStore struct {
	mu     sync.RWMutex
	prices map[string]float64
}

func NewPriceStore() *PriceStore {
	return &PriceStore{prices: make(map[string]float64)}
}

func (ps *PriceStore) Set(instrument string, price float64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.prices[instrument] = price
}

// Delete drops the quote so subsequent Gets fail, simulating a feed outage.
func (ps *PriceStore) Delete(instrument string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.prices, instrument)
}

func (ps *PriceStore) Get(instrument string) (float64, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.prices[instrument]
	if !ok {
		return 0, fmt.Errorf("price not found for %q", instrument)
	}
	return p, nil
}
