package desk

import (
	"context"

	"github.com/rustyeddy/futdesk/ledger"
	"go.uber.org/zap"
)

// RunMonitor evaluates exit thresholds until ctx is cancelled.
func (d *Desk) RunMonitor(ctx context.Context) error {
	return d.loop("monitor").Run(ctx, d.MonitorOnce)
}

type quoteCache struct {
	d      *Desk
	prices map[string]float64
	failed map[string]bool
}

func (d *Desk) newQuoteCache() *quoteCache {
	return &quoteCache{d: d, prices: map[string]float64{}, failed: map[string]bool{}}
}

// get fetches each instrument at most once per cycle.
func (c *quoteCache) get(ctx context.Context, instrument string) (float64, bool) {
	if p, ok := c.prices[instrument]; ok {
		return p, true
	}
	if c.failed[instrument] {
		return 0, false
	}
	p, err := c.d.gw.Quote(ctx, instrument)
	if err != nil {
		c.failed[instrument] = true
		c.d.metrics.GatewayError("quote")
		c.d.log.Warn("quote unavailable, skipping positions", zap.String("instrument", instrument), zap.Error(err))
		return 0, false
	}
	c.prices[instrument] = p
	return p, true
}

// MonitorOnce runs one threshold pass over the ledger. A position whose
// instrument has no quote is skipped; the rest are still evaluated.
func (d *Desk) MonitorOnce(ctx context.Context) error {
	quotes := d.newQuoteCache()

	for _, p := range d.ledger.Snapshot() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Closing || p.Quantity <= 0 {
			continue
		}
		q, ok := quotes.get(ctx, p.Instrument)
		if !ok {
			continue
		}

		cur, err := d.ledger.Update(p.LocalID, func(p *ledger.Position) { p.Observe(q) })
		if err != nil || cur.Closing {
			continue
		}

		reason, hit := Evaluate(cur, q, d.cfg.TrailingThreshold)
		if !hit {
			continue
		}
		d.triggerClose(ctx, cur, q, reason)
	}
	return nil
}

func (d *Desk) triggerClose(ctx context.Context, p ledger.Position, quote float64, reason Reason) {
	claimed, err := d.ledger.ClaimClose(p.LocalID)
	if err != nil {
		// A manual close got there first, or the position is gone.
		d.log.Debug("trigger skipped", zap.String("local_id", p.LocalID), zap.Error(err))
		return
	}

	d.log.Info("threshold crossed",
		zap.String("local_id", claimed.LocalID),
		zap.String("reason", string(reason)),
		zap.Float64("quote", quote),
		zap.Float64("highest", claimed.Highest),
		zap.Float64("lowest", claimed.Lowest),
	)
	if _, err := d.submitClaimed(ctx, claimed, claimed.Quantity, quote, true, reason); err != nil {
		return
	}
	d.metrics.AutoClose(string(reason))
}
