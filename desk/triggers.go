package desk

import "github.com/rustyeddy/futdesk/ledger"

// Reason names what caused a close.
type Reason string

const (
	ReasonTrailingStop Reason = "trailing_stop"
	ReasonStopLoss     Reason = "stop_loss"
	ReasonTakeProfit   Reason = "take_profit"
	ReasonManual       Reason = "manual"
	ReasonCloseAll     Reason = "close_all"
)

func hitTrailing(p ledger.Position, quote, threshold float64) bool {
	if !p.Trailing {
		return false
	}
	if p.Direction == ledger.Long {
		return quote <= p.Highest-threshold
	}
	return quote >= p.Lowest+threshold
}

func hitStopLoss(p ledger.Position, quote float64) bool {
	if p.StopLoss == nil {
		return false
	}
	if p.Direction == ledger.Long {
		return quote <= *p.StopLoss
	}
	return quote >= *p.StopLoss
}

func hitTakeProfit(p ledger.Position, quote float64) bool {
	if p.TakeProfit == nil {
		return false
	}
	if p.Direction == ledger.Long {
		return quote >= *p.TakeProfit
	}
	return quote <= *p.TakeProfit
}

// Evaluate decides whether quote closes p. The trailing stop is checked
// first; fixed thresholds apply when it is off or has not triggered.
func Evaluate(p ledger.Position, quote, trailingThreshold float64) (Reason, bool) {
	switch {
	case hitTrailing(p, quote, trailingThreshold):
		return ReasonTrailingStop, true
	case hitStopLoss(p, quote):
		return ReasonStopLoss, true
	case hitTakeProfit(p, quote):
		return ReasonTakeProfit, true
	}
	return "", false
}
