package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatFillOrg renders a fill as an Org-mode heading with a PROPERTIES
// drawer.
func FormatFillOrg(r FillRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** %s %s %s %d @ %.2f (%s)\n",
		strings.ToUpper(r.Kind), r.LocalID, r.Direction, r.Qty, r.Price, shortID(r.EventID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":EVENT_ID: %s\n", r.EventID)
	fmt.Fprintf(&b, ":TIME: %s\n", r.Time.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":LOCAL_ID: %s\n", r.LocalID)
	fmt.Fprintf(&b, ":BROKER_ID: %s\n", r.BrokerID)
	fmt.Fprintf(&b, ":INSTRUMENT: %s\n", r.Instrument)
	fmt.Fprintf(&b, ":DIRECTION: %s\n", r.Direction)
	fmt.Fprintf(&b, ":QTY: %d\n", r.Qty)
	fmt.Fprintf(&b, ":PRICE: %.2f\n", r.Price)
	fmt.Fprintf(&b, ":REMAINING: %d\n", r.Remaining)
	if r.Kind == "close" {
		fmt.Fprintf(&b, ":REALIZED_PL: %.2f\n", r.RealizedPL)
	}
	if r.Reason != "" {
		fmt.Fprintf(&b, ":REASON: %s\n", r.Reason)
	}
	b.WriteString(":END:\n")
	return b.String()
}

func FormatFillsOrg(recs []FillRecord) string {
	var b strings.Builder
	for i, r := range recs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatFillOrg(r))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
