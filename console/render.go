package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rustyeddy/futdesk/desk"
	"github.com/rustyeddy/futdesk/ledger"
	"github.com/rustyeddy/futdesk/points"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	gainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// row lays cells out in fixed-width columns.
func row(widths []int, cells ...string) string {
	var b strings.Builder
	for i, c := range cells {
		w := 12
		if i < len(widths) {
			w = widths[i]
		}
		b.WriteString(lipgloss.NewStyle().Width(w).Render(c))
	}
	return strings.TrimRight(b.String(), " ")
}

func pnl(v float64) string {
	s := fmt.Sprintf("%+.2f", v)
	switch {
	case v > 0:
		return gainStyle.Render(s)
	case v < 0:
		return lossStyle.Render(s)
	}
	return s
}

func optPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *p)
}

var positionCols = []int{10, 14, 7, 5, 11, 11, 11, 11, 12, 24}

var pendingCols = []int{10, 6, 14, 7, 5, 11, 28}

func renderStatus(st desk.Status) string {
	var b strings.Builder

	if len(st.Positions) == 0 {
		b.WriteString(dimStyle.Render("no open positions"))
	} else {
		b.WriteString(headerStyle.Render(row(positionCols,
			"ID", "INSTRUMENT", "DIR", "QTY", "ENTRY", "QUOTE", "SL", "TP", "FLOATING", "FLAGS")))
		for _, p := range st.Positions {
			quote, floating := "n/a", dimStyle.Render("n/a")
			if p.HasQuote {
				quote = fmt.Sprintf("%.2f", p.Quote)
				floating = pnl(p.FloatingPL)
			}
			b.WriteString("\n")
			b.WriteString(row(positionCols,
				p.LocalID, p.Instrument, p.Direction.String(), fmt.Sprint(p.Quantity),
				fmt.Sprintf("%.2f", p.EntryPrice), quote,
				optPrice(p.StopLoss), optPrice(p.TakeProfit), floating, flags(p.Position)))
		}
		b.WriteString("\n")
		b.WriteString("total floating " + pnl(st.FloatingPL))
	}

	if len(st.Pending) > 0 {
		b.WriteString("\n\n")
		b.WriteString(headerStyle.Render(row(pendingCols,
			"ID", "KIND", "INSTRUMENT", "DIR", "QTY", "PRICE", "BROKER ID")))
		for _, e := range st.Pending {
			info := e.Order.Info()
			price := fmt.Sprintf("%.2f", info.Price)
			if info.Market {
				price = "market"
			}
			b.WriteString("\n")
			b.WriteString(row(pendingCols,
				info.LocalID, e.Order.Kind().String(), info.Instrument, info.Direction.String(),
				fmt.Sprint(info.Qty), price, e.BrokerID))
		}
	}
	return b.String()
}

func flags(p ledger.Position) string {
	var f []string
	if p.Trailing {
		f = append(f, "trail")
	}
	if p.Closing {
		f = append(f, "closing")
	}
	if p.Origin != nil {
		f = append(f, fmt.Sprintf("%s#%d", p.Origin.PointID, p.Origin.Index))
	}
	return strings.Join(f, ",")
}

var pointCols = []int{8, 22, 10, 8, 8, 8, 10, 12, 12}

func renderPoints(sts []points.Status) string {
	if len(sts) == 0 {
		return dimStyle.Render("no points loaded")
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(row(pointCols,
		"POINT", "TYPE", "HIT", "HITS", "TRADES", "QTY", "ENTRY", "FLOATING", "REALIZED")))
	for _, st := range sts {
		entry := "on"
		if !st.AllowEntry {
			entry = "off"
		}
		b.WriteString("\n")
		b.WriteString(row(pointCols,
			st.ID, st.Type, fmt.Sprintf("%.0f", st.HitPrice),
			fmt.Sprintf("%d/%d", st.HitCount, st.HitLimit),
			fmt.Sprint(st.TradeCount),
			fmt.Sprintf("%d/%d", st.TotalQuantity+st.Reserved, st.QuantityLimit),
			entry, pnl(st.FloatingPL), pnl(st.RealizedPL)))
		for _, h := range st.Holdings {
			b.WriteString("\n")
			b.WriteString(dimStyle.Render(fmt.Sprintf("  %s #%d %s x%d @ %.2f tp %s",
				h.LocalID, h.Index, h.Direction, h.Qty, h.EntryPrice, optPrice(h.TakeProfit))))
		}
	}
	return b.String()
}
