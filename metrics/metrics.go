package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "futdesk"

// Metrics holds the desk's instruments. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	ordersSubmitted *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	fills           *prometheus.CounterVec
	terminal        *prometheus.CounterVec
	autoCloses      *prometheus.CounterVec
	gatewayErrors   *prometheus.CounterVec
	loopErrors      *prometheus.CounterVec
	pointHits       *prometheus.CounterVec
	pointEntries    *prometheus.CounterVec
	openPositions   prometheus.Gauge
	pendingOrders   prometheus.Gauge
	realizedPnL     prometheus.Gauge
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the gateway, by kind (open|close).",
		}, []string{"kind"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Orders refused by the gateway at submission, by kind.",
		}, []string{"kind"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Fills applied to the ledger, by kind.",
		}, []string{"kind"}),
		terminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_total",
			Help:      "Pending orders that reached a terminal status.",
		}, []string{"status"}),
		autoCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_closes_total",
			Help:      "Closes submitted by the threshold monitor, by reason.",
		}, []string{"reason"}),
		gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Failed gateway calls, by operation.",
		}, []string{"op"}),
		loopErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_errors_total",
			Help:      "Background loop cycles that failed or panicked.",
		}, []string{"loop"}),
		pointHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "point_hits_total",
			Help:      "Price hits counted against a point.",
		}, []string{"point"}),
		pointEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "point_entries_total",
			Help:      "Open orders submitted from a point ladder.",
		}, []string{"point"}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Positions currently held in the virtual ledger.",
		}),
		pendingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_orders",
			Help:      "Orders awaiting a terminal status.",
		}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "Cumulative realized PnL since start.",
		}),
	}

	reg.MustRegister(
		m.ordersSubmitted, m.ordersRejected, m.fills, m.terminal,
		m.autoCloses, m.gatewayErrors, m.loopErrors,
		m.pointHits, m.pointEntries,
		m.openPositions, m.pendingOrders, m.realizedPnL,
	)
	return m
}

func (m *Metrics) OrderSubmitted(kind string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) OrderRejected(kind string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(kind).Inc()
}

func (m *Metrics) Fill(kind string) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(kind).Inc()
}

func (m *Metrics) Terminal(status string) {
	if m == nil {
		return
	}
	m.terminal.WithLabelValues(status).Inc()
}

func (m *Metrics) AutoClose(reason string) {
	if m == nil {
		return
	}
	m.autoCloses.WithLabelValues(reason).Inc()
}

func (m *Metrics) GatewayError(op string) {
	if m == nil {
		return
	}
	m.gatewayErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) LoopError(loop string) {
	if m == nil {
		return
	}
	m.loopErrors.WithLabelValues(loop).Inc()
}

func (m *Metrics) PointHit(point string) {
	if m == nil {
		return
	}
	m.pointHits.WithLabelValues(point).Inc()
}

func (m *Metrics) PointEntry(point string) {
	if m == nil {
		return
	}
	m.pointEntries.WithLabelValues(point).Inc()
}

// SetBook records the current ledger and pending table sizes.
func (m *Metrics) SetBook(open, pending int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(open))
	m.pendingOrders.Set(float64(pending))
}

func (m *Metrics) AddRealized(pl float64) {
	if m == nil {
		return
	}
	m.realizedPnL.Add(pl)
}
