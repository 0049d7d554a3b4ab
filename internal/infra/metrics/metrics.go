// Package metrics exposes ledger activity as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
)

const namespace = "warehouse"

type Ledger struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	clamped    prometheus.Counter
	total      *prometheus.GaugeVec
	reserved   *prometheus.GaugeVec
	available  *prometheus.GaugeVec
	low        *prometheus.GaugeVec
}

// NewLedger registers the collectors on reg. Pass prometheus.DefaultRegisterer
// to serve them from promhttp.Handler.
func NewLedger(reg prometheus.Registerer) *Ledger {
	m := &Ledger{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger operations by outcome (ok or error code).",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger operation latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"op"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_retries_total",
			Help:      "Transactions retried after a transient store failure.",
		}, []string{"op"}),
		clamped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_release_clamped_total",
			Help:      "Reservation releases that exceeded reserved_qty and were floored at zero.",
		}),
		total: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stock_total_qty",
			Help:      "Physical quantity on hand.",
		}, []string{"material_id"}),
		reserved: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stock_reserved_qty",
			Help:      "Quantity held by open allocations.",
		}, []string{"material_id"}),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stock_available_qty",
			Help:      "total_qty - reserved_qty.",
		}, []string{"material_id"}),
		low: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stock_low",
			Help:      "1 when available_qty is at or below min_stock_level.",
		}, []string{"material_id"}),
	}
	reg.MustRegister(m.operations, m.duration, m.retries, m.clamped, m.total, m.reserved, m.available, m.low)
	return m
}

func (m *Ledger) ObserveOperation(op, outcome string, took time.Duration) {
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(took.Seconds())
}

func (m *Ledger) IncRetry(op string) {
	m.retries.WithLabelValues(op).Inc()
}

func (m *Ledger) IncReleaseClamped(uuid.UUID) {
	m.clamped.Inc()
}

func (m *Ledger) ObserveStock(s stock.Stock) {
	id := s.MaterialID.String()
	m.total.WithLabelValues(id).Set(s.TotalQty.InexactFloat64())
	m.reserved.WithLabelValues(id).Set(s.ReservedQty.InexactFloat64())
	m.available.WithLabelValues(id).Set(s.AvailableQty().InexactFloat64())
	low := 0.0
	if s.IsLow() {
		low = 1
	}
	m.low.WithLabelValues(id).Set(low)
}
