package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	LedgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	// LedgerUnitsMoved counts units per flow: produced, distributed, sold,
	// returned, rejected, opname_sold.
	LedgerUnitsMoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_units_moved_total",
			Help: "Stock units moved through the ledger by flow.",
		},
		[]string{"flow"},
	)
)

// ObserveLedger records the outcome of one ledger operation.
func ObserveLedger(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	LedgerOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

func AddUnits(flow string, units int) {
	if units > 0 {
		LedgerUnitsMoved.WithLabelValues(flow).Add(float64(units))
	}
}
