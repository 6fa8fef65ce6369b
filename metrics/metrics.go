// Package metrics exports pgsupporter transaction metrics to Prometheus.
//
//	c := metrics.NewCollector(prometheus.DefaultRegisterer)
//	tx := pgsupporter.NewTransaction(conn, pgsupporter.WithObserver(c))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pthm/pgsupporter"
)

// Collector implements pgsupporter.Observer.
type Collector struct {
	opened     *prometheus.CounterVec
	closed     *prometheus.CounterVec
	statements *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var _ pgsupporter.Observer = (*Collector)(nil)

// NewCollector registers the pgsupporter metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		opened: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgsupporter_transactions_opened_total",
				Help: "Transactions opened, by access mode.",
			},
			[]string{"mode"},
		),
		closed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgsupporter_transactions_closed_total",
				Help: "Transactions closed, by outcome and status.",
			},
			[]string{"outcome", "status"},
		),
		statements: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgsupporter_statements_total",
				Help: "Statements executed, by kind and status.",
			},
			[]string{"kind", "status"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgsupporter_statement_duration_seconds",
				Help:    "Statement execution time in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}
}

// TransactionOpened implements pgsupporter.Observer.
func (c *Collector) TransactionOpened(readOnly bool) {
	mode := "read_write"
	if readOnly {
		mode = "read_only"
	}
	c.opened.WithLabelValues(mode).Inc()
}

// TransactionClosed implements pgsupporter.Observer.
func (c *Collector) TransactionClosed(outcome pgsupporter.Outcome, err error) {
	c.closed.WithLabelValues(string(outcome), status(err)).Inc()
}

// StatementExecuted implements pgsupporter.Observer.
func (c *Collector) StatementExecuted(kind pgsupporter.StatementKind, elapsed time.Duration, err error) {
	c.statements.WithLabelValues(string(kind), status(err)).Inc()
	c.duration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
