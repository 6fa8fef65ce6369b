package metrics_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/pgsupporter"
	"github.com/pthm/pgsupporter/metrics"
	"github.com/pthm/pgsupporter/pgsupportertest"
)

func TestCollectorCountsTransactions(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	fake := pgsupportertest.New()

	require.NoError(t, pgsupporter.RunInTransaction(ctx, fake, func(tx *pgsupporter.Transaction) error {
		_, err := tx.FindAll(ctx, "SELECT 1;")
		return err
	}, pgsupporter.WithObserver(c)))

	boom := errors.New("boom")
	fake.ExecErr = boom
	err := pgsupporter.RunInTransaction(ctx, fake, func(tx *pgsupporter.Transaction) error {
		return tx.Save(ctx, "INSERT INTO t VALUES (%s);", 1)
	}, pgsupporter.ReadOnly(false), pgsupporter.WithObserver(c))
	require.ErrorIs(t, err, boom)

	expected := `
# HELP pgsupporter_transactions_opened_total Transactions opened, by access mode.
# TYPE pgsupporter_transactions_opened_total counter
pgsupporter_transactions_opened_total{mode="read_only"} 1
pgsupporter_transactions_opened_total{mode="read_write"} 1
# HELP pgsupporter_transactions_closed_total Transactions closed, by outcome and status.
# TYPE pgsupporter_transactions_closed_total counter
pgsupporter_transactions_closed_total{outcome="release",status="ok"} 1
pgsupporter_transactions_closed_total{outcome="rollback",status="ok"} 1
# HELP pgsupporter_statements_total Statements executed, by kind and status.
# TYPE pgsupporter_statements_total counter
pgsupporter_statements_total{kind="exec",status="error"} 1
pgsupporter_statements_total{kind="query",status="ok"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"pgsupporter_transactions_opened_total",
		"pgsupporter_transactions_closed_total",
		"pgsupporter_statements_total",
	))
	n, err := testutil.GatherAndCount(reg, "pgsupporter_statement_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCollectorRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)
	assert.Panics(t, func() { metrics.NewCollector(reg) })
}
