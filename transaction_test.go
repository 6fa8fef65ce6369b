package pgsupporter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pthm/pgsupporter"
	"github.com/pthm/pgsupporter/pgsupportertest"
)

func TestTransactionStateMachine(t *testing.T) {
	ctx := context.Background()
	fake := pgsupportertest.New()
	tx := pgsupporter.NewTransaction(fake)

	_, err := tx.FindAll(ctx, "SELECT 1;")
	assert.ErrorIs(t, err, pgsupporter.ErrTxNotOpen)
	assert.ErrorIs(t, tx.Close(ctx, true), pgsupporter.ErrTxNotOpen)

	require.NoError(t, tx.Open(ctx))
	assert.ErrorIs(t, tx.Open(ctx), pgsupporter.ErrTxAlreadyOpen)

	require.NoError(t, tx.Close(ctx, true))
	assert.ErrorIs(t, tx.Open(ctx), pgsupporter.ErrTxClosed)
	assert.ErrorIs(t, tx.Save(ctx, "INSERT INTO t VALUES (%s);", 1), pgsupporter.ErrTxClosed)
	assert.ErrorIs(t, tx.Close(ctx, true), pgsupporter.ErrTxClosed)

	assert.Equal(t, 1, fake.Count(pgsupportertest.OpAcquire))
	assert.Equal(t, 1, fake.Count(pgsupportertest.OpClose))
}

func TestTransactionClose(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		readOnly     bool
		success      bool
		wantCommit   int
		wantRollback int
	}{
		{"read-only success", true, true, 0, 0},
		{"read-only failure", true, false, 0, 0},
		{"read-write success", false, true, 1, 0},
		{"read-write failure", false, false, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := pgsupportertest.New()
			tx := pgsupporter.NewTransaction(fake, pgsupporter.ReadOnly(tt.readOnly))
			require.NoError(t, tx.Open(ctx))
			require.NoError(t, tx.Close(ctx, tt.success))

			assert.Equal(t, tt.wantCommit, fake.Count(pgsupportertest.OpCommit))
			assert.Equal(t, tt.wantRollback, fake.Count(pgsupportertest.OpRollback))
			assert.Equal(t, 1, fake.Count(pgsupportertest.OpClose))
		})
	}
}

func TestTransactionDefaultsToReadOnly(t *testing.T) {
	tx := pgsupporter.NewTransaction(pgsupportertest.New())
	assert.True(t, tx.IsReadOnly())
	assert.NotEmpty(t, tx.ID())
}

func TestTransactionCloseReleasesWhenCommitFails(t *testing.T) {
	ctx := context.Background()
	fake := pgsupportertest.New()
	fake.CommitErr = errors.New("serialization failure")

	tx := pgsupporter.NewTransaction(fake, pgsupporter.ReadOnly(false))
	require.NoError(t, tx.Open(ctx))

	err := tx.Close(ctx, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, fake.CommitErr)
	assert.Equal(t, 1, fake.Count(pgsupportertest.OpClose))
	assert.Zero(t, fake.Outstanding())
}

func TestTransactionStatements(t *testing.T) {
	ctx := context.Background()
	fake := pgsupportertest.New()
	fake.SetRows([]string{"id"}, []any{1}, []any{2})

	tx := pgsupporter.NewTransaction(fake, pgsupporter.ReadOnly(false))
	require.NoError(t, tx.Open(ctx))

	all, err := tx.FindAll(ctx, "SELECT id FROM t;")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := tx.FindOne(ctx, "SELECT id FROM t WHERE id = %s;", 1)
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, []any{1}, one.Values)

	require.NoError(t, tx.Save(ctx, "INSERT INTO t (doc) VALUES (%s::json);", map[string]any{"a": 1}))
	require.NoError(t, tx.Delete(ctx, "DELETE FROM t WHERE id = %s;", 2))
	require.NoError(t, tx.ChangeSchema(ctx, "tenant"))
	require.NoError(t, tx.ExecuteDDL(ctx, "CREATE TABLE x (pct text DEFAULT '100%');"))
	require.NoError(t, tx.Close(ctx, true))

	calls := fake.Calls()
	var params [][]pgsupporter.Value
	for _, c := range calls {
		if c.Op == pgsupportertest.OpQuery || c.Op == pgsupportertest.OpExec {
			params = append(params, c.Params)
		}
	}
	require.Len(t, params, 6)
	assert.Empty(t, params[0])
	assert.Equal(t, 1, params[1][0].Any())
	assert.True(t, params[2][0].IsStructured())
	assert.Equal(t, 2, params[3][0].Any())
	assert.Empty(t, params[4], "schema switch binds nothing")
	assert.Empty(t, params[5], "ddl binds nothing")

	assert.Equal(t, "SET search_path TO tenant,public;", fake.Statements()[4])
}

func TestFindOneNoRows(t *testing.T) {
	ctx := context.Background()
	tx := pgsupporter.NewTransaction(pgsupportertest.New())
	require.NoError(t, tx.Open(ctx))
	defer func() { _ = tx.Close(ctx, true) }()

	rec, err := tx.FindOne(ctx, "SELECT 1 WHERE false;")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestTransactionDo(t *testing.T) {
	ctx := context.Background()

	t.Run("success commits and applies schema first", func(t *testing.T) {
		fake := pgsupportertest.New()
		tx := pgsupporter.NewTransaction(fake, pgsupporter.ReadOnly(false), pgsupporter.InSchema("tenant"))

		err := tx.Do(ctx, func(tx *pgsupporter.Transaction) error {
			return tx.Save(ctx, "INSERT INTO t (a) VALUES (%s);", 1)
		})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"SET search_path TO tenant,public;",
			"INSERT INTO t (a) VALUES (%s);",
		}, fake.Statements())
		assert.Equal(t, 1, fake.Count(pgsupportertest.OpCommit))
		assert.Zero(t, fake.Outstanding())
	})

	t.Run("error rolls back and propagates unchanged", func(t *testing.T) {
		fake := pgsupportertest.New()
		boom := errors.New("boom")

		err := pgsupporter.RunInTransaction(ctx, fake, func(*pgsupporter.Transaction) error {
			return boom
		}, pgsupporter.ReadOnly(false))
		assert.Same(t, boom, err)
		assert.Equal(t, 1, fake.Count(pgsupportertest.OpRollback))
		assert.Zero(t, fake.Count(pgsupportertest.OpCommit))
		assert.Zero(t, fake.Outstanding())
	})

	t.Run("close failure after error yields exit error", func(t *testing.T) {
		fake := pgsupportertest.New()
		fake.RollbackErr = errors.New("connection reset")
		boom := errors.New("boom")

		err := pgsupporter.RunInTransaction(ctx, fake, func(*pgsupporter.Transaction) error {
			return boom
		}, pgsupporter.ReadOnly(false))

		var exitErr *pgsupporter.TxExitError
		require.ErrorAs(t, err, &exitErr)
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, fake.RollbackErr)
		assert.Zero(t, fake.Outstanding())
	})

	t.Run("panic rolls back and re-panics", func(t *testing.T) {
		fake := pgsupportertest.New()
		tx := pgsupporter.NewTransaction(fake, pgsupporter.ReadOnly(false))

		assert.PanicsWithValue(t, "kaboom", func() {
			_ = tx.Do(ctx, func(*pgsupporter.Transaction) error {
				panic("kaboom")
			})
		})
		assert.Equal(t, 1, fake.Count(pgsupportertest.OpRollback))
		assert.Zero(t, fake.Outstanding())
	})

	t.Run("schema failure still releases", func(t *testing.T) {
		fake := pgsupportertest.New()
		fake.ExecErr = errors.New("invalid schema")
		called := false

		err := pgsupporter.RunInTransaction(ctx, fake, func(*pgsupporter.Transaction) error {
			called = true
			return nil
		}, pgsupporter.InSchema("missing"))
		assert.ErrorIs(t, err, fake.ExecErr)
		assert.False(t, called)
		assert.Zero(t, fake.Outstanding())
	})

	t.Run("acquire failure", func(t *testing.T) {
		fake := pgsupportertest.New()
		fake.AcquireErr = errors.New("too many clients")

		err := pgsupporter.RunInTransaction(ctx, fake, func(*pgsupporter.Transaction) error { return nil })
		assert.ErrorIs(t, err, fake.AcquireErr)
		assert.Zero(t, fake.Count(pgsupportertest.OpClose))
	})
}

func TestStartTransactionDefault(t *testing.T) {
	pgsupporter.ResetDefault()
	t.Cleanup(pgsupporter.ResetDefault)

	_, err := pgsupporter.StartTransaction(nil)
	assert.True(t, pgsupporter.IsNoDefaultConnectionErr(err))

	fake := pgsupportertest.New()
	require.NoError(t, pgsupporter.InitDefault(fake))
	assert.True(t, pgsupporter.IsConfigurationErr(pgsupporter.InitDefault(fake)), "double init")
	assert.True(t, pgsupporter.IsConfigurationErr(pgsupporter.InitDefault(nil)))

	tx, err := pgsupporter.StartTransaction(nil, pgsupporter.InSchema("tenant"))
	require.NoError(t, err)
	assert.Equal(t, "tenant", tx.Schema())

	require.NoError(t, tx.Open(context.Background()))
	require.NoError(t, tx.Close(context.Background(), true))
	assert.Equal(t, 1, fake.Count(pgsupportertest.OpAcquire))
}

type recordingObserver struct {
	opened     []bool
	closed     []pgsupporter.Outcome
	statements []pgsupporter.StatementKind
}

func (o *recordingObserver) TransactionOpened(readOnly bool) { o.opened = append(o.opened, readOnly) }

func (o *recordingObserver) TransactionClosed(outcome pgsupporter.Outcome, _ error) {
	o.closed = append(o.closed, outcome)
}

func (o *recordingObserver) StatementExecuted(kind pgsupporter.StatementKind, _ time.Duration, _ error) {
	o.statements = append(o.statements, kind)
}

func TestTransactionObserverAndLogging(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.DebugLevel)
	obs := &recordingObserver{}

	err := pgsupporter.RunInTransaction(ctx, pgsupportertest.New(), func(tx *pgsupporter.Transaction) error {
		if _, err := tx.FindAll(ctx, "SELECT 1;"); err != nil {
			return err
		}
		return tx.ExecuteDDL(ctx, "CREATE TABLE t ();")
	},
		pgsupporter.ReadOnly(false),
		pgsupporter.InSchema("tenant"),
		pgsupporter.WithObserver(obs),
		pgsupporter.WithLogger(zap.New(core)),
	)
	require.NoError(t, err)

	assert.Equal(t, []bool{false}, obs.opened)
	assert.Equal(t, []pgsupporter.Outcome{pgsupporter.OutcomeCommit}, obs.closed)
	assert.Equal(t, []pgsupporter.StatementKind{
		pgsupporter.StatementSchema,
		pgsupporter.StatementQuery,
		pgsupporter.StatementDDL,
	}, obs.statements)

	assert.Equal(t, 1, logs.FilterMessage("transaction opened").Len())
	assert.Equal(t, 1, logs.FilterMessage("transaction closed").Len())
	for _, entry := range logs.All() {
		assert.Contains(t, entry.ContextMap(), "tx_id")
	}
}
