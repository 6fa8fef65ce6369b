package pgxconn_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/pgsupporter"
	"github.com/pthm/pgsupporter/internal/pgtestdb"
	"github.com/pthm/pgsupporter/pgxconn"
)

func TestNewDirectInvalidDSN(t *testing.T) {
	_, err := pgxconn.NewDirect("postgres://%zz")
	assert.True(t, pgsupporter.IsConfigurationErr(err))
}

func TestNewPoolRejectsInvertedBounds(t *testing.T) {
	_, err := pgxconn.NewPool(context.Background(), pgxconn.Config{
		DSN:      "postgres://user@localhost:1/db",
		Pool:     true,
		MinConns: 8,
		MaxConns: 2,
	})
	assert.True(t, pgsupporter.IsConfigurationErr(err))
}

func TestOpenDirectDoesNotConnect(t *testing.T) {
	src, err := pgxconn.Open(context.Background(), pgxconn.Config{DSN: "postgres://user@localhost:1/db"})
	require.NoError(t, err)
	_, ok := src.(*pgxconn.Direct)
	assert.True(t, ok)
	src.Close()
}

func openSources(t *testing.T) map[string]pgxconn.Source {
	t.Helper()
	dsn := pgtestdb.DSN(t)
	ctx := context.Background()

	pool, err := pgxconn.Open(ctx, pgxconn.Config{DSN: dsn, Pool: true, MinConns: 1, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	direct, err := pgxconn.Open(ctx, pgxconn.Config{DSN: dsn})
	require.NoError(t, err)

	return map[string]pgxconn.Source{"pool": pool, "direct": direct}
}

func TestIntegrationBuilderRoundTrip(t *testing.T) {
	for name, src := range openSources(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			table := "users_" + name

			err := pgsupporter.RunInTransaction(ctx, src, func(tx *pgsupporter.Transaction) error {
				return tx.ExecuteDDL(ctx, "CREATE TABLE "+table+` (
					id serial PRIMARY KEY,
					name text NOT NULL,
					age int,
					tags json,
					note text DEFAULT '100%'
				);`)
			}, pgsupporter.ReadOnly(false))
			require.NoError(t, err)

			b, err := pgsupporter.NewQueryBuilder(src, nil)
			require.NoError(t, err)
			b.Table(table)

			require.NoError(t, b.Insert(ctx, pgsupporter.Fields{
				{Name: "name", Value: "alice"},
				{Name: "age", Value: 31},
				{Name: "tags", Value: []string{"admin", "ops"}},
			}))
			require.NoError(t, b.Insert(ctx, pgsupporter.Fields{
				{Name: "name", Value: "bob"},
				{Name: "age", Value: 17},
			}))

			sel, err := pgsupporter.NewQueryBuilder(src, nil)
			require.NoError(t, err)
			recs, err := sel.Table(table).Where("age", ">", 18).OrWhere("name", "=", "nobody").Select(ctx, "name", "tags", "note")
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, []string{"name", "tags", "note"}, recs[0].Columns)
			assert.Equal(t, "alice", recs[0].Values[0])
			assert.Equal(t, []any{"admin", "ops"}, recs[0].Values[1])
			assert.Equal(t, "100%", recs[0].Values[2])

			upd, err := pgsupporter.NewQueryBuilder(src, nil)
			require.NoError(t, err)
			require.NoError(t, upd.Table(table).Where("name", "=", "bob").Update(ctx, pgsupporter.Fields{{Name: "age", Value: 18}}))

			one, err := pgsupporter.NewQueryBuilder(src, nil)
			require.NoError(t, err)
			rec, err := one.Table(table).Where("name", "LIKE", "b%").SelectOne(ctx, "age")
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.EqualValues(t, 18, rec.Values[0])

			del, err := pgsupporter.NewQueryBuilder(src, nil)
			require.NoError(t, err)
			require.NoError(t, del.Table(table).Delete(ctx))

			rec, err = one.SelectOne(ctx)
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	}
}

func TestIntegrationRollbackAndReadOnly(t *testing.T) {
	for name, src := range openSources(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			table := "events_" + name

			require.NoError(t, pgsupporter.RunInTransaction(ctx, src, func(tx *pgsupporter.Transaction) error {
				return tx.ExecuteDDL(ctx, "CREATE TABLE "+table+" (id int);")
			}, pgsupporter.ReadOnly(false)))

			boom := errors.New("boom")
			err := pgsupporter.RunInTransaction(ctx, src, func(tx *pgsupporter.Transaction) error {
				if err := tx.Save(ctx, "INSERT INTO "+table+" (id) VALUES (%s);", 1); err != nil {
					return err
				}
				return boom
			}, pgsupporter.ReadOnly(false))
			assert.ErrorIs(t, err, boom)

			// Writes in a read-only transaction are discarded on release.
			require.NoError(t, pgsupporter.RunInTransaction(ctx, src, func(tx *pgsupporter.Transaction) error {
				return tx.Save(ctx, "INSERT INTO "+table+" (id) VALUES (%s);", 2)
			}))

			var count any
			require.NoError(t, pgsupporter.RunInTransaction(ctx, src, func(tx *pgsupporter.Transaction) error {
				rec, err := tx.FindOne(ctx, "SELECT count(*) AS n FROM "+table+";")
				if err != nil {
					return err
				}
				count, _ = rec.Get("n")
				return nil
			}))
			assert.EqualValues(t, 0, count)
		})
	}
}

func TestIntegrationSchemaSwitch(t *testing.T) {
	for name, src := range openSources(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			schema := "tenant_" + name

			require.NoError(t, pgsupporter.RunInTransaction(ctx, src, func(tx *pgsupporter.Transaction) error {
				if err := tx.ExecuteDDL(ctx, "CREATE SCHEMA "+schema+";"); err != nil {
					return err
				}
				return tx.ExecuteDDL(ctx, "CREATE TABLE "+schema+".accounts (id int); INSERT INTO "+schema+".accounts VALUES (7);")
			}, pgsupporter.ReadOnly(false)))

			err := pgsupporter.RunInTransaction(ctx, src, func(tx *pgsupporter.Transaction) error {
				b, err := pgsupporter.NewQueryBuilder(nil, tx)
				if err != nil {
					return err
				}
				recs, err := b.Table("accounts").Select(ctx, "id")
				if err != nil {
					return err
				}
				require.Len(t, recs, 1)
				assert.EqualValues(t, 7, recs[0].Values[0])
				return nil
			}, pgsupporter.InSchema(schema))
			require.NoError(t, err)
		})
	}
}

func TestIntegrationPooledSearchPathReset(t *testing.T) {
	ctx := context.Background()
	pool, err := pgxconn.Open(ctx, pgxconn.Config{DSN: pgtestdb.DSN(t), Pool: true, MinConns: 1, MaxConns: 1})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pgsupporter.RunInTransaction(ctx, pool, func(tx *pgsupporter.Transaction) error {
		rec, err := tx.FindOne(ctx, "SHOW search_path;")
		require.NoError(t, err)
		assert.Contains(t, rec.Values[0], "tenant_x")
		return nil
	}, pgsupporter.ReadOnly(false), pgsupporter.InSchema("tenant_x")))

	// MaxConns 1 hands the same session to the next transaction.
	require.NoError(t, pgsupporter.RunInTransaction(ctx, pool, func(tx *pgsupporter.Transaction) error {
		rec, err := tx.FindOne(ctx, "SHOW search_path;")
		require.NoError(t, err)
		assert.NotContains(t, rec.Values[0], "tenant_x")
		return nil
	}))
}
