package main

import (
	"context"
	"errors"

	"github.com/pthm/pgsupporter"
	"github.com/pthm/pgsupporter/internal/cli"
	"github.com/pthm/pgsupporter/pgxconn"
	"github.com/pthm/pgsupporter/sqlconn"
)

// resolveDSN returns the --db flag, or the DSN built from configuration.
func resolveDSN() (string, error) {
	if dbURL != "" {
		return dbURL, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	return dsn, nil
}

// source is a connector the CLI shuts down when a command finishes.
type source interface {
	pgsupporter.Connector
	Ping(ctx context.Context) error
	Close()
}

// openSource opens the connector selected by database.driver.
func openSource(ctx context.Context, dsn string) (source, error) {
	db := cfg.Database

	var (
		src source
		err error
	)
	switch db.Driver {
	case cli.DriverPq, cli.DriverPgxStdlib:
		driver := sqlconn.DefaultDriver
		if db.Driver == cli.DriverPgxStdlib {
			driver = "pgx"
		}
		src, err = sqlconn.Open(sqlconn.Config{
			Driver:   driver,
			DSN:      dsn,
			Pool:     db.Pool.Enabled,
			MinConns: db.Pool.MinConns,
			MaxConns: db.Pool.MaxConns,
		})
	default:
		src, err = pgxconn.Open(ctx, pgxconn.Config{
			DSN:      dsn,
			Pool:     db.Pool.Enabled,
			MinConns: int32(db.Pool.MinConns),
			MaxConns: int32(db.Pool.MaxConns),
		}, pgxconn.WithLogger(logger))
	}
	if err != nil {
		if pgsupporter.IsConfigurationErr(err) {
			return nil, cli.ConfigError("database configuration", err)
		}
		return nil, cli.DBConnectError("connecting to database", err)
	}
	return src, nil
}

// connect resolves the DSN and opens a source.
func connect(ctx context.Context) (source, error) {
	dsn, err := resolveDSN()
	if err != nil {
		return nil, err
	}
	return openSource(ctx, dsn)
}

// errOffline is returned when a dry run tries to reach the database.
var errOffline = errors.New("dry run: database access disabled")

// offline is the connector behind dry-run builders. Rendering never
// acquires a connection.
type offline struct{}

func (offline) Acquire(context.Context) (pgsupporter.Connection, error) {
	return nil, errOffline
}
