package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"cliniccore/internal/logging"
)

// Default DSN keeps parity with Open defaults while allowing overrides via env.
const defaultPostgresDSN = "postgres://localhost/cliniccore?sslmode=disable"

// OpenPostgres opens a postgres-backed store for shared deployments where
// several clients work against one local-network database.
func OpenPostgres(dsn string, log logging.Logger) (Store, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(db, DriverPostgres, log)
}
