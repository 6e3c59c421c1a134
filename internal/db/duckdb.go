// Package db opens the database that backs the defect API: an embedded
// DuckDB file by default, or Postgres when a postgres:// URL is given.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb"
)

// Config holds database configuration.
type Config struct {
	DataDir string
	DBName  string
	// URL selects Postgres when it starts with postgres:// or postgresql://.
	URL string
}

// Driver returns the database/sql driver name for cfg.
func (c Config) Driver() string {
	if strings.HasPrefix(c.URL, "postgres://") || strings.HasPrefix(c.URL, "postgresql://") {
		return "pgx"
	}
	return "duckdb"
}

// Path returns the database file path. An empty DataDir selects an in-memory
// database.
func (c Config) Path() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "duckdb", c.DBName+".duckdb")
}

// Open opens the database and applies the schema.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	driver, dsn := cfg.Driver(), cfg.URL
	if driver == "duckdb" {
		dsn = cfg.Path()
		if dsn != "" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
			}
		}
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if err := Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Schema is the defect table layout. It is valid for both DuckDB and
// Postgres.
var Schema = []string{
	`CREATE SEQUENCE IF NOT EXISTS defects_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS defects (
		id          BIGINT PRIMARY KEY DEFAULT nextval('defects_id_seq'),
		vehicle_id  VARCHAR,
		defect_type VARCHAR NOT NULL,
		severity    VARCHAR NOT NULL,
		latitude    DOUBLE PRECISION NOT NULL,
		longitude   DOUBLE PRECISION NOT NULL,
		notes       VARCHAR,
		reported_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
		updated_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS defects_vehicle_idx ON defects (vehicle_id)`,
	`CREATE INDEX IF NOT EXISTS defects_reported_idx ON defects (reported_at)`,
}

// Migrate applies Schema. It is safe to run on every start.
func Migrate(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range Schema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
