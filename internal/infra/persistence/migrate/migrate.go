// Package migrate applies the embedded schema migrations for the durable
// snapshot stores.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationsFS embed.FS

// Dialect selects the migration set and SQL dialect.
type Dialect string

// Supported dialects.
const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func (d Dialect) goose() (goose.Dialect, error) {
	switch d {
	case SQLite:
		return goose.DialectSQLite3, nil
	case Postgres:
		return goose.DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrate: unsupported dialect %q", d)
	}
}

func newProvider(db *sql.DB, dialect Dialect) (*goose.Provider, error) {
	gd, err := dialect.goose()
	if err != nil {
		return nil, err
	}
	subFS, err := fs.Sub(migrationsFS, string(dialect))
	if err != nil {
		return nil, fmt.Errorf("migrate: creating migration sub-filesystem: %w", err)
	}
	provider, err := goose.NewProvider(gd, db, subFS)
	if err != nil {
		return nil, fmt.Errorf("migrate: creating migration provider: %w", err)
	}
	return provider, nil
}

// Up applies every pending migration and returns the applied sources in order.
func Up(ctx context.Context, db *sql.DB, dialect Dialect, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	provider, err := newProvider(db, dialect)
	if err != nil {
		return nil, err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: running migrations: %w", err)
	}
	applied := make([]string, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Path)
		logger.Info("applied migration",
			slog.String("dialect", string(dialect)),
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}
	return applied, nil
}

// Version reports the current schema version of db.
func Version(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	provider, err := newProvider(db, dialect)
	if err != nil {
		return 0, err
	}
	v, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrate: reading version: %w", err)
	}
	return v, nil
}
