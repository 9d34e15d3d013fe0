// Package sqlite provides a SQLite-backed persistent store that snapshots the
// in-memory state into JSON buckets after every committed transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"forestcensus/internal/infra/persistence/bucket"
	"forestcensus/internal/infra/persistence/memory"
	"forestcensus/internal/infra/persistence/migrate"
	"forestcensus/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "forestcensus.db"

// Store persists the in-memory state to a single SQLite table as JSON blobs.
// The snapshot is written while the memory store still holds its write lock,
// so a failed write leaves both the database and the in-memory state unchanged.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// Option configures the SQLite store.
type Option func(*config)

type config struct {
	logger  *slog.Logger
	memOpts []memory.Option
}

// WithLogger routes migration logs to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithMemoryOptions forwards options to the embedded memory store.
func WithMemoryOptions(opts ...memory.Option) Option {
	return func(c *config) { c.memOpts = append(c.memOpts, opts...) }
}

// NewStore opens path, applies pending migrations, and hydrates the
// in-memory store from any existing snapshot.
func NewStore(ctx context.Context, path string, engine *domain.RulesEngine, opts ...Option) (*Store, error) {
	cfg := config{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps in-process readers consistent.
	db.SetMaxOpenConns(1)
	if _, err := migrate.Up(ctx, db, migrate.SQLite, cfg.logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{Store: memory.NewStore(engine, cfg.memOpts...), db: db, path: path}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	dec := bucket.NewDecoder()
	found := false
	for rows.Next() {
		var name string
		var payload []byte
		if err := rows.Scan(&name, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if err := dec.Add(name, payload); err != nil {
			return err
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if found {
		s.ImportState(dec.Snapshot())
	}
	return nil
}

func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) (retErr error) {
	entries, err := bucket.Encode(snapshot)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state(bucket,payload,updated_at) VALUES(?,?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
			e.Name, e.Payload, stamp); err != nil {
			return fmt.Errorf("upsert %s: %w", e.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RunInTransaction applies fn within a transaction and snapshots the result to
// SQLite before it becomes visible.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	return s.RunInTransactionWithHook(ctx, fn, s.persist)
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
