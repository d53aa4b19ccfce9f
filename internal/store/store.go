package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/shapeq/internal/codec"
	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - empty database
// 1 - shapeq_tables catalog
const currentSchemaVersion = 1

// Store keeps items of registered types in SQLite and serves them as
// query sources.
type Store struct {
	db       *sql.DB
	registry *meta.Registry
	writer   *codec.Writer
	reader   *codec.Reader
	compiler *querysql.SQLCompiler
	logger   *slog.Logger

	mu     sync.RWMutex
	tables map[reflect.Type]*table
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for query and fallback diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates or opens a SQLite database at the given path. Use
// ":memory:" for a private in-memory database.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string, registry *meta.Registry, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:       db,
		registry: registry,
		writer:   codec.NewWriter(registry),
		reader:   codec.NewReader(registry),
		compiler: querysql.NewSQLCompiler(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tables:   make(map[reflect.Type]*table),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates the catalog and runs migrations. This function is
// idempotent.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// Register creates the table for t (a struct type or a pointer to one)
// unless it exists. An existing table must have been created with the
// same column layout.
func (s *Store) Register(ctx context.Context, t reflect.Type) error {
	tbl, err := s.newTable(t)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[tbl.desc.Type]; ok {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("register %s: begin: %w", tbl.name, err)
	}
	defer tx.Rollback()

	var layout string
	err = tx.QueryRowContext(ctx, "SELECT columns FROM shapeq_tables WHERE name = ?", tbl.name).Scan(&layout)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, tbl.createSQL()); err != nil {
			return fmt.Errorf("register %s: create table: %w", tbl.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO shapeq_tables (name, go_type, columns) VALUES (?, ?, ?)",
			tbl.name, tbl.desc.Type.String(), tbl.layout()); err != nil {
			return fmt.Errorf("register %s: catalog: %w", tbl.name, err)
		}
	case err != nil:
		return fmt.Errorf("register %s: catalog: %w", tbl.name, err)
	case layout != tbl.layout():
		return fmt.Errorf("register %s: table exists with columns %s, type needs %s", tbl.name, layout, tbl.layout())
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("register %s: commit: %w", tbl.name, err)
	}
	s.tables[tbl.desc.Type] = tbl
	s.logger.Debug("table registered", "table", tbl.name, "columns", len(tbl.columns))
	return nil
}

func (s *Store) table(t reflect.Type) (*table, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tbl, ok := s.tables[t]
	if !ok {
		return nil, fmt.Errorf("type %s is not registered with the store", t)
	}
	return tbl, nil
}
