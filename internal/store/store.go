package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// driverName is the database/sql driver registered with the connect hook.
const driverName = "sqlite3_convoetl"

// connPragmas run on every new connection.
// foreign_keys is connection-scoped and must be first.
var connPragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA busy_timeout = 5000",
}

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for _, pragma := range connPragmas {
				if _, err := conn.Exec(pragma, nil); err != nil {
					return fmt.Errorf("failed to execute %q: %w", pragma, err)
				}
			}
			return nil
		},
	})
}

// ErrNotExist is returned when an operation needs an existing store file.
var ErrNotExist = errors.New("store does not exist")

// Tables lists store tables in dependency order.
var Tables = []string{"sessions", "events", "event_parents"}

// Indices lists the secondary indices created by Initialize.
var Indices = []string{"events_session_ts", "events_session_kind", "event_parents_parent"}

// Store is an open connection to the telemetry database.
// SQLite allows one writer, so the pool is limited to a single connection.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path.
// Connection pragmas are applied; the schema is not. Call Initialize.
func Open(path string) (*Store, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works (runs the connect hook)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, path: path}, nil
}

// OpenExisting opens a store only if its file already exists.
// Returns ErrNotExist otherwise, leaving the filesystem untouched.
func OpenExisting(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotExist)
		}
		return nil, fmt.Errorf("stat database: %w", err)
	}
	return Open(path)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Initialize applies the schema. Safe to call any number of times.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Truncate deletes every row, children first, keeping schema and indices.
func (s *Store) Truncate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("truncate: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := clearTables(ctx, tx); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("truncate: commit: %w", err)
	}
	return nil
}

// Pragma returns the current value of a pragma as text.
func (s *Store) Pragma(ctx context.Context, name string) (string, error) {
	var value string
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return "", fmt.Errorf("failed to query %s: %w", name, err)
	}
	return value, nil
}

// Counts holds the row count of each table.
type Counts struct {
	Sessions     int64 `json:"sessions"`
	Events       int64 `json:"events"`
	EventParents int64 `json:"event_parents"`
}

// Counts returns the number of rows in each table.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	targets := []*int64{&c.Sessions, &c.Events, &c.EventParents}
	for i, table := range Tables {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(targets[i]); err != nil {
			return Counts{}, fmt.Errorf("count %s: %w", table, err)
		}
	}
	return c, nil
}

// clearTables deletes all rows in reverse dependency order.
func clearTables(ctx context.Context, tx *sql.Tx) error {
	for i := len(Tables) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+Tables[i]); err != nil {
			return fmt.Errorf("clear %s: %w", Tables[i], err)
		}
	}
	return nil
}

// Initialize opens the store at path, applies the schema and closes it.
func Initialize(ctx context.Context, path string) error {
	s, err := Open(path)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Initialize(ctx)
}

// Truncate clears every table of the existing store at path.
func Truncate(ctx context.Context, path string) error {
	s, err := OpenExisting(path)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Truncate(ctx)
}

// Destroy removes the database file and its WAL sidecars.
// A missing store is not an error; removed reports whether anything existed.
func Destroy(path string) (removed bool, err error) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		rmErr := os.Remove(p)
		switch {
		case rmErr == nil:
			removed = true
		case os.IsNotExist(rmErr):
		default:
			return removed, fmt.Errorf("destroy: %w", rmErr)
		}
	}
	return removed, nil
}
