package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/convoetl/internal/snapshot"
)

// LoadOptions controls Load.
type LoadOptions struct {
	// Replace clears all tables inside the load transaction before inserting,
	// so the store mirrors the snapshot once the transaction commits.
	Replace bool
}

// LoadResult reports the rows written per table.
type LoadResult struct {
	SessionsInserted int64 `json:"sessions_inserted"`
	EventsInserted   int64 `json:"events_inserted"`
	EdgesInserted    int64 `json:"edges_inserted"`
}

// LoadError reports a failed load. The transaction was rolled back.
// Table and Row locate the failing row when known; Row is -1 otherwise.
type LoadError struct {
	Table string
	Row   int
	Err   error
}

func (e *LoadError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("load: %v", e.Err)
	}
	return fmt.Sprintf("load %s[%d]: %v", e.Table, e.Row, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsConstraint reports whether the load failed on a constraint
// (primary key, foreign key, NOT NULL).
func (e *LoadError) IsConstraint() bool {
	var se sqlite3.Error
	if errors.As(e.Err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}

const (
	insertSessionSQL = `
		INSERT INTO sessions (id, start_ts, metadata)
		VALUES (?, ?, ?)
	`
	insertEventSQL = `
		INSERT INTO events
		(id, ts, session_id, seq, kind, actor, payload, text, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	insertEventParentSQL = `
		INSERT INTO event_parents (child_id, parent_id)
		VALUES (?, ?)
	`
)

// Load writes a validated snapshot as one transaction spanning all three
// tables. Any failure rolls back every table and is returned as *LoadError.
func (s *Store) Load(ctx context.Context, v *snapshot.Validated, opts LoadOptions) (LoadResult, error) {
	return s.loadSnapshot(ctx, v.Snapshot(), opts)
}

func (s *Store) loadSnapshot(ctx context.Context, snap *snapshot.Snapshot, opts LoadOptions) (LoadResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return LoadResult{}, &LoadError{Row: -1, Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer tx.Rollback() // No-op if committed

	if opts.Replace {
		if err := clearTables(ctx, tx); err != nil {
			return LoadResult{}, &LoadError{Row: -1, Err: err}
		}
	}

	result, err := insertSnapshot(ctx, tx, snap)
	if err != nil {
		return LoadResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return LoadResult{}, &LoadError{Row: -1, Err: fmt.Errorf("commit: %w", err)}
	}
	return result, nil
}

// insertSnapshot inserts sessions, then events, then edges.
func insertSnapshot(ctx context.Context, tx *sql.Tx, snap *snapshot.Snapshot) (LoadResult, error) {
	var result LoadResult

	n, err := insertRows(ctx, tx, snapshot.TableSessions, insertSessionSQL, len(snap.Sessions), func(i int) []any {
		r := snap.Sessions[i]
		return []any{r.ID, r.StartTS, r.Metadata}
	})
	if err != nil {
		return LoadResult{}, err
	}
	result.SessionsInserted = n

	n, err = insertRows(ctx, tx, snapshot.TableEvents, insertEventSQL, len(snap.Events), func(i int) []any {
		r := snap.Events[i]
		return []any{r.ID, r.TS, r.SessionID, r.Seq, r.Kind, r.Actor, r.Payload, normalizeText(r.Text), r.Metrics}
	})
	if err != nil {
		return LoadResult{}, err
	}
	result.EventsInserted = n

	n, err = insertRows(ctx, tx, snapshot.TableEventParents, insertEventParentSQL, len(snap.EventParents), func(i int) []any {
		r := snap.EventParents[i]
		return []any{r.ChildID, r.ParentID}
	})
	if err != nil {
		return LoadResult{}, err
	}
	result.EdgesInserted = n

	return result, nil
}

// insertRows runs one prepared statement per row with bound parameters.
func insertRows(ctx context.Context, tx *sql.Tx, table, query string, count int, args func(i int) []any) (int64, error) {
	if count == 0 {
		return 0, nil
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, &LoadError{Table: table, Row: -1, Err: fmt.Errorf("prepare: %w", err)}
	}
	defer stmt.Close()

	var inserted int64
	for i := 0; i < count; i++ {
		res, err := stmt.ExecContext(ctx, args(i)...)
		if err != nil {
			return 0, &LoadError{Table: table, Row: i, Err: err}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, &LoadError{Table: table, Row: i, Err: fmt.Errorf("rows affected: %w", err)}
		}
		inserted += n
	}
	return inserted, nil
}

// normalizeText stores the plain-text rendering in NFC so equal text compares
// equal regardless of how the producer composed it.
func normalizeText(text *string) *string {
	if text == nil {
		return nil
	}
	normalized := norm.NFC.String(*text)
	return &normalized
}
