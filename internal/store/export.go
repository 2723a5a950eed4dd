package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/roach88/convoetl/internal/snapshot"
)

// Dump reads every table into a Snapshot.
// All three tables are read in one transaction, so a concurrent load is seen
// either entirely or not at all. Rows are ordered by primary key so repeated
// dumps are identical.
func (s *Store) Dump(ctx context.Context) (*snapshot.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("dump: begin: %w", err)
	}
	defer tx.Rollback()

	return dumpTx(ctx, tx)
}

func dumpTx(ctx context.Context, tx *sql.Tx) (*snapshot.Snapshot, error) {
	snap := &snapshot.Snapshot{}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, start_ts, metadata FROM sessions
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("dump sessions: %w", err)
	}
	for rows.Next() {
		var r snapshot.Session
		if err := rows.Scan(&r.ID, &r.StartTS, &r.Metadata); err != nil {
			rows.Close()
			return nil, fmt.Errorf("dump sessions: scan: %w", err)
		}
		snap.Sessions = append(snap.Sessions, r)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("dump sessions: %w", err)
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT id, ts, session_id, seq, kind, actor, payload, text, metrics FROM events
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("dump events: %w", err)
	}
	for rows.Next() {
		var r snapshot.Event
		if err := rows.Scan(&r.ID, &r.TS, &r.SessionID, &r.Seq, &r.Kind, &r.Actor, &r.Payload, &r.Text, &r.Metrics); err != nil {
			rows.Close()
			return nil, fmt.Errorf("dump events: scan: %w", err)
		}
		snap.Events = append(snap.Events, r)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("dump events: %w", err)
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT child_id, parent_id FROM event_parents
		ORDER BY child_id, parent_id
	`)
	if err != nil {
		return nil, fmt.Errorf("dump event_parents: %w", err)
	}
	for rows.Next() {
		var r snapshot.EventParent
		if err := rows.Scan(&r.ChildID, &r.ParentID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("dump event_parents: scan: %w", err)
		}
		snap.EventParents = append(snap.EventParents, r)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("dump event_parents: %w", err)
	}

	return snap, nil
}

// Export writes the store contents as a snapshot document and returns the
// row counts of exactly what was written.
func (s *Store) Export(ctx context.Context, w io.Writer) (Counts, error) {
	snap, err := s.Dump(ctx)
	if err != nil {
		return Counts{}, err
	}
	if err := snapshot.Encode(w, snap); err != nil {
		return Counts{}, err
	}
	sessions, events, edges := snap.Len()
	return Counts{Sessions: int64(sessions), Events: int64(events), EventParents: int64(edges)}, nil
}

type rowsCloser interface {
	Err() error
	Close() error
}

func closeRows(rows rowsCloser) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}
