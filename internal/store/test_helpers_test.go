package store

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/convoetl/internal/snapshot"
)

// createTestStore creates a new initialized store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	return s
}

// validate runs snap through the built-in contract.
func validate(t *testing.T, snap *snapshot.Snapshot) *snapshot.Validated {
	t.Helper()
	contract, err := snapshot.DefaultContract()
	if err != nil {
		t.Fatalf("DefaultContract() failed: %v", err)
	}
	var buf bytes.Buffer
	if err := snapshot.Encode(&buf, snap); err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	v, err := snapshot.ValidateBytes("test.json", buf.Bytes(), contract)
	if err != nil {
		t.Fatalf("ValidateBytes() failed: %v", err)
	}
	return v
}

// countRows returns the row count of table.
func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s failed: %v", table, err)
	}
	return n
}

func ptr(s string) *string {
	return &s
}

// fixedSnapshot is a small snapshot with stable identifiers.
func fixedSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Sessions: []snapshot.Session{
			{ID: "s1", StartTS: "2024-01-01T10:00:00", Metadata: ptr(`{"user":"user1"}`)},
		},
		Events: []snapshot.Event{
			{ID: "e1", TS: "2024-01-01T10:01:00", SessionID: "s1", Seq: 1, Kind: "user_prompt", Actor: ptr("User"), Text: ptr("Hello")},
			{ID: "e2", TS: "2024-01-01T10:02:00", SessionID: "s1", Seq: 2, Kind: "assistant_out", Actor: ptr("Assistant"), Payload: ptr("{}"), Text: ptr("Hi"), Metrics: ptr(`{"tokens":7}`)},
		},
		EventParents: []snapshot.EventParent{
			{ChildID: "e2", ParentID: "e1"},
		},
	}
}
