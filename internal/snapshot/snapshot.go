package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Table names, in dependency order.
const (
	TableSessions     = "sessions"
	TableEvents       = "events"
	TableEventParents = "event_parents"
)

// Tables lists every table in dependency order: a table only references
// tables before it.
var Tables = []string{TableSessions, TableEvents, TableEventParents}

// Event kinds produced by the seeding path. The contract decides which kinds
// are accepted.
const (
	KindUserPrompt   = "user_prompt"
	KindAssistantOut = "assistant_out"
)

// Session is one row of the sessions table.
type Session struct {
	ID       string  `json:"id"`
	StartTS  string  `json:"start_ts"`
	Metadata *string `json:"metadata"`
}

// Event is one row of the events table.
type Event struct {
	ID        string  `json:"id"`
	TS        string  `json:"ts"`
	SessionID string  `json:"session_id"`
	Seq       int64   `json:"seq"`
	Kind      string  `json:"kind"`
	Actor     *string `json:"actor"`
	Payload   *string `json:"payload"`
	Text      *string `json:"text"`
	Metrics   *string `json:"metrics"`
}

// EventParent is a lineage edge: ChildID replies to ParentID.
type EventParent struct {
	ChildID  string `json:"child_id"`
	ParentID string `json:"parent_id"`
}

// Snapshot is a point-in-time export of all three tables.
// Field order matches dependency order and is preserved by Encode.
type Snapshot struct {
	Sessions     []Session     `json:"sessions"`
	Events       []Event       `json:"events"`
	EventParents []EventParent `json:"event_parents"`
}

// Len returns the number of rows per table.
func (s *Snapshot) Len() (sessions, events, edges int) {
	return len(s.Sessions), len(s.Events), len(s.EventParents)
}

// Validated is a snapshot that satisfied a contract.
// The zero value is not usable; obtain one from Validate or ValidateBytes.
type Validated struct {
	snap   *Snapshot
	source string
}

// Snapshot returns the validated rows.
func (v *Validated) Snapshot() *Snapshot {
	return v.snap
}

// Source names the document the snapshot was read from.
func (v *Validated) Source() string {
	return v.source
}

// Encode writes s as an indented snapshot document.
// Empty tables are written as [] rather than null so the output always
// satisfies the contract.
func Encode(w io.Writer, s *Snapshot) error {
	out := *s
	if out.Sessions == nil {
		out.Sessions = []Session{}
	}
	if out.Events == nil {
		out.Events = []Event{}
	}
	if out.EventParents == nil {
		out.EventParents = []EventParent{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// decode parses a document already checked against the contract.
func decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}
