package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/convoetl/internal/snapshot"
)

// TimestampLayout is the ISO-8601 layout used for generated timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// MockSnapshot builds n sessions, each holding a user prompt, an assistant
// reply and one lineage edge from the reply to the prompt.
// Session i starts at base + 10i minutes.
func MockSnapshot(n int, base time.Time) *snapshot.Snapshot {
	snap := &snapshot.Snapshot{
		Sessions:     make([]snapshot.Session, 0, n),
		Events:       make([]snapshot.Event, 0, 2*n),
		EventParents: make([]snapshot.EventParent, 0, n),
	}

	for i := 1; i <= n; i++ {
		sessionID := uuid.NewString()
		start := base.Add(time.Duration(i*10) * time.Minute)
		snap.Sessions = append(snap.Sessions, snapshot.Session{
			ID:       sessionID,
			StartTS:  start.Format(TimestampLayout),
			Metadata: jsonText(map[string]any{"user": fmt.Sprintf("user%d", i)}),
		})

		prompt := fmt.Sprintf("Hello, this is session %d!", i)
		reply := fmt.Sprintf("Hi User%d, nice to meet you.", i)

		userEvent := snapshot.Event{
			ID:        uuid.NewString(),
			TS:        start.Add(time.Minute).Format(TimestampLayout),
			SessionID: sessionID,
			Seq:       1,
			Kind:      snapshot.KindUserPrompt,
			Actor:     strPtr("User"),
			Payload:   jsonText(map[string]any{"text": prompt}),
			Text:      strPtr(prompt),
			Metrics:   jsonText(map[string]any{"tokens": 5, "temp": 0.0}),
		}
		assistantEvent := snapshot.Event{
			ID:        uuid.NewString(),
			TS:        start.Add(2 * time.Minute).Format(TimestampLayout),
			SessionID: sessionID,
			Seq:       2,
			Kind:      snapshot.KindAssistantOut,
			Actor:     strPtr("Assistant"),
			Payload:   jsonText(map[string]any{"text": reply}),
			Text:      strPtr(reply),
			Metrics:   jsonText(map[string]any{"tokens": 7, "temp": 0.2}),
		}
		snap.Events = append(snap.Events, userEvent, assistantEvent)
		snap.EventParents = append(snap.EventParents, snapshot.EventParent{
			ChildID:  assistantEvent.ID,
			ParentID: userEvent.ID,
		})
	}
	return snap
}

// Seed inserts n mock sessions in one transaction.
func (s *Store) Seed(ctx context.Context, n int, base time.Time) (LoadResult, error) {
	return s.loadSnapshot(ctx, MockSnapshot(n, base), LoadOptions{})
}

func jsonText(v map[string]any) *string {
	data, err := json.Marshal(v)
	if err != nil {
		// Maps of strings and numbers always marshal.
		panic(fmt.Sprintf("marshal mock blob: %v", err))
	}
	s := string(data)
	return &s
}

func strPtr(s string) *string {
	return &s
}
