package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

// EventRecord is one persisted loop event (fault, sink failure, source
// disconnect) with its free-form detail.
type EventRecord struct {
	ID         int64  `json:"id"`
	RunID      string `json:"run_id"`
	Kind       string `json:"kind"`
	Detail     string `json:"detail,omitempty"`
	RecordedAt int64  `json:"recorded_at"`
}

// EventStore provides persistence for loop events.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates a new EventStore.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Insert persists an event record.
func (s *EventStore) Insert(runID, kind, detail string, at time.Time) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO align_events (run_id, kind, detail, recorded_at)
			VALUES (?, ?, ?, ?)`,
			runID, kind, detail, at.UnixNano(),
		)
		return err
	})
}

// ListByRun returns events for a run, oldest first.
func (s *EventStore) ListByRun(runID string) ([]*EventRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, kind, COALESCE(detail, ''), recorded_at
		FROM align_events
		WHERE run_id = ?
		ORDER BY recorded_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.ID, &e.RunID, &e.Kind, &e.Detail, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
