package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

// Run represents a single closed-loop alignment run from Start to Stop.
type Run struct {
	RunID     string `json:"run_id"`
	StartedAt int64  `json:"started_at"`
	StoppedAt int64  `json:"stopped_at,omitempty"`
}

// RunStore provides persistence for alignment runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// StartRun persists a new run record.
func (s *RunStore) StartRun(runID string, startedAt time.Time) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO align_runs (run_id, started_at)
			VALUES (?, ?)`,
			runID, startedAt.UnixNano(),
		)
		return err
	})
}

// StopRun marks an existing run as stopped.
func (s *RunStore) StopRun(runID string, stoppedAt time.Time) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(`
			UPDATE align_runs SET stopped_at = ? WHERE run_id = ?`,
			stoppedAt.UnixNano(), runID,
		)
		if err != nil {
			return fmt.Errorf("stop run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		return nil
	})
}

// Get returns a single run by ID.
func (s *RunStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, started_at, COALESCE(stopped_at, 0)
		FROM align_runs
		WHERE run_id = ?`, runID)

	var r Run
	if err := row.Scan(&r.RunID, &r.StartedAt, &r.StoppedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &r, nil
}

// ListRecent returns the most recent runs, newest first.
func (s *RunStore) ListRecent(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT run_id, started_at, COALESCE(stopped_at, 0)
		FROM align_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.StoppedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
