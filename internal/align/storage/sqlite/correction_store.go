package sqlite

import (
	"database/sql"
	"fmt"
)

// CorrectionRecord is one persisted error measurement with the corrections
// emitted for it.
type CorrectionRecord struct {
	ID            int64   `json:"id"`
	RunID         string  `json:"run_id"`
	RecordedAt    int64   `json:"recorded_at"`
	ErrorXUm      float64 `json:"error_x_um"`
	ErrorYUm      float64 `json:"error_y_um"`
	Centered      bool    `json:"centered"`
	CorrectionXUm float64 `json:"correction_x_um"`
	CorrectionYUm float64 `json:"correction_y_um"`
}

// CorrectionStore provides persistence for per-frame correction records.
type CorrectionStore struct {
	db *sql.DB
}

// NewCorrectionStore creates a new CorrectionStore.
func NewCorrectionStore(db *sql.DB) *CorrectionStore {
	return &CorrectionStore{db: db}
}

// Insert persists a correction record.
func (s *CorrectionStore) Insert(rec *CorrectionRecord) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(`
			INSERT INTO align_corrections (
				run_id, recorded_at, error_x_um, error_y_um, centered,
				correction_x_um, correction_y_um
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID, rec.RecordedAt, rec.ErrorXUm, rec.ErrorYUm, rec.Centered,
			rec.CorrectionXUm, rec.CorrectionYUm,
		)
		if err != nil {
			return err
		}
		rec.ID, err = result.LastInsertId()
		return err
	})
}

// ListByRun returns correction records for a run, oldest first, capped at
// limit rows.
func (s *CorrectionStore) ListByRun(runID string, limit int) ([]*CorrectionRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(`
		SELECT id, run_id, recorded_at, error_x_um, error_y_um, centered,
		       correction_x_um, correction_y_um
		FROM align_corrections
		WHERE run_id = ?
		ORDER BY recorded_at ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}
	defer rows.Close()

	var recs []*CorrectionRecord
	for rows.Next() {
		var r CorrectionRecord
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.RecordedAt, &r.ErrorXUm, &r.ErrorYUm, &r.Centered,
			&r.CorrectionXUm, &r.CorrectionYUm,
		); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}

// CountByRun returns the number of correction records for a run.
func (s *CorrectionStore) CountByRun(runID string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM align_corrections WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count corrections: %w", err)
	}
	return count, nil
}
