package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/nozzle.align/internal/align"
)

// CalibrationStore provides persistence for calibration snapshots. Every
// save appends a new row so the calibration history of a rig is auditable;
// LoadLatest seeds the in-memory store on startup.
type CalibrationStore struct {
	db *sql.DB
}

// NewCalibrationStore creates a new CalibrationStore.
func NewCalibrationStore(db *sql.DB) *CalibrationStore {
	return &CalibrationStore{db: db}
}

// Save appends a calibration snapshot.
func (s *CalibrationStore) Save(c align.CalibrationData) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("refusing to persist calibration: %w", err)
	}
	calibratedAt := c.CalibratedAt
	if calibratedAt.IsZero() {
		calibratedAt = time.Now()
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO align_calibrations (
				units_per_pixel, nozzle_threshold, beam_threshold,
				min_nozzle_area, min_beam_area, tolerance_um, calibrated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.UnitsPerPixel, c.NozzleThreshold, c.BeamThreshold,
			c.MinNozzleArea, c.MinBeamArea, c.ToleranceUm, calibratedAt.UnixNano(),
		)
		return err
	})
}

// LoadLatest returns the most recently saved snapshot. The boolean reports
// whether any snapshot exists; a fresh database yields (zero, false, nil).
func (s *CalibrationStore) LoadLatest() (align.CalibrationData, bool, error) {
	row := s.db.QueryRow(`
		SELECT units_per_pixel, nozzle_threshold, beam_threshold,
		       min_nozzle_area, min_beam_area, tolerance_um, calibrated_at
		FROM align_calibrations
		ORDER BY calibrated_at DESC, id DESC
		LIMIT 1`)

	var c align.CalibrationData
	var calibratedAtNs int64
	err := row.Scan(
		&c.UnitsPerPixel, &c.NozzleThreshold, &c.BeamThreshold,
		&c.MinNozzleArea, &c.MinBeamArea, &c.ToleranceUm, &calibratedAtNs,
	)
	if err == sql.ErrNoRows {
		return align.CalibrationData{}, false, nil
	}
	if err != nil {
		return align.CalibrationData{}, false, fmt.Errorf("scan calibration: %w", err)
	}
	c.CalibratedAt = time.Unix(0, calibratedAtNs).UTC()
	return c, true, nil
}

// History returns saved snapshots, newest first, capped at limit rows.
func (s *CalibrationStore) History(limit int) ([]align.CalibrationData, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT units_per_pixel, nozzle_threshold, beam_threshold,
		       min_nozzle_area, min_beam_area, tolerance_um, calibrated_at
		FROM align_calibrations
		ORDER BY calibrated_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query calibrations: %w", err)
	}
	defer rows.Close()

	var out []align.CalibrationData
	for rows.Next() {
		var c align.CalibrationData
		var calibratedAtNs int64
		if err := rows.Scan(
			&c.UnitsPerPixel, &c.NozzleThreshold, &c.BeamThreshold,
			&c.MinNozzleArea, &c.MinBeamArea, &c.ToleranceUm, &calibratedAtNs,
		); err != nil {
			return nil, fmt.Errorf("scan calibration: %w", err)
		}
		c.CalibratedAt = time.Unix(0, calibratedAtNs).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
