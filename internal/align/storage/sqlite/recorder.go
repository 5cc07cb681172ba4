package sqlite

import (
	"database/sql"
	"time"

	"github.com/banshee-data/nozzle.align/internal/align"
)

// Recorder implements align.Recorder over the run, correction, and event
// stores. The supervisor treats persistence as best effort, so failures here
// are logged by the caller rather than stopping the loop.
type Recorder struct {
	runs        *RunStore
	corrections *CorrectionStore
	events      *EventStore
}

// NewRecorder creates a Recorder backed by the given database.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{
		runs:        NewRunStore(db),
		corrections: NewCorrectionStore(db),
		events:      NewEventStore(db),
	}
}

// RecordRunStart persists the start of a run.
func (r *Recorder) RecordRunStart(runID string, startedAt time.Time) error {
	return r.runs.StartRun(runID, startedAt)
}

// RecordRunStop marks a run as stopped.
func (r *Recorder) RecordRunStop(runID string, stoppedAt time.Time) error {
	return r.runs.StopRun(runID, stoppedAt)
}

// RecordCorrection persists one error sample with its emitted corrections.
func (r *Recorder) RecordCorrection(runID string, sample align.ErrorSample) error {
	return r.corrections.Insert(&CorrectionRecord{
		RunID:         runID,
		RecordedAt:    sample.Timestamp.UnixNano(),
		ErrorXUm:      sample.XUm,
		ErrorYUm:      sample.YUm,
		Centered:      sample.Centered,
		CorrectionXUm: sample.CorrectionX,
		CorrectionYUm: sample.CorrectionY,
	})
}

// RecordEvent persists a loop event.
func (r *Recorder) RecordEvent(runID, kind, detail string, at time.Time) error {
	return r.events.Insert(runID, kind, detail, at)
}

// Runs exposes the underlying run store for the monitor surface.
func (r *Recorder) Runs() *RunStore { return r.runs }

// Corrections exposes the underlying correction store.
func (r *Recorder) Corrections() *CorrectionStore { return r.corrections }

// Events exposes the underlying event store.
func (r *Recorder) Events() *EventStore { return r.events }
