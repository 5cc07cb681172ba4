package sqlite

import (
	"testing"
	"time"

	"github.com/banshee-data/nozzle.align/internal/align"
	"github.com/google/uuid"
)

func TestRecorderRunLifecycle(t *testing.T) {
	db := setupAlignTestDB(t)
	rec := NewRecorder(db)

	runID := uuid.NewString()
	started := time.Now()
	if err := rec.RecordRunStart(runID, started); err != nil {
		t.Fatalf("RecordRunStart: %v", err)
	}

	run, err := rec.Runs().Get(runID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.StartedAt != started.UnixNano() {
		t.Errorf("started_at = %d, want %d", run.StartedAt, started.UnixNano())
	}
	if run.StoppedAt != 0 {
		t.Errorf("stopped_at = %d on a running run, want 0", run.StoppedAt)
	}

	stopped := started.Add(90 * time.Second)
	if err := rec.RecordRunStop(runID, stopped); err != nil {
		t.Fatalf("RecordRunStop: %v", err)
	}
	run, err = rec.Runs().Get(runID)
	if err != nil {
		t.Fatalf("Get after stop: %v", err)
	}
	if run.StoppedAt != stopped.UnixNano() {
		t.Errorf("stopped_at = %d, want %d", run.StoppedAt, stopped.UnixNano())
	}

	// Stopping an unknown run fails loudly.
	if err := rec.RecordRunStop("no-such-run", stopped); err == nil {
		t.Error("RecordRunStop for unknown run succeeded, want error")
	}
}

func TestRecorderCorrections(t *testing.T) {
	db := setupAlignTestDB(t)
	rec := NewRecorder(db)

	runID := uuid.NewString()
	if err := rec.RecordRunStart(runID, time.Now()); err != nil {
		t.Fatalf("RecordRunStart: %v", err)
	}

	base := time.Now()
	for i := 0; i < 5; i++ {
		sample := align.ErrorSample{
			Timestamp:   base.Add(time.Duration(i) * 33 * time.Millisecond),
			XUm:         float64(5 - i),
			YUm:         float64(i) - 2,
			Centered:    i == 4,
			CorrectionX: float64(5-i) * 0.5,
			CorrectionY: (float64(i) - 2) * 0.5,
		}
		if err := rec.RecordCorrection(runID, sample); err != nil {
			t.Fatalf("RecordCorrection %d: %v", i, err)
		}
	}

	count, err := rec.Corrections().CountByRun(runID)
	if err != nil {
		t.Fatalf("CountByRun: %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}

	recs, err := rec.Corrections().ListByRun(runID, 0)
	if err != nil {
		t.Fatalf("ListByRun: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("got %d records, want 5", len(recs))
	}
	// Oldest first.
	if recs[0].ErrorXUm != 5 || recs[4].ErrorXUm != 1 {
		t.Errorf("ordering wrong: first X=%g last X=%g", recs[0].ErrorXUm, recs[4].ErrorXUm)
	}
	if !recs[4].Centered {
		t.Error("final record lost its centered flag")
	}
	if recs[2].CorrectionYUm != 0 {
		t.Errorf("correction Y = %g, want 0", recs[2].CorrectionYUm)
	}

	// Records are scoped to their run.
	otherCount, err := rec.Corrections().CountByRun("other-run")
	if err != nil {
		t.Fatalf("CountByRun other: %v", err)
	}
	if otherCount != 0 {
		t.Errorf("foreign run has %d records", otherCount)
	}
}

func TestRecorderEvents(t *testing.T) {
	db := setupAlignTestDB(t)
	rec := NewRecorder(db)

	runID := uuid.NewString()
	at := time.Now()
	if err := rec.RecordEvent(runID, "fault", "loss_of_lock after 5 misses", at); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := rec.RecordEvent(runID, "sink_failure", "", at.Add(time.Second)); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	events, err := rec.Events().ListByRun(runID)
	if err != nil {
		t.Fatalf("ListByRun: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != "fault" || events[0].Detail != "loss_of_lock after 5 misses" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Kind != "sink_failure" || events[1].Detail != "" {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestRunStoreListRecent(t *testing.T) {
	db := setupAlignTestDB(t)
	store := NewRunStore(db)

	base := time.Now()
	ids := make([]string, 3)
	for i := range ids {
		ids[i] = uuid.NewString()
		if err := store.StartRun(ids[i], base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("StartRun: %v", err)
		}
	}

	runs, err := store.ListRecent(2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	// Newest first.
	if runs[0].RunID != ids[2] || runs[1].RunID != ids[1] {
		t.Errorf("ordering wrong: %s, %s", runs[0].RunID, runs[1].RunID)
	}
}
