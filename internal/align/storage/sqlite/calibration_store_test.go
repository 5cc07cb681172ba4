package sqlite

import (
	"testing"
	"time"

	"github.com/banshee-data/nozzle.align/internal/align"
	"github.com/google/go-cmp/cmp"
)

func TestCalibrationStoreSaveAndLoadLatest(t *testing.T) {
	db := setupAlignTestDB(t)
	store := NewCalibrationStore(db)

	// Fresh database has nothing.
	_, ok, err := store.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest on empty db: %v", err)
	}
	if ok {
		t.Fatal("empty database reported a calibration")
	}

	first := align.DefaultCalibration()
	first.UnitsPerPixel = 1.9
	first.CalibratedAt = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if err := store.Save(first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second := align.DefaultCalibration()
	second.UnitsPerPixel = 2.1
	second.NozzleThreshold = 75
	second.CalibratedAt = time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	if err := store.Save(second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := store.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if !ok {
		t.Fatal("LoadLatest found nothing after two saves")
	}
	if diff := cmp.Diff(second, got); diff != "" {
		t.Errorf("latest calibration mismatch (-want +got):\n%s", diff)
	}

	history, err := store.History(10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].UnitsPerPixel != 2.1 || history[1].UnitsPerPixel != 1.9 {
		t.Errorf("history ordering wrong: %g, %g", history[0].UnitsPerPixel, history[1].UnitsPerPixel)
	}
}

func TestCalibrationStoreRejectsInvalidSnapshot(t *testing.T) {
	db := setupAlignTestDB(t)
	store := NewCalibrationStore(db)

	bad := align.DefaultCalibration()
	bad.UnitsPerPixel = 0
	if err := store.Save(bad); err == nil {
		t.Error("Save accepted zero units_per_pixel")
	}

	_, ok, err := store.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if ok {
		t.Error("rejected snapshot was persisted")
	}
}

func TestCalibrationStoreFillsTimestamp(t *testing.T) {
	db := setupAlignTestDB(t)
	store := NewCalibrationStore(db)

	c := align.DefaultCalibration() // zero CalibratedAt
	before := time.Now()
	if err := store.Save(c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := store.LoadLatest()
	if err != nil || !ok {
		t.Fatalf("LoadLatest: ok=%v err=%v", ok, err)
	}
	if got.CalibratedAt.Before(before.Add(-time.Second)) || got.CalibratedAt.After(time.Now().Add(time.Second)) {
		t.Errorf("CalibratedAt = %v, want roughly now", got.CalibratedAt)
	}
}
