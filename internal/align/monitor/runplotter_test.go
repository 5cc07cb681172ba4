package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/banshee-data/nozzle.align/internal/align/storage/sqlite"
)

func testRecords(n int) []*sqlite.CorrectionRecord {
	base := time.Now().Add(-time.Minute).UnixNano()
	records := make([]*sqlite.CorrectionRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, &sqlite.CorrectionRecord{
			ID:            int64(i + 1),
			RunID:         "run-plot",
			RecordedAt:    base + int64(i)*int64(100*time.Millisecond),
			ErrorXUm:      8.0 / float64(i+1),
			ErrorYUm:      -5.0 / float64(i+1),
			Centered:      i > n/2,
			CorrectionXUm: 2.0 / float64(i+1),
			CorrectionYUm: -1.0 / float64(i+1),
		})
	}
	return records
}

func TestPlotRunWritesFiles(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "run-plot")
	rp := NewRunPlotter(outDir)

	files, err := rp.PlotRun("run-plot", testRecords(20))
	if err != nil {
		t.Fatalf("PlotRun: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("generated %d files, want 3", len(files))
	}
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			t.Errorf("missing plot file %s: %v", f, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("plot file %s is empty", f)
		}
	}
}

func TestPlotRunRejectsEmpty(t *testing.T) {
	rp := NewRunPlotter(t.TempDir())
	if _, err := rp.PlotRun("run-empty", nil); err == nil {
		t.Error("PlotRun accepted empty record set")
	}
}

func TestMakePlotOutputDir(t *testing.T) {
	dir := MakePlotOutputDir("plots", "abc123")
	if filepath.Dir(filepath.Dir(dir)) != "plots" {
		t.Errorf("unexpected layout: %s", dir)
	}
	if filepath.Base(filepath.Dir(dir)) != "abc123" {
		t.Errorf("run id not in path: %s", dir)
	}
}
