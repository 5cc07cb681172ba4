package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	sqlite "github.com/banshee-data/nozzle.align/internal/align/storage/sqlite"
	"github.com/banshee-data/nozzle.align/internal/security"
)

// RunPlotter renders a run's persisted corrections to PNG files for
// offline review: error per axis over time, emitted corrections, and the
// radial error against tolerance.
type RunPlotter struct {
	outputDir string
}

// NewRunPlotter creates a plotter writing into outputDir.
func NewRunPlotter(outputDir string) *RunPlotter {
	return &RunPlotter{outputDir: outputDir}
}

var (
	xColor            = color.RGBA{R: 31, G: 158, B: 137, A: 255}
	yColor            = color.RGBA{R: 181, G: 222, B: 43, A: 255}
	centeredColor     = color.RGBA{R: 53, G: 183, B: 121, A: 255}
	offToleranceColor = color.RGBA{R: 228, G: 87, B: 46, A: 255}
)

// PlotRun generates the plot files for one run and returns their paths.
func (rp *RunPlotter) PlotRun(runID string, records []*sqlite.CorrectionRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to plot")
	}
	if err := os.MkdirAll(rp.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	// X axis is seconds since the first sample.
	t0 := records[0].RecordedAt
	seconds := func(rec *sqlite.CorrectionRecord) float64 {
		return time.Duration(rec.RecordedAt - t0).Seconds()
	}

	errXPts := make(plotter.XYs, 0, len(records))
	errYPts := make(plotter.XYs, 0, len(records))
	corrXPts := make(plotter.XYs, 0, len(records))
	corrYPts := make(plotter.XYs, 0, len(records))
	centeredPts := make(plotter.XYs, 0, len(records))
	offPts := make(plotter.XYs, 0, len(records))
	for _, rec := range records {
		s := seconds(rec)
		errXPts = append(errXPts, plotter.XY{X: s, Y: rec.ErrorXUm})
		errYPts = append(errYPts, plotter.XY{X: s, Y: rec.ErrorYUm})
		corrXPts = append(corrXPts, plotter.XY{X: s, Y: rec.CorrectionXUm})
		corrYPts = append(corrYPts, plotter.XY{X: s, Y: rec.CorrectionYUm})
		xy := plotter.XY{X: rec.ErrorXUm, Y: rec.ErrorYUm}
		if rec.Centered {
			centeredPts = append(centeredPts, xy)
		} else {
			offPts = append(offPts, xy)
		}
	}

	var files []string

	errFile := filepath.Join(rp.outputDir, "error_um.png")
	if err := rp.saveLines("Alignment Error", "Time (s)", "Error (µm)", errFile,
		series{"error X", xColor, errXPts}, series{"error Y", yColor, errYPts}); err != nil {
		return files, fmt.Errorf("save error plot: %w", err)
	}
	files = append(files, errFile)

	corrFile := filepath.Join(rp.outputDir, "corrections_um.png")
	if err := rp.saveLines("Stage Corrections", "Time (s)", "Correction (µm)", corrFile,
		series{"correction X", xColor, corrXPts}, series{"correction Y", yColor, corrYPts}); err != nil {
		return files, fmt.Errorf("save correction plot: %w", err)
	}
	files = append(files, corrFile)

	scatterFile := filepath.Join(rp.outputDir, "error_scatter.png")
	if err := rp.saveScatter(runID, scatterFile, centeredPts, offPts); err != nil {
		return files, fmt.Errorf("save scatter plot: %w", err)
	}
	files = append(files, scatterFile)

	return files, nil
}

type series struct {
	label string
	color color.Color
	pts   plotter.XYs
}

func (rp *RunPlotter) saveLines(title, xLabel, yLabel, file string, ss ...series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel

	for _, s := range ss {
		if len(s.pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return err
		}
		line.Color = s.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.label, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(14*vg.Inch, 6*vg.Inch, file)
}

// saveScatter plots the error cloud in the X/Y plane, split by centered
// state, so a biased axis shows up as an off-origin cluster.
func (rp *RunPlotter) saveScatter(runID, file string, centered, off plotter.XYs) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Error Cloud (run %s)", runID)
	p.X.Label.Text = "Error X (µm)"
	p.Y.Label.Text = "Error Y (µm)"

	if len(centered) > 0 {
		sc, err := plotter.NewScatter(centered)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = centeredColor
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add("centered", sc)
	}
	if len(off) > 0 {
		sc, err := plotter.NewScatter(off)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = offToleranceColor
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add("off tolerance", sc)
	}

	p.Legend.Top = true
	return p.Save(8*vg.Inch, 8*vg.Inch, file)
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir creates a timestamped output directory path for one
// run's plots: <baseDir>/<runID>/<timestamp>. Run IDs arrive over the
// HTTP surface, so they are sanitized before use as a path component.
func MakePlotOutputDir(baseDir, runID string) string {
	return filepath.Join(baseDir, security.SanitizeFilename(runID), FormatTimestamp(time.Now()))
}
