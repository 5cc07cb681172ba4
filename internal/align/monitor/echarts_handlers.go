package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// echartsAssetsPrefix is where chart pages load the ECharts runtime from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleErrorTrendChart renders a line chart (HTML) of the recent
// alignment error history using go-echarts. This is a debugging-only
// endpoint to eyeball convergence without pulling the run out of the
// database.
func (ws *WebServer) handleErrorTrendChart(w http.ResponseWriter, r *http.Request) {
	history := ws.sup.Stats().History()
	if len(history) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no error samples available")
		return
	}

	calib := ws.calib.Current()

	x := make([]string, 0, len(history))
	errX := make([]opts.LineData, 0, len(history))
	errY := make([]opts.LineData, 0, len(history))
	for _, s := range history {
		x = append(x, s.Timestamp.Format("15:04:05.000"))
		errX = append(errX, opts.LineData{Value: s.XUm})
		errY = append(errY, opts.LineData{Value: s.YUm})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Alignment Error Trend", Theme: "dark", Width: "1400px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Alignment Error",
			Subtitle: fmt.Sprintf("samples=%d tolerance=%.2fµm state=%s", len(history), calib.ToleranceUm, ws.sup.Machine().State()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Error (µm)"}),
	)
	line.SetXAxis(x).
		AddSeries("error X", errX).
		AddSeries("error Y", errY).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleCorrectionChart renders a line chart of the corrections the loop
// emitted for the retained history window.
func (ws *WebServer) handleCorrectionChart(w http.ResponseWriter, r *http.Request) {
	history := ws.sup.Stats().History()
	if len(history) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no correction samples available")
		return
	}

	x := make([]string, 0, len(history))
	corrX := make([]opts.LineData, 0, len(history))
	corrY := make([]opts.LineData, 0, len(history))
	for _, s := range history {
		x = append(x, s.Timestamp.Format("15:04:05.000"))
		corrX = append(corrX, opts.LineData{Value: s.CorrectionX})
		corrY = append(corrY, opts.LineData{Value: s.CorrectionY})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Stage Corrections", Theme: "dark", Width: "1400px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Stage Corrections",
			Subtitle: time.Now().Format(time.RFC3339),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Correction (µm)"}),
	)
	line.SetXAxis(x).
		AddSeries("correction X", corrX).
		AddSeries("correction Y", corrY)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Alignment Debug Dashboard</title>
  <style>
    body { margin: 0; background: #1b1d21; color: #d8dadf; font-family: sans-serif; }
    h2 { margin: 0.5em 1em; font-size: 1em; }
    iframe { width: 100%%; height: 650px; border: 0; }
  </style>
</head>
<body>
  <h2>Error trend</h2>
  <iframe src="/debug/charts/error-trend"></iframe>
  <h2>Corrections</h2>
  <iframe src="/debug/charts/corrections"></iframe>
</body>
</html>
`

// handleAlignDashboard renders a simple dashboard with iframes to the
// debug charts.
func (ws *WebServer) handleAlignDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, dashboardHTML)
}
