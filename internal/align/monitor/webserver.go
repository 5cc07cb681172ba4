package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/banshee-data/nozzle.align/internal/align"
	sqlite "github.com/banshee-data/nozzle.align/internal/align/storage/sqlite"
	"github.com/banshee-data/nozzle.align/internal/security"
	"github.com/banshee-data/nozzle.align/internal/units"
)

//go:embed status.html
var StatusHTML embed.FS

// WebServer handles the HTTP interface for operating and monitoring the
// alignment loop: start/stop, calibration, tuning parameters and run
// history.
type WebServer struct {
	address   string
	server    *http.Server
	sup       *align.Supervisor
	calib     *align.CalibrationStore
	calibHist *sqlite.CalibrationStore
	recorder  *sqlite.Recorder
	plotDir   string
	startTime time.Time

	// AdminAttach lets the caller mount extra debug routes (database
	// admin, stage admin) on the monitor mux before the server starts.
	adminAttach []func(*http.ServeMux)
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string

	// Supervisor drives start/stop/calibrate and reports status.
	Supervisor *align.Supervisor

	// Calibration is the live snapshot store consulted by the pipeline.
	Calibration *align.CalibrationStore

	// CalibrationHistory persists published snapshots. Optional.
	CalibrationHistory *sqlite.CalibrationStore

	// Recorder exposes run and correction history. Optional.
	Recorder *sqlite.Recorder

	// PlotDir is where the offline plotter writes PNGs. Defaults to
	// "plots".
	PlotDir string

	// AdminAttach handlers are given the mux before the server starts.
	AdminAttach []func(*http.ServeMux)
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	plotDir := config.PlotDir
	if plotDir == "" {
		plotDir = "plots"
	}
	ws := &WebServer{
		address:     config.Address,
		sup:         config.Supervisor,
		calib:       config.Calibration,
		calibHist:   config.CalibrationHistory,
		recorder:    config.Recorder,
		plotDir:     plotDir,
		startTime:   time.Now(),
		adminAttach: config.AdminAttach,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start begins the HTTP server and blocks until ctx is cancelled, then
// shuts the server down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatusPage)
	mux.HandleFunc("/api/align/start", ws.handleStart)
	mux.HandleFunc("/api/align/stop", ws.handleStop)
	mux.HandleFunc("/api/align/calibrate", ws.handleCalibrate)
	mux.HandleFunc("/api/align/status", ws.handleStatus)
	mux.HandleFunc("/api/align/summary", ws.handleSummary)
	mux.HandleFunc("/api/align/calibration", ws.handleCalibration)
	mux.HandleFunc("/api/align/calibration/history", ws.handleCalibrationHistory)
	mux.HandleFunc("/api/align/params", ws.handleParams)
	mux.HandleFunc("/api/align/runs", ws.handleRuns)
	mux.HandleFunc("/api/align/corrections", ws.handleCorrections)
	mux.HandleFunc("/api/align/events", ws.handleEvents)
	mux.HandleFunc("/api/align/plots", ws.handlePlots)
	mux.HandleFunc("/debug/charts/error-trend", ws.handleErrorTrendChart)
	mux.HandleFunc("/debug/charts/corrections", ws.handleCorrectionChart)
	mux.HandleFunc("/debug/dashboard", ws.handleAlignDashboard)

	for _, attach := range ws.adminAttach {
		attach(mux)
	}
	return mux
}

// handleHealth handles the health check endpoint.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "nozzle-align", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

// handleStatusPage renders the operator status page.
func (ws *WebServer) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	status := ws.sup.Status()
	data := struct {
		HTTPAddress string
		Uptime      string
		Status      align.Status
		Calibration align.CalibrationData
		Summary     align.ErrorSummary
	}{
		HTTPAddress: ws.address,
		Uptime:      time.Since(ws.startTime).Round(time.Second).String(),
		Status:      status,
		Calibration: ws.calib.Current(),
		Summary:     ws.sup.Stats().Summarize(),
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleStart starts a closed-loop run.
func (ws *WebServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := ws.sup.Start(); err != nil {
		ws.writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	ws.writeJSON(w, ws.sup.Status())
}

// handleStop stops the loop. Stop is idempotent and always succeeds; it
// is also the only way to clear a Fault.
func (ws *WebServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ws.sup.Stop()
	ws.writeJSON(w, ws.sup.Status())
}

// handleCalibrate runs a calibration pass against a reference target with
// a known nozzle-to-beam spacing.
// Expects POST with JSON body {"reference_spacing_um": <float>}.
func (ws *WebServer) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req struct {
		ReferenceSpacingUm float64 `json:"reference_spacing_um"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	data, err := ws.sup.Calibrate(req.ReferenceSpacingUm)
	if err != nil {
		ws.writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if ws.calibHist != nil {
		if err := ws.calibHist.Save(data); err != nil {
			log.Printf("failed to persist calibration: %v", err)
		}
	}
	ws.writeJSON(w, data)
}

// handleStatus returns the live loop status snapshot.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ws.writeJSON(w, ws.sup.Status())
}

// summaryResponse is ErrorSummary with its distance fields converted to
// the requested units.
type summaryResponse struct {
	Samples  int     `json:"samples"`
	Units    string  `json:"units"`
	MeanX    float64 `json:"mean_x"`
	MeanY    float64 `json:"mean_y"`
	StdX     float64 `json:"std_x"`
	StdY     float64 `json:"std_y"`
	Centered int     `json:"centered"`
}

// handleSummary returns aggregate error statistics over the in-memory
// history ring.
// Query params:
//
//	units (optional, default um)
func (ws *WebServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	unit := r.URL.Query().Get("units")
	if unit == "" {
		unit = units.UM
	}
	if !units.IsValid(unit) {
		ws.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid units %q, must be one of: %s", unit, units.GetValidUnitsString()))
		return
	}
	s := ws.sup.Stats().Summarize()
	ws.writeJSON(w, summaryResponse{
		Samples:  s.Samples,
		Units:    unit,
		MeanX:    units.ConvertDistance(s.MeanXUm, unit),
		MeanY:    units.ConvertDistance(s.MeanYUm, unit),
		StdX:     units.ConvertDistance(s.StdXUm, unit),
		StdY:     units.ConvertDistance(s.StdYUm, unit),
		Centered: s.Centered,
	})
}

// handleCalibration reads or replaces the active calibration snapshot.
// PUT accepts a full CalibrationData JSON document; partial updates are
// rejected by validation, never merged.
func (ws *WebServer) handleCalibration(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ws.writeJSON(w, ws.calib.Export())
	case http.MethodPut:
		var data align.CalibrationData
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if err := ws.calib.Import(data); err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if ws.calibHist != nil {
			if err := ws.calibHist.Save(ws.calib.Current()); err != nil {
				log.Printf("failed to persist calibration: %v", err)
			}
		}
		ws.writeJSON(w, ws.calib.Current())
	default:
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleCalibrationHistory lists persisted calibration snapshots, newest
// first.
// Query params:
//
//	limit (optional, default 50)
func (ws *WebServer) handleCalibrationHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.calibHist == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for calibration history")
		return
	}
	history, err := ws.calibHist.History(queryLimit(r, 50, 500))
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list calibrations: %v", err))
		return
	}
	ws.writeJSON(w, history)
}

// pidParams is the wire form of the per-axis PID gains.
type pidParams struct {
	KpX float64 `json:"kp_x"`
	KiX float64 `json:"ki_x"`
	KdX float64 `json:"kd_x"`
	KpY float64 `json:"kp_y"`
	KiY float64 `json:"ki_y"`
	KdY float64 `json:"kd_y"`
}

// handleParams reads or replaces the PID gains. Updates are rejected
// while a run is active.
func (ws *WebServer) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		x, y := ws.sup.Gains()
		ws.writeJSON(w, pidParams{
			KpX: x.Kp, KiX: x.Ki, KdX: x.Kd,
			KpY: y.Kp, KiY: y.Ki, KdY: y.Kd,
		})
	case http.MethodPut:
		var p pidParams
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		x := align.PIDGains{Kp: p.KpX, Ki: p.KiX, Kd: p.KdX}
		y := align.PIDGains{Kp: p.KpY, Ki: p.KiY, Kd: p.KdY}
		if err := ws.sup.SetGains(x, y); err != nil {
			ws.writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		ws.writeJSON(w, p)
	default:
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleRuns lists recent alignment runs.
// Query params:
//
//	limit (optional, default 20)
func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.recorder == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for run history")
		return
	}
	runs, err := ws.recorder.Runs().ListRecent(queryLimit(r, 20, 200))
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list runs: %v", err))
		return
	}
	ws.writeJSON(w, runs)
}

// handleCorrections lists the persisted corrections for one run.
// Query params:
//
//	run_id (required)
//	limit (optional, default 1000)
func (ws *WebServer) handleCorrections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.recorder == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for correction history")
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'run_id' parameter")
		return
	}
	records, err := ws.recorder.Corrections().ListByRun(runID, queryLimit(r, 1000, 10000))
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list corrections: %v", err))
		return
	}
	ws.writeJSON(w, records)
}

// handleEvents lists the loop events for one run.
// Query params:
//
//	run_id (required)
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.recorder == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for event history")
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'run_id' parameter")
		return
	}
	events, err := ws.recorder.Events().ListByRun(runID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list events: %v", err))
		return
	}
	ws.writeJSON(w, events)
}

// handlePlots renders offline PNG plots for one run's persisted
// corrections.
// Expects POST with query param run_id.
func (ws *WebServer) handlePlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.recorder == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for plotting")
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'run_id' parameter")
		return
	}
	records, err := ws.recorder.Corrections().ListByRun(runID, 0)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list corrections: %v", err))
		return
	}
	if len(records) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no corrections recorded for run")
		return
	}

	if err := os.MkdirAll(ws.plotDir, 0755); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("create plot dir: %v", err))
		return
	}
	outDir := MakePlotOutputDir(ws.plotDir, runID)
	if err := security.ValidatePathWithinDirectory(outDir, ws.plotDir); err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, "invalid run_id")
		return
	}
	plotter := NewRunPlotter(outDir)
	files, err := plotter.PlotRun(runID, records)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("plot run: %v", err))
		return
	}
	ws.writeJSON(w, map[string]interface{}{
		"run_id":  runID,
		"out_dir": outDir,
		"files":   files,
		"samples": len(records),
	})
}

// queryLimit parses the limit query param with a default and an upper
// bound.
func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= max {
			limit = v
		}
	}
	return limit
}

// Close shuts down the web server.
func (ws *WebServer) Close() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}
