package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/nozzle.align/internal/align"
	sqlite "github.com/banshee-data/nozzle.align/internal/align/storage/sqlite"
	"github.com/banshee-data/nozzle.align/internal/db"
)

// nullSink accepts every correction and remembers nothing.
type nullSink struct{}

func (nullSink) ApplyCorrection(axis align.Axis, deltaUm float64) error { return nil }

type testServer struct {
	ws       *WebServer
	mux      *http.ServeMux
	sup      *align.Supervisor
	calib    *align.CalibrationStore
	recorder *sqlite.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	database, err := db.NewDB(filepath.Join(t.TempDir(), "monitor_test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	calib := align.NewCalibrationStore(align.DefaultCalibration())
	source := align.NewSyntheticSource(align.DefaultSyntheticScene(), 5*time.Millisecond)
	recorder := sqlite.NewRecorder(database.DB)

	sup, err := align.NewSupervisor(align.SupervisorConfig{
		Source:      source,
		Sink:        nullSink{},
		Calibration: calib,
		Recorder:    recorder,
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	t.Cleanup(sup.Stop)

	ws := NewWebServer(WebServerConfig{
		Address:            ":0",
		Supervisor:         sup,
		Calibration:        calib,
		CalibrationHistory: sqlite.NewCalibrationStore(database.DB),
		Recorder:           recorder,
		PlotDir:            t.TempDir(),
	})
	return &testServer{ws: ws, mux: ws.setupRoutes(), sup: sup, calib: calib, recorder: recorder}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status": "ok"`) {
		t.Errorf("unexpected health body: %s", rr.Body.String())
	}
}

func TestStatusPageRenders(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status page = %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "Nozzle Alignment Monitor") {
		t.Error("status page missing title")
	}
	if !strings.Contains(rr.Body.String(), "Idle") {
		t.Error("status page should show Idle state before start")
	}

	// Unknown paths under / are 404, not the status page.
	if rr := ts.do(t, http.MethodGet, "/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown path = %d, want 404", rr.Code)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/align/start", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("start = %d: %s", rr.Code, rr.Body.String())
	}
	var status align.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State == align.StateIdle {
		t.Errorf("state after start = %s", status.State)
	}
	if status.RunID == "" {
		t.Error("start did not assign a run ID")
	}

	// A second start while running conflicts.
	if rr := ts.do(t, http.MethodPost, "/api/align/start", ""); rr.Code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", rr.Code)
	}

	// GET on start is rejected.
	if rr := ts.do(t, http.MethodGet, "/api/align/start", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start = %d, want 405", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/align/stop", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stop = %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != align.StateIdle {
		t.Errorf("state after stop = %s, want Idle", status.State)
	}

	// Stop is idempotent.
	if rr := ts.do(t, http.MethodPost, "/api/align/stop", ""); rr.Code != http.StatusOK {
		t.Errorf("second stop = %d", rr.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/api/align/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var status align.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != align.StateIdle {
		t.Errorf("initial state = %s, want Idle", status.State)
	}
}

func TestSummaryUnitsConversion(t *testing.T) {
	ts := newTestServer(t)
	ts.sup.Stats().RecordError(align.ErrorSample{XUm: 2000, YUm: -500, Centered: true})

	decode := func(t *testing.T, rr *httptest.ResponseRecorder) summaryResponse {
		t.Helper()
		if rr.Code != http.StatusOK {
			t.Fatalf("summary = %d: %s", rr.Code, rr.Body.String())
		}
		var s summaryResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &s); err != nil {
			t.Fatalf("decode summary: %v", err)
		}
		return s
	}

	t.Run("default micrometres", func(t *testing.T) {
		s := decode(t, ts.do(t, http.MethodGet, "/api/align/summary", ""))
		if s.Units != "um" || s.MeanX != 2000 || s.MeanY != -500 {
			t.Errorf("got units=%s mean=(%v, %v), want um (2000, -500)", s.Units, s.MeanX, s.MeanY)
		}
		if s.Samples != 1 || s.Centered != 1 {
			t.Errorf("samples=%d centered=%d, want 1 and 1", s.Samples, s.Centered)
		}
	})

	t.Run("millimetres", func(t *testing.T) {
		s := decode(t, ts.do(t, http.MethodGet, "/api/align/summary?units=mm", ""))
		if s.Units != "mm" || s.MeanX != 2.0 || s.MeanY != -0.5 {
			t.Errorf("got units=%s mean=(%v, %v), want mm (2, -0.5)", s.Units, s.MeanX, s.MeanY)
		}
	})

	t.Run("invalid units rejected", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/align/summary?units=furlongs", "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("summary with bad units = %d, want 400", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "um, mm, mil") {
			t.Errorf("error should list valid units: %s", rr.Body.String())
		}
	})
}

func TestCalibrationGetAndPut(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/align/calibration", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET calibration = %d", rr.Code)
	}
	var current align.CalibrationData
	if err := json.Unmarshal(rr.Body.Bytes(), &current); err != nil {
		t.Fatalf("decode calibration: %v", err)
	}
	if current.UnitsPerPixel != align.DefaultUnitsPerPixel {
		t.Errorf("units_per_pixel = %g, want default", current.UnitsPerPixel)
	}

	current.UnitsPerPixel = 1.85
	current.ToleranceUm = 3.0
	body, _ := json.Marshal(current)
	rr = ts.do(t, http.MethodPut, "/api/align/calibration", string(body))
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT calibration = %d: %s", rr.Code, rr.Body.String())
	}
	if got := ts.calib.Current(); got.UnitsPerPixel != 1.85 || got.ToleranceUm != 3.0 {
		t.Errorf("calibration not applied: %+v", got)
	}

	// Invalid snapshot is rejected and not applied.
	bad := current
	bad.UnitsPerPixel = -1
	body, _ = json.Marshal(bad)
	if rr := ts.do(t, http.MethodPut, "/api/align/calibration", string(body)); rr.Code != http.StatusBadRequest {
		t.Errorf("PUT invalid calibration = %d, want 400", rr.Code)
	}
	if got := ts.calib.Current(); got.UnitsPerPixel != 1.85 {
		t.Errorf("invalid PUT changed calibration: %+v", got)
	}

	// The valid PUT was persisted to history.
	rr = ts.do(t, http.MethodGet, "/api/align/calibration/history", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET history = %d", rr.Code)
	}
	var history []align.CalibrationData
	if err := json.Unmarshal(rr.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) == 0 {
		t.Error("calibration history empty after PUT")
	}
}

func TestCalibratePass(t *testing.T) {
	ts := newTestServer(t)

	// The synthetic scene puts nozzle and beam ~50 px apart; declaring
	// that spacing as 100 µm should land near 2 µm/px.
	rr := ts.do(t, http.MethodPost, "/api/align/calibrate", `{"reference_spacing_um": 100}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("calibrate = %d: %s", rr.Code, rr.Body.String())
	}
	var data align.CalibrationData
	if err := json.Unmarshal(rr.Body.Bytes(), &data); err != nil {
		t.Fatalf("decode calibration: %v", err)
	}
	if data.UnitsPerPixel < 1.5 || data.UnitsPerPixel > 2.5 {
		t.Errorf("units_per_pixel = %g, want near 2.0", data.UnitsPerPixel)
	}

	// Zero spacing is rejected.
	if rr := ts.do(t, http.MethodPost, "/api/align/calibrate", `{"reference_spacing_um": 0}`); rr.Code != http.StatusConflict {
		t.Errorf("calibrate with zero spacing = %d, want 409", rr.Code)
	}
}

func TestCalibrateRejectedWhileRunning(t *testing.T) {
	ts := newTestServer(t)
	if rr := ts.do(t, http.MethodPost, "/api/align/start", ""); rr.Code != http.StatusOK {
		t.Fatalf("start = %d", rr.Code)
	}
	defer ts.sup.Stop()

	if rr := ts.do(t, http.MethodPost, "/api/align/calibrate", `{"reference_spacing_um": 100}`); rr.Code != http.StatusConflict {
		t.Errorf("calibrate while running = %d, want 409", rr.Code)
	}
}

func TestParamsGetAndPut(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/align/params", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET params = %d", rr.Code)
	}
	var p pidParams
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if p.KpX != 0.5 || p.KiY != 0.05 {
		t.Errorf("default gains = %+v", p)
	}

	rr = ts.do(t, http.MethodPut, "/api/align/params", `{"kp_x":0.8,"ki_x":0.1,"kd_x":0.01,"kp_y":0.6,"ki_y":0.05,"kd_y":0.02}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT params = %d: %s", rr.Code, rr.Body.String())
	}
	x, y := ts.sup.Gains()
	if x.Kp != 0.8 || y.Kp != 0.6 {
		t.Errorf("gains not applied: x=%+v y=%+v", x, y)
	}

	// Updates while running conflict.
	if rr := ts.do(t, http.MethodPost, "/api/align/start", ""); rr.Code != http.StatusOK {
		t.Fatalf("start = %d", rr.Code)
	}
	defer ts.sup.Stop()
	if rr := ts.do(t, http.MethodPut, "/api/align/params", `{"kp_x":1}`); rr.Code != http.StatusConflict {
		t.Errorf("PUT params while running = %d, want 409", rr.Code)
	}
}

func TestRunHistoryEndpoints(t *testing.T) {
	ts := newTestServer(t)

	started := time.Now().Add(-time.Minute)
	if err := ts.recorder.RecordRunStart("run-a", started); err != nil {
		t.Fatalf("RecordRunStart: %v", err)
	}
	for i := 0; i < 3; i++ {
		sample := align.ErrorSample{
			Timestamp:   started.Add(time.Duration(i) * time.Second),
			XUm:         float64(i),
			YUm:         -float64(i),
			Centered:    i == 2,
			CorrectionX: 0.5,
			CorrectionY: -0.5,
		}
		if err := ts.recorder.RecordCorrection("run-a", sample); err != nil {
			t.Fatalf("RecordCorrection: %v", err)
		}
	}
	if err := ts.recorder.RecordEvent("run-a", "loss_of_lock", "5 consecutive detection misses", started.Add(2*time.Second)); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := ts.recorder.RecordRunStop("run-a", time.Now()); err != nil {
		t.Fatalf("RecordRunStop: %v", err)
	}

	rr := ts.do(t, http.MethodGet, "/api/align/runs", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET runs = %d", rr.Code)
	}
	var runs []sqlite.Run
	if err := json.Unmarshal(rr.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "run-a" {
		t.Fatalf("runs = %+v, want one run-a", runs)
	}

	rr = ts.do(t, http.MethodGet, "/api/align/corrections?run_id=run-a", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET corrections = %d", rr.Code)
	}
	var records []sqlite.CorrectionRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode corrections: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("corrections = %d, want 3", len(records))
	}

	// run_id is required.
	if rr := ts.do(t, http.MethodGet, "/api/align/corrections", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("GET corrections without run_id = %d, want 400", rr.Code)
	}

	rr = ts.do(t, http.MethodGet, "/api/align/events?run_id=run-a", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET events = %d", rr.Code)
	}
	var events []sqlite.EventRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "loss_of_lock" {
		t.Errorf("events = %+v", events)
	}
}

func TestPlotsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	if rr := ts.do(t, http.MethodPost, "/api/align/plots?run_id=missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("plots for unknown run = %d, want 404", rr.Code)
	}

	started := time.Now().Add(-time.Minute)
	if err := ts.recorder.RecordRunStart("run-b", started); err != nil {
		t.Fatalf("RecordRunStart: %v", err)
	}
	for i := 0; i < 10; i++ {
		sample := align.ErrorSample{
			Timestamp: started.Add(time.Duration(i) * 100 * time.Millisecond),
			XUm:       5.0 / float64(i+1),
			YUm:       -3.0 / float64(i+1),
			Centered:  i > 5,
		}
		if err := ts.recorder.RecordCorrection("run-b", sample); err != nil {
			t.Fatalf("RecordCorrection: %v", err)
		}
	}

	rr := ts.do(t, http.MethodPost, "/api/align/plots?run_id=run-b", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("plots = %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Files   []string `json:"files"`
		Samples int      `json:"samples"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode plots response: %v", err)
	}
	if len(resp.Files) != 3 {
		t.Errorf("plot files = %d, want 3", len(resp.Files))
	}
	if resp.Samples != 10 {
		t.Errorf("samples = %d, want 10", resp.Samples)
	}
}
