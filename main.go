package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/nozzle.align/internal/align"
	"github.com/banshee-data/nozzle.align/internal/align/monitor"
	"github.com/banshee-data/nozzle.align/internal/align/network"
	sqlitestore "github.com/banshee-data/nozzle.align/internal/align/storage/sqlite"
	"github.com/banshee-data/nozzle.align/internal/config"
	"github.com/banshee-data/nozzle.align/internal/db"
	"github.com/banshee-data/nozzle.align/internal/stage"
	"github.com/banshee-data/nozzle.align/internal/version"
)

var (
	devMode   = flag.Bool("dev", false, "Run in dev mode (synthetic camera, mock stage)")
	listen    = flag.String("listen", ":8080", "HTTP listen address")
	dbFile    = flag.String("db", "alignment_data.db", "Path to the SQLite database file")
	configDir = flag.String("config", "", "Path to a tuning config JSON file (default: "+config.DefaultConfigPath+")")

	sourceKind = flag.String("source", "udp", "Frame source: udp, pcap or synthetic")
	udpPort    = flag.Int("udp-port", 2368, "UDP port to listen for camera row packets")
	udpAddress = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	rcvBuf     = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	pcapFile   = flag.String("pcap", "", "PCAP file to replay as the frame source (with -source=pcap)")
	pcapSpeed  = flag.Float64("pcap-speed", 1.0, "Replay speed multiplier for -source=pcap")

	stagePath = flag.String("stage", "/dev/ttySC1", "Serial device of the stage controller")
	stageBaud = flag.Int("baud", 115200, "Stage controller baud rate")

	migrationsDir = flag.String("migrations", "migrations", "Path to the migrations directory")
	plotDir       = flag.String("plot-dir", "plots", "Directory for generated run plots")
	autoStart     = flag.Bool("start", false, "Start the alignment loop immediately instead of waiting for the API")
	verbose       = flag.Bool("verbose", false, "Enable diagnostic logging")
	trace         = flag.Bool("trace", false, "Enable per-frame trace logging (very noisy)")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// setupLogging routes the three alignment log streams. Ops is always on;
// diag and trace are opt-in because trace logs once per frame.
func setupLogging() {
	w := align.LogWriters{Ops: os.Stderr}
	if *verbose {
		w.Diag = os.Stderr
	}
	if *trace {
		w.Diag = os.Stderr
		w.Trace = os.Stderr
	}
	align.SetLogWriters(w)
}

// loadTuning loads the tuning config. An explicit -config path must load;
// the default path is allowed to be missing, in which case the compiled-in
// defaults apply.
func loadTuning() *config.TuningConfig {
	if *configDir != "" {
		tuning, err := config.LoadTuningConfig(*configDir)
		if err != nil {
			log.Fatalf("Failed to load tuning config %s: %v", *configDir, err)
		}
		return tuning
	}
	tuning, err := config.LoadTuningConfig(config.DefaultConfigPath)
	if err != nil {
		log.Printf("No tuning config at %s (%v), using built-in defaults", config.DefaultConfigPath, err)
		return config.EmptyTuningConfig()
	}
	return tuning
}

// openDatabase opens the alignment database. A fresh database gets the
// embedded schema and is baselined at the latest migration version; an
// existing database must already be at the latest version, otherwise the
// operator is told to run 'migrate up' and the process exits.
func openDatabase() *db.DB {
	if _, err := os.Stat(*dbFile); os.IsNotExist(err) {
		database, err := db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to create database: %v", err)
		}
		latest, err := db.GetLatestMigrationVersion(*migrationsDir)
		if err != nil {
			log.Printf("Cannot read migrations from %s: %v (skipping baseline)", *migrationsDir, err)
			return database
		}
		if err := database.BaselineAtVersion(latest); err != nil {
			log.Fatalf("Failed to baseline fresh database: %v", err)
		}
		log.Printf("Created %s at schema version %d", *dbFile, latest)
		return database
	}

	database, err := db.OpenDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if needed, err := database.CheckAndPromptMigrations(*migrationsDir); needed || err != nil {
		database.Close()
		log.Fatalf("Database not ready: %v", err)
	}
	return database
}

// openFrameSource selects the frame source from flags. Dev mode always
// uses the synthetic bench scene regardless of -source.
func openFrameSource(tuning *config.TuningConfig) (align.FrameSource, error) {
	kind := *sourceKind
	if *devMode {
		kind = "synthetic"
	}

	switch kind {
	case "synthetic":
		log.Printf("Using synthetic frame source")
		return align.NewSyntheticSource(align.DefaultSyntheticScene(), tuning.GetFrameTimeout()), nil

	case "pcap":
		if *pcapFile == "" {
			return nil, fmt.Errorf("-source=pcap requires -pcap=<file>")
		}
		log.Printf("Replaying %s at %.1fx", *pcapFile, *pcapSpeed)
		return network.NewPCAPFrameSource(*pcapFile, *udpPort, network.ReplayConfig{
			SpeedMultiplier: *pcapSpeed,
		})

	case "udp":
		address := fmt.Sprintf("%s:%d", *udpAddress, *udpPort)
		return network.NewUDPFrameSource(network.UDPSourceConfig{
			Address: address,
			RcvBuf:  *rcvBuf,
		})

	default:
		return nil, fmt.Errorf("unknown frame source %q (want udp, pcap or synthetic)", kind)
	}
}

// openStageMux selects the stage transport: real serial hardware, or the
// auto-acknowledging mock in dev mode.
func openStageMux() stage.StageMuxInterface {
	if *devMode {
		log.Printf("Using mock stage controller")
		return stage.NewMockStageMux()
	}
	mux, err := stage.NewRealStageMux(*stagePath, stage.PortOptions{BaudRate: *stageBaud})
	if err != nil {
		log.Fatalf("Failed to open stage controller at %s: %v", *stagePath, err)
	}
	return mux
}

// calibrationFromTuning builds the startup calibration snapshot, letting
// the tuning config override each compiled-in default.
func calibrationFromTuning(tuning *config.TuningConfig) align.CalibrationData {
	return align.CalibrationData{
		UnitsPerPixel:   tuning.GetUnitsPerPixel(),
		NozzleThreshold: uint8(tuning.GetNozzleThreshold()),
		BeamThreshold:   uint8(tuning.GetBeamThreshold()),
		MinNozzleArea:   tuning.GetMinNozzleArea(),
		MinBeamArea:     tuning.GetMinBeamArea(),
		ToleranceUm:     tuning.GetToleranceUm(),
	}
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("nozzle-align", version.String())
		return
	}

	// Handle the migrate subcommand before anything else touches the
	// database: 'nozzle-align migrate up' etc.
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		db.RunMigrateCommand(args[1:], *dbFile, *migrationsDir)
		return
	}

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}

	setupLogging()
	log.Printf("nozzle-align %s", version.String())
	tuning := loadTuning()

	database := openDatabase()
	defer database.Close()

	source, err := openFrameSource(tuning)
	if err != nil {
		log.Fatalf("Failed to open frame source: %v", err)
	}
	defer source.Close()

	mux := openStageMux()
	defer mux.Close()
	if err := mux.Initialize(); err != nil {
		log.Fatalf("Failed to initialize stage controller: %v", err)
	}
	link := stage.NewLink(mux)

	// Seed the live calibration from the tuning config, then prefer the
	// last persisted calibration pass if the database has one.
	calib := align.NewCalibrationStore(calibrationFromTuning(tuning))
	calibHist := sqlitestore.NewCalibrationStore(database.DB)
	if snap, ok, err := calibHist.LoadLatest(); err != nil {
		log.Printf("Failed to load stored calibration: %v", err)
	} else if ok {
		if err := calib.Import(snap); err != nil {
			log.Printf("Stored calibration rejected: %v", err)
		} else {
			log.Printf("Restored calibration from %s (%.4f µm/px)",
				snap.CalibratedAt.Format(time.RFC3339), snap.UnitsPerPixel)
		}
	}

	recorder := sqlitestore.NewRecorder(database.DB)

	sup, err := align.NewSupervisor(align.SupervisorConfig{
		Source:      source,
		Sink:        link,
		Calibration: calib,
		Recorder:    recorder,
		GainsX: align.PIDGains{
			Kp: tuning.GetKpX(), Ki: tuning.GetKiX(), Kd: tuning.GetKdX(),
		},
		GainsY: align.PIDGains{
			Kp: tuning.GetKpY(), Ki: tuning.GetKiY(), Kd: tuning.GetKdY(),
		},
		MaxConsecutiveMisses: tuning.GetMaxConsecutiveMisses(),
		FrameTimeout:         tuning.GetFrameTimeout(),
	})
	if err != nil {
		log.Fatalf("Failed to create alignment supervisor: %v", err)
	}

	webServer := monitor.NewWebServer(monitor.WebServerConfig{
		Address:            *listen,
		Supervisor:         sup,
		Calibration:        calib,
		CalibrationHistory: calibHist,
		Recorder:           recorder,
		PlotDir:            *plotDir,
		AdminAttach: []func(*http.ServeMux){
			database.AttachAdminRoutes,
			mux.AttachAdminRoutes,
		},
	})

	// Create a wait group for the stage monitor, response monitor and HTTP
	// server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the stage controller port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mux.Monitor(ctx); err != nil && err != context.Canceled && err != io.EOF {
			log.Printf("failed to monitor stage port: %v", err)
		}
		log.Print("stage monitor routine terminated")
	}()

	// count controller acknowledgements and faults out of band
	wg.Add(1)
	go func() {
		defer wg.Done()
		link.MonitorResponses(ctx)
		log.Print("stage response routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webServer.Start(ctx); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
		log.Print("HTTP server routine stopped")
	}()

	if *autoStart {
		if err := sup.Start(); err != nil {
			log.Fatalf("Failed to start alignment loop: %v", err)
		}
		log.Print("Alignment loop started")
	}

	// Wait for all goroutines to finish, then stop the loop so the active
	// run is closed out in the database.
	wg.Wait()
	sup.Stop()
	log.Printf("Graceful shutdown complete")
}
