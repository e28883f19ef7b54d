package main

import (
	"context"
	"embed"
	"encoding/json"
	"flag"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/respire.report/internal/api"
	"github.com/banshee-data/respire.report/internal/breath"
	"github.com/banshee-data/respire.report/internal/db"
	"github.com/banshee-data/respire.report/internal/monitor"
	"github.com/banshee-data/respire.report/internal/serialmux"
	"github.com/banshee-data/respire.report/internal/version"
)

var (
	//go:embed static/*
	staticFiles embed.FS

	devMode      = flag.Bool("dev", false, "Run with a synthetic radio instead of a serial port")
	disableRadio = flag.Bool("disable-radio", false, "Run without any radio (API and recorded sessions only)")
	listen       = flag.String("listen", ":8080", "Listen address")
	portPath     = flag.String("port", "/dev/ttyACM0", "Serial port path")
	baudRate     = flag.Int("baud", 230400, "Serial port baud rate")
	mode         = flag.String("mode", "cs", "Report mode: cs (channel sounding) or df (direction finding)")
	dbFile       = flag.String("db", "respire.db", "SQLite database path (empty disables persistence)")
)

// dbSink persists each completed engine tick under the active session.
type dbSink struct {
	db      *db.DB
	session string
}

func (s *dbSink) RecordTick(out breath.TickOutput) error {
	return s.db.RecordVerdict(s.session, out)
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("respire.report %s", version.String())

	// ops warnings always; per-tick trace only in dev mode
	var trace io.Writer
	if *devMode {
		trace = os.Stderr
	}
	breath.SetLogWriters(os.Stderr, trace)

	profile, err := breath.DefaultProfile(breath.Mode(*mode))
	if err != nil {
		log.Fatalf("invalid mode: %v", err)
	}

	engine, err := breath.NewEngine(profile)
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	var m serialmux.SerialMuxInterface
	switch {
	case *disableRadio:
		m = serialmux.NewDisabledSerialMux()
	case *devMode:
		m = serialmux.NewMockSerialMux(time.Duration(float64(time.Second) / profile.SampleRate))
	default:
		opts := serialmux.PortOptions{BaudRate: *baudRate}
		m, err = serialmux.NewRealSerialMux(*portPath, opts)
		if err != nil {
			log.Fatalf("failed to open radio port: %v", err)
		}
	}
	defer m.Close()

	var database *db.DB
	sessionID := ""
	if *dbFile != "" {
		database, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		profileJSON, err := json.Marshal(profile)
		if err != nil {
			log.Fatalf("failed to encode profile: %v", err)
		}
		sessionID, err = database.CreateSession(*mode, string(profileJSON))
		if err != nil {
			log.Fatalf("failed to create session: %v", err)
		}
		log.Printf("recording session %s", sessionID)
		engine.SetSink(&dbSink{db: database, session: sessionID})
		defer func() {
			if err := database.EndSession(sessionID); err != nil {
				log.Printf("failed to end session: %v", err)
			}
		}()
	}

	// Create a wait group for the HTTP server, serial monitor, event
	// handler, and engine tick routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	if err := m.Initialize(); err != nil {
		log.Printf("radio initialization failed: %v", err)
	}

	// subscribe to the serial port lines and route them through the
	// dispatcher: frames feed the engine (and the session recording),
	// acknowledgements are paired with their commands
	dispatcher := &serialmux.Dispatcher{
		Parser: breath.NewReportParser(),
		OnFrame: func(f breath.Frame) {
			engine.Append(f)
			if database != nil {
				if err := database.RecordFrame(sessionID, f); err != nil {
					log.Printf("failed to record frame: %v", err)
				}
			}
		},
		OnResponse: func(resp serialmux.CommandResponse) {
			if database != nil {
				if err := database.LogResponse(resp.Raw, resp.OK); err != nil {
					log.Printf("failed to log response: %v", err)
				}
			}
		},
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := m.Subscribe()
		defer m.Unsubscribe(id)
		for {
			select {
			case payload := <-c:
				dispatcher.HandleEvent(payload)
			case <-ctx.Done():
				dispatcher.Flush()
				log.Printf("subscribe routine terminated")
				return
			}
		}
	}()

	// engine tick loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("engine stopped: %v", err)
		}
		log.Print("engine routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		session := func() string { return sessionID }
		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		if database != nil {
			database.AttachAdminRoutes(mux)
		}
		m.AttachAdminRoutes(mux)
		monitor.NewMonitor(engine, database, session).AttachDebugRoutes(mux)

		apiMux := api.NewServer(m, database, engine, session).ServeMux()
		mux.Handle("/api/", apiMux)

		// read static files from the embedded filesystem in production or
		// from the local ./static in dev for easier iteration without
		// restarting the server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			staticFS, err := fs.Sub(staticFiles, "static")
			if err != nil {
				log.Fatalf("failed to mount static files: %v", err)
			}
			staticHandler = http.FileServer(http.FS(staticFS))
		}
		mux.Handle("/", staticHandler)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
