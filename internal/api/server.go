package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/respire.report/internal/breath"
	"github.com/banshee-data/respire.report/internal/db"
	"github.com/banshee-data/respire.report/internal/serialmux"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	m       serialmux.SerialMuxInterface
	db      *db.DB
	engine  *breath.Engine
	session func() string
}

// NewServer wires the HTTP API over the serial mux, database, and engine.
// session returns the active recording session ID (empty when none).
func NewServer(m serialmux.SerialMuxInterface, database *db.DB, engine *breath.Engine, session func() string) *Server {
	if session == nil {
		session = func() string { return "" }
	}
	return &Server{
		m:       m,
		db:      database,
		engine:  engine,
		session: session,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/channels", s.listChannels)
	mux.HandleFunc("/api/window", s.showWindow)
	mux.HandleFunc("/api/frequency", s.showFrequency)
	mux.HandleFunc("/api/verdict", s.showVerdict)
	mux.HandleFunc("/api/verdicts/recent", s.listRecentVerdicts)
	mux.HandleFunc("/api/selector", s.showSelector)
	mux.HandleFunc("/api/selector/retrigger", s.selectorRetrigger)
	mux.HandleFunc("/api/selector/enable", s.selectorEnable)
	mux.HandleFunc("/api/selector/disable", s.selectorDisable)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/display", s.setDisplayChannels)
	mux.HandleFunc("/api/kind", s.setAnalysisKind)
	mux.HandleFunc("/api/command", s.sendCommandHandler)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
