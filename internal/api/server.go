// Package api exposes the verification engine over HTTP: track
// verification, single-point enrichment, and health. Handlers translate the
// engine's error taxonomy onto status codes; everything else is delegated.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/geotruth/engine/internal/arbiter"
	"github.com/geotruth/engine/internal/bundle"
	"github.com/geotruth/engine/internal/engine"
	"github.com/geotruth/engine/internal/monitoring"
	"github.com/geotruth/engine/internal/track"
	"github.com/geotruth/engine/internal/version"
)

// ANSI escape codes for request log colouring.
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxRequestBytes bounds a verify request body. A 1000-point track with
// every optional field set stays well under this.
const maxRequestBytes = 4 << 20

type Server struct {
	engine *engine.Engine
}

func NewServer(e *engine.Engine) *Server {
	return &Server{engine: e}
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
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/verify", s.verifyHandler)
	mux.HandleFunc("/api/enrich", s.enrichHandler)
	mux.HandleFunc("/api/healthz", s.healthHandler)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps the engine error taxonomy onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidInput) || errors.Is(err, track.ErrEmptyTrack):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNoCoverage):
		s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, arbiter.ErrNoBackend):
		s.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, arbiter.ErrBackendTimeout) || errors.Is(err, arbiter.ErrBackendUnavailable):
		s.writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// VerifyRequest is the body of POST /api/verify.
type VerifyRequest struct {
	Points  []track.Point  `json:"points"`
	Options engine.Options `json:"options"`
}

// VerifyResponse is the body of a successful verification.
type VerifyResponse struct {
	Bundles []bundle.TruthBundle `json:"bundles"`
}

func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req VerifyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	bundles, err := s.engine.Verify(r.Context(), req.Points, req.Options)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, VerifyResponse{Bundles: bundles})
}

// EnrichRequest is the body of POST /api/enrich: a single coordinate
// without track context. The point is wrapped into a one-point track and
// served by the same pipeline.
type EnrichRequest struct {
	Lat       float64        `json:"lat"`
	Lon       float64        `json:"lon"`
	Timestamp time.Time      `json:"timestamp"`
	Options   engine.Options `json:"options"`
}

func (s *Server) enrichHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req EnrichRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	pts := []track.Point{{Lat: req.Lat, Lon: req.Lon, Timestamp: ts}}

	bundles, err := s.engine.Verify(r.Context(), pts, req.Options)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if len(bundles) != 1 {
		s.writeJSONError(w, http.StatusInternalServerError, "expected one bundle")
		return
	}
	s.writeJSON(w, http.StatusOK, bundles[0])
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": version.Version,
		"cached":  s.engine.Cache().Len(),
	})
}
