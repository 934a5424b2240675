package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/crashwatch/internal/eventlog"
	"github.com/dj-oyu/crashwatch/internal/logger"
	"github.com/dj-oyu/crashwatch/internal/metrics"
)

// Server serves the monitor UI and API.
type Server struct {
	cfg        Config
	monitor    *Monitor
	metrics    *metrics.Metrics
	frames     *FrameBroadcaster
	detections *DetectionBroadcaster
	status     *StatusBroadcaster
	waiting    []byte
}

// NewServer builds a server around monitor. m may be nil.
func NewServer(cfg Config, monitor *Monitor, m *metrics.Metrics) (*Server, error) {
	cfg = cfg.withDefaults()
	if m == nil {
		m = metrics.New()
	}

	waiting, err := testPattern(cfg.CanvasWidth, cfg.CanvasHeight)
	if err != nil {
		return nil, fmt.Errorf("render waiting frame: %w", err)
	}

	return &Server{
		cfg:        cfg,
		monitor:    monitor,
		metrics:    m,
		frames:     NewFrameBroadcaster(monitor, cfg.CanvasWidth, cfg.CanvasHeight, &m.StreamClients),
		detections: NewDetectionBroadcaster(monitor, &m.DetectionClients),
		status:     NewStatusBroadcaster(monitor, cfg.StatusInterval, &m.StatusClients),
		waiting:    waiting,
	}, nil
}

// Start runs the broadcasters until ctx is done.
func (s *Server) Start(ctx context.Context) {
	go s.frames.Run(ctx)
	go s.detections.Run(ctx)
	go s.status.Run(ctx)
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/detections/stream", s.handleDetectionsStream)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// ListenAndServe serves Handler on cfg.Addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Monitor", "Listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)

	initial := s.waiting
	if ev, _, _ := s.monitor.Latest(); ev != nil {
		if data, err := renderFrame(ev, s.cfg.CanvasWidth, s.cfg.CanvasHeight); err == nil {
			initial = data
		}
	}
	streamMJPEG(r.Context(), w, frameCh, initial)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.Snapshot())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, ch := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	// the first payload goes out immediately; the ticker supplies the rest
	first, err := json.Marshal(s.monitor.Snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	streamSSE(r.Context(), w, ch, "application/json", func(b []byte) []byte { return b }, first)
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.detections.Subscribe()
	defer s.detections.Unsubscribe(id)

	if wantsProtobuf(r.Header.Get("Accept")) {
		streamSSE(r.Context(), w, eventCh, "application/protobuf", func(e *SerializedEvent) []byte { return e.ProtobufData }, nil)
		return
	}
	streamSSE(r.Context(), w, eventCh, "application/json", func(e *SerializedEvent) []byte { return e.JSONData }, nil)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.LogDir == "" {
		writeJSONWithStatus(w, map[string]any{"error": "detection log is not configured"}, http.StatusNotFound)
		return
	}
	stats, err := eventlog.ReadStats(s.cfg.LogDir)
	if err != nil {
		logger.Warn("Monitor", "Read stats failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.monitor.Snapshot()
	writeJSON(w, map[string]any{
		"status":  "ok",
		"running": snap.Analyzer.Running,
		"frames":  snap.Analyzer.FrameNumber,
	})
}

func wantsProtobuf(accept string) bool {
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
