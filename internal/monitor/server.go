package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yzhangec/mavic-qrscan/internal/control"
	"github.com/yzhangec/mavic-qrscan/internal/logger"
	"github.com/yzhangec/mavic-qrscan/internal/metrics"
	"github.com/yzhangec/mavic-qrscan/internal/render"
)

// sweepHold is how long each direction of a yaw sweep lasts.
const sweepHold = 5 * time.Second

// Deps are the pipeline components the monitor reads from.
type Deps struct {
	SessionID string
	Period    time.Duration
	Frames    FrameSource
	Results   ResultFeed
	Metrics   *metrics.Metrics  // created when nil
	Renderer  render.Renderer   // a JPEGRenderer from Config when nil
	Joystick  *control.Joystick // nil disables the control endpoints
}

// Server serves the preview, status, result and control endpoints.
type Server struct {
	cfg         Config
	monitor     *Monitor
	joystick    *control.Joystick
	broadcaster *FrameBroadcaster
	results     *ResultBroadcaster

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer returns a configured monitor server. Call Start before serving.
func NewServer(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.RenderInterval <= 0 {
		cfg.RenderInterval = def.RenderInterval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Renderer == nil {
		r := render.NewJPEGRenderer(cfg.JPEGQuality)
		r.MaxWidth = cfg.MaxWidth
		deps.Renderer = r
	}
	joystick := deps.Joystick
	if !cfg.ControlEnabled {
		joystick = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         cfg,
		monitor:     NewMonitor(deps.SessionID, deps.Period, deps.Frames, deps.Results, deps.Metrics, joystick),
		joystick:    joystick,
		broadcaster: NewFrameBroadcaster(deps.Frames, deps.Renderer, deps.Metrics, cfg.RenderInterval),
		results:     NewResultBroadcaster(deps.Results, deps.SessionID),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the broadcasters.
func (s *Server) Start() {
	s.broadcaster.Start()
	s.results.Start()
}

// Stop disconnects streaming clients and stops background work.
func (s *Server) Stop() {
	s.cancel()
	s.broadcaster.Stop()
	s.results.Stop()
	s.wg.Wait()
}

// Monitor exposes the status aggregator.
func (s *Server) Monitor() *Monitor {
	return s.monitor
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/results", s.handleResults)
	mux.HandleFunc("/api/results/stream", s.handleResultsStream)
	mux.HandleFunc("/api/control/key", s.handleControlKey)
	mux.HandleFunc("/api/control/stop", s.handleControlStop)
	mux.HandleFunc("/api/control/sweep", s.handleControlSweep)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.Snapshot()
	writeJSON(w, map[string]any{
		"status":      "ok",
		"frame_ready": st.Frame.Ready,
		"uptime_s":    st.UptimeS,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.Snapshot())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.monitor.Snapshot()); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleResults serves the unique result log, one payload per line.
// ?format=json returns the entries with their index and time instead.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	from, err := parseFrom(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		entries := s.monitor.results.Entries(from)
		if entries == nil {
			writeJSON(w, []any{})
			return
		}
		writeJSON(w, entries)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if from == 0 {
		_, _ = w.Write([]byte(s.monitor.results.String()))
		return
	}
	for _, e := range s.monitor.results.Entries(from) {
		_, _ = w.Write([]byte(e.Text + "\n"))
	}
}

func (s *Server) handleResultsStream(w http.ResponseWriter, r *http.Request) {
	from := 0
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		n, err := strconv.Atoi(last)
		if err != nil || n < 0 {
			http.Error(w, "invalid Last-Event-ID", http.StatusBadRequest)
			return
		}
		from = n + 1
	} else if q := r.URL.Query().Get("from"); q != "" {
		n, err := parseFrom(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		from = n
	}

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamResultEvents(w, r, s.results, from, useProtobuf)
}

func (s *Server) handleControlKey(w http.ResponseWriter, r *http.Request) {
	if !s.controlAllowed(w, r) {
		return
	}

	var req KeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid key request"}, http.StatusBadRequest)
		return
	}

	var (
		axes control.Axes
		err  error
	)
	switch strings.ToLower(req.Action) {
	case "down", "":
		axes, err = s.joystick.KeyDown(r.Context(), req.Key)
	case "up":
		axes, err = s.joystick.KeyUp(r.Context(), req.Key)
	default:
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("unknown action %q", req.Action)}, http.StatusBadRequest)
		return
	}

	switch {
	case errors.Is(err, control.ErrUnknownKey):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
	case err != nil:
		logger.Warn("Control", "Key %s %s failed: %v", req.Key, req.Action, err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error(), "axes": axes}, http.StatusBadGateway)
	default:
		writeJSON(w, map[string]any{"axes": axes})
	}
}

func (s *Server) handleControlStop(w http.ResponseWriter, r *http.Request) {
	if !s.controlAllowed(w, r) {
		return
	}
	axes, err := s.joystick.Stop()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error(), "axes": axes}, http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"axes": axes})
}

func (s *Server) handleControlSweep(w http.ResponseWriter, r *http.Request) {
	if !s.controlAllowed(w, r) {
		return
	}

	// A new sweep replaces the running one; /api/control/stop cancels it.
	done := s.joystick.StartSweep(s.ctx, sweepHold)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-done
	}()
	writeJSONWithStatus(w, map[string]any{"status": "sweeping", "hold_s": sweepHold.Seconds()}, http.StatusAccepted)
}

func (s *Server) controlAllowed(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if s.joystick == nil {
		writeJSONWithStatus(w, map[string]any{"error": "flight control is disabled"}, http.StatusServiceUnavailable)
		return false
	}
	return true
}

func parseFrom(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid from %q", s)
	}
	return n, nil
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
