// Package metrics serves health and run statistics over HTTP while the
// archiver runs as a long-lived scheduled process.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

// HealthChecker is implemented by dependencies that can be probed, such as the
// upstream gateway and the coverage catalog.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SnapshotFunc returns a JSON-encodable view of one component's counters.
type SnapshotFunc func() any

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// SystemMetrics represents process-level metrics
type SystemMetrics struct {
	GoroutineCount int    `json:"goroutine_count"`
	NumGC          uint32 `json:"num_gc"`
	GCPauseNs      uint64 `json:"gc_pause_ns"`
	HeapAlloc      uint64 `json:"heap_alloc"`
	HeapSys        uint64 `json:"heap_sys"`
	HeapInuse      uint64 `json:"heap_inuse"`
	StackInuse     uint64 `json:"stack_inuse"`
}

// Snapshot is the body served at /metrics.
type Snapshot struct {
	Timestamp  time.Time      `json:"timestamp"`
	Uptime     time.Duration  `json:"uptime"`
	Components map[string]any `json:"components"`
	System     SystemMetrics  `json:"system"`
}

// StatusServer exposes /health, /ready and /metrics.
type StatusServer struct {
	addr         string
	logger       *slog.Logger
	checkTimeout time.Duration
	startTime    time.Time

	mu        sync.RWMutex
	checks    map[string]HealthChecker
	snapshots map[string]SnapshotFunc
	ready     func() bool

	server *http.Server
}

// NewStatusServer creates a server that will listen on addr.
func NewStatusServer(addr string, logger *slog.Logger) *StatusServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusServer{
		addr:         addr,
		logger:       logger.With("component", "status_server"),
		checkTimeout: 5 * time.Second,
		startTime:    time.Now(),
		checks:       make(map[string]HealthChecker),
		snapshots:    make(map[string]SnapshotFunc),
	}
}

// RegisterHealthChecker adds a dependency probed by /health.
func (s *StatusServer) RegisterHealthChecker(name string, hc HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = hc
}

// RegisterSnapshot adds a component whose counters appear under /metrics.
func (s *StatusServer) RegisterSnapshot(name string, fn SnapshotFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[name] = fn
}

// SetReadiness sets the predicate behind /ready.
func (s *StatusServer) SetReadiness(fn func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = fn
}

// Handler returns the HTTP handler without starting a listener.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReadiness)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

// Start listens on the configured address and serves in the background.
// It returns once the listener is bound.
func (s *StatusServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		s.logger.Info("status server starting", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *StatusServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping status server")
	return s.server.Shutdown(ctx)
}

// CheckHealth probes every registered dependency.
func (s *StatusServer) CheckHealth(ctx context.Context) (map[string]HealthStatus, bool) {
	s.mu.RLock()
	checks := make(map[string]HealthChecker, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()

	out := make(map[string]HealthStatus, len(checks))
	healthy := true
	for name, hc := range checks {
		cctx, cancel := context.WithTimeout(ctx, s.checkTimeout)
		start := time.Now()
		err := hc.HealthCheck(cctx)
		cancel()

		st := HealthStatus{Status: "healthy", Duration: time.Since(start)}
		if err != nil {
			st.Status = "unhealthy"
			st.Error = err.Error()
			healthy = false
		}
		out[name] = st
	}
	return out, healthy
}

// GetSnapshot collects every registered component's counters.
func (s *StatusServer) GetSnapshot() Snapshot {
	s.mu.RLock()
	names := make([]string, 0, len(s.snapshots))
	for name := range s.snapshots {
		names = append(names, name)
	}
	sort.Strings(names)
	components := make(map[string]any, len(names))
	for _, name := range names {
		components[name] = s.snapshots[name]()
	}
	s.mu.RUnlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Snapshot{
		Timestamp:  time.Now(),
		Uptime:     time.Since(s.startTime),
		Components: components,
		System: SystemMetrics{
			GoroutineCount: runtime.NumGoroutine(),
			NumGC:          m.NumGC,
			GCPauseNs:      m.PauseTotalNs,
			HeapAlloc:      m.HeapAlloc,
			HeapSys:        m.HeapSys,
			HeapInuse:      m.HeapInuse,
			StackInuse:     m.StackInuse,
		},
	}
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks, healthy := s.CheckHealth(r.Context())
	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"timestamp":    time.Now(),
		"uptime":       time.Since(s.startTime).String(),
		"dependencies": checks,
	})
}

func (s *StatusServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()

	if ready != nil && !ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *StatusServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.GetSnapshot())
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
