package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the management and metrics HTTP server for the demo harness.
type Server struct {
	reg       *Registry
	startTime time.Time
	version   string
	srv       *http.Server
	metrics   *metrics
}

type metrics struct {
	backendWeight *prometheus.GaugeVec
	quarantined   *prometheus.GaugeVec
	currentTick   prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		backendWeight: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "adaptlb",
			Name:      "backend_weight",
			Help:      "Current routing weight assigned to each backend.",
		}, []string{"backend"}),
		quarantined: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "adaptlb",
			Name:      "backend_quarantined",
			Help:      "1 if the backend is currently quarantined, else 0.",
		}, []string{"backend"}),
		currentTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "adaptlb",
			Name:      "current_tick",
			Help:      "The balancer's current maintenance tick counter.",
		}),
	}
}

func (m *metrics) refresh(states []BackendState, tick int64) {
	for _, s := range states {
		m.backendWeight.WithLabelValues(s.Name).Set(s.Weight)
		q := 0.0
		if s.Quarantined {
			q = 1.0
		}
		m.quarantined.WithLabelValues(s.Name).Set(q)
	}
	m.currentTick.Set(float64(tick))
}

// New creates a management/metrics Server wrapping reg. Call Start to begin
// listening; mw wraps every handler (JWT auth, rate limiting, logging) in
// the order supplied.
func New(reg *Registry, listenAddr string, startTime time.Time, version string, mw ...func(http.Handler) http.Handler) *Server {
	s := &Server{
		reg:       reg,
		startTime: startTime,
		version:   version,
		metrics:   newMetrics(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/faults", s.handleFault)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}

	s.srv = &http.Server{
		Addr:         listenAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening in a background goroutine. It returns immediately.
func (s *Server) Start() {
	go func() {
		slog.Info("admin server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the admin server within the given context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ── Handlers ────────────────────────────────────────────────────────────────

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	state := s.reg.State()
	stats := s.reg.Stats()
	s.metrics.refresh(state, stats.CurrentTick)
	jsonOK(w, state)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.reg.Stats()
	s.metrics.refresh(s.reg.State(), stats.CurrentTick)
	jsonOK(w, stats)
}

func (s *Server) handleFault(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Backend           string  `json:"backend"`
		Action            string  `json:"action"`
		LatencyMultiplier float64 `json:"latency_multiplier"`
		ErrorRate         float64 `json:"error_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonErr(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.Backend == "" || body.Action == "" {
		jsonErr(w, "backend and action are required", http.StatusBadRequest)
		return
	}
	if err := s.reg.ApplyFault(body.Backend, body.Action, body.LatencyMultiplier, body.ErrorRate); err != nil {
		jsonErr(w, err.Error(), http.StatusNotFound)
		return
	}
	slog.Info("admin: fault applied", "backend", body.Backend, "action", body.Action)
	jsonOK(w, map[string]string{"status": "applied"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"version": s.version,
	})
}

// ── helpers ─────────────────────────────────────────────────────────────────

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg}) //nolint:errcheck
}
