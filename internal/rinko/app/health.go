package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bdobrica/Rinko/common/version"
	"github.com/bdobrica/Rinko/internal/rinko/commands"
)

// checkTimeout bounds each dependency check behind /health.
const checkTimeout = 3 * time.Second

// Check is one dependency probed by /health. A failing critical check turns
// the response into a 503; any other failure only marks it degraded.
type Check struct {
	Name     string
	Ping     func(ctx context.Context) error
	Critical bool
}

// StatusSource reports the runtime summary served at /status.
type StatusSource interface {
	Status(ctx context.Context) commands.Status
}

// HealthServer exposes /health, /status and any additionally registered
// HTTP endpoints (e.g. /metrics).
// It is optional; Rinko runs without it when HTTPAddr is empty.
type HealthServer struct {
	addr   string
	status StatusSource
	checks []Check
	server *http.Server
	mux    *http.ServeMux
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Commit  string            `json:"commit"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// NewHealthServer creates and configures the HTTP server (does not start it).
func NewHealthServer(addr string, status StatusSource, checks ...Check) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		addr:   addr,
		status: status,
		checks: checks,
		mux:    mux,
	}
	mux.HandleFunc("GET /health", hs.handleHealth)
	mux.HandleFunc("GET /status", hs.handleStatus)
	return hs
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener (e.g. with httptest.NewRecorder).
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Handle registers a handler for the given URL pattern, delegating to the
// underlying ServeMux. Call this before Start.
func (h *HealthServer) Handle(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

// Start begins listening in the background. Blocks until the listener is
// established so the caller knows the port is open before returning.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}

	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("health server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("health server stopped", "err", err)
		}
	}()

	// Shutdown when ctx is cancelled.
	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (h *HealthServer) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Warn("health server shutdown error", "err", err)
	}
}

// handleHealth runs every check and reports ok, degraded or down.
func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	}
	code := http.StatusOK
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}
	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Ping(ctx)
		cancel()
		if err == nil {
			resp.Checks[c.Name] = "ok"
			continue
		}
		resp.Checks[c.Name] = err.Error()
		if c.Critical {
			resp.Status = "down"
			code = http.StatusServiceUnavailable
		} else if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, code, resp)
}

// handleStatus responds with runtime statistics.
func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
		return
	}
	writeJSON(w, http.StatusOK, h.status.Status(r.Context()))
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: failed to encode JSON response", "err", err)
	}
}
