// Package health provides liveness and readiness endpoints for the scan
// service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger checks one dependency's liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServiceStatus reports the state of one dependency.
type ServiceStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the structured health check response.
type Response struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Version   string                   `json:"version,omitempty"`
}

// Handler serves the health endpoints. The only stateful dependency is the
// cursor store; mail servers are per-request collaborators and are not
// probed.
type Handler struct {
	cursorDB Pinger
	version  string
	timeout  time.Duration
}

// NewHandler creates a health Handler. cursorDB may be nil when the cursor
// store is disabled.
func NewHandler(cursorDB Pinger, version string) *Handler {
	return &Handler{
		cursorDB: cursorDB,
		version:  version,
		timeout:  5 * time.Second,
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	services := map[string]ServiceStatus{}
	overall := "healthy"

	if h.cursorDB != nil {
		start := time.Now()
		status := ServiceStatus{Status: "up"}
		if err := h.cursorDB.Ping(ctx); err != nil {
			status = ServiceStatus{Status: "down", Error: err.Error()}
			overall = "degraded"
		}
		status.Latency = time.Since(start).Round(time.Millisecond).String()
		services["cursor_db"] = status
	}

	code := http.StatusOK
	if overall != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, Response{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
		Version:   h.version,
	})
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alive":     true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /health/ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ready := true
	if h.cursorDB != nil && h.cursorDB.Ping(ctx) != nil {
		ready = false
	}
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ready":     ready,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
