package handler

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// HealthHandler handles service health and readiness checks
type HealthHandler struct {
	checks    map[string]HealthCheck
	startTime time.Time
	version   string
}

// NewHealthHandler creates a health handler probing checks by name
func NewHealthHandler(version string, checks map[string]HealthCheck) *HealthHandler {
	if checks == nil {
		checks = map[string]HealthCheck{}
	}
	return &HealthHandler{
		checks:    checks,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Timestamp     string            `json:"timestamp"`
	Dependencies  map[string]string `json:"dependencies"`
	UptimeSeconds int64             `json:"uptime_seconds"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Ready        bool              `json:"ready"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) checkDependencies(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := true
	out := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			out[name] = "disconnected"
			ok = false
			continue
		}
		out[name] = "connected"
	}
	return out, ok
}

// Health returns the service health status. It always answers 200; the
// dependency map shows what is degraded.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	deps, _ := h.checkDependencies(r.Context())

	response := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Dependencies:  deps,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	writeJSON(w, http.StatusOK, response)
}

// Ready returns the service readiness status
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	deps, ready := h.checkDependencies(r.Context())

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Ready:        ready,
		Dependencies: deps,
	})
}
