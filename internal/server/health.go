package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/authz-engine/go-core/internal/authorizer"
)

// HealthHandler reports the Authorizer's Snapshot health, per spec.md §6.5:
// Unhealthy iff the last Reloader cycle failed and no subsequent cycle
// succeeded. Only Ready reflects that signal; Health and Live report that
// the process is serving and always answer 200.
type HealthHandler struct {
	authorizer *authorizer.Authorizer
	logger     *zap.Logger
}

// HealthStatus is the JSON body of every /health* endpoint.
type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Checks      map[string]string `json:"checks,omitempty"`
	Description string            `json:"description,omitempty"`
}

func NewHealthHandler(az *authorizer.Authorizer, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{authorizer: az, logger: logger}
}

// Health handles GET /health — basic liveness.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{Status: "UP", Timestamp: time.Now().UTC(), Description: "authorization server is running"}
	h.write(w, http.StatusOK, status)
}

// Ready handles GET /health/ready — readiness including the Snapshot's
// reload health.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	healthy, reason := h.authorizer.Health()
	checks := map[string]string{"snapshot": "ready"}
	statusCode := http.StatusOK
	statusStr := "UP"
	description := "ready to accept traffic"
	if !healthy {
		checks["snapshot"] = "unhealthy: " + reason
		statusCode = http.StatusServiceUnavailable
		statusStr = "DOWN"
		description = "last policy/entity reload failed"
	}
	h.write(w, statusCode, HealthStatus{Status: statusStr, Timestamp: time.Now().UTC(), Checks: checks, Description: description})
}

// Live handles GET /health/live — Kubernetes liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, HealthStatus{Status: "ALIVE", Timestamp: time.Now().UTC(), Description: "process is alive and responding"})
}

func (h *HealthHandler) write(w http.ResponseWriter, status int, body HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
	h.logger.Debug("health check completed", zap.String("status", body.Status))
}
