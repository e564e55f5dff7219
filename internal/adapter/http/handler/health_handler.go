package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/iho/goescrow/internal/adapter/http/dto"
)

// Pinger is a dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check requests.
type HealthHandler struct {
	postgres Pinger
	redis    Pinger
}

// NewHealthHandler creates a new HealthHandler. redis may be nil when the
// service runs without it.
func NewHealthHandler(postgres, redis Pinger) *HealthHandler {
	return &HealthHandler{
		postgres: postgres,
		redis:    redis,
	}
}

// Liveness returns 200 if the service is alive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness returns 200 if the service is ready to accept traffic.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Check PostgreSQL
	if err := h.postgres.Ping(ctx); err != nil {
		writeUnhealthy(w, "postgres unhealthy", err)
		return
	}

	resp := map[string]string{
		"status":   "ready",
		"postgres": "ok",
		"redis":    "disabled",
	}

	// Check Redis
	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			writeUnhealthy(w, "redis unhealthy", err)
			return
		}
		resp["redis"] = "ok"
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeUnhealthy(w http.ResponseWriter, msg string, err error) {
	writeJSON(w, http.StatusServiceUnavailable, dto.ErrorResponse{
		Code:    "UNAVAILABLE",
		Error:   msg,
		Message: err.Error(),
	})
}
