package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db          *sqlx.DB
	redisClient *redis.Client
	service     string
	startTime   time.Time
}

func NewHealthHandler(db *sqlx.DB, redisClient *redis.Client, service string) *HealthHandler {
	return &HealthHandler{
		db:          db,
		redisClient: redisClient,
		service:     service,
		startTime:   time.Now(),
	}
}

// Health reports process liveness.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": h.service,
		"uptime":  time.Since(h.startTime).String(),
	})
}

// Ready reports whether the service can take traffic. The database is
// required; Redis degrades rate limiting but does not fail readiness.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	status := http.StatusOK

	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	if h.redisClient != nil {
		checks["redis"] = "ok"
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
		}
	}

	state := "ready"
	if status != http.StatusOK {
		state = "unavailable"
	}

	respondJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
	})
}
