package api

import (
	"context"
	"net/http"
)

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.HealthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Error("health check failed", "error", err)
		status["status"] = "degraded"
		checks["memory_store"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["memory_store"] = "ok"
	}

	JSON(w, statusCode, status)
}

// Ready reports that the process is serving.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
