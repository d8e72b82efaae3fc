package handlers

import (
	"net/http"
	"time"
)

// Health reports liveness and uptime.
func Health(startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(startTime).Seconds()),
		})
	}
}
