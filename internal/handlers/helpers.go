package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/torrin-io/torrin/internal/metrics"
	"github.com/torrin-io/torrin/internal/uploaderr"
)

// errorEnvelope is the wire format of every error response.
type errorEnvelope struct {
	Error *uploaderr.Error `json:"error"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError translates err into the taxonomy and writes the error
// envelope. Untyped errors are logged and surface as INTERNAL_ERROR.
func writeError(w http.ResponseWriter, err error) {
	ue := uploaderr.AsError(err)
	if ue.Code == uploaderr.CodeInternalError {
		slog.Error("internal error", "error", err)
	}
	metrics.ErrorsTotal.WithLabelValues(string(ue.Code)).Inc()
	writeJSON(w, ue.HTTPStatus(), errorEnvelope{Error: ue})
}
