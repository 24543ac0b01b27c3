package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

const maxRetentionRuns = 100

// RetentionHandler exposes the history of retention runs recorded on the
// retention stream.
type RetentionHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewRetentionHandler creates a RetentionHandler.
func NewRetentionHandler(bus domain.SignalBus, logger *slog.Logger) *RetentionHandler {
	return &RetentionHandler{bus: bus, logger: logHandler(logger, "retention")}
}

type retentionRun struct {
	StreamID string          `json:"streamId"`
	Run      json.RawMessage `json:"run"`
}

// Runs returns up to count runs recorded after the stream id in after.
// GET /api/retention/runs?after=0&count=20
func (h *RetentionHandler) Runs(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := queryInt(r, "count", 20)
	if count > maxRetentionRuns {
		count = maxRetentionRuns
	}

	msgs, err := h.bus.StreamRead(r.Context(), domain.RetentionStream, after, count)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	runs := make([]retentionRun, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		runs = append(runs, retentionRun{StreamID: m.ID, Run: m.Payload})
	}
	writeJSON(w, http.StatusOK, runs)
}
