package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

// ArchiveHandler lists the JSONL objects written by retention runs.
type ArchiveHandler struct {
	reader domain.BlobReader
	prefix string
	symbol string
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler listing objects under prefix.
func NewArchiveHandler(reader domain.BlobReader, prefix, symbol string, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		reader: reader,
		prefix: prefix,
		symbol: symbol,
		logger: logHandler(logger, "archive"),
	}
}

// List returns the archive objects of one symbol, optionally narrowed to a
// single day.
// GET /api/archive?symbol&day=YYYY-MM-DD
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	if symbol == "" {
		symbol = h.symbol
	}
	prefix := h.prefix + symbol + "/"
	if day := strings.TrimSpace(q.Get("day")); day != "" {
		t, err := parseTime(day)
		if err != nil {
			writeError(w, http.StatusBadRequest, "day: "+err.Error())
			return
		}
		prefix += t.Format("2006-01-02") + "/"
	}

	objects, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prefix":  prefix,
		"objects": objects,
	})
}
