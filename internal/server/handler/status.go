package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alanyoungcy/depthmap/internal/book"
	"github.com/alanyoungcy/depthmap/internal/feed"
)

// FeedStatus reports the state of the depth stream connection.
type FeedStatus interface {
	State() feed.State
	Reconnects() int64
	Dropped() int64
}

// BookStatus reports on the local replica, if the process has one, and
// otherwise on the book mirrored by the ingesting process.
type BookStatus interface {
	ReplicaStatus() (book.Status, bool)
	MirrorBBO(ctx context.Context) (bestBid, bestAsk float64, ok bool)
}

// StatusHandler serves the operator status views.
type StatusHandler struct {
	mode      string
	driver    string
	symbol    string
	startedAt time.Time
	books     BookStatus
	feed      FeedStatus
}

// NewStatusHandler creates a StatusHandler. fs is nil when this process
// does not ingest; books may be nil.
func NewStatusHandler(mode, driver, symbol string, startedAt time.Time, books BookStatus, fs FeedStatus) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		driver:    driver,
		symbol:    symbol,
		startedAt: startedAt,
		books:     books,
		feed:      fs,
	}
}

// Root answers with a one-line plain-text banner.
// GET /
func (h *StatusHandler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Order book heatmap service for %s is running.", h.symbol)
}

// GetStatus reports mode, storage driver, feed state and either the replica
// counters or the mirrored best bid and ask.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"symbol":         h.symbol,
		"storage_driver": h.driver,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.feed != nil {
		body["feed"] = map[string]any{
			"state":      h.feed.State().String(),
			"reconnects": h.feed.Reconnects(),
			"dropped":    h.feed.Dropped(),
		}
	}
	if h.books != nil {
		if st, ok := h.books.ReplicaStatus(); ok {
			body["book"] = st
		} else if bid, ask, ok := h.books.MirrorBBO(r.Context()); ok {
			body["mirror"] = map[string]float64{"bestBid": bid, "bestAsk": ask}
		}
	}
	writeJSON(w, http.StatusOK, body)
}
