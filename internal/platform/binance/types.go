package binance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

// --------------------------------------------------------------------------
// Depth stream DTOs
// --------------------------------------------------------------------------

// DepthEvent is a diff message from the <symbol>@depth stream.
type DepthEvent struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// combinedEnvelope wraps events delivered on a /stream?streams= connection.
type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// DepthSnapshotResponse is the body of GET /api/v3/depth.
type DepthSnapshotResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// DecodeDepthEvent parses a raw stream frame. Both the raw and the combined
// stream formats are accepted. Any structural problem is reported as
// domain.ErrMalformedMessage.
func DecodeDepthEvent(raw []byte) (domain.DepthUpdate, error) {
	var env combinedEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		raw = env.Data
	}

	var ev DepthEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.DepthUpdate{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if ev.FinalUpdateID <= 0 {
		return domain.DepthUpdate{}, fmt.Errorf("%w: missing final update id", domain.ErrMalformedMessage)
	}
	return ev.ToDomain()
}

// ToDomain converts the event into a domain.DepthUpdate.
func (e *DepthEvent) ToDomain() (domain.DepthUpdate, error) {
	bids, err := toLevels(e.Bids)
	if err != nil {
		return domain.DepthUpdate{}, err
	}
	asks, err := toLevels(e.Asks)
	if err != nil {
		return domain.DepthUpdate{}, err
	}

	u := domain.DepthUpdate{
		Symbol:        e.Symbol,
		FirstUpdateID: e.FirstUpdateID,
		FinalUpdateID: e.FinalUpdateID,
		Bids:          bids,
		Asks:          asks,
	}
	if e.EventTime > 0 {
		u.EventTime = time.UnixMilli(e.EventTime).UTC()
	}
	return u, nil
}

// ToDomain converts the REST body into a domain.DepthSeed.
func (r *DepthSnapshotResponse) ToDomain() (domain.DepthSeed, error) {
	bids, err := toLevels(r.Bids)
	if err != nil {
		return domain.DepthSeed{}, err
	}
	asks, err := toLevels(r.Asks)
	if err != nil {
		return domain.DepthSeed{}, err
	}
	return domain.DepthSeed{LastUpdateID: r.LastUpdateID, Bids: bids, Asks: asks}, nil
}

func toLevels(pairs [][]string) ([]domain.LevelUpdate, error) {
	out := make([]domain.LevelUpdate, 0, len(pairs))
	for i, p := range pairs {
		if len(p) < 2 {
			return nil, fmt.Errorf("%w: level %d has %d fields", domain.ErrMalformedMessage, i, len(p))
		}
		out = append(out, domain.LevelUpdate{Price: p[0], Quantity: p[1]})
	}
	return out, nil
}
