package domain

import "time"

// TimestampLayout is the textual layout used for persisted snapshot
// timestamps. Lexical and chronological ordering coincide.
const TimestampLayout = "2006-01-02 15:04:05.000"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout string as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.UTC)
}

// Side identifies one side of the book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// PriceLevel is a single price+volume entry of a materialized book side.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// LevelUpdate is a raw (price, quantity) pair as received from the exchange.
// Both fields are decimal strings; a zero quantity removes the level.
type LevelUpdate struct {
	Price    string
	Quantity string
}

// DepthUpdate is one incremental diff message from the depth stream.
type DepthUpdate struct {
	Symbol        string
	EventTime     time.Time
	FirstUpdateID int64 // U
	FinalUpdateID int64 // u
	Bids          []LevelUpdate
	Asks          []LevelUpdate
}

// DepthSeed is the REST depth snapshot used to (re)build the replica.
type DepthSeed struct {
	LastUpdateID int64
	Bids         []LevelUpdate
	Asks         []LevelUpdate
}

// PriceLevelChange records how much one price level moved on one side.
// Exactly one of BidDelta and AskDelta is non-zero.
type PriceLevelChange struct {
	SnapshotID int64     `json:"snapshotId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Price      float64   `json:"price"`
	BidDelta   float64   `json:"bidDelta"`
	AskDelta   float64   `json:"askDelta"`
	Side       Side      `json:"side"`
}

// IsBid reports whether the change happened on the bid side.
func (c PriceLevelChange) IsBid() bool { return c.Side == SideBid }

// Metrics is the derived top-of-book and volume summary of a book.
type Metrics struct {
	BestBid   float64 `json:"bestBid"`
	BestAsk   float64 `json:"bestAsk"`
	MidPrice  float64 `json:"midPrice"`
	Spread    float64 `json:"spread"`
	BidVolume float64 `json:"bidVolume"`
	AskVolume float64 `json:"askVolume"`
	Imbalance float64 `json:"imbalance"`
}

// Snapshot is an immutable, time-stamped freeze of the book truncated to a
// fixed depth. Bids are sorted descending, asks ascending.
type Snapshot struct {
	ID        int64        `json:"id"`
	Symbol    string       `json:"symbol"`
	Timestamp time.Time    `json:"timestamp"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	MidPrice  float64      `json:"midPrice"`
	Spread    float64      `json:"spread"`
	BidVolume float64      `json:"bidVolume"`
	AskVolume float64      `json:"askVolume"`
	Imbalance float64      `json:"imbalance"`
}

// BestBid returns the highest bid of the snapshot, or 0 when it has none.
func (s Snapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask of the snapshot, or 0 when it has none.
func (s Snapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// TimeRange is an inclusive [Start, End] window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// SnapshotEvent is the summary published after a snapshot is saved.
type SnapshotEvent struct {
	ID        int64   `json:"id"`
	Symbol    string  `json:"symbol"`
	Timestamp string  `json:"timestamp"`
	BestBid   float64 `json:"bestBid"`
	BestAsk   float64 `json:"bestAsk"`
	MidPrice  float64 `json:"midPrice"`
	Spread    float64 `json:"spread"`
	BidVolume float64 `json:"bidVolume"`
	AskVolume float64 `json:"askVolume"`
	Imbalance float64 `json:"imbalance"`
	Changes   int     `json:"changes"`
}

// NewSnapshotEvent summarizes a saved snapshot.
func NewSnapshotEvent(s Snapshot, changes int) SnapshotEvent {
	return SnapshotEvent{
		ID:        s.ID,
		Symbol:    s.Symbol,
		Timestamp: FormatTimestamp(s.Timestamp),
		BestBid:   s.BestBid(),
		BestAsk:   s.BestAsk(),
		MidPrice:  s.MidPrice,
		Spread:    s.Spread,
		BidVolume: s.BidVolume,
		AskVolume: s.AskVolume,
		Imbalance: s.Imbalance,
		Changes:   changes,
	}
}
