package book

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

// DefaultSnapshotDepth is the number of levels kept per side in a snapshot.
const DefaultSnapshotDepth = 500

// Replica owns a State and its pending change buffer behind one mutex. The
// feed goroutine applies diffs through it while the sampler and the query
// API read from it.
type Replica struct {
	mu          sync.Mutex
	state       *State
	pending     *ChangeBuffer
	resyncOnGap bool
	now         func() time.Time
}

// Option configures a Replica.
type Option func(*Replica)

// WithPendingCap bounds the change buffer.
func WithPendingCap(n int) Option {
	return func(r *Replica) { r.pending = NewChangeBuffer(n) }
}

// WithGapDetection makes Apply reject diffs that skip sequence ids.
func WithGapDetection(enabled bool) Option {
	return func(r *Replica) { r.resyncOnGap = enabled }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Replica) { r.now = now }
}

// NewReplica creates an empty replica for symbol.
func NewReplica(symbol string, opts ...Option) *Replica {
	r := &Replica{
		state:   NewState(symbol),
		pending: NewChangeBuffer(DefaultPendingCap),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Symbol returns the replicated symbol.
func (r *Replica) Symbol() string { return r.state.Symbol }

// Seed rebuilds the book from a REST depth snapshot.
func (r *Replica) Seed(seed domain.DepthSeed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Seed(seed, r.now())
}

// Reset empties the book so it reports not-ready until the next Seed.
func (r *Replica) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Reset()
}

// Apply applies one diff and buffers the resulting changes. It returns the
// number of changes produced and how many buffered changes were evicted.
//
// With gap detection enabled, a diff whose first id is beyond
// LastUpdateID+1 fails with domain.ErrSequenceGap and is not applied.
func (r *Replica) Apply(u domain.DepthUpdate) (produced, evicted int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resyncOnGap && u.FirstUpdateID > 0 && r.state.LastUpdateID > 0 &&
		u.FinalUpdateID > r.state.LastUpdateID && u.FirstUpdateID > r.state.LastUpdateID+1 {
		return 0, 0, fmt.Errorf("%w: have %d, next diff starts at %d",
			domain.ErrSequenceGap, r.state.LastUpdateID, u.FirstUpdateID)
	}

	changes, err := Apply(r.state, u, r.now())
	if err != nil {
		return 0, 0, err
	}
	return len(changes), r.pending.Add(changes...), nil
}

// Sample materializes a snapshot truncated to depth levels per side and
// drains the pending changes that belong to it. ok is false when the book is
// not ready; the pending buffer is then left alone.
func (r *Replica) Sample(depth int) (snap domain.Snapshot, changes []domain.PriceLevelChange, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ready := Calculate(r.state)
	if !ready {
		return domain.Snapshot{}, nil, false
	}
	if depth <= 0 {
		depth = DefaultSnapshotDepth
	}

	snap = domain.Snapshot{
		Symbol:    r.state.Symbol,
		Timestamp: r.now().UTC().Truncate(time.Millisecond),
		Bids:      r.state.Levels(domain.SideBid, depth),
		Asks:      r.state.Levels(domain.SideAsk, depth),
		MidPrice:  m.MidPrice,
		Spread:    m.Spread,
		BidVolume: m.BidVolume,
		AskVolume: m.AskVolume,
		Imbalance: m.Imbalance,
	}
	return snap, r.pending.Drain(), true
}

// Metrics returns the live book metrics, or false when not ready.
func (r *Replica) Metrics() (domain.Metrics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Calculate(r.state)
}

// View is a consistent read of the live book.
type View struct {
	Symbol         string
	LastUpdateID   int64
	LastUpdateTime time.Time
	Bids           []domain.PriceLevel
	Asks           []domain.PriceLevel
	Metrics        domain.Metrics
}

// Current returns the top levels of both sides with their metrics, or
// false when not ready.
func (r *Replica) Current(levels int) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := Calculate(r.state)
	if !ok {
		return View{}, false
	}
	return View{
		Symbol:         r.state.Symbol,
		LastUpdateID:   r.state.LastUpdateID,
		LastUpdateTime: r.state.LastUpdateTime,
		Bids:           r.state.Levels(domain.SideBid, levels),
		Asks:           r.state.Levels(domain.SideAsk, levels),
		Metrics:        m,
	}, true
}

// Liquidity computes the liquidity band around the live mid price.
func (r *Replica) Liquidity(depth float64) (domain.LiquidityBand, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Liquidity(r.state, depth)
}

// Status summarizes the replica for operators.
type Status struct {
	Symbol         string    `json:"symbol"`
	Ready          bool      `json:"ready"`
	LastUpdateID   int64     `json:"lastUpdateId"`
	LastUpdateTime time.Time `json:"lastUpdateTime"`
	BidLevels      int       `json:"bidLevels"`
	AskLevels      int       `json:"askLevels"`
	PendingChanges int       `json:"pendingChanges"`
	DroppedChanges uint64    `json:"droppedChanges"`
}

// Status returns a point-in-time summary.
func (r *Replica) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Symbol:         r.state.Symbol,
		Ready:          r.state.Ready(),
		LastUpdateID:   r.state.LastUpdateID,
		LastUpdateTime: r.state.LastUpdateTime,
		BidLevels:      r.state.Depth(domain.SideBid),
		AskLevels:      r.state.Depth(domain.SideAsk),
		PendingChanges: r.pending.Len(),
		DroppedChanges: r.pending.Dropped(),
	}
}
