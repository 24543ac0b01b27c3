package book

import "github.com/alanyoungcy/depthmap/internal/domain"

// DefaultPendingCap bounds the change buffer between two snapshots.
const DefaultPendingCap = 1000

// ChangeBuffer accumulates price-level changes until the next snapshot. When
// full it drops the oldest entries.
type ChangeBuffer struct {
	items   []domain.PriceLevelChange
	cap     int
	dropped uint64
}

// NewChangeBuffer returns a buffer holding at most capacity changes. A
// non-positive capacity selects DefaultPendingCap.
func NewChangeBuffer(capacity int) *ChangeBuffer {
	if capacity <= 0 {
		capacity = DefaultPendingCap
	}
	return &ChangeBuffer{cap: capacity}
}

// Add appends changes and returns how many old entries were evicted.
func (b *ChangeBuffer) Add(changes ...domain.PriceLevelChange) int {
	b.items = append(b.items, changes...)
	over := len(b.items) - b.cap
	if over <= 0 {
		return 0
	}
	copy(b.items, b.items[over:])
	b.items = b.items[:b.cap]
	b.dropped += uint64(over)
	return over
}

// Drain returns the buffered changes in arrival order and empties the buffer.
func (b *ChangeBuffer) Drain() []domain.PriceLevelChange {
	if len(b.items) == 0 {
		return nil
	}
	out := make([]domain.PriceLevelChange, len(b.items))
	copy(out, b.items)
	b.items = b.items[:0]
	return out
}

// Len returns the number of buffered changes.
func (b *ChangeBuffer) Len() int { return len(b.items) }

// Dropped returns the total number of evicted changes.
func (b *ChangeBuffer) Dropped() uint64 { return b.dropped }
