package domain

import (
	"context"
	"time"
)

// SnapshotStore persists snapshots together with the price-level changes
// observed since the previous snapshot.
type SnapshotStore interface {
	// SaveSnapshot writes snap and its changes atomically and returns the
	// new snapshot id. Changes are tagged with that id.
	SaveSnapshot(ctx context.Context, snap Snapshot, changes []PriceLevelChange) (int64, error)
	// QuerySnapshots returns snapshots of symbol within r ordered by time.
	// A positive groupInterval keeps only the last snapshot per interval.
	QuerySnapshots(ctx context.Context, symbol string, r TimeRange, groupInterval time.Duration) ([]Snapshot, error)
	// Latest returns the newest snapshot of symbol or ErrNotFound.
	Latest(ctx context.Context, symbol string) (Snapshot, error)
	// ListChanges returns the changes recorded with one snapshot.
	ListChanges(ctx context.Context, snapshotID int64) ([]PriceLevelChange, error)
	// ListBefore pages through snapshots strictly older than before with
	// id > afterID, ordered by id.
	ListBefore(ctx context.Context, before time.Time, afterID int64, limit int) ([]Snapshot, error)
	// DeleteBefore removes changes, then snapshots, strictly older than before.
	DeleteBefore(ctx context.Context, before time.Time) (PruneResult, error)
	Close() error
}
