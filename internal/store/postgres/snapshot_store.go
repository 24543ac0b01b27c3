package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotSelectCols = `id, symbol, timestamp, bids, asks,
	mid_price, spread, bid_volume, ask_volume, imbalance`

func scanSnapshotRows(rows pgx.Rows) ([]domain.Snapshot, error) {
	var snaps []domain.Snapshot
	for rows.Next() {
		var (
			s          domain.Snapshot
			bids, asks []byte
		)
		if err := rows.Scan(
			&s.ID, &s.Symbol, &s.Timestamp, &bids, &asks,
			&s.MidPrice, &s.Spread, &s.BidVolume, &s.AskVolume, &s.Imbalance,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(bids, &s.Bids); err != nil {
			return nil, fmt.Errorf("decode bids of snapshot %d: %w", s.ID, err)
		}
		if err := json.Unmarshal(asks, &s.Asks); err != nil {
			return nil, fmt.Errorf("decode asks of snapshot %d: %w", s.ID, err)
		}
		s.Timestamp = s.Timestamp.UTC()
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// SaveSnapshot inserts snap and its changes in one transaction. The changes
// are sent as a single pgx batch.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap domain.Snapshot, changes []domain.PriceLevelChange) (int64, error) {
	bids, err := json.Marshal(nonNil(snap.Bids))
	if err != nil {
		return 0, fmt.Errorf("postgres: encode bids: %w", err)
	}
	asks, err := json.Marshal(nonNil(snap.Asks))
	if err != nil {
		return 0, fmt.Errorf("postgres: encode asks: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin save snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO snapshots (
			symbol, timestamp, bids, asks,
			mid_price, spread, bid_volume, ask_volume, imbalance
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		snap.Symbol, snap.Timestamp.UTC(), bids, asks,
		snap.MidPrice, snap.Spread, snap.BidVolume, snap.AskVolume, snap.Imbalance,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert snapshot: %w", err)
	}

	if len(changes) > 0 {
		batch := &pgx.Batch{}
		const query = `
			INSERT INTO price_level_changes (
				snapshot_id, timestamp, price, bid_delta, ask_delta, is_bid
			) VALUES ($1, $2, $3, $4, $5, $6)`
		for _, c := range changes {
			batch.Queue(query, id, c.Timestamp.UTC(), c.Price, c.BidDelta, c.AskDelta, c.IsBid())
		}

		br := tx.SendBatch(ctx, batch)
		for i := range changes {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return 0, fmt.Errorf("postgres: insert change batch item %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return 0, fmt.Errorf("postgres: close change batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit snapshot: %w", err)
	}
	return id, nil
}

// QuerySnapshots returns snapshots of symbol within r ordered by time. With a
// positive groupInterval only the newest snapshot of every interval-aligned
// window is returned.
func (s *SnapshotStore) QuerySnapshots(ctx context.Context, symbol string, r domain.TimeRange, groupInterval time.Duration) ([]domain.Snapshot, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if groupInterval <= 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT `+snapshotSelectCols+` FROM snapshots
			 WHERE symbol = $1 AND timestamp >= $2 AND timestamp <= $3
			 ORDER BY timestamp, id`,
			symbol, r.Start.UTC(), r.End.UTC())
	} else {
		intervalMs := groupInterval.Milliseconds()
		if intervalMs < 1 {
			intervalMs = 1
		}
		rows, err = s.pool.Query(ctx,
			`SELECT `+snapshotSelectCols+` FROM (
				SELECT DISTINCT ON (bucket) `+snapshotSelectCols+` FROM (
					SELECT `+snapshotSelectCols+`,
						floor(extract(epoch FROM timestamp) * 1000 / $4)::bigint AS bucket
					FROM snapshots
					WHERE symbol = $1 AND timestamp >= $2 AND timestamp <= $3
				) ranged
				ORDER BY bucket, timestamp DESC, id DESC
			) grouped
			ORDER BY timestamp, id`,
			symbol, r.Start.UTC(), r.End.UTC(), intervalMs)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: query snapshots: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots: %w", err)
	}
	return snaps, nil
}

// Latest returns the newest snapshot of symbol.
func (s *SnapshotStore) Latest(ctx context.Context, symbol string) (domain.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotSelectCols+` FROM snapshots
		 WHERE symbol = $1 ORDER BY timestamp DESC, id DESC LIMIT 1`, symbol)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: latest snapshot: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshotRows(rows)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: scan latest snapshot: %w", err)
	}
	if len(snaps) == 0 {
		return domain.Snapshot{}, fmt.Errorf("postgres: latest snapshot of %s: %w", symbol, domain.ErrNotFound)
	}
	return snaps[0], nil
}

// ListChanges returns the changes recorded with one snapshot.
func (s *SnapshotStore) ListChanges(ctx context.Context, snapshotID int64) ([]domain.PriceLevelChange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT snapshot_id, timestamp, price, bid_delta, ask_delta, is_bid
		FROM price_level_changes WHERE snapshot_id = $1 ORDER BY id`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list changes: %w", err)
	}
	defer rows.Close()

	var out []domain.PriceLevelChange
	for rows.Next() {
		var (
			c     domain.PriceLevelChange
			isBid bool
		)
		if err := rows.Scan(&c.SnapshotID, &c.Timestamp, &c.Price, &c.BidDelta, &c.AskDelta, &isBid); err != nil {
			return nil, fmt.Errorf("postgres: scan change: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		c.Side = domain.SideAsk
		if isBid {
			c.Side = domain.SideBid
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListBefore pages through snapshots older than before, ordered by id.
func (s *SnapshotStore) ListBefore(ctx context.Context, before time.Time, afterID int64, limit int) ([]domain.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotSelectCols+` FROM snapshots
		 WHERE timestamp < $1 AND id > $2 ORDER BY id LIMIT $3`,
		before.UTC(), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots before: %w", err)
	}
	return snaps, nil
}

// DeleteBefore removes expired changes and then expired snapshots in one
// transaction.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (domain.PruneResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.PruneResult{}, fmt.Errorf("postgres: begin prune: %w", err)
	}
	defer tx.Rollback(ctx)

	cutoff := before.UTC()
	var res domain.PruneResult

	tag, err := tx.Exec(ctx, `
		DELETE FROM price_level_changes
		WHERE snapshot_id IN (SELECT id FROM snapshots WHERE timestamp < $1)`, cutoff)
	if err != nil {
		return domain.PruneResult{}, fmt.Errorf("postgres: prune changes: %w", err)
	}
	res.Changes = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM snapshots WHERE timestamp < $1`, cutoff)
	if err != nil {
		return domain.PruneResult{}, fmt.Errorf("postgres: prune snapshots: %w", err)
	}
	res.Snapshots = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return domain.PruneResult{}, fmt.Errorf("postgres: commit prune: %w", err)
	}
	return res, nil
}

// Close is a no-op; the pool is owned by Client.
func (s *SnapshotStore) Close() error { return nil }

func nonNil(levels []domain.PriceLevel) []domain.PriceLevel {
	if levels == nil {
		return []domain.PriceLevel{}
	}
	return levels
}
