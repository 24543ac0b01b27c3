// Package sqlite implements domain.SnapshotStore on an embedded SQLite
// database, for single-node deployments without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol     TEXT    NOT NULL,
	timestamp  TEXT    NOT NULL,
	ts_ms      INTEGER NOT NULL,
	bids       TEXT    NOT NULL,
	asks       TEXT    NOT NULL,
	mid_price  REAL    NOT NULL,
	spread     REAL    NOT NULL,
	bid_volume REAL    NOT NULL,
	ask_volume REAL    NOT NULL,
	imbalance  REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots (timestamp);
CREATE INDEX IF NOT EXISTS idx_snapshots_symbol_ts ON snapshots (symbol, ts_ms);

CREATE TABLE IF NOT EXISTS price_level_changes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	snapshot_id INTEGER NOT NULL,
	timestamp   TEXT    NOT NULL,
	price       REAL    NOT NULL,
	bid_delta   REAL    NOT NULL,
	ask_delta   REAL    NOT NULL,
	is_bid      BOOLEAN NOT NULL,
	FOREIGN KEY (snapshot_id) REFERENCES snapshots (id)
);
CREATE INDEX IF NOT EXISTS idx_price_level_changes_snapshot ON price_level_changes (snapshot_id);
`

// Store implements domain.SnapshotStore using SQLite. Timestamps are stored
// both as layout text, for readability, and as epoch milliseconds, for range
// and grouping queries.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	params := "_foreign_keys=on&_busy_timeout=5000"
	if path != ":memory:" {
		params += "&_journal_mode=WAL"
	}
	if strings.Contains(dsn, "?") {
		dsn += "&" + params
	} else {
		dsn += "?" + params
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One connection: SQLite has a single writer and every :memory:
	// connection would otherwise see its own database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

const snapshotCols = `id, symbol, ts_ms, bids, asks,
	mid_price, spread, bid_volume, ask_volume, imbalance`

func scanSnapshots(rows *sql.Rows) ([]domain.Snapshot, error) {
	var snaps []domain.Snapshot
	for rows.Next() {
		var (
			s          domain.Snapshot
			tsMs       int64
			bids, asks string
		)
		if err := rows.Scan(&s.ID, &s.Symbol, &tsMs, &bids, &asks,
			&s.MidPrice, &s.Spread, &s.BidVolume, &s.AskVolume, &s.Imbalance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(bids), &s.Bids); err != nil {
			return nil, fmt.Errorf("decode bids of snapshot %d: %w", s.ID, err)
		}
		if err := json.Unmarshal([]byte(asks), &s.Asks); err != nil {
			return nil, fmt.Errorf("decode asks of snapshot %d: %w", s.ID, err)
		}
		s.Timestamp = time.UnixMilli(tsMs).UTC()
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// SaveSnapshot inserts snap and its changes in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snap domain.Snapshot, changes []domain.PriceLevelChange) (int64, error) {
	bids, err := json.Marshal(nonNil(snap.Bids))
	if err != nil {
		return 0, fmt.Errorf("sqlite: encode bids: %w", err)
	}
	asks, err := json.Marshal(nonNil(snap.Asks))
	if err != nil {
		return 0, fmt.Errorf("sqlite: encode asks: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin save snapshot: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (
			symbol, timestamp, ts_ms, bids, asks,
			mid_price, spread, bid_volume, ask_volume, imbalance
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Symbol, domain.FormatTimestamp(snap.Timestamp), snap.Timestamp.UnixMilli(),
		string(bids), string(asks),
		snap.MidPrice, snap.Spread, snap.BidVolume, snap.AskVolume, snap.Imbalance,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: snapshot id: %w", err)
	}

	if len(changes) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO price_level_changes (
				snapshot_id, timestamp, price, bid_delta, ask_delta, is_bid
			) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, fmt.Errorf("sqlite: prepare change insert: %w", err)
		}
		defer stmt.Close()

		for i, c := range changes {
			if _, err := stmt.ExecContext(ctx, id, domain.FormatTimestamp(c.Timestamp),
				c.Price, c.BidDelta, c.AskDelta, c.IsBid()); err != nil {
				return 0, fmt.Errorf("sqlite: insert change %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit snapshot: %w", err)
	}
	return id, nil
}

// QuerySnapshots returns snapshots of symbol within r ordered by time. With a
// positive groupInterval only the newest snapshot of every interval-aligned
// window is returned.
func (s *Store) QuerySnapshots(ctx context.Context, symbol string, r domain.TimeRange, groupInterval time.Duration) ([]domain.Snapshot, error) {
	start, end := r.Start.UnixMilli(), r.End.UnixMilli()

	var (
		rows *sql.Rows
		err  error
	)
	if groupInterval <= 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+snapshotCols+` FROM snapshots
			 WHERE symbol = ? AND ts_ms >= ? AND ts_ms <= ?
			 ORDER BY ts_ms, id`, symbol, start, end)
	} else {
		intervalMs := groupInterval.Milliseconds()
		if intervalMs < 1 {
			intervalMs = 1
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+snapshotCols+` FROM (
				SELECT `+snapshotCols+`,
					ROW_NUMBER() OVER (PARTITION BY ts_ms / ? ORDER BY ts_ms DESC, id DESC) AS rn
				FROM snapshots
				WHERE symbol = ? AND ts_ms >= ? AND ts_ms <= ?
			) WHERE rn = 1
			ORDER BY ts_ms, id`, intervalMs, symbol, start, end)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: query snapshots: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan snapshots: %w", err)
	}
	return snaps, nil
}

// Latest returns the newest snapshot of symbol.
func (s *Store) Latest(ctx context.Context, symbol string) (domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotCols+` FROM snapshots WHERE symbol = ?
		 ORDER BY ts_ms DESC, id DESC LIMIT 1`, symbol)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("sqlite: latest snapshot: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("sqlite: scan latest snapshot: %w", err)
	}
	if len(snaps) == 0 {
		return domain.Snapshot{}, fmt.Errorf("sqlite: latest snapshot of %s: %w", symbol, domain.ErrNotFound)
	}
	return snaps[0], nil
}

// ListChanges returns the changes recorded with one snapshot.
func (s *Store) ListChanges(ctx context.Context, snapshotID int64) ([]domain.PriceLevelChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, timestamp, price, bid_delta, ask_delta, is_bid
		FROM price_level_changes WHERE snapshot_id = ? ORDER BY id`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list changes: %w", err)
	}
	defer rows.Close()

	var out []domain.PriceLevelChange
	for rows.Next() {
		var (
			c     domain.PriceLevelChange
			ts    string
			isBid bool
		)
		if err := rows.Scan(&c.SnapshotID, &ts, &c.Price, &c.BidDelta, &c.AskDelta, &isBid); err != nil {
			return nil, fmt.Errorf("sqlite: scan change: %w", err)
		}
		if c.Timestamp, err = domain.ParseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("sqlite: parse change timestamp %q: %w", ts, err)
		}
		c.Side = domain.SideAsk
		if isBid {
			c.Side = domain.SideBid
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListBefore pages through snapshots older than before, ordered by id.
func (s *Store) ListBefore(ctx context.Context, before time.Time, afterID int64, limit int) ([]domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotCols+` FROM snapshots
		 WHERE ts_ms < ? AND id > ? ORDER BY id LIMIT ?`,
		before.UnixMilli(), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list snapshots before: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan snapshots before: %w", err)
	}
	return snaps, nil
}

// DeleteBefore removes expired changes and then expired snapshots in one
// transaction.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (domain.PruneResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PruneResult{}, fmt.Errorf("sqlite: begin prune: %w", err)
	}
	defer tx.Rollback()

	cutoff := before.UnixMilli()
	var out domain.PruneResult

	res, err := tx.ExecContext(ctx, `
		DELETE FROM price_level_changes
		WHERE snapshot_id IN (SELECT id FROM snapshots WHERE ts_ms < ?)`, cutoff)
	if err != nil {
		return domain.PruneResult{}, fmt.Errorf("sqlite: prune changes: %w", err)
	}
	out.Changes, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM snapshots WHERE ts_ms < ?`, cutoff)
	if err != nil {
		return domain.PruneResult{}, fmt.Errorf("sqlite: prune snapshots: %w", err)
	}
	out.Snapshots, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return domain.PruneResult{}, fmt.Errorf("sqlite: commit prune: %w", err)
	}
	return out, nil
}

// Ping checks that the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nonNil(levels []domain.PriceLevel) []domain.PriceLevel {
	if levels == nil {
		return []domain.PriceLevel{}
	}
	return levels
}
