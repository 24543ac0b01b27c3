package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// DefaultArchivePageSize is how many snapshots are read per store query.
	DefaultArchivePageSize = 500

	// ArchivePrefix is the key prefix under which every archive object lives.
	ArchivePrefix = "archive/snapshots/"
)

// SnapshotSource is the read access the archiver needs from the snapshot
// store.
type SnapshotSource interface {
	ListBefore(ctx context.Context, before time.Time, afterID int64, limit int) ([]domain.Snapshot, error)
	ListChanges(ctx context.Context, snapshotID int64) ([]domain.PriceLevelChange, error)
}

// archivedSnapshot is one JSONL line: the snapshot plus the changes recorded
// with it.
type archivedSnapshot struct {
	domain.Snapshot
	Changes []domain.PriceLevelChange `json:"changes"`
}

// SnapshotArchiver implements domain.Archiver. It copies snapshots older than
// a cutoff into JSONL objects partitioned by symbol and UTC day, and checks
// every object landed before reporting success. It never deletes anything.
type SnapshotArchiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	source   SnapshotSource
	pageSize int
	logger   *slog.Logger
}

// NewSnapshotArchiver creates a SnapshotArchiver. A non-positive pageSize
// falls back to DefaultArchivePageSize.
func NewSnapshotArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	source SnapshotSource,
	pageSize int,
	logger *slog.Logger,
) *SnapshotArchiver {
	if pageSize <= 0 {
		pageSize = DefaultArchivePageSize
	}
	return &SnapshotArchiver{
		writer:   writer,
		reader:   reader,
		source:   source,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSnapshots uploads every snapshot strictly older than before and
// returns how many were archived. Any failure aborts the run; objects already
// written stay in the bucket.
func (a *SnapshotArchiver) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	var (
		total   int64
		afterID int64
	)
	for {
		page, err := a.source.ListBefore(ctx, before, afterID, a.pageSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive query: %w", err)
		}
		if len(page) == 0 {
			break
		}

		n, err := a.archivePage(ctx, page)
		total += n
		if err != nil {
			return total, err
		}

		afterID = page[len(page)-1].ID
		if len(page) < a.pageSize {
			break
		}
	}

	if total > 0 {
		a.logger.Info("snapshots archived",
			slog.Int64("count", total),
			slog.Time("before", before),
		)
	}
	return total, nil
}

// archivePage writes one object per (symbol, day) partition of page.
func (a *SnapshotArchiver) archivePage(ctx context.Context, page []domain.Snapshot) (int64, error) {
	type partition struct {
		symbol string
		day    string
	}
	var order []partition
	groups := make(map[partition][]archivedSnapshot)

	for _, snap := range page {
		changes, err := a.source.ListChanges(ctx, snap.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive changes of snapshot %d: %w", snap.ID, err)
		}
		key := partition{symbol: snap.Symbol, day: snap.Timestamp.UTC().Format("2006-01-02")}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], archivedSnapshot{Snapshot: snap, Changes: changes})
	}

	var archived int64
	for _, key := range order {
		records := groups[key]
		buf, err := marshalJSONL(records)
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive marshal: %w", err)
		}

		path := archivePath(key.symbol, key.day)
		if err := a.upload(ctx, path, buf); err != nil {
			return archived, err
		}

		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive verify %s: %w", path, err)
		}
		if !ok {
			return archived, fmt.Errorf("s3blob: archive verify %s: object missing after upload", path)
		}
		archived += int64(len(records))
	}
	return archived, nil
}

func (a *SnapshotArchiver) upload(ctx context.Context, path string, buf []byte) error {
	var err error
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive upload: %w", err)
	}
	return nil
}

// archivePath builds a unique key inside the symbol/day partition:
//
//	archive/snapshots/TRXUSDT/2024-03-01/<uuid>.jsonl
func archivePath(symbol, day string) string {
	return fmt.Sprintf("%s%s/%s/%s.jsonl", ArchivePrefix, symbol, day, uuid.NewString())
}

// marshalJSONL encodes records as newline-delimited compact JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*SnapshotArchiver)(nil)
