package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// PositionArchiveStore is the slice of the position store the archiver
// needs.
type PositionArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// OrderArchiveStore is the slice of the order store the archiver needs.
type OrderArchiveStore interface {
	ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver. Each run serializes the matching
// rows to JSONL, uploads them under a unique key, confirms the object exists
// and only then deletes the rows from the database.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	positions PositionArchiveStore
	orders    OrderArchiveStore
	audit     domain.AuditStore
	newID     func() string
}

// NewArchiver creates an ArchiveImpl. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	positions PositionArchiveStore,
	orders OrderArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		positions: positions,
		orders:    orders,
		audit:     audit,
		newID:     uuid.NewString,
	}
}

// ArchivePositions moves positions closed before the cutoff to
// archive/positions/. It returns the number of rows archived.
func (a *ArchiveImpl) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	return archive(ctx, a, "positions", before, rows, a.positions.DeleteClosedBefore)
}

// ArchiveOrders moves filled, cancelled and rejected orders last updated
// before the cutoff to archive/orders/.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.orders.ListTerminalBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	return archive(ctx, a, "orders", before, rows, a.orders.DeleteTerminalBefore)
}

func archive[T any](
	ctx context.Context,
	a *ArchiveImpl,
	kind string,
	before time.Time,
	rows []T,
	deleteBefore func(context.Context, time.Time) (int64, error),
) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before, a.newID())
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive %s verify: %s missing after upload", kind, path)
	}

	deleted, err := deleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s delete rows: %w", kind, err)
	}

	count := int64(len(rows))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":    path,
			"count":   count,
			"deleted": deleted,
			"before":  before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// archivePath partitions archive objects by the cutoff month. The run id
// keeps repeated runs in the same month from overwriting each other.
//
//	archive/positions/2026-10/8f4c....jsonl
func archivePath(kind string, before time.Time, runID string) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.UTC().Format("2006-01"), runID)
}

// marshalJSONL encodes one compact JSON document per line.
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
