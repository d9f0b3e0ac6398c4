package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	putErr  error
	lose    bool
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if !m.lose {
		m.objects[path] = b
	}
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, jsonlContentType)
}

func (m *memBlobs) List(_ context.Context, _ string) ([]domain.BlobInfo, error) { return nil, nil }

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type fakeHistory struct {
	positions []domain.Position
	orders    []domain.Order
	deleted   []string
}

func (f *fakeHistory) ListClosedBefore(context.Context, time.Time) ([]domain.Position, error) {
	return f.positions, nil
}

func (f *fakeHistory) DeleteClosedBefore(context.Context, time.Time) (int64, error) {
	f.deleted = append(f.deleted, "positions")
	return int64(len(f.positions)), nil
}

func (f *fakeHistory) ListTerminalBefore(context.Context, time.Time) ([]domain.Order, error) {
	return f.orders, nil
}

func (f *fakeHistory) DeleteTerminalBefore(context.Context, time.Time) (int64, error) {
	f.deleted = append(f.deleted, "orders")
	return int64(len(f.orders)), nil
}

type fakeAudit struct{ events []string }

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchivePositionsUploadsThenDeletes(t *testing.T) {
	blobs := newMemBlobs()
	hist := &fakeHistory{positions: []domain.Position{
		{ID: "p1", Symbol: "EUR/USD", Status: domain.PositionStatusClosed, RealizedPnL: 500},
		{ID: "p2", Symbol: "AAPL", Status: domain.PositionStatusClosed, RealizedPnL: -20},
	}}
	audit := &fakeAudit{}
	a := NewArchiver(blobs, blobs, hist, hist, audit)
	a.newID = func() string { return "run1" }

	cutoff := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchivePositions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"positions"}, hist.deleted)
	assert.Equal(t, []string{"archive.positions"}, audit.events)

	body, ok := blobs.objects["archive/positions/2026-09/run1.jsonl"]
	require.True(t, ok)
	sc := bufio.NewScanner(bytes.NewReader(body))
	var ids []string
	for sc.Scan() {
		var p domain.Position
		require.NoError(t, json.Unmarshal(sc.Bytes(), &p))
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"p1", "p2"}, ids)
}

func TestArchiveKeepsRowsWhenUploadFails(t *testing.T) {
	blobs := newMemBlobs()
	blobs.putErr = errors.New("bucket unavailable")
	hist := &fakeHistory{orders: []domain.Order{{ID: "o1", Status: domain.OrderStatusFilled}}}
	a := NewArchiver(blobs, blobs, hist, hist, nil)

	_, err := a.ArchiveOrders(context.Background(), time.Now())
	require.Error(t, err)
	assert.Empty(t, hist.deleted)

	blobs.putErr = nil
	blobs.lose = true
	_, err = a.ArchiveOrders(context.Background(), time.Now())
	require.ErrorContains(t, err, "missing after upload")
	assert.Empty(t, hist.deleted)
}

func TestArchiveNothingToDo(t *testing.T) {
	blobs := newMemBlobs()
	hist := &fakeHistory{}
	n, err := NewArchiver(blobs, blobs, hist, hist, nil).ArchiveOrders(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}
