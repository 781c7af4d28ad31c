package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

type fakeWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failPut error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if f.failPut != nil {
		return f.failPut
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = b
	f.types[path] = contentType
	return nil
}

func (f *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = b
	return nil
}

type fakeEvents struct {
	events []domain.Event
	calls  int
}

func (f *fakeEvents) ListEvents(_ context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	f.calls++
	var matched []domain.Event
	for _, e := range f.events {
		if filter.Since != nil && e.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Before != nil && !e.CreatedAt.Before(*filter.Before) {
			continue
		}
		matched = append(matched, e)
	}
	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func TestArchiveSettlement(t *testing.T) {
	w := newFakeWriter()
	a := NewArchiver(w, &fakeEvents{})

	report := domain.SettlementReport{
		MarketID:       "m-1",
		WinningOutcome: "YES",
		TotalPool:      40,
		SettledAt:      time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, a.ArchiveSettlement(context.Background(), report))

	path := "archive/settlements/2026-03-04/m-1.json"
	require.Contains(t, w.objects, path)
	assert.Equal(t, "application/json", w.types[path])

	var got domain.SettlementReport
	require.NoError(t, json.Unmarshal(w.objects[path], &got))
	assert.Equal(t, "YES", got.WinningOutcome)
	assert.Equal(t, 40.0, got.TotalPool)
}

func TestArchiveSettlementUploadError(t *testing.T) {
	w := newFakeWriter()
	w.failPut = errors.New("bucket gone")
	a := NewArchiver(w, &fakeEvents{})

	err := a.ArchiveSettlement(context.Background(), domain.SettlementReport{MarketID: "m-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestArchiveEventsPagesThroughRange(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	src := &fakeEvents{}
	// One event the day before, 1200 inside the day, one the day after.
	src.events = append(src.events, domain.Event{ID: "before", CreatedAt: day.Add(-time.Second)})
	for i := 0; i < 1200; i++ {
		src.events = append(src.events, domain.Event{
			ID:        fmt.Sprintf("e-%04d", i),
			Type:      domain.EventPriceChanged,
			CreatedAt: day.Add(time.Duration(i) * time.Second),
		})
	}
	src.events = append(src.events, domain.Event{ID: "after", CreatedAt: day.Add(24 * time.Hour)})

	w := newFakeWriter()
	a := NewArchiver(w, src)

	n, err := a.ArchiveEvents(context.Background(), day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1200), n)
	assert.Equal(t, 3, src.calls)

	body := w.objects["archive/events/2026-03-04.jsonl"]
	require.NotEmpty(t, body)

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var e domain.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		ids = append(ids, e.ID)
	}
	require.NoError(t, sc.Err())
	require.Len(t, ids, 1200)
	assert.Equal(t, "e-0000", ids[0])
	assert.Equal(t, "e-1199", ids[1199])
}

func TestArchiveEventsEmptyRange(t *testing.T) {
	w := newFakeWriter()
	a := NewArchiver(w, &fakeEvents{})

	n, err := a.ArchiveEvents(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestObjectKeyAndEndpoint(t *testing.T) {
	c := &Client{prefix: "prediclaw/prod"}
	assert.Equal(t, "prediclaw/prod/archive/events/x.jsonl", c.objectKey("archive/events/x.jsonl"))
	assert.Equal(t, "archive/x", (&Client{}).objectKey("archive/x"))

	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://s3.example.com", normaliseEndpoint("s3.example.com", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}
