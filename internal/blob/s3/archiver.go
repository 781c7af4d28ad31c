package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// EventSource is the narrow read side the archiver needs.
type EventSource interface {
	ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error)
}

// archivePageSize bounds one ListEvents page while streaming an archive.
const archivePageSize = 500

// multipartPartSize is the part size handed to PutMultipart for event logs.
const multipartPartSize int64 = 8 * 1024 * 1024

// ArchiveImpl implements domain.Archiver by serializing settlement reports
// and event ranges and uploading them to object storage.
//
// Events are copied, never deleted from the primary store.
type ArchiveImpl struct {
	writer domain.BlobWriter
	events EventSource
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, events EventSource) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, events: events}
}

// ArchiveSettlement uploads report as pretty JSON to
// archive/settlements/YYYY-MM-DD/<market>.json.
func (a *ArchiveImpl) ArchiveSettlement(ctx context.Context, report domain.SettlementReport) error {
	buf, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: archive settlement %s marshal: %w", report.MarketID, err)
	}
	path := settlementPath(report)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive settlement %s upload: %w", report.MarketID, err)
	}
	return nil
}

// ArchiveEvents streams every event created in [from, to) as JSONL to
// archive/events/YYYY-MM-DD.jsonl, keyed by from, and returns the count.
// An empty range uploads nothing.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, from, to time.Time) (int64, error) {
	first, err := a.events.ListEvents(ctx, domain.EventFilter{Since: &from, Before: &to, Limit: archivePageSize})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(first) == 0 {
		return 0, nil
	}

	pr, pw := io.Pipe()
	counted := make(chan int64, 1)
	go func() {
		n, err := a.streamEvents(ctx, pw, first, from, to)
		counted <- n
		_ = pw.CloseWithError(err)
	}()

	path := eventsPath(from)
	uploadErr := a.writer.PutMultipart(ctx, path, pr, multipartPartSize)
	// Unblock the producer if the upload stopped reading early.
	_ = pr.CloseWithError(io.ErrClosedPipe)
	count := <-counted
	if uploadErr != nil {
		return 0, fmt.Errorf("s3blob: archive events upload %s: %w", path, uploadErr)
	}
	return count, nil
}

func (a *ArchiveImpl) streamEvents(ctx context.Context, w io.Writer, page []domain.Event, from, to time.Time) (int64, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	var count int64
	offset := 0
	for len(page) > 0 {
		for i := range page {
			if err := enc.Encode(page[i]); err != nil {
				return count, fmt.Errorf("jsonl encode event %s: %w", page[i].ID, err)
			}
			count++
		}
		if len(page) < archivePageSize {
			break
		}
		offset += len(page)
		var err error
		page, err = a.events.ListEvents(ctx, domain.EventFilter{
			Since: &from, Before: &to, Limit: archivePageSize, Offset: offset,
		})
		if err != nil {
			return count, fmt.Errorf("list events at offset %d: %w", offset, err)
		}
	}
	return count, nil
}

// settlementPath partitions settlement reports by settlement day.
//
//	archive/settlements/2026-01-02/m-123.json
func settlementPath(r domain.SettlementReport) string {
	return fmt.Sprintf("archive/settlements/%s/%s.json", r.SettledAt.UTC().Format("2006-01-02"), r.MarketID)
}

// eventsPath names the daily event log.
//
//	archive/events/2026-01-02.jsonl
func eventsPath(day time.Time) string {
	return fmt.Sprintf("archive/events/%s.jsonl", day.UTC().Format("2006-01-02"))
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
