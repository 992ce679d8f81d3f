package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// DoneLister provides read access to completed path records for archival.
// The Postgres path store satisfies it.
type DoneLister interface {
	ListDoneBefore(ctx context.Context, cutoff time.Time) ([]domain.PathRecord, error)
}

// BlobWriter uploads one object. The Writer in this package satisfies it.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports completed path records as JSONL to object storage before
// retention deletes them. Deletion itself stays with the caller so a failed
// upload never loses records.
type Archiver struct {
	writer BlobWriter
	store  DoneLister
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer BlobWriter, store DoneLister, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		store:  store,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveDone uploads every completed record older than the cutoff to
// archive/paths/YYYY-MM.jsonl and returns the number of records written.
// Nothing is uploaded when no records qualify.
func (a *Archiver) ArchiveDone(ctx context.Context, cutoff time.Time) (int64, error) {
	records, err := a.store.ListDoneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	key := archiveKey(cutoff)
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	a.logger.Info("archived done records",
		slog.String("key", key),
		slog.Int("count", len(records)))
	return int64(len(records)), nil
}

// archiveKey partitions archive objects by the year-month of the cutoff,
// e.g. archive/paths/2026-08.jsonl.
func archiveKey(cutoff time.Time) string {
	return fmt.Sprintf("archive/paths/%s.jsonl", cutoff.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// object per line.
func marshalJSONL(records []domain.PathRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
