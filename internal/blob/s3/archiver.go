package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cosminimum/polycopy/internal/domain"
)

// Archiver moves settled trade records out of the primary store: records in a
// terminal state older than the retention window are serialized to JSONL,
// uploaded, and only then deleted. An upload failure leaves the rows in
// place.
type Archiver struct {
	client   *Client
	uploader *manager.Uploader
	records  domain.RecordStore
	logger   *slog.Logger

	retention time.Duration
	batchSize int
}

// NewArchiver creates an Archiver. retention is how long terminal records
// stay in the primary store before being moved.
func NewArchiver(client *Client, records domain.RecordStore, logger *slog.Logger, retention time.Duration, batchSize int) *Archiver {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Archiver{
		client:    client,
		uploader:  manager.NewUploader(client.S3()),
		records:   records,
		logger:    logger.With(slog.String("component", "record_archiver")),
		retention: retention,
		batchSize: batchSize,
	}
}

// ArchiveOnce processes one batch of expired records and returns how many
// were moved. Callers run it on a schedule until it returns zero.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-a.retention)

	recs, err := a.records.ListTerminalBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: query expired records: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal records: %w", err)
	}

	// Keying by batch timestamp keeps uploads append-only; re-running after a
	// delete failure re-uploads under a new key rather than overwriting.
	path := fmt.Sprintf("archive/trade_records/%s.jsonl",
		time.Now().UTC().Format("2006-01-02T15-04-05"))
	if err := a.put(ctx, path, bytes.NewReader(buf)); err != nil {
		return 0, err
	}

	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	if err := a.records.DeleteByIDs(ctx, ids); err != nil {
		return 0, fmt.Errorf("s3blob: delete archived records: %w", err)
	}

	a.logger.Info("archived trade records",
		"count", len(recs), "path", path, "cutoff", cutoff.Format(time.RFC3339))
	return len(recs), nil
}

// Run archives on the given interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				n, err := a.ArchiveOnce(ctx)
				if err != nil {
					a.logger.Error("archive pass failed", "error", err)
					break
				}
				if n < a.batchSize {
					break
				}
			}
		}
	}
}

func (a *Archiver) put(ctx context.Context, path string, data io.Reader) error {
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.client.Bucket()),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// marshalJSONL serializes records as newline-delimited JSON.
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
