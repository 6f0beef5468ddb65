// Package gcs provides a Google Cloud Storage-backed store.Archiver for
// purged messages.
package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/rbaliyan/mailroute/store"
)

// Archiver implements store.Archiver using Google Cloud Storage.
type Archiver struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// Ensure Archiver implements store.Archiver.
var _ store.Archiver = (*Archiver)(nil)

// New creates a GCS archiver.
func New(ctx context.Context, opts ...Option) (*Archiver, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}

	clientOpts, err := o.clientOptions()
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	return &Archiver{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

// Archive writes the record as JSON and returns its gs:// URI.
func (a *Archiver) Archive(ctx context.Context, rec *store.ArchiveRecord) (string, error) {
	body, err := rec.Encode()
	if err != nil {
		return "", fmt.Errorf("encode archive record: %w", err)
	}

	key := rec.ObjectKey(a.prefix, uuid.NewString())
	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = store.ArchiveContentType

	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write to gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer: %w", err)
	}

	a.logger.Debug("archived message to gcs", "bucket", a.bucket, "key", key, "reason", rec.Reason)
	return fmt.Sprintf("gs://%s/%s", a.bucket, key), nil
}

// Fetch reads back an archived record.
func (a *Archiver) Fetch(ctx context.Context, uri string) (*store.ArchiveRecord, error) {
	bucket, key, err := parseGCSURI(uri)
	if err != nil {
		return nil, err
	}

	r, err := a.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs reader: %w", err)
	}
	defer r.Close()

	var rec store.ArchiveRecord
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode archive record: %w", err)
	}
	return &rec, nil
}

// Close closes the GCS client.
func (a *Archiver) Close() error {
	return a.client.Close()
}

// parseGCSURI parses a gs:// URI into bucket and key.
func parseGCSURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("invalid gcs uri: %s", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid gcs uri (no key): %s", uri)
	}
	return bucket, key, nil
}
