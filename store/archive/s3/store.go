// Package s3 provides an S3-backed store.Archiver for purged messages.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rbaliyan/mailroute/store"
)

// Archiver implements store.Archiver using AWS S3.
type Archiver struct {
	client *s3.Client
	tm     *transfermanager.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// Ensure Archiver implements store.Archiver.
var _ store.Archiver = (*Archiver)(nil)

// New creates an S3 archiver. ctx bounds credential resolution only.
func New(ctx context.Context, opts ...Option) (*Archiver, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}

	awsCfg, err := o.awsConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3 archive: aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
			so.UsePathStyle = o.pathStyle
		}
	})

	return &Archiver{
		client: client,
		tm:     transfermanager.New(client),
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

// Archive uploads the record as JSON and returns its s3:// URI.
func (a *Archiver) Archive(ctx context.Context, rec *store.ArchiveRecord) (string, error) {
	body, err := rec.Encode()
	if err != nil {
		return "", fmt.Errorf("encode archive record: %w", err)
	}

	key := rec.ObjectKey(a.prefix, uuid.NewString())
	input := &transfermanager.UploadObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(store.ArchiveContentType),
	}
	if _, err := a.tm.UploadObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	a.logger.Debug("archived message to s3", "bucket", a.bucket, "key", key, "reason", rec.Reason)
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

// Fetch reads back an archived record.
func (a *Archiver) Fetch(ctx context.Context, uri string) (*store.ArchiveRecord, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}

	output, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object from s3: %w", err)
	}
	defer output.Body.Close()

	var rec store.ArchiveRecord
	if err := json.NewDecoder(output.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode archive record: %w", err)
	}
	return &rec, nil
}

// parseS3URI parses an s3:// URI into bucket and key.
func parseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid s3 uri: %s", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 uri (no key): %s", uri)
	}
	return bucket, key, nil
}
