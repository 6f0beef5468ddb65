package gcs

import (
	"fmt"
	"log/slog"

	"cloud.google.com/go/auth/credentials"
	"google.golang.org/api/option"
)

const (
	storageScope  = "https://www.googleapis.com/auth/cloud-platform"
	defaultPrefix = "purged"
)

// Option configures the GCS archiver.
type Option func(*options)

type options struct {
	bucket   string
	prefix   string
	endpoint string
	// detect is nil for Application Default Credentials.
	detect *credentials.DetectOptions
	logger *slog.Logger
}

func newOptions(opts []Option) (*options, error) {
	o := &options{prefix: defaultPrefix, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.bucket == "" {
		return nil, fmt.Errorf("gcs archive: bucket is required")
	}
	return o, nil
}

func (o *options) clientOptions() ([]option.ClientOption, error) {
	var out []option.ClientOption
	if o.detect != nil {
		creds, err := credentials.DetectDefault(o.detect)
		if err != nil {
			return nil, fmt.Errorf("gcs archive: credentials: %w", err)
		}
		out = append(out, option.WithAuthCredentials(creds))
	}
	if o.endpoint != "" {
		out = append(out, option.WithEndpoint(o.endpoint))
	}
	return out, nil
}

// WithBucket names the bucket purged messages are written to. Required.
func WithBucket(bucket string) Option {
	return func(o *options) { o.bucket = bucket }
}

// WithPrefix sets the object prefix. Defaults to "purged".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithEndpoint points the client at an emulator.
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithCredentialsJSON authenticates with an inline service account key.
func WithCredentialsJSON(key []byte) Option {
	return func(o *options) {
		o.detect = &credentials.DetectOptions{Scopes: []string{storageScope}, CredentialsJSON: key}
	}
}

// WithCredentialsFile authenticates with a service account key file.
func WithCredentialsFile(path string) Option {
	return func(o *options) {
		o.detect = &credentials.DetectOptions{Scopes: []string{storageScope}, CredentialsFile: path}
	}
}

// WithLogger sets the logger. nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
