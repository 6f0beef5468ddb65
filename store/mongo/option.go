package mongo

import (
	"log/slog"
	"time"
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "mailroute"

// DefaultTimeout bounds every store call that does not carry its own deadline.
const DefaultTimeout = 10 * time.Second

// Option configures a MongoDB store.
type Option func(*options)

type options struct {
	database string
	prefix   string
	timeout  time.Duration
	logger   *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{database: DefaultDatabase, timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Collection names. counters holds the sequences behind integer IDs.
func (o *options) messages() string { return o.prefix + "messages" }
func (o *options) users() string    { return o.prefix + "users" }
func (o *options) counters() string { return o.prefix + "counters" }

// WithDatabase selects the database. Empty keeps DefaultDatabase.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithCollectionPrefix prepends prefix to every collection name.
func WithCollectionPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger. nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
