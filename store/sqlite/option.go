package sqlite

import (
	"log/slog"
	"time"
)

// DefaultTimeout bounds every store call that does not carry its own deadline.
const DefaultTimeout = 10 * time.Second

// Option configures a SQLite store.
type Option func(*options)

type options struct {
	// messages and users are the table names, prefix included.
	messages string
	users    string
	timeout  time.Duration
	logger   *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	o.messages = o.messages + "messages"
	o.users = o.users + "users"
	return o
}

// WithTablePrefix prepends prefix to the messages and users table names,
// so several deployments can share a SQLite file.
func WithTablePrefix(prefix string) Option {
	return func(o *options) {
		o.messages, o.users = prefix, prefix
	}
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
