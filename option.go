package mailroute

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/mailroute/filter"
	"github.com/rbaliyan/mailroute/retry"
	"github.com/rbaliyan/mailroute/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// RetentionWindow is how long a trashed message stays recoverable before
// reclamation removes it.
const RetentionWindow = 4*24*time.Hour + 20*time.Hour

// Default configuration values.
const (
	MinRetention           = time.Minute
	DefaultShutdownTimeout = 30 * time.Second
	MinShutdownTimeout     = 1 * time.Second

	// Default message limits
	DefaultMaxSubjectLength = 998              // RFC 5322 max line length
	DefaultMaxBodySize      = 10 * 1024 * 1024 // 10 MB
	DefaultMaxMetadataSize  = 64 * 1024        // 64 KB total metadata
	DefaultMaxMetadataKeys  = 100

	// DefaultMaxConcurrentSubmits bounds in-flight Submit calls per engine.
	DefaultMaxConcurrentSubmits = 10

	// Reclaim batching when an archiver is configured.
	DefaultReclaimBatchSize   = 100
	DefaultArchiveConcurrency = 4
)

// options holds engine configuration.
type options struct {
	store    store.Store
	logger   *slog.Logger
	rules    *filter.Rules
	buffer   StagingBuffer
	archiver store.Archiver
	clock    func() time.Time

	plugins []Plugin

	// Retention
	retention     time.Duration
	reclaimOnRead bool

	// Archive-before-purge
	reclaimBatchSize   int
	archiveConcurrency int
	archiveRetry       retry.Config

	// Message limits
	maxSubjectLength int
	maxBodySize      int
	maxMetadataSize  int
	maxMetadataKeys  int

	// Concurrency limits
	maxConcurrentSubmits int

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventErrorsFatal      bool
	eventTransport        transport.Transport
	redisClient           redis.UniversalClient
	onEventPublishFailure EventPublishFailureFunc
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "MessageDelivered").
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:               slog.Default(),
		clock:                time.Now,
		retention:            RetentionWindow,
		reclaimOnRead:        true,
		reclaimBatchSize:     DefaultReclaimBatchSize,
		archiveConcurrency:   DefaultArchiveConcurrency,
		archiveRetry:         retry.DefaultConfig(),
		maxSubjectLength:     DefaultMaxSubjectLength,
		maxBodySize:          DefaultMaxBodySize,
		maxMetadataSize:      DefaultMaxMetadataSize,
		maxMetadataKeys:      DefaultMaxMetadataKeys,
		maxConcurrentSubmits: DefaultMaxConcurrentSubmits,
		shutdownTimeout:      DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.rules == nil {
		o.rules = filter.Default()
	}
	if o.buffer == nil {
		o.buffer = NewHeapBuffer()
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures an engine.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRules sets the routing rules applied to submitted message bodies.
// Default is filter.Default().
func WithRules(r *filter.Rules) Option {
	return func(o *options) {
		if r != nil {
			o.rules = r
		}
	}
}

// WithStagingBuffer replaces the in-process staging buffer.
// Default is a mutex-guarded min-heap from NewHeapBuffer.
func WithStagingBuffer(b StagingBuffer) Option {
	return func(o *options) {
		if b != nil {
			o.buffer = b
		}
	}
}

// WithClock sets the time source used for send timestamps, deletion
// timestamps and reclaim cutoffs. Default is time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// --- Plugin Options ---

// WithPlugin registers a plugin with the engine.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- Retention Options ---

// WithRetention overrides how long trashed messages are kept.
// Default is RetentionWindow. Minimum is one minute.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d >= MinRetention {
			o.retention = d
		}
	}
}

// WithReclaimOnRead controls whether Inbox, Search, Staged and Trash
// reclaim expired trash before reading. Disable it only when a Scheduler
// runs Reclaim in the background. Default is true.
func WithReclaimOnRead(enabled bool) Option {
	return func(o *options) {
		o.reclaimOnRead = enabled
	}
}

// WithArchiver copies every message to the archiver before it is
// permanently removed, by reclaim or by PermanentDelete.
func WithArchiver(a store.Archiver) Option {
	return func(o *options) {
		if a != nil {
			o.archiver = a
		}
	}
}

// WithReclaimBatchSize sets how many expired messages are archived per
// batch. Only used with an archiver. Default is 100.
func WithReclaimBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.reclaimBatchSize = n
		}
	}
}

// WithArchiveConcurrency sets how many archive uploads run in parallel.
// Default is 4.
func WithArchiveConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.archiveConcurrency = n
		}
	}
}

// WithArchiveRetry sets the retry policy for archive uploads.
// Default is retry.DefaultConfig().
func WithArchiveRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.archiveRetry = cfg
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name used for telemetry and event bus
// names. Default is "mailroute".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Message Limit Options ---

// WithMaxSubjectLength sets the maximum subject length in bytes.
// Default is 998 (RFC 5322 max line length).
func WithMaxSubjectLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSubjectLength = n
		}
	}
}

// WithMaxBodySize sets the maximum body size in bytes.
// Default is 10 MB.
func WithMaxBodySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodySize = n
		}
	}
}

// WithMaxMetadataSize sets the maximum encoded metadata size in bytes.
// Default is 64 KB.
func WithMaxMetadataSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxMetadataSize = n
		}
	}
}

// WithMaxMetadataKeys sets the maximum number of metadata keys per message.
// Default is 100.
func WithMaxMetadataKeys(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxMetadataKeys = n
		}
	}
}

// --- Concurrency Options ---

// WithMaxConcurrentSubmits sets the maximum number of concurrent Submit calls.
// Default is 10.
func WithMaxConcurrentSubmits(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentSubmits = n
		}
	}
}

// WithShutdownTimeout sets how long Close waits for in-flight submits.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- Event Options ---

// WithEventErrorsFatal configures whether event publishing failures should
// cause the operation to fail. By default, event failures are logged and
// the operation succeeds.
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport for publishing and subscribing.
// If not provided, a noop transport is used (events are silently dropped).
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient publishes lifecycle events to Redis Streams.
// Ignored when WithEventTransport is also given.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing failures.
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}

// getLimits returns the configured message limits.
func (o *options) getLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength: o.maxSubjectLength,
		MaxBodySize:      o.maxBodySize,
		MaxMetadataSize:  o.maxMetadataSize,
		MaxMetadataKeys:  o.maxMetadataKeys,
	}
}
