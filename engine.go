package mailroute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/mailroute/filter"
	"github.com/rbaliyan/mailroute/queue"
	"github.com/rbaliyan/mailroute/store"
	"golang.org/x/sync/semaphore"
)

// EngineHealth provides health and state information about the engine.
type EngineHealth interface {
	// IsConnected returns true if the engine is connected and ready.
	IsConnected() bool
}

// Router accepts messages and drives them through routing and staging.
type Router interface {
	// Submit validates msg, applies the routing rules to its body and
	// persists it according to the verdict. msg is not modified.
	Submit(ctx context.Context, msg *store.Message) (*SubmitResult, error)
	// DequeueNextStaged pops the most urgent buffered entry and returns
	// its message. Returns nil when the buffer is empty or the entry's
	// message no longer exists.
	DequeueNextStaged(ctx context.Context) (*store.Message, error)
	// PeekStaged returns the buffered entries in dequeue order.
	PeekStaged() []queue.Item
	// MarkPriority stages a message without touching the buffer.
	MarkPriority(ctx context.Context, id int64) (bool, error)
	// UnmarkPriority unstages a message without touching the buffer.
	UnmarkPriority(ctx context.Context, id int64) (bool, error)
	// Rules returns the live routing rules.
	Rules() *filter.Rules
}

// MessageReader provides message reads. Inbox, Search, Staged and Trash
// reclaim expired trash first unless disabled with WithReclaimOnRead.
type MessageReader interface {
	// Get returns the message, or nil when it does not exist.
	Get(ctx context.Context, id int64) (*store.Message, error)
	Inbox(ctx context.Context, recipientID int64) ([]*store.Message, error)
	Search(ctx context.Context, recipientID int64, field store.SearchField, substr string) ([]*store.Message, error)
	// Staged lists durably staged messages; store.AllRecipients spans everyone.
	Staged(ctx context.Context, recipientID int64) ([]*store.Message, error)
	// Trash lists messages trashed within the retention window.
	Trash(ctx context.Context, recipientID int64) ([]*store.Message, error)
	// Stats returns per-state counts; store.AllRecipients spans everyone.
	Stats(ctx context.Context, recipientID int64) (*store.Stats, error)
}

// Trasher moves messages along the trash axis. Missing IDs are no-ops
// that report false.
type Trasher interface {
	SoftDelete(ctx context.Context, id int64) (bool, error)
	Restore(ctx context.Context, id int64) (bool, error)
	PermanentDelete(ctx context.Context, id int64) (bool, error)
	// Reclaim permanently removes messages trashed longer than the
	// retention window.
	Reclaim(ctx context.Context) (*ReclaimResult, error)
}

// Accounts manages users.
type Accounts interface {
	CreateUser(ctx context.Context, name, email, credential string) (*store.User, error)
	FindUser(ctx context.Context, id int64) (*store.User, error)
	FindUserByEmail(ctx context.Context, email string) (*store.User, error)
	ListUsers(ctx context.Context) ([]*store.User, error)
	// DeleteUser removes the user and every message they sent or received.
	DeleteUser(ctx context.Context, id int64) (int64, error)
	// Authenticate returns the user whose email and credential match.
	Authenticate(ctx context.Context, email, credential string) (*store.User, error)
	// RecoverCredential returns the credential of the first user with the
	// given display name.
	RecoverCredential(ctx context.Context, name string) (string, error)
	// SeedDemo creates demo users and messages in an empty store.
	SeedDemo(ctx context.Context) (*SeedResult, error)
}

// Engine is the message lifecycle engine.
//
// Composed of:
//   - EngineHealth: IsConnected
//   - Router: Submit, DequeueNextStaged, PeekStaged, MarkPriority, UnmarkPriority
//   - MessageReader: Get, Inbox, Search, Staged, Trash, Stats
//   - Trasher: SoftDelete, Restore, PermanentDelete, Reclaim
//   - Accounts: user management and demo seeding
type Engine interface {
	EngineHealth
	Router
	MessageReader
	Trasher
	Accounts

	// Connect connects the store, the event bus and the plugins.
	Connect(ctx context.Context) error
	// Close waits for in-flight submits and releases all resources.
	Close(ctx context.Context) error
	// Events returns per-engine event instances. Nil before Connect.
	Events() *EngineEvents
}

// Connection states for the engine.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// engine is the default implementation of Engine.
type engine struct {
	store     store.Store
	staged    StagedSet
	buffer    StagingBuffer
	rules     *filter.Rules
	logger    *slog.Logger
	opts      *options
	state     int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins   *pluginRegistry
	otel      *otelInstrumentation
	submitSem *semaphore.Weighted
	eventBus  *event.Bus
	events    *EngineEvents
}

// NewEngine creates a new engine. Call Connect() before use.
func NewEngine(opts ...Option) (Engine, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &engine{
		store:     o.store,
		staged:    NewStagedSet(o.store),
		buffer:    o.buffer,
		rules:     o.rules,
		logger:    o.logger,
		opts:      o,
		plugins:   plugins,
		otel:      otelInstr,
		submitSem: semaphore.NewWeighted(int64(o.maxConcurrentSubmits)),
	}, nil
}

// Events returns per-engine event instances for subscribing and publishing.
func (e *engine) Events() *EngineEvents {
	return e.events
}

// Rules returns the routing rules; changes apply to later submissions.
func (e *engine) Rules() *filter.Rules {
	return e.rules
}

// IsConnected returns true if the engine is connected and ready.
func (e *engine) IsConnected() bool {
	return atomic.LoadInt32(&e.state) == stateConnected
}

func (e *engine) checkConnected() error {
	if !e.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// now returns the injected clock reading in UTC.
func (e *engine) now() time.Time {
	return e.opts.clock().UTC()
}

// Connect establishes connections to the store, the event bus and plugins.
func (e *engine) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&e.state, stateConnected)
		} else {
			atomic.StoreInt32(&e.state, stateDisconnected)
		}
	}()

	if err := e.store.Connect(ctx); err != nil && !errors.Is(err, store.ErrAlreadyConnected) {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := e.initEventBus(ctx); err != nil {
		e.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := e.plugins.initAll(ctx); err != nil {
		e.eventBus.Close(ctx)
		e.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	e.logger.Info("mailroute engine connected",
		"rules", e.rules.Len(),
		"retention", e.opts.retention,
		"archiver", e.opts.archiver != nil,
	)
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus creates this engine's bus and registers its events.
func (e *engine) initEventBus(ctx context.Context) error {
	serviceName := e.opts.serviceName
	if serviceName == "" {
		serviceName = "mailroute"
	}
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case e.opts.eventTransport != nil:
		e.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(e.opts.eventTransport))
	case e.opts.redisClient != nil:
		e.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(e.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		e.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	e.eventBus = bus

	e.events = newEngineEvents(busName)
	if err := registerEngineEvents(ctx, bus, e.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register engine events: %w", err)
	}
	return nil
}

// Close waits for in-flight submits, then closes plugins, the event bus
// and the store. Buffered staging entries are dropped.
func (e *engine) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// New submits fail checkConnected now; acquiring every slot waits for
	// the ones already running.
	e.logger.Info("waiting for in-flight submits to complete", "timeout", e.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, e.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := e.submitSem.Acquire(shutdownCtx, int64(e.opts.maxConcurrentSubmits)); err != nil {
		e.logger.Warn("timeout waiting for in-flight submits, proceeding with shutdown", "error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		e.submitSem.Release(int64(e.opts.maxConcurrentSubmits))
	}

	if n := e.buffer.Len(); n > 0 {
		e.logger.Info("dropping buffered staging entries", "count", n)
	}

	if err := e.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	if e.eventBus != nil {
		if err := e.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := e.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

var _ Engine = (*engine)(nil)
