package mailroute

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/mailroute/store"
	"github.com/rbaliyan/mailroute/store/memory"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv is a connected engine over an in-memory store with two users.
type testEnv struct {
	eng   Engine
	st    *memory.Store
	clock *fakeClock
	ana   *store.User
	bob   *store.User
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestEngine creates a connected engine. Extra options are applied
// after the defaults, so they can override the store, clock or logger.
func setupTestEngine(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	ctx := context.Background()

	env := &testEnv{st: memory.New(), clock: newFakeClock()}
	base := []Option{
		WithStore(env.st),
		WithClock(env.clock.Now),
		WithLogger(discardLogger()),
	}
	eng, err := NewEngine(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := eng.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	env.eng = eng

	env.ana, err = eng.CreateUser(ctx, "Ana", "ana@example.com", "1234")
	if err != nil {
		t.Fatalf("CreateUser ana: %v", err)
	}
	env.bob, err = eng.CreateUser(ctx, "Bob", "bob@example.com", "5678")
	if err != nil {
		t.Fatalf("CreateUser bob: %v", err)
	}
	return env
}

// send submits a message from Ana to Bob and fails the test on error.
func (env *testEnv) send(t *testing.T, subject, body string, rank int) *SubmitResult {
	t.Helper()
	res, err := env.eng.Submit(context.Background(), &store.Message{
		SenderID:    env.ana.ID,
		RecipientID: env.bob.ID,
		Subject:     subject,
		Body:        body,
		Rank:        rank,
	})
	if err != nil {
		t.Fatalf("Submit(%q): %v", subject, err)
	}
	return res
}

func ids(msgs []*store.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func assertIDs(t *testing.T, msgs []*store.Message, want ...int64) {
	t.Helper()
	got := ids(msgs)
	if len(got) != len(want) {
		t.Fatalf("expected ids %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected ids %v, got %v", want, got)
		}
	}
}

func TestNewEngine(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewEngine()
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("creates engine with store", func(t *testing.T) {
		eng, err := NewEngine(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if eng == nil {
			t.Fatal("expected non-nil engine")
		}
		if eng.IsConnected() {
			t.Error("new engine should not be connected")
		}
		if eng.Events() != nil {
			t.Error("events should be nil before Connect")
		}
	})
}

func TestEngineLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("connect and close", func(t *testing.T) {
		eng, err := NewEngine(WithStore(memory.New()), WithLogger(discardLogger()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := eng.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if !eng.IsConnected() {
			t.Error("expected engine to be connected")
		}
		if eng.Events() == nil {
			t.Error("expected events after Connect")
		}

		// Double connect should fail
		if err := eng.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}

		if err := eng.Close(ctx); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if eng.IsConnected() {
			t.Error("expected engine to be disconnected")
		}

		// Double close should be safe
		if err := eng.Close(ctx); err != nil {
			t.Errorf("second close should not error, got %v", err)
		}
	})

	t.Run("store already connected", func(t *testing.T) {
		st := memory.New()
		if err := st.Connect(ctx); err != nil {
			t.Fatalf("store connect: %v", err)
		}
		eng, _ := NewEngine(WithStore(st), WithLogger(discardLogger()))
		if err := eng.Connect(ctx); err != nil {
			t.Fatalf("expected connect over a connected store, got %v", err)
		}
		_ = eng.Close(ctx)
	})

	t.Run("operations fail when not connected", func(t *testing.T) {
		eng, _ := NewEngine(WithStore(memory.New()))
		msg := &store.Message{SenderID: 1, RecipientID: 2, Body: "hola"}

		if _, err := eng.Submit(ctx, msg); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Submit: expected ErrNotConnected, got %v", err)
		}
		if _, err := eng.Get(ctx, 1); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Get: expected ErrNotConnected, got %v", err)
		}
		if _, err := eng.Inbox(ctx, 1); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Inbox: expected ErrNotConnected, got %v", err)
		}
		if _, err := eng.SoftDelete(ctx, 1); !errors.Is(err, ErrNotConnected) {
			t.Errorf("SoftDelete: expected ErrNotConnected, got %v", err)
		}
		if _, err := eng.DequeueNextStaged(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("DequeueNextStaged: expected ErrNotConnected, got %v", err)
		}
		if _, err := eng.Reclaim(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Reclaim: expected ErrNotConnected, got %v", err)
		}
		if _, err := eng.CreateUser(ctx, "Ana", "ana@example.com", "1"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("CreateUser: expected ErrNotConnected, got %v", err)
		}
		// The store sentinel matches too.
		if _, err := eng.Stats(ctx, 1); !errors.Is(err, store.ErrNotConnected) {
			t.Errorf("Stats: expected store.ErrNotConnected, got %v", err)
		}
	})

	t.Run("reconnect keeps data", func(t *testing.T) {
		st := memory.New()
		eng, _ := NewEngine(WithStore(st), WithLogger(discardLogger()))
		if err := eng.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		u, err := eng.CreateUser(ctx, "Ana", "ana@example.com", "1234")
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		_ = eng.Close(ctx)

		if err := eng.Connect(ctx); err != nil {
			t.Fatalf("reconnect: %v", err)
		}
		defer eng.Close(ctx)
		if _, err := eng.FindUser(ctx, u.ID); err != nil {
			t.Errorf("expected user after reconnect, got %v", err)
		}
	})
}

func TestGracefulShutdown(t *testing.T) {
	ctx := context.Background()

	t.Run("close drops buffered entries", func(t *testing.T) {
		env := setupTestEngine(t)
		env.send(t, "Reunión", "urgente", 5)
		if n := len(env.eng.PeekStaged()); n != 1 {
			t.Fatalf("expected 1 buffered entry, got %d", n)
		}
		if err := env.eng.Close(ctx); err != nil {
			t.Fatalf("close failed: %v", err)
		}
	})

	t.Run("close waits for in-flight submits", func(t *testing.T) {
		hook := &blockingHook{release: make(chan struct{}), entered: make(chan struct{})}
		env := setupTestEngine(t, WithPlugin(hook))

		done := make(chan error, 1)
		go func() {
			_, err := env.eng.Submit(ctx, &store.Message{
				SenderID:    env.ana.ID,
				RecipientID: env.bob.ID,
				Subject:     "in flight",
				Body:        "hola",
			})
			done <- err
		}()
		<-hook.entered

		closed := make(chan error, 1)
		go func() { closed <- env.eng.Close(ctx) }()

		select {
		case <-closed:
			t.Fatal("close returned while a submit was in flight")
		case <-time.After(50 * time.Millisecond):
		}

		close(hook.release)
		if err := <-done; err != nil {
			t.Errorf("in-flight submit failed: %v", err)
		}
		if err := <-closed; err != nil {
			t.Errorf("close failed: %v", err)
		}
	})

	t.Run("close times out", func(t *testing.T) {
		hook := &blockingHook{release: make(chan struct{}), entered: make(chan struct{})}
		env := setupTestEngine(t, WithPlugin(hook), WithShutdownTimeout(MinShutdownTimeout))

		go func() {
			_, _ = env.eng.Submit(ctx, &store.Message{
				SenderID:    env.ana.ID,
				RecipientID: env.bob.ID,
				Body:        "hola",
			})
		}()
		<-hook.entered
		defer close(hook.release)

		err := env.eng.Close(ctx)
		if err == nil {
			t.Fatal("expected shutdown timeout error")
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected DeadlineExceeded, got %v", err)
		}
	})
}

// blockingHook holds BeforeSubmit until release is closed.
type blockingHook struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *blockingHook) Name() string { return "blocking" }
func (h *blockingHook) Init(ctx context.Context) error { return nil }
func (h *blockingHook) Close(ctx context.Context) error { return nil }

func (h *blockingHook) BeforeSubmit(ctx context.Context, msg *store.Message) error {
	h.once.Do(func() { close(h.entered) })
	<-h.release
	return nil
}

func (h *blockingHook) AfterSubmit(ctx context.Context, msg *store.Message, outcome Outcome) error {
	return nil
}
