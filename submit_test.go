package mailroute

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbaliyan/mailroute/filter"
	"github.com/rbaliyan/mailroute/store"
	"github.com/rbaliyan/mailroute/store/memory"
)

func TestSubmitRouting(t *testing.T) {
	ctx := context.Background()

	t.Run("plain body is delivered", func(t *testing.T) {
		env := setupTestEngine(t)
		res := env.send(t, "Hola", "Hola Bob! ¿Cómo andás?", 3)
		if res.Outcome != Delivered {
			t.Fatalf("expected Delivered, got %v", res.Outcome)
		}
		if res.ID == 0 || res.Rank != 3 {
			t.Errorf("unexpected result %+v", res)
		}

		inbox, err := env.eng.Inbox(ctx, env.bob.ID)
		if err != nil {
			t.Fatalf("Inbox: %v", err)
		}
		assertIDs(t, inbox, res.ID)
		if inbox[0].Staged || inbox[0].DeletedAt != nil {
			t.Errorf("delivered message should be active, got %+v", inbox[0])
		}
		if !inbox[0].SentAt.Equal(env.clock.Now()) {
			t.Errorf("expected SentAt from the engine clock, got %v", inbox[0].SentAt)
		}
		if n := len(env.eng.PeekStaged()); n != 0 {
			t.Errorf("delivery should not buffer, got %d entries", n)
		}
	})

	t.Run("urgent body is staged with rank one", func(t *testing.T) {
		for _, body := range []string{"esto es urgente", "URGENTE: reunión", "UrGeNtE"} {
			env := setupTestEngine(t)
			res := env.send(t, "Reunión", body, 7)
			if res.Outcome != Staged {
				t.Fatalf("%q: expected Staged, got %v", body, res.Outcome)
			}
			if res.Rank != store.UrgentRank {
				t.Errorf("%q: expected rank %d, got %d", body, store.UrgentRank, res.Rank)
			}

			msg, err := env.eng.Get(ctx, res.ID)
			if err != nil || msg == nil {
				t.Fatalf("Get: %v, %v", msg, err)
			}
			if !msg.Staged || msg.Rank != store.UrgentRank {
				t.Errorf("expected staged rank-1 row, got staged=%v rank=%d", msg.Staged, msg.Rank)
			}

			inbox, _ := env.eng.Inbox(ctx, env.bob.ID)
			if len(inbox) != 0 {
				t.Errorf("staged message must not be in the inbox, got %v", ids(inbox))
			}
			staged, _ := env.eng.Staged(ctx, env.bob.ID)
			assertIDs(t, staged, res.ID)

			peek := env.eng.PeekStaged()
			if len(peek) != 1 || peek[0].ID != res.ID || peek[0].Rank != store.UrgentRank {
				t.Errorf("expected one buffered entry for %d, got %v", res.ID, peek)
			}
		}
	})

	t.Run("spam is discarded and never stored", func(t *testing.T) {
		env := setupTestEngine(t)
		res := env.send(t, "Oferta", "Compra ya, esto no es SPAM", 5)
		if res.Outcome != Discarded || res.ID != 0 {
			t.Fatalf("expected discarded with no id, got %+v", res)
		}

		stats, err := env.eng.Stats(ctx, store.AllRecipients)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.Total() != 0 {
			t.Errorf("expected no stored messages, got %+v", stats)
		}
		found, _ := env.eng.Search(ctx, env.bob.ID, store.FieldSubject, "Oferta")
		if len(found) != 0 {
			t.Errorf("discarded message must not be searchable, got %v", ids(found))
		}
	})

	t.Run("first matching rule wins", func(t *testing.T) {
		env := setupTestEngine(t)
		// Default rules list urgente before spam.
		res := env.send(t, "Mixed", "urgente spam", 5)
		if res.Outcome != Staged {
			t.Errorf("expected Staged, got %v", res.Outcome)
		}
	})

	t.Run("filter ignores subject", func(t *testing.T) {
		env := setupTestEngine(t)
		res := env.send(t, "URGENTE spam", "nada especial", 5)
		if res.Outcome != Delivered {
			t.Errorf("expected Delivered, got %v", res.Outcome)
		}
	})

	t.Run("unset rank defaults", func(t *testing.T) {
		env := setupTestEngine(t)
		for _, rank := range []int{0, -3} {
			res := env.send(t, "Hola", "hola", rank)
			if res.Rank != store.DefaultRank {
				t.Errorf("rank %d: expected %d, got %d", rank, store.DefaultRank, res.Rank)
			}
		}
	})

	t.Run("custom rules", func(t *testing.T) {
		rules := filter.New()
		rules.Add("factura", filter.StagePriority)
		env := setupTestEngine(t, WithRules(rules))

		if res := env.send(t, "F", "Factura adjunta", 5); res.Outcome != Staged {
			t.Errorf("expected Staged, got %v", res.Outcome)
		}
		if res := env.send(t, "S", "spam", 5); res.Outcome != Delivered {
			t.Errorf("expected Delivered without a spam rule, got %v", res.Outcome)
		}

		// Rules added after Connect apply to later submissions.
		env.eng.Rules().Add("promo", filter.Discard)
		if res := env.send(t, "P", "gran promo", 5); res.Outcome != Discarded {
			t.Errorf("expected Discarded, got %v", res.Outcome)
		}
	})
}

// TestSubmitEndToEnd walks the three routing outcomes for one recipient.
func TestSubmitEndToEnd(t *testing.T) {
	ctx := context.Background()
	env := setupTestEngine(t)

	a := env.send(t, "A", "hola", 5)
	env.clock.Advance(time.Minute)
	b := env.send(t, "B", "URGENTE ya", 5)
	env.clock.Advance(time.Minute)
	c := env.send(t, "C", "spam!!", 5)

	if a.Outcome != Delivered || b.Outcome != Staged || c.Outcome != Discarded {
		t.Fatalf("unexpected outcomes %v %v %v", a.Outcome, b.Outcome, c.Outcome)
	}

	inbox, err := env.eng.Inbox(ctx, env.bob.ID)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	assertIDs(t, inbox, a.ID)

	msg, err := env.eng.DequeueNextStaged(ctx)
	if err != nil {
		t.Fatalf("DequeueNextStaged: %v", err)
	}
	if msg == nil || msg.ID != b.ID || msg.Rank != store.UrgentRank {
		t.Fatalf("expected message %d with rank 1, got %+v", b.ID, msg)
	}

	msg, err = env.eng.DequeueNextStaged(ctx)
	if err != nil || msg != nil {
		t.Errorf("expected empty buffer, got %+v, %v", msg, err)
	}
}

func TestSubmitDoesNotModifyInput(t *testing.T) {
	env := setupTestEngine(t)
	deleted := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	sent := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	in := &store.Message{
		ID:          42,
		SenderID:    env.ana.ID,
		RecipientID: env.bob.ID,
		Subject:     "Hola",
		Body:        "urgente",
		Rank:        9,
		SentAt:      sent,
		DeletedAt:   &deleted,
		Metadata:    map[string]any{"k": "v"},
	}
	res, err := env.eng.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if in.ID != 42 || in.Rank != 9 || in.Staged || !in.SentAt.Equal(sent) || in.DeletedAt != &deleted {
		t.Errorf("input was modified: %+v", in)
	}

	stored, _ := env.eng.Get(context.Background(), res.ID)
	if res.ID == 42 || stored.ID != res.ID {
		t.Errorf("caller ID must be ignored, got result %d stored %d", res.ID, stored.ID)
	}
	if stored.DeletedAt != nil {
		t.Error("caller deletion time must be ignored")
	}
	if !stored.SentAt.Equal(env.clock.Now()) {
		t.Errorf("caller SentAt must be ignored, got %v", stored.SentAt)
	}
	if stored.Metadata["k"] != "v" {
		t.Errorf("expected metadata to round-trip, got %v", stored.Metadata)
	}
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	env := setupTestEngine(t)

	tests := []struct {
		name string
		msg  *store.Message
		want error
	}{
		{"nil message", nil, ErrInvalidMessage},
		{"no sender", &store.Message{RecipientID: env.bob.ID, Body: "x"}, ErrInvalidSender},
		{"no recipient", &store.Message{SenderID: env.ana.ID, Body: "x"}, ErrInvalidRecipient},
		{"long subject", &store.Message{SenderID: env.ana.ID, RecipientID: env.bob.ID, Subject: strings.Repeat("a", DefaultMaxSubjectLength+1)}, ErrSubjectTooLong},
		{"null byte", &store.Message{SenderID: env.ana.ID, RecipientID: env.bob.ID, Body: "a\x00b"}, ErrInvalidContent},
		{"empty metadata key", &store.Message{SenderID: env.ana.ID, RecipientID: env.bob.ID, Metadata: map[string]any{"": 1}}, ErrInvalidMetadata},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.eng.Submit(ctx, tt.msg)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("expected ErrInvalidMessage, got %v", err)
			}
		})
	}

	t.Run("unknown user", func(t *testing.T) {
		_, err := env.eng.Submit(ctx, &store.Message{SenderID: env.ana.ID, RecipientID: 999, Body: "hola"})
		if !errors.Is(err, ErrUnknownUser) {
			t.Errorf("expected ErrUnknownUser, got %v", err)
		}
		if !errors.Is(err, store.ErrUnknownUser) {
			t.Errorf("expected store.ErrUnknownUser, got %v", err)
		}
	})

	t.Run("unknown user on staging path", func(t *testing.T) {
		_, err := env.eng.Submit(ctx, &store.Message{SenderID: 999, RecipientID: env.bob.ID, Body: "urgente"})
		if !errors.Is(err, ErrUnknownUser) {
			t.Errorf("expected ErrUnknownUser, got %v", err)
		}
		if n := len(env.eng.PeekStaged()); n != 0 {
			t.Errorf("failed save must not buffer, got %d entries", n)
		}
	})

	t.Run("unknown user is ignored when discarding", func(t *testing.T) {
		res, err := env.eng.Submit(ctx, &store.Message{SenderID: env.ana.ID, RecipientID: 999, Body: "spam"})
		if err != nil || res.Outcome != Discarded {
			t.Errorf("expected Discarded, got %+v, %v", res, err)
		}
	})

	t.Run("limits are configurable", func(t *testing.T) {
		small := setupTestEngine(t, WithMaxBodySize(4))
		_, err := small.eng.Submit(ctx, &store.Message{SenderID: small.ana.ID, RecipientID: small.bob.ID, Body: "hola!"})
		if !errors.Is(err, ErrBodyTooLarge) {
			t.Errorf("expected ErrBodyTooLarge, got %v", err)
		}
	})
}

// recordingHook counts submit hook calls and can reject messages.
type recordingHook struct {
	reject   error
	before   atomic.Int32
	outcomes []Outcome
	ids      []int64
}

func (h *recordingHook) Name() string { return "recording" }

func (h *recordingHook) Init(ctx context.Context) error { return nil }

func (h *recordingHook) Close(ctx context.Context) error { return nil }

func (h *recordingHook) BeforeSubmit(ctx context.Context, msg *store.Message) error {
	h.before.Add(1)
	return h.reject
}

func (h *recordingHook) AfterSubmit(ctx context.Context, msg *store.Message, outcome Outcome) error {
	h.outcomes = append(h.outcomes, outcome)
	h.ids = append(h.ids, msg.ID)
	return nil
}

func TestSubmitPlugins(t *testing.T) {
	ctx := context.Background()

	t.Run("hooks see every outcome", func(t *testing.T) {
		hook := &recordingHook{}
		env := setupTestEngine(t, WithPlugin(hook))

		d := env.send(t, "a", "hola", 5)
		s := env.send(t, "b", "urgente", 5)
		env.send(t, "c", "spam", 5)

		if got := hook.before.Load(); got != 3 {
			t.Errorf("expected 3 BeforeSubmit calls, got %d", got)
		}
		want := []Outcome{Delivered, Staged, Discarded}
		for i, o := range want {
			if hook.outcomes[i] != o {
				t.Errorf("call %d: expected %v, got %v", i, o, hook.outcomes[i])
			}
		}
		if hook.ids[0] != d.ID || hook.ids[1] != s.ID || hook.ids[2] != 0 {
			t.Errorf("unexpected ids %v", hook.ids)
		}
	})

	t.Run("before hook rejects", func(t *testing.T) {
		reject := errors.New("rate limited")
		env := setupTestEngine(t, WithPlugin(&recordingHook{reject: reject}))

		_, err := env.eng.Submit(ctx, &store.Message{SenderID: env.ana.ID, RecipientID: env.bob.ID, Body: "hola"})
		if !errors.Is(err, reject) {
			t.Fatalf("expected rejection, got %v", err)
		}
		var pe *PluginError
		if !errors.As(err, &pe) || pe.Op != "BeforeSubmit" {
			t.Errorf("expected PluginError for BeforeSubmit, got %v", err)
		}
		stats, _ := env.eng.Stats(ctx, store.AllRecipients)
		if stats.Total() != 0 {
			t.Errorf("rejected message must not be stored, got %+v", stats)
		}
	})

	t.Run("failed init rolls back", func(t *testing.T) {
		first := &lifecycleHook{name: "first"}
		second := &lifecycleHook{name: "second", initErr: errors.New("boom")}
		eng, _ := NewEngine(WithStore(memory.New()), WithPlugins(first, second), WithLogger(discardLogger()))

		err := eng.Connect(ctx)
		var pe *PluginError
		if !errors.As(err, &pe) || pe.Plugin != "second" || pe.Op != "init" {
			t.Fatalf("expected init PluginError from second, got %v", err)
		}
		if !first.closed {
			t.Error("first plugin should be closed on rollback")
		}
		if eng.IsConnected() {
			t.Error("engine should not be connected")
		}
	})
}

type lifecycleHook struct {
	name    string
	initErr error
	closed  bool
}

func (h *lifecycleHook) Name() string { return h.name }

func (h *lifecycleHook) Init(ctx context.Context) error { return h.initErr }

func (h *lifecycleHook) Close(ctx context.Context) error {
	h.closed = true
	return nil
}

func TestOutcome(t *testing.T) {
	for _, o := range []Outcome{Delivered, Staged, Discarded} {
		b, err := json.Marshal(o)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", o, err)
		}
		var back Outcome
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", b, err)
		}
		if back != o {
			t.Errorf("expected %v, got %v", o, back)
		}
	}
	if Outcome(99).String() != "unknown" {
		t.Errorf("expected unknown, got %s", Outcome(99))
	}
	var o Outcome
	if err := o.UnmarshalText([]byte("bounced")); err == nil {
		t.Error("expected error for unknown outcome")
	}

	b, _ := json.Marshal(&SubmitResult{Outcome: Staged, ID: 7, Rank: 1})
	if string(b) != `{"outcome":"staged","id":7,"priority_rank":1}` {
		t.Errorf("unexpected JSON %s", b)
	}
}
