package mailroute

import (
	"context"
	"testing"
	"time"

	"github.com/rbaliyan/mailroute/queue"
	"github.com/rbaliyan/mailroute/store"
)

func TestDequeueNextStaged(t *testing.T) {
	ctx := context.Background()

	t.Run("empty buffer", func(t *testing.T) {
		env := setupTestEngine(t)
		msg, err := env.eng.DequeueNextStaged(ctx)
		if err != nil || msg != nil {
			t.Errorf("expected nil, nil; got %+v, %v", msg, err)
		}
	})

	t.Run("routed messages dequeue in arrival order", func(t *testing.T) {
		env := setupTestEngine(t)
		first := env.send(t, "1", "urgente uno", 5)
		second := env.send(t, "2", "urgente dos", 9)

		for _, want := range []int64{first.ID, second.ID} {
			msg, err := env.eng.DequeueNextStaged(ctx)
			if err != nil {
				t.Fatalf("DequeueNextStaged: %v", err)
			}
			if msg == nil || msg.ID != want {
				t.Fatalf("expected %d, got %+v", want, msg)
			}
			if !msg.Staged {
				t.Error("dequeued message keeps its staged flag")
			}
		}
		if n := len(env.eng.PeekStaged()); n != 0 {
			t.Errorf("expected empty buffer, got %d", n)
		}
	})

	t.Run("lower rank first", func(t *testing.T) {
		buf := NewHeapBuffer()
		env := setupTestEngine(t, WithStagingBuffer(buf))
		low := env.send(t, "low", "hola", 3)
		high := env.send(t, "high", "hola", 1)
		buf.Push(3, low.ID)
		buf.Push(1, high.ID)

		msg, err := env.eng.DequeueNextStaged(ctx)
		if err != nil || msg == nil || msg.ID != high.ID {
			t.Fatalf("expected rank-1 message %d first, got %+v, %v", high.ID, msg, err)
		}
		msg, _ = env.eng.DequeueNextStaged(ctx)
		if msg == nil || msg.ID != low.ID {
			t.Fatalf("expected %d second, got %+v", low.ID, msg)
		}
	})

	t.Run("stale entry is dropped", func(t *testing.T) {
		env := setupTestEngine(t)
		res := env.send(t, "gone", "urgente", 5)
		if _, err := env.eng.PermanentDelete(ctx, res.ID); err != nil {
			t.Fatalf("PermanentDelete: %v", err)
		}

		msg, err := env.eng.DequeueNextStaged(ctx)
		if err != nil || msg != nil {
			t.Errorf("expected nil, nil for a purged message; got %+v, %v", msg, err)
		}
		if n := len(env.eng.PeekStaged()); n != 0 {
			t.Errorf("stale entry should be consumed, got %d", n)
		}
	})

	t.Run("trashed message is still returned", func(t *testing.T) {
		env := setupTestEngine(t)
		res := env.send(t, "trashed", "urgente", 5)
		if _, err := env.eng.SoftDelete(ctx, res.ID); err != nil {
			t.Fatalf("SoftDelete: %v", err)
		}
		msg, err := env.eng.DequeueNextStaged(ctx)
		if err != nil || msg == nil || msg.ID != res.ID {
			t.Fatalf("expected %d, got %+v, %v", res.ID, msg, err)
		}
		if msg.State() != store.StateTrashed {
			t.Errorf("expected trashed state, got %v", msg.State())
		}
	})

	t.Run("read failure keeps the entry", func(t *testing.T) {
		env := setupTestEngine(t)
		res := env.send(t, "x", "urgente", 5)
		// A closed store fails reads without losing the entry.
		if err := env.st.Close(ctx); err != nil {
			t.Fatalf("store close: %v", err)
		}
		if _, err := env.eng.DequeueNextStaged(ctx); err == nil {
			t.Fatal("expected read error")
		}
		peek := env.eng.PeekStaged()
		if len(peek) != 1 || peek[0] != (queue.Item{Rank: store.UrgentRank, ID: res.ID}) {
			t.Errorf("expected entry to be kept, got %v", peek)
		}
	})
}

func TestPriorityMarks(t *testing.T) {
	ctx := context.Background()

	t.Run("mark stages without buffering", func(t *testing.T) {
		env := setupTestEngine(t)
		res := env.send(t, "x", "hola", 4)

		changed, err := env.eng.MarkPriority(ctx, res.ID)
		if err != nil || !changed {
			t.Fatalf("MarkPriority: %v, %v", changed, err)
		}
		if n := len(env.eng.PeekStaged()); n != 0 {
			t.Errorf("MarkPriority must not buffer, got %d", n)
		}
		msg, err := env.eng.DequeueNextStaged(ctx)
		if err != nil || msg != nil {
			t.Errorf("marked message must not be dequeued, got %+v, %v", msg, err)
		}

		inbox, _ := env.eng.Inbox(ctx, env.bob.ID)
		if len(inbox) != 0 {
			t.Errorf("marked message should leave the inbox, got %v", ids(inbox))
		}
		staged, _ := env.eng.Staged(ctx, env.bob.ID)
		assertIDs(t, staged, res.ID)
		if staged[0].Rank != 4 {
			t.Errorf("MarkPriority keeps the rank, got %d", staged[0].Rank)
		}

		changed, err = env.eng.MarkPriority(ctx, res.ID)
		if err != nil || changed {
			t.Errorf("second MarkPriority should be a no-op, got %v, %v", changed, err)
		}
	})

	t.Run("unmark leaves the buffer alone", func(t *testing.T) {
		env := setupTestEngine(t)
		res := env.send(t, "x", "urgente", 5)

		changed, err := env.eng.UnmarkPriority(ctx, res.ID)
		if err != nil || !changed {
			t.Fatalf("UnmarkPriority: %v, %v", changed, err)
		}
		inbox, _ := env.eng.Inbox(ctx, env.bob.ID)
		assertIDs(t, inbox, res.ID)

		if n := len(env.eng.PeekStaged()); n != 1 {
			t.Fatalf("buffer entry should remain, got %d", n)
		}
		msg, err := env.eng.DequeueNextStaged(ctx)
		if err != nil || msg == nil || msg.ID != res.ID {
			t.Fatalf("expected %d, got %+v, %v", res.ID, msg, err)
		}
		if msg.Staged {
			t.Error("dequeue returns the message as stored, unstaged")
		}
	})

	t.Run("missing ids", func(t *testing.T) {
		env := setupTestEngine(t)
		for _, id := range []int64{0, -1, 999} {
			if changed, err := env.eng.MarkPriority(ctx, id); err != nil || changed {
				t.Errorf("MarkPriority(%d) = %v, %v", id, changed, err)
			}
			if changed, err := env.eng.UnmarkPriority(ctx, id); err != nil || changed {
				t.Errorf("UnmarkPriority(%d) = %v, %v", id, changed, err)
			}
		}
	})
}

func TestTrashAxis(t *testing.T) {
	ctx := context.Background()

	t.Run("soft delete and restore", func(t *testing.T) {
		env := setupTestEngine(t)
		res := env.send(t, "x", "hola", 6)
		trashedAt := env.clock.Now()

		changed, err := env.eng.SoftDelete(ctx, res.ID)
		if err != nil || !changed {
			t.Fatalf("SoftDelete: %v, %v", changed, err)
		}
		inbox, _ := env.eng.Inbox(ctx, env.bob.ID)
		if len(inbox) != 0 {
			t.Errorf("trashed message should leave the inbox, got %v", ids(inbox))
		}
		trash, _ := env.eng.Trash(ctx, env.bob.ID)
		assertIDs(t, trash, res.ID)

		// A second delete keeps the original time.
		env.clock.Advance(time.Hour)
		changed, err = env.eng.SoftDelete(ctx, res.ID)
		if err != nil || changed {
			t.Errorf("second SoftDelete should be a no-op, got %v, %v", changed, err)
		}
		msg, _ := env.eng.Get(ctx, res.ID)
		if msg.DeletedAt == nil || !msg.DeletedAt.Equal(trashedAt) {
			t.Errorf("expected deletion time %v, got %v", trashedAt, msg.DeletedAt)
		}

		changed, err = env.eng.Restore(ctx, res.ID)
		if err != nil || !changed {
			t.Fatalf("Restore: %v, %v", changed, err)
		}
		msg, _ = env.eng.Get(ctx, res.ID)
		if msg.DeletedAt != nil || msg.Rank != 6 {
			t.Errorf("expected restored message with rank 6, got %+v", msg)
		}
		inbox, _ = env.eng.Inbox(ctx, env.bob.ID)
		assertIDs(t, inbox, res.ID)

		changed, err = env.eng.Restore(ctx, res.ID)
		if err != nil || changed {
			t.Errorf("second Restore should be a no-op, got %v, %v", changed, err)
		}
	})

	t.Run("staged message comes back staged", func(t *testing.T) {
		env := setupTestEngine(t)
		res := env.send(t, "x", "urgente", 5)

		if _, err := env.eng.SoftDelete(ctx, res.ID); err != nil {
			t.Fatalf("SoftDelete: %v", err)
		}
		staged, _ := env.eng.Staged(ctx, env.bob.ID)
		if len(staged) != 0 {
			t.Errorf("trashed message must not be listed as staged, got %v", ids(staged))
		}
		inbox, _ := env.eng.Inbox(ctx, env.bob.ID)
		if len(inbox) != 0 {
			t.Errorf("trashed message must not be in the inbox, got %v", ids(inbox))
		}

		if _, err := env.eng.Restore(ctx, res.ID); err != nil {
			t.Fatalf("Restore: %v", err)
		}
		staged, _ = env.eng.Staged(ctx, env.bob.ID)
		assertIDs(t, staged, res.ID)
		if staged[0].Rank != store.UrgentRank {
			t.Errorf("expected rank 1 after restore, got %d", staged[0].Rank)
		}
	})

	t.Run("permanent delete", func(t *testing.T) {
		env := setupTestEngine(t)
		active := env.send(t, "a", "hola", 5)
		trashed := env.send(t, "b", "hola", 5)
		if _, err := env.eng.SoftDelete(ctx, trashed.ID); err != nil {
			t.Fatalf("SoftDelete: %v", err)
		}

		for _, id := range []int64{active.ID, trashed.ID} {
			changed, err := env.eng.PermanentDelete(ctx, id)
			if err != nil || !changed {
				t.Errorf("PermanentDelete(%d) = %v, %v", id, changed, err)
			}
			msg, err := env.eng.Get(ctx, id)
			if err != nil || msg != nil {
				t.Errorf("expected message %d gone, got %+v, %v", id, msg, err)
			}
		}

		changed, err := env.eng.PermanentDelete(ctx, active.ID)
		if err != nil || changed {
			t.Errorf("deleting a missing message should be a no-op, got %v, %v", changed, err)
		}
	})

	t.Run("missing ids are no-ops", func(t *testing.T) {
		env := setupTestEngine(t)
		ops := map[string]func(id int64) (bool, error){
			"SoftDelete":      func(id int64) (bool, error) { return env.eng.SoftDelete(ctx, id) },
			"Restore":         func(id int64) (bool, error) { return env.eng.Restore(ctx, id) },
			"PermanentDelete": func(id int64) (bool, error) { return env.eng.PermanentDelete(ctx, id) },
		}
		for name, op := range ops {
			for _, id := range []int64{0, -5, 12345} {
				changed, err := op(id)
				if err != nil || changed {
					t.Errorf("%s(%d) = %v, %v", name, id, changed, err)
				}
			}
		}
	})
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	env := setupTestEngine(t)

	older := env.send(t, "Factura marzo", "hola", 5)
	env.clock.Advance(time.Minute)
	newer := env.send(t, "Re: factura", "hola", 5)
	env.clock.Advance(time.Minute)
	other := env.send(t, "Almuerzo", "hola", 5)

	t.Run("inbox newest first", func(t *testing.T) {
		inbox, err := env.eng.Inbox(ctx, env.bob.ID)
		if err != nil {
			t.Fatalf("Inbox: %v", err)
		}
		assertIDs(t, inbox, other.ID, newer.ID, older.ID)

		empty, err := env.eng.Inbox(ctx, env.ana.ID)
		if err != nil || len(empty) != 0 {
			t.Errorf("expected empty inbox for ana, got %v, %v", ids(empty), err)
		}
	})

	t.Run("search subject ignores case", func(t *testing.T) {
		found, err := env.eng.Search(ctx, env.bob.ID, store.FieldSubject, "FACTURA")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		assertIDs(t, found, newer.ID, older.ID)
	})

	t.Run("unsupported field returns the inbox", func(t *testing.T) {
		found, err := env.eng.Search(ctx, env.bob.ID, store.SearchField("body"), "nothing matches")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		assertIDs(t, found, other.ID, newer.ID, older.ID)
	})

	t.Run("get", func(t *testing.T) {
		msg, err := env.eng.Get(ctx, older.ID)
		if err != nil || msg == nil || msg.Subject != "Factura marzo" {
			t.Fatalf("Get: %+v, %v", msg, err)
		}
		for _, id := range []int64{0, -1, 9999} {
			msg, err := env.eng.Get(ctx, id)
			if err != nil || msg != nil {
				t.Errorf("Get(%d) = %+v, %v", id, msg, err)
			}
		}
	})

	t.Run("stats", func(t *testing.T) {
		staged := env.send(t, "u", "urgente", 5)
		if _, err := env.eng.SoftDelete(ctx, older.ID); err != nil {
			t.Fatalf("SoftDelete: %v", err)
		}
		stats, err := env.eng.Stats(ctx, env.bob.ID)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		want := store.Stats{Active: 2, Staged: 1, Trashed: 1}
		if *stats != want {
			t.Errorf("expected %+v, got %+v", want, *stats)
		}
		all, _ := env.eng.Stats(ctx, store.AllRecipients)
		if all.Total() != 4 {
			t.Errorf("expected 4 messages in total, got %+v", all)
		}
		if msg, _ := env.eng.Get(ctx, staged.ID); msg.State() != store.StateStaged {
			t.Errorf("expected staged state, got %v", msg.State())
		}
	})
}
