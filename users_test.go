package mailroute

import (
	"context"
	"errors"
	"testing"

	"github.com/rbaliyan/mailroute/store"
)

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	env := setupTestEngine(t)

	t.Run("trims fields", func(t *testing.T) {
		u, err := env.eng.CreateUser(ctx, "  Carla ", " carla@example.com ", "pw")
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if u.ID <= 0 || u.Name != "Carla" || u.Email != "carla@example.com" {
			t.Errorf("unexpected user %+v", u)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := env.eng.CreateUser(ctx, "Other", "ana@example.com", "pw")
		if !errors.Is(err, ErrDuplicateEntry) {
			t.Errorf("expected ErrDuplicateEntry, got %v", err)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		cases := [][3]string{
			{"", "x@example.com", "pw"},
			{"X", "  ", "pw"},
			{"X", "x@example.com", ""},
		}
		for _, c := range cases {
			_, err := env.eng.CreateUser(ctx, c[0], c[1], c[2])
			if !errors.Is(err, ErrInvalidUser) {
				t.Errorf("CreateUser(%q, %q, %q): expected ErrInvalidUser, got %v", c[0], c[1], c[2], err)
			}
		}
	})
}

func TestFindUsers(t *testing.T) {
	ctx := context.Background()
	env := setupTestEngine(t)

	u, err := env.eng.FindUser(ctx, env.ana.ID)
	if err != nil || u.Email != "ana@example.com" {
		t.Fatalf("FindUser: %+v, %v", u, err)
	}
	for _, id := range []int64{0, 999} {
		if _, err := env.eng.FindUser(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("FindUser(%d): expected ErrNotFound, got %v", id, err)
		}
	}

	u, err = env.eng.FindUserByEmail(ctx, " bob@example.com")
	if err != nil || u.ID != env.bob.ID {
		t.Fatalf("FindUserByEmail: %+v, %v", u, err)
	}
	if _, err := env.eng.FindUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected store.ErrNotFound, got %v", err)
	}

	users, err := env.eng.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 || users[0].ID != env.ana.ID || users[1].ID != env.bob.ID {
		t.Errorf("unexpected users %+v", users)
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	env := setupTestEngine(t)

	u, err := env.eng.Authenticate(ctx, "ana@example.com", "1234")
	if err != nil || u.ID != env.ana.ID {
		t.Fatalf("Authenticate: %+v, %v", u, err)
	}
	if _, err := env.eng.Authenticate(ctx, "ana@example.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong credential: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.eng.Authenticate(ctx, "ghost@example.com", "1234"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRecoverCredential(t *testing.T) {
	ctx := context.Background()
	env := setupTestEngine(t)

	cred, err := env.eng.RecoverCredential(ctx, "Bob")
	if err != nil || cred != "5678" {
		t.Fatalf("RecoverCredential = %q, %v", cred, err)
	}

	// The lowest ID wins when names collide.
	if _, err := env.eng.CreateUser(ctx, "Bob", "bob2@example.com", "0000"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	cred, _ = env.eng.RecoverCredential(ctx, "Bob")
	if cred != "5678" {
		t.Errorf("expected the first Bob's credential, got %q", cred)
	}

	if _, err := env.eng.RecoverCredential(ctx, "Nadie"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	hook := &purgeRecorder{}
	env := setupTestEngine(t, WithPlugin(hook))

	toBob := env.send(t, "a", "hola", 5)
	staged := env.send(t, "b", "urgente", 5)
	carla, _ := env.eng.CreateUser(ctx, "Carla", "carla@example.com", "pw")
	unrelated, err := env.eng.Submit(ctx, &store.Message{SenderID: carla.ID, RecipientID: env.bob.ID, Body: "hola"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	n, err := env.eng.DeleteUser(ctx, env.ana.ID)
	if err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 messages removed, got %d", n)
	}
	if hook.counts[store.ReasonExplicit] != 2 {
		t.Errorf("expected purge hook to see 2 messages, got %v", hook.counts)
	}
	for _, id := range []int64{toBob.ID, staged.ID} {
		if msg, _ := env.eng.Get(ctx, id); msg != nil {
			t.Errorf("message %d should be removed with its sender", id)
		}
	}
	if msg, _ := env.eng.Get(ctx, unrelated.ID); msg == nil {
		t.Error("unrelated message should survive")
	}

	// The buffered entry of the removed staged message is dropped on dequeue.
	msg, err := env.eng.DequeueNextStaged(ctx)
	if err != nil || msg != nil {
		t.Errorf("expected stale entry dropped, got %+v, %v", msg, err)
	}

	if _, err := env.eng.FindUser(ctx, env.ana.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected user gone, got %v", err)
	}
	if _, err := env.eng.DeleteUser(ctx, env.ana.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteUser: expected ErrNotFound, got %v", err)
	}
	if _, err := env.eng.DeleteUser(ctx, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteUser(0): expected ErrNotFound, got %v", err)
	}
}
