// Package storetest provides a conformance suite for store.Store
// implementations. Each backend's tests call Run with a factory that
// returns a fresh, empty, connected store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/mailroute/store"
)

// Factory returns a fresh, empty, connected store. The factory is
// responsible for registering cleanup.
type Factory func(t *testing.T) store.Store

// Run executes the full conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Users", testUsers},
		{"DeleteUserCascades", testDeleteUserCascades},
		{"SaveAndFind", testSaveAndFind},
		{"SaveUnknownUser", testSaveUnknownUser},
		{"ActiveInbox", testActiveInbox},
		{"Search", testSearch},
		{"StagedFor", testStagedFor},
		{"SoftDeleteRestore", testSoftDeleteRestore},
		{"Trash", testTrash},
		{"MissingIDs", testMissingIDs},
		{"ExpiredTrash", testExpiredTrash},
		{"PurgeExpired", testPurgeExpired},
		{"CountStates", testCountStates},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ana, bob int64
}

func seedUsers(t *testing.T, s store.Store) fixture {
	t.Helper()
	ctx := context.Background()

	ana, err := s.CreateUser(ctx, &store.User{Name: "Ana", Email: "ana@example.com", Credential: "ana123"})
	if err != nil {
		t.Fatalf("create ana: %v", err)
	}
	bob, err := s.CreateUser(ctx, &store.User{Name: "Bob", Email: "bob@example.com", Credential: "bob123"})
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}
	return fixture{ana: ana, bob: bob}
}

func save(t *testing.T, s store.Store, m *store.Message) int64 {
	t.Helper()
	id, err := s.Save(context.Background(), m)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	return id
}

func ids(msgs []*store.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func assertIDs(t *testing.T, got []*store.Message, want ...int64) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("got ids %v, want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("got ids %v, want %v", g, want)
		}
	}
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := seedUsers(t, s)

	if f.ana <= 0 || f.bob <= f.ana {
		t.Fatalf("expected increasing positive IDs, got %d, %d", f.ana, f.bob)
	}

	_, err := s.CreateUser(ctx, &store.User{Name: "Other", Email: "ana@example.com"})
	if !errors.Is(err, store.ErrDuplicateEntry) {
		t.Errorf("expected ErrDuplicateEntry, got %v", err)
	}

	u, err := s.FindUserByEmail(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if u.ID != f.bob || u.Name != "Bob" || u.Credential != "bob123" {
		t.Errorf("unexpected user %+v", u)
	}

	if _, err := s.FindUserByEmail(ctx, "BOB@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected exact email match, got %v", err)
	}

	// Second user with the same name; lookup by name returns the first.
	dup, err := s.CreateUser(ctx, &store.User{Name: "Ana", Email: "ana2@example.com"})
	if err != nil {
		t.Fatalf("create second ana: %v", err)
	}
	u, err = s.FindUserByName(ctx, "Ana")
	if err != nil {
		t.Fatalf("FindUserByName: %v", err)
	}
	if u.ID != f.ana {
		t.Errorf("expected lowest id %d, got %d", f.ana, u.ID)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 3 || users[0].ID != f.ana || users[2].ID != dup {
		t.Errorf("unexpected user list %+v", users)
	}

	if _, err := s.FindUser(ctx, dup+100); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testDeleteUserCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := seedUsers(t, s)

	save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Subject: "a", SentAt: base})
	save(t, s, &store.Message{SenderID: f.bob, RecipientID: f.ana, Subject: "b", SentAt: base})
	save(t, s, &store.Message{SenderID: f.bob, RecipientID: f.bob, Subject: "c", SentAt: base})

	n, err := s.DeleteUser(ctx, f.ana)
	if err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 messages removed, got %d", n)
	}
	if _, err := s.FindUser(ctx, f.ana); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected user gone, got %v", err)
	}

	inbox, err := s.ActiveInbox(ctx, f.bob)
	if err != nil {
		t.Fatalf("ActiveInbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].Subject != "c" {
		t.Errorf("expected only self-sent message left, got %v", ids(inbox))
	}

	if _, err := s.DeleteUser(ctx, f.ana); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}

	// The email is free again.
	if _, err := s.CreateUser(ctx, &store.User{Name: "Ana", Email: "ana@example.com"}); err != nil {
		t.Errorf("expected email reuse after delete, got %v", err)
	}
}

func testSaveAndFind(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := seedUsers(t, s)

	trashed := base
	id := save(t, s, &store.Message{
		SenderID:    f.ana,
		RecipientID: f.bob,
		Subject:     "Hola",
		Body:        "¿Cómo andás?",
		Metadata:    map[string]any{"lang": "es"},
		SentAt:      base,
		DeletedAt:   &trashed,
	})

	m, err := s.FindByID(ctx, id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if m.Subject != "Hola" || m.Body != "¿Cómo andás?" {
		t.Errorf("unexpected message %+v", m)
	}
	if m.Metadata["lang"] != "es" {
		t.Errorf("expected metadata round trip, got %v", m.Metadata)
	}
	if m.Rank != store.DefaultRank {
		t.Errorf("expected default rank %d, got %d", store.DefaultRank, m.Rank)
	}
	if m.DeletedAt != nil {
		t.Error("expected Save to clear the deletion timestamp")
	}
	if !m.SentAt.Equal(base) {
		t.Errorf("expected sent_at %v, got %v", base, m.SentAt)
	}
	if m.State() != store.StateActive {
		t.Errorf("expected active, got %v", m.State())
	}

	id2 := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Rank: 1, Staged: true, SentAt: base})
	if id2 <= id {
		t.Errorf("expected increasing ids, got %d after %d", id2, id)
	}
	m, err = s.FindByID(ctx, id2)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if m.Rank != 1 || !m.Staged || m.Metadata == nil {
		t.Errorf("unexpected staged message %+v", m)
	}
}

func testSaveUnknownUser(t *testing.T, s store.Store) {
	f := seedUsers(t, s)
	_, err := s.Save(context.Background(), &store.Message{SenderID: f.ana, RecipientID: f.bob + 100, SentAt: base})
	if !errors.Is(err, store.ErrUnknownUser) {
		t.Errorf("expected ErrUnknownUser, got %v", err)
	}
}

func testActiveInbox(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := seedUsers(t, s)

	older := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Subject: "older", SentAt: base})
	newer := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Subject: "newer", SentAt: base.Add(time.Hour)})
	tie := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Subject: "tie", SentAt: base})
	save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Staged: true, SentAt: base})
	gone := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})
	save(t, s, &store.Message{SenderID: f.bob, RecipientID: f.ana, SentAt: base})

	if _, err := s.SoftDelete(ctx, gone, base); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	inbox, err := s.ActiveInbox(ctx, f.bob)
	if err != nil {
		t.Fatalf("ActiveInbox: %v", err)
	}
	assertIDs(t, inbox, newer, tie, older)

	empty, err := s.ActiveInbox(ctx, f.bob+100)
	if err != nil {
		t.Fatalf("ActiveInbox unknown recipient: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty inbox, got %v", ids(empty))
	}
}

func testSearch(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := seedUsers(t, s)

	a := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Subject: "Reunión URGENTE", SentAt: base})
	b := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Subject: "Hola Bob", SentAt: base.Add(time.Minute)})
	save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Subject: "urgente staged", Staged: true, SentAt: base})
	sale := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Subject: "100% off_sale", SentAt: base})

	tests := []struct {
		name   string
		field  store.SearchField
		substr string
		want   []int64
	}{
		{"case insensitive", store.FieldSubject, "urgente", []int64{a}},
		{"non-ascii", store.FieldSubject, "REUNión", []int64{a}},
		{"no match", store.FieldSubject, "zzz", nil},
		{"empty matches all", store.FieldSubject, "", []int64{b, sale, a}},
		{"unsupported field", store.SearchField("body"), "zzz", []int64{b, sale, a}},
		{"percent is literal", store.FieldSubject, "0%", []int64{sale}},
		{"underscore is literal", store.FieldSubject, "f_s", []int64{sale}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(ctx, f.bob, tt.field, tt.substr)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			assertIDs(t, got, tt.want...)
		})
	}
}

func testStagedFor(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := seedUsers(t, s)

	low := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Rank: 3, Staged: true, SentAt: base})
	urgent := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Rank: 1, Staged: true, SentAt: base})
	urgentNewer := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Rank: 1, Staged: true, SentAt: base.Add(time.Hour)})
	forAna := save(t, s, &store.Message{SenderID: f.bob, RecipientID: f.ana, Rank: 2, Staged: true, SentAt: base})
	trashed := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Rank: 1, Staged: true, SentAt: base})
	save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})

	if _, err := s.SoftDelete(ctx, trashed, base); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	got, err := s.StagedFor(ctx, f.bob)
	if err != nil {
		t.Fatalf("StagedFor: %v", err)
	}
	assertIDs(t, got, urgentNewer, urgent, low)

	all, err := s.StagedFor(ctx, store.AllRecipients)
	if err != nil {
		t.Fatalf("StagedFor all: %v", err)
	}
	assertIDs(t, all, urgentNewer, urgent, forAna, low)
}

func testSoftDeleteRestore(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := seedUsers(t, s)
	id := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})

	changed, err := s.SoftDelete(ctx, id, base)
	if err != nil || !changed {
		t.Fatalf("SoftDelete = %v, %v", changed, err)
	}

	// Already trashed: keeps the original timestamp.
	changed, err = s.SoftDelete(ctx, id, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("second SoftDelete: %v", err)
	}
	if changed {
		t.Error("expected second SoftDelete to report no change")
	}
	m, err := s.FindByID(ctx, id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if m.DeletedAt == nil || !m.DeletedAt.Equal(base) {
		t.Errorf("expected deleted_at %v, got %v", base, m.DeletedAt)
	}
	if m.State() != store.StateTrashed {
		t.Errorf("expected trashed, got %v", m.State())
	}

	changed, err = s.Restore(ctx, id)
	if err != nil || !changed {
		t.Fatalf("Restore = %v, %v", changed, err)
	}
	changed, err = s.Restore(ctx, id)
	if err != nil || changed {
		t.Errorf("second Restore = %v, %v", changed, err)
	}

	changed, err = s.SetStaged(ctx, id, true)
	if err != nil || !changed {
		t.Fatalf("SetStaged = %v, %v", changed, err)
	}
	m, _ = s.FindByID(ctx, id)
	if m.State() != store.StateStaged {
		t.Errorf("expected staged, got %v", m.State())
	}

	// Trashed wins over the staged flag.
	if _, err := s.SoftDelete(ctx, id, base); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	m, _ = s.FindByID(ctx, id)
	if m.State() != store.StateTrashed || !m.Staged {
		t.Errorf("expected trashed with staged flag kept, got %v staged=%v", m.State(), m.Staged)
	}
}

func testTrash(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := seedUsers(t, s)
	cutoff := base.Add(-time.Hour)

	first := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})
	second := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})
	expired := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})
	forAna := save(t, s, &store.Message{SenderID: f.bob, RecipientID: f.ana, SentAt: base})
	save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})

	// Trashed exactly at cutoff counts as expired.
	atCutoff := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})
	for id, at := range map[int64]time.Time{
		atCutoff: cutoff,
		first:    base,
		second:   base.Add(time.Minute),
		expired:  cutoff.Add(-time.Second),
		forAna:   cutoff.Add(time.Second),
	} {
		if _, err := s.SoftDelete(ctx, id, at); err != nil {
			t.Fatalf("SoftDelete(%d): %v", id, err)
		}
	}

	got, err := s.Trash(ctx, f.bob, cutoff)
	if err != nil {
		t.Fatalf("Trash: %v", err)
	}
	assertIDs(t, got, second, first)

	all, err := s.Trash(ctx, store.AllRecipients, cutoff)
	if err != nil {
		t.Fatalf("Trash all: %v", err)
	}
	assertIDs(t, all, second, first, forAna)
}

func testMissingIDs(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUsers(t, s)
	const missing = 999

	if _, err := s.FindByID(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindByID: expected ErrNotFound, got %v", err)
	}

	ops := map[string]func() (bool, error){
		"SoftDelete": func() (bool, error) { return s.SoftDelete(ctx, missing, base) },
		"Restore":    func() (bool, error) { return s.Restore(ctx, missing) },
		"SetStaged":  func() (bool, error) { return s.SetStaged(ctx, missing, true) },
		"Purge":      func() (bool, error) { return s.Purge(ctx, missing) },
	}
	for name, op := range ops {
		changed, err := op()
		if err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
		}
		if changed {
			t.Errorf("%s: expected no change", name)
		}
	}
}

func testExpiredTrash(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := seedUsers(t, s)
	cutoff := base

	var want []int64
	for i := range 3 {
		id := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})
		if _, err := s.SoftDelete(ctx, id, cutoff.Add(-time.Duration(3-i)*time.Hour)); err != nil {
			t.Fatalf("SoftDelete: %v", err)
		}
		want = append(want, id)
	}
	fresh := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})
	if _, err := s.SoftDelete(ctx, fresh, cutoff.Add(time.Second)); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	got, err := s.ExpiredTrash(ctx, cutoff, 10)
	if err != nil {
		t.Fatalf("ExpiredTrash: %v", err)
	}
	assertIDs(t, got, want...)

	got, err = s.ExpiredTrash(ctx, cutoff, 2)
	if err != nil {
		t.Fatalf("ExpiredTrash limit: %v", err)
	}
	assertIDs(t, got, want[:2]...)
}

func testPurgeExpired(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := seedUsers(t, s)
	cutoff := base

	old1 := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})
	old2 := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})
	boundary := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})
	active := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})

	for _, id := range []int64{old1, old2} {
		if _, err := s.SoftDelete(ctx, id, cutoff.Add(-time.Minute)); err != nil {
			t.Fatalf("SoftDelete: %v", err)
		}
	}
	if _, err := s.SoftDelete(ctx, boundary, cutoff); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	recent := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})
	if _, err := s.SoftDelete(ctx, recent, cutoff.Add(time.Second)); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	// Restored since scan: the id filter must not remove it.
	if _, err := s.Restore(ctx, old2); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	n, err := s.PurgeExpired(ctx, cutoff, old2, active)
	if err != nil {
		t.Fatalf("PurgeExpired ids: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing purged, got %d", n)
	}

	if _, err := s.SoftDelete(ctx, old2, cutoff.Add(-time.Minute)); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	n, err = s.PurgeExpired(ctx, cutoff)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 purged, got %d", n)
	}
	if _, err := s.FindByID(ctx, boundary); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected message trashed at cutoff to be purged, got %v", err)
	}

	for _, id := range []int64{recent, active} {
		if _, err := s.FindByID(ctx, id); err != nil {
			t.Errorf("expected message %d to survive, got %v", id, err)
		}
	}

	n, err = s.PurgeExpired(ctx, cutoff)
	if err != nil || n != 0 {
		t.Errorf("second PurgeExpired = %d, %v", n, err)
	}
}

func testCountStates(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := seedUsers(t, s)

	save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, SentAt: base})
	save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Staged: true, SentAt: base})
	trashed := save(t, s, &store.Message{SenderID: f.ana, RecipientID: f.bob, Staged: true, SentAt: base})
	save(t, s, &store.Message{SenderID: f.bob, RecipientID: f.ana, SentAt: base})

	if _, err := s.SoftDelete(ctx, trashed, base); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	stats, err := s.CountStates(ctx, f.bob)
	if err != nil {
		t.Fatalf("CountStates: %v", err)
	}
	if stats.Active != 1 || stats.Staged != 1 || stats.Trashed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	all, err := s.CountStates(ctx, store.AllRecipients)
	if err != nil {
		t.Fatalf("CountStates all: %v", err)
	}
	if all.Total() != 4 || all.Active != 2 {
		t.Errorf("unexpected totals %+v", all)
	}
}
