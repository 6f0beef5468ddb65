package mailroute

import (
	"context"
	"fmt"

	"github.com/rbaliyan/mailroute/store"
)

// SeedResult reports what SeedDemo created.
type SeedResult struct {
	Users    []*store.User   `json:"users"`
	Messages []*SubmitResult `json:"messages"`
}

// demoUsers are created when the store has no users.
var demoUsers = []struct{ name, email, credential string }{
	{"Ana", "Ana@gmail.com", "1234"},
	{"Bob", "Bob@gmail.com", "5678"},
}

// SeedDemo creates the demo users Ana and Bob when no users exist, and
// submits three demo messages from Ana to Bob when no messages exist: one
// delivered, one routed to staging and one discarded. Running it again
// on a seeded store does nothing.
func (e *engine) SeedDemo(ctx context.Context) (*SeedResult, error) {
	if err := e.checkConnected(); err != nil {
		return nil, err
	}
	result := &SeedResult{}

	users, err := e.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		for _, d := range demoUsers {
			u, err := e.CreateUser(ctx, d.name, d.email, d.credential)
			if err != nil {
				return result, fmt.Errorf("seed user %s: %w", d.name, err)
			}
			result.Users = append(result.Users, u)
		}
	}

	stats, err := e.store.CountStates(ctx, store.AllRecipients)
	if err != nil {
		return result, fmt.Errorf("seed: count messages: %w", translateStoreError(err))
	}
	if stats.Total() > 0 {
		return result, nil
	}

	ana, err := e.FindUserByEmail(ctx, demoUsers[0].email)
	if err != nil {
		return result, fmt.Errorf("seed: sender: %w", err)
	}
	bob, err := e.FindUserByEmail(ctx, demoUsers[1].email)
	if err != nil {
		return result, fmt.Errorf("seed: recipient: %w", err)
	}

	msgs := []*store.Message{
		{Subject: "Hola Bob", Body: "Hola Bob! ¿Cómo andás?", Rank: 5},
		{Subject: "URGENTE: Reunión", Body: "Esto es urgente, reunión a las 10", Rank: 1},
		{Subject: "Spam oferta", Body: "Spam: compra ya", Rank: 9},
	}
	for _, m := range msgs {
		m.SenderID = ana.ID
		m.RecipientID = bob.ID
		r, err := e.Submit(ctx, m)
		if err != nil {
			return result, fmt.Errorf("seed message %q: %w", m.Subject, err)
		}
		result.Messages = append(result.Messages, r)
	}

	e.logger.Info("demo data seeded", "users", len(result.Users), "messages", len(result.Messages))
	return result, nil
}
