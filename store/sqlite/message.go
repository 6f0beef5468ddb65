package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rbaliyan/mailroute/content"
	"github.com/rbaliyan/mailroute/store"
)

const messageColumns = `id, sender_id, recipient_id, subject, body_json, sent_at, priority_rank, deleted_at, staged`

const userColumns = `id, name, email, credential`

// messageRow is the scanned form of a messages row.
type messageRow struct {
	ID          int64        `db:"id"`
	SenderID    int64        `db:"sender_id"`
	RecipientID int64        `db:"recipient_id"`
	Subject     string       `db:"subject"`
	BodyJSON    string       `db:"body_json"`
	SentAt      time.Time    `db:"sent_at"`
	Rank        int          `db:"priority_rank"`
	DeletedAt   sql.NullTime `db:"deleted_at"`
	Staged      bool         `db:"staged"`
}

func (r *messageRow) toMessage() *store.Message {
	env := content.Decode(r.BodyJSON)
	m := &store.Message{
		ID:          r.ID,
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID,
		Subject:     r.Subject,
		Body:        env.Body,
		Metadata:    env.Metadata,
		SentAt:      r.SentAt.UTC(),
		Rank:        r.Rank,
		Staged:      r.Staged,
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time.UTC()
		m.DeletedAt = &t
	}
	return m
}

func toMessages(rows []messageRow) []*store.Message {
	out := make([]*store.Message, len(rows))
	for i := range rows {
		out[i] = rows[i].toMessage()
	}
	return out
}

type userRow struct {
	ID         int64  `db:"id"`
	Name       string `db:"name"`
	Email      string `db:"email"`
	Credential string `db:"credential"`
}

func (r *userRow) toUser() *store.User {
	return &store.User{ID: r.ID, Name: r.Name, Email: r.Email, Credential: r.Credential}
}

// mapError translates constraint violations into store sentinels.
func mapError(op string, err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w", op, store.ErrDuplicateEntry)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w", op, store.ErrUnknownUser)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
