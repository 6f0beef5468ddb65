package memory

import (
	"maps"
	"time"

	"github.com/rbaliyan/mailroute/content"
	"github.com/rbaliyan/mailroute/store"
)

// row is the stored form of a message. The body and metadata live in a
// single encoded envelope.
type row struct {
	id          int64
	senderID    int64
	recipientID int64
	subject     string
	bodyJSON    string
	sentAt      time.Time
	rank        int
	deletedAt   *time.Time
	staged      bool
}

func (r *row) state() store.State {
	switch {
	case r.deletedAt != nil:
		return store.StateTrashed
	case r.staged:
		return store.StateStaged
	default:
		return store.StateActive
	}
}

func (r *row) clone() *row {
	c := *r
	if r.deletedAt != nil {
		t := *r.deletedAt
		c.deletedAt = &t
	}
	return &c
}

// toMessage decodes the row into a store.Message.
func (r *row) toMessage() *store.Message {
	env := content.Decode(r.bodyJSON)
	m := &store.Message{
		ID:          r.id,
		SenderID:    r.senderID,
		RecipientID: r.recipientID,
		Subject:     r.subject,
		Body:        env.Body,
		Metadata:    maps.Clone(env.Metadata),
		SentAt:      r.sentAt,
		Rank:        r.rank,
		Staged:      r.staged,
	}
	if r.deletedAt != nil {
		t := *r.deletedAt
		m.DeletedAt = &t
	}
	return m
}

// newRow encodes msg into a row. The deletion timestamp is never carried
// over: saved messages start untrashed.
func newRow(id int64, msg *store.Message) (*row, error) {
	body, err := content.Encode(msg.Body, msg.Metadata)
	if err != nil {
		return nil, err
	}
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	return &row{
		id:          id,
		senderID:    msg.SenderID,
		recipientID: msg.RecipientID,
		subject:     msg.Subject,
		bodyJSON:    body,
		sentAt:      sentAt.UTC(),
		rank:        store.NormalizeRank(msg.Rank),
		staged:      msg.Staged,
	}, nil
}

// RawBody returns the encoded envelope stored for a message.
// It exists for tests that inspect the stored form.
func (s *Store) RawBody(id int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.messages[id]
	if !ok {
		return "", false
	}
	return r.bodyJSON, true
}

// SetRawBody overwrites the stored envelope of a message, bypassing
// encoding. Tests use it to simulate rows written by other tools.
func (s *Store) SetRawBody(id int64, raw string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.messages[id]
	if !ok {
		return false
	}
	r.bodyJSON = raw
	return true
}
