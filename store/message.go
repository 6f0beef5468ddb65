package store

import (
	"maps"
	"time"
)

// Rank bounds. Lower ranks are more urgent.
const (
	// DefaultRank is applied when a message is saved without a rank.
	DefaultRank = 5
	// UrgentRank is the highest urgency; priority routing forces it.
	UrgentRank = 1
)

// AllRecipients selects messages across every recipient in queries that
// accept an optional recipient. Store-assigned IDs start at 1.
const AllRecipients int64 = 0

// State is the lifecycle state of a message, derived from its
// deletion timestamp and staged flag.
type State uint8

const (
	// StateActive means the message is visible in the recipient's inbox.
	StateActive State = iota
	// StateStaged means the message is held for priority handling.
	StateStaged
	// StateTrashed means the message was soft-deleted and awaits reclamation.
	StateTrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStaged:
		return "staged"
	case StateTrashed:
		return "trashed"
	default:
		return "unknown"
	}
}

// Message is a persisted mail message.
type Message struct {
	ID          int64          `json:"id"`
	SenderID    int64          `json:"sender_id"`
	RecipientID int64          `json:"recipient_id"`
	Subject     string         `json:"subject"`
	Body        string         `json:"body"`
	Metadata    map[string]any `json:"metadata"`
	SentAt      time.Time      `json:"sent_at"`
	Rank        int            `json:"priority_rank"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
	Staged      bool           `json:"staged"`
}

// State reports the lifecycle state. A trashed message is Trashed
// regardless of its staged flag.
func (m *Message) State() State {
	switch {
	case m.DeletedAt != nil:
		return StateTrashed
	case m.Staged:
		return StateStaged
	default:
		return StateActive
	}
}

// IsExpired reports whether the message was trashed at or before cutoff.
func (m *Message) IsExpired(cutoff time.Time) bool {
	return m.DeletedAt != nil && !m.DeletedAt.After(cutoff)
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Metadata != nil {
		c.Metadata = maps.Clone(m.Metadata)
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// NormalizeRank returns rank, or DefaultRank when rank is unset.
func NormalizeRank(rank int) int {
	if rank <= 0 {
		return DefaultRank
	}
	return rank
}

// User is an account that sends and receives messages.
// The credential is opaque and compared verbatim.
type User struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Credential string `json:"-"`
}

// Clone returns a copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// SearchField names the message field a search applies to.
type SearchField string

// FieldSubject is the only searchable field.
const FieldSubject SearchField = "subject"

// Searchable reports whether a search on f is filtered. Searches on any
// other field return the unfiltered active inbox.
func (f SearchField) Searchable() bool {
	return f == FieldSubject
}
