// Package store provides interfaces and types for message storage.
// Implementations are in store/memory, store/sqlite, store/postgres and
// store/mongo.
//
// # Lifecycle Columns
//
// Every message carries two lifecycle fields: a nullable deletion timestamp
// and a staged flag. Together they derive exactly one State:
//
//	deleted_at set            -> Trashed (wins over the flag)
//	deleted_at null, staged   -> Staged
//	deleted_at null, !staged  -> Active
//
// Queries honour that precedence: the active inbox excludes trashed and
// staged rows, and the staged view excludes trashed rows.
//
// # Missing IDs
//
// Read operations return ErrNotFound for a missing message. Mutations on a
// missing message are no-ops that report false; they never fail. The
// caller decides whether an absent row matters.
//
// # No Distributed Locks
//
// All concurrency concerns are handled by the database: single-statement
// conditional updates (UPDATE ... WHERE deleted_at IS NULL), unique
// constraints for user emails, and bulk deletes for reclamation. Multiple
// processes may call PurgeExpired concurrently; each row is deleted once.
package store

import (
	"context"
	"time"
)

// Store is the storage interface for messages and their users.
//
// All operations must be safe for concurrent use.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Message operations
	MessageStore

	// User operations
	UserStore

	// Maintenance operations - for reclamation of expired trash
	MaintenanceStore

	// Stats operations - per-state counts
	StatsStore
}

// MessageReader provides read operations for messages.
type MessageReader interface {
	// FindByID retrieves a message by ID.
	// Returns ErrNotFound if the message doesn't exist.
	FindByID(ctx context.Context, id int64) (*Message, error)

	// ActiveInbox returns messages addressed to recipientID that are
	// neither trashed nor staged, newest first.
	ActiveInbox(ctx context.Context, recipientID int64) ([]*Message, error)

	// Search returns the active inbox restricted to messages whose field
	// contains substr, case-insensitively. Unsupported fields return the
	// unfiltered active inbox.
	Search(ctx context.Context, recipientID int64, field SearchField, substr string) ([]*Message, error)

	// StagedFor returns staged, non-trashed messages ordered by rank
	// ascending then newest first. AllRecipients spans every recipient.
	StagedFor(ctx context.Context, recipientID int64) ([]*Message, error)

	// Trash returns messages trashed after cutoff, most recently
	// trashed first. AllRecipients spans every recipient.
	Trash(ctx context.Context, recipientID int64, cutoff time.Time) ([]*Message, error)
}

// MessageMutator provides mutation operations for messages.
// Every method is idempotent and treats a missing ID as a no-op,
// reporting whether a row changed.
type MessageMutator interface {
	// Save persists a new message and returns its assigned ID.
	// The deletion timestamp is always cleared. Returns ErrUnknownUser
	// if the sender or recipient does not exist.
	Save(ctx context.Context, msg *Message) (int64, error)

	// SoftDelete sets the deletion timestamp to at if it is not already set.
	SoftDelete(ctx context.Context, id int64, at time.Time) (bool, error)

	// Restore clears the deletion timestamp.
	Restore(ctx context.Context, id int64) (bool, error)

	// SetStaged sets or clears the staged flag.
	SetStaged(ctx context.Context, id int64, staged bool) (bool, error)

	// Purge permanently removes a message regardless of its state.
	Purge(ctx context.Context, id int64) (bool, error)
}

// MessageStore provides operations for messages.
//
// Composed of:
//   - MessageReader: Read operations (FindByID, ActiveInbox, Search, StagedFor, Trash)
//   - MessageMutator: Mutation operations (Save, SoftDelete, Restore, SetStaged, Purge)
type MessageStore interface {
	MessageReader
	MessageMutator
}

// UserStore provides account operations.
type UserStore interface {
	// CreateUser persists a new user and returns its ID.
	// Returns ErrDuplicateEntry if the email is already registered.
	CreateUser(ctx context.Context, user *User) (int64, error)

	// FindUser retrieves a user by ID. Returns ErrNotFound if missing.
	FindUser(ctx context.Context, id int64) (*User, error)

	// FindUserByEmail retrieves a user by exact email.
	// Returns ErrNotFound if missing.
	FindUserByEmail(ctx context.Context, email string) (*User, error)

	// FindUserByName retrieves the first user (lowest ID) with the given
	// display name. Returns ErrNotFound if missing.
	FindUserByName(ctx context.Context, name string) (*User, error)

	// ListUsers returns all users ordered by ID.
	ListUsers(ctx context.Context) ([]*User, error)

	// DeleteUser removes a user and every message they sent or received,
	// atomically. Returns the number of messages removed, or ErrNotFound
	// if the user does not exist.
	DeleteUser(ctx context.Context, id int64) (int64, error)
}

// MaintenanceStore provides operations for reclamation of expired trash.
// These operations are safe to call concurrently from multiple processes.
type MaintenanceStore interface {
	// ExpiredTrash returns up to limit messages trashed at or before cutoff,
	// oldest first.
	ExpiredTrash(ctx context.Context, cutoff time.Time, limit int) ([]*Message, error)

	// PurgeExpired deletes messages trashed at or before cutoff. When ids are
	// given, only those messages are considered, so a message restored
	// since it was scanned survives. Returns the number deleted.
	//
	// Implementation should use an atomic bulk delete:
	//   - MongoDB: deleteMany({ deleted_at: { $lte: cutoff } })
	//   - SQL: DELETE FROM messages WHERE deleted_at IS NOT NULL AND deleted_at <= $1
	PurgeExpired(ctx context.Context, cutoff time.Time, ids ...int64) (int64, error)
}
