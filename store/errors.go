package store

import "errors"

// Errors returned by every Store implementation. Backends wrap them with
// context, so compare with errors.Is.
var (
	// ErrNotFound: no user or message has the given ID or email.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidID: the ID is zero or negative.
	ErrInvalidID = errors.New("store: invalid id")
	// ErrDuplicateEntry: a user with that email already exists.
	ErrDuplicateEntry = errors.New("store: duplicate entry")
	// ErrUnknownUser: a message names a sender or recipient that does not exist.
	ErrUnknownUser = errors.New("store: unknown user")

	ErrNotConnected     = errors.New("store: not connected")
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrTransactionFailed: a multi-statement write was rolled back and
	// nothing changed.
	ErrTransactionFailed = errors.New("store: transaction failed")
)
