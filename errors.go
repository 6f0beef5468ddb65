package mailroute

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rbaliyan/mailroute/retry"
	"github.com/rbaliyan/mailroute/store"
)

// Sentinel errors for the mailroute package.
// Use errors.Is() to check for these errors.
//
// Errors that have a store-level counterpart wrap it, so
// errors.Is(err, store.ErrNotFound) also matches ErrNotFound.
var (
	// ErrNotFound is returned when a user cannot be found.
	// Message reads report absence with a nil message instead.
	ErrNotFound = fmt.Errorf("mailroute: %w", store.ErrNotFound)

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("mailroute: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = fmt.Errorf("mailroute: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = fmt.Errorf("mailroute: %w", store.ErrAlreadyConnected)

	// ErrInvalidID is returned when a non-positive ID is provided.
	ErrInvalidID = fmt.Errorf("mailroute: %w", store.ErrInvalidID)

	// ErrDuplicateEntry is returned when a user email is already registered.
	ErrDuplicateEntry = fmt.Errorf("mailroute: %w", store.ErrDuplicateEntry)

	// ErrUnknownUser is returned when a message names a sender or recipient
	// that does not exist.
	ErrUnknownUser = fmt.Errorf("mailroute: %w", store.ErrUnknownUser)

	// ErrInvalidMessage is returned for message validation failures.
	ErrInvalidMessage = errors.New("mailroute: invalid message")

	// ErrSubjectTooLong is returned when subject exceeds maximum length.
	ErrSubjectTooLong = errors.New("mailroute: subject too long")

	// ErrBodyTooLarge is returned when body exceeds maximum size.
	ErrBodyTooLarge = errors.New("mailroute: body too large")

	// ErrInvalidContent is returned when message content contains invalid characters.
	ErrInvalidContent = errors.New("mailroute: invalid content")

	// ErrInvalidMetadata is returned when metadata validation fails.
	ErrInvalidMetadata = errors.New("mailroute: invalid metadata")

	// ErrMetadataKeyTooLong is returned when a metadata key exceeds the maximum length.
	ErrMetadataKeyTooLong = errors.New("mailroute: metadata key too long")

	// ErrMetadataTooLarge is returned when metadata exceeds the maximum size.
	ErrMetadataTooLarge = errors.New("mailroute: metadata too large")

	// ErrInvalidSender is returned when a message has no valid sender ID.
	ErrInvalidSender = errors.New("mailroute: invalid sender")

	// ErrInvalidRecipient is returned when a message has no valid recipient ID.
	ErrInvalidRecipient = errors.New("mailroute: invalid recipient")

	// ErrInvalidUser is returned when user fields fail validation.
	ErrInvalidUser = errors.New("mailroute: invalid user")

	// ErrInvalidCredentials is returned when authentication fails.
	// Unknown emails and wrong credentials are indistinguishable.
	ErrInvalidCredentials = errors.New("mailroute: invalid credentials")

	// ErrArchiveFailed is returned when purged messages could not be archived.
	ErrArchiveFailed = errors.New("mailroute: archive failed")
)

// translateStoreError maps store sentinels to their mailroute counterparts
// so callers can match either.
func translateStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrDuplicateEntry):
		return ErrDuplicateEntry
	case errors.Is(err, store.ErrUnknownUser):
		return ErrUnknownUser
	case errors.Is(err, store.ErrInvalidID):
		return ErrInvalidID
	case errors.Is(err, store.ErrNotConnected):
		return ErrNotConnected
	default:
		return err
	}
}

// IsRetryableError determines if an error is retryable.
// Returns true for temporary/transient errors, false for permanent errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	permanentErrors := []error{
		ErrNotFound,
		ErrInvalidID,
		ErrDuplicateEntry,
		ErrUnknownUser,
		ErrInvalidMessage,
		ErrSubjectTooLong,
		ErrBodyTooLarge,
		ErrInvalidContent,
		ErrInvalidMetadata,
		ErrMetadataKeyTooLong,
		ErrMetadataTooLarge,
		ErrInvalidSender,
		ErrInvalidRecipient,
		ErrInvalidUser,
		ErrInvalidCredentials,
		ErrStoreRequired,
		store.ErrNotFound,
		store.ErrInvalidID,
		store.ErrDuplicateEntry,
		store.ErrUnknownUser,
		retry.ErrNotRetryable,
	}
	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	// Connection and transaction failures, and anything unrecognised,
	// are assumed transient.
	return true
}

// ValidationError provides details about a validation failure.
type ValidationError struct {
	Field   string // The field that failed validation
	Message string // Human-readable error message
	Err     error  // The specific sentinel, when one applies
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mailroute: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidMessage, e.Err}
	}
	return []error{ErrInvalidMessage}
}

// EventPublishError is returned when event publishing fails but the operation succeeded.
// Check the MessageID field to identify which message this applies to.
type EventPublishError struct {
	Event     string // The event name (e.g., "MessageDelivered")
	MessageID int64  // The message ID the event was for, 0 when none
	Err       error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("mailroute: event %s publish failed for message %d: %v", e.Event, e.MessageID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and returns details.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}

// ArchiveError reports messages that could not be archived before removal.
// Those messages are left in place; a later reclaim retries them.
type ArchiveError struct {
	// Failed maps message IDs to their archive errors.
	Failed map[int64]error
}

func (e *ArchiveError) Error() string {
	ids := e.FailedIDs()
	var sb strings.Builder
	fmt.Fprintf(&sb, "mailroute: archive failed for %d messages", len(ids))
	const maxShown = 5
	for i, id := range ids {
		if i == maxShown {
			fmt.Fprintf(&sb, " ...and %d more", len(ids)-maxShown)
			break
		}
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", id)
	}
	return sb.String()
}

// Unwrap returns ErrArchiveFailed followed by the individual failures.
func (e *ArchiveError) Unwrap() []error {
	errs := []error{ErrArchiveFailed}
	for _, id := range e.FailedIDs() {
		errs = append(errs, e.Failed[id])
	}
	return errs
}

// FailedIDs returns the failed message IDs in ascending order.
func (e *ArchiveError) FailedIDs() []int64 {
	ids := make([]int64, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IsArchiveError checks if the error is an archive error and returns details.
func IsArchiveError(err error) (*ArchiveError, bool) {
	var ae *ArchiveError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
