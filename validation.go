package mailroute

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rbaliyan/mailroute/store"
)

// MessageLimits holds all message validation limits.
type MessageLimits struct {
	MaxSubjectLength int
	MaxBodySize      int
	MaxMetadataSize  int
	MaxMetadataKeys  int
}

// MaxMetadataKeyLength is the maximum length of a metadata key.
const MaxMetadataKeyLength = 256

// DefaultLimits returns the default message limits.
func DefaultLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength: DefaultMaxSubjectLength,
		MaxBodySize:      DefaultMaxBodySize,
		MaxMetadataSize:  DefaultMaxMetadataSize,
		MaxMetadataKeys:  DefaultMaxMetadataKeys,
	}
}

// ValidateSubject checks length, UTF-8 validity and control characters.
// An empty subject is allowed.
func ValidateSubject(subject string, limits MessageLimits) error {
	if len(subject) > limits.MaxSubjectLength {
		return &ValidationError{
			Field:   "subject",
			Message: fmt.Sprintf("length %d exceeds max %d", len(subject), limits.MaxSubjectLength),
			Err:     ErrSubjectTooLong,
		}
	}
	if !utf8.ValidString(subject) {
		return &ValidationError{Field: "subject", Message: "invalid UTF-8", Err: ErrInvalidContent}
	}
	for _, r := range subject {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			return &ValidationError{
				Field:   "subject",
				Message: fmt.Sprintf("control character U+%04X", r),
				Err:     ErrInvalidContent,
			}
		}
	}
	return nil
}

// ValidateBody checks size, UTF-8 validity and null bytes.
func ValidateBody(body string, limits MessageLimits) error {
	if len(body) > limits.MaxBodySize {
		return &ValidationError{
			Field:   "body",
			Message: fmt.Sprintf("size %d exceeds max %d bytes", len(body), limits.MaxBodySize),
			Err:     ErrBodyTooLarge,
		}
	}
	if !utf8.ValidString(body) {
		return &ValidationError{Field: "body", Message: "invalid UTF-8", Err: ErrInvalidContent}
	}
	if strings.ContainsRune(body, '\x00') {
		return &ValidationError{Field: "body", Message: "contains null bytes", Err: ErrInvalidContent}
	}
	return nil
}

// ValidateMetadata checks key count, key length and encoded size.
// Metadata must be JSON-encodable since it is stored in the body envelope.
func ValidateMetadata(metadata map[string]any, limits MessageLimits) error {
	if metadata == nil {
		return nil
	}
	if len(metadata) > limits.MaxMetadataKeys {
		return &ValidationError{
			Field:   "metadata",
			Message: fmt.Sprintf("too many keys (%d > %d)", len(metadata), limits.MaxMetadataKeys),
			Err:     ErrInvalidMetadata,
		}
	}
	for key := range metadata {
		if key == "" {
			return &ValidationError{Field: "metadata", Message: "empty key not allowed", Err: ErrInvalidMetadata}
		}
		if len(key) > MaxMetadataKeyLength {
			truncated := key[:50]
			return &ValidationError{
				Field:   "metadata",
				Message: fmt.Sprintf("key '%s...' exceeds max length %d", truncated, MaxMetadataKeyLength),
				Err:     ErrMetadataKeyTooLong,
			}
		}
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return &ValidationError{Field: "metadata", Message: "not serializable: " + err.Error(), Err: ErrInvalidMetadata}
	}
	if len(data) > limits.MaxMetadataSize {
		return &ValidationError{
			Field:   "metadata",
			Message: fmt.Sprintf("size %d exceeds max %d bytes", len(data), limits.MaxMetadataSize),
			Err:     ErrMetadataTooLarge,
		}
	}
	return nil
}

// ValidateMessage performs full validation of a message before submission.
func ValidateMessage(msg *store.Message, limits MessageLimits) error {
	if msg == nil {
		return &ValidationError{Field: "message", Message: "message is required"}
	}
	if msg.SenderID <= 0 {
		return &ValidationError{Field: "sender_id", Message: "must be positive", Err: ErrInvalidSender}
	}
	if msg.RecipientID <= 0 {
		return &ValidationError{Field: "recipient_id", Message: "must be positive", Err: ErrInvalidRecipient}
	}
	if err := ValidateSubject(msg.Subject, limits); err != nil {
		return err
	}
	if err := ValidateBody(msg.Body, limits); err != nil {
		return err
	}
	return ValidateMetadata(msg.Metadata, limits)
}

// ValidateUser checks that a new account has a name, an email and a
// credential. Email format is not checked.
func ValidateUser(name, email, credential string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidUser)
	case strings.TrimSpace(email) == "":
		return fmt.Errorf("%w: email is required", ErrInvalidUser)
	case credential == "":
		return fmt.Errorf("%w: credential is required", ErrInvalidUser)
	}
	return nil
}
