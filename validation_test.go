package mailroute

import (
	"errors"
	"strings"
	"testing"

	"github.com/rbaliyan/mailroute/store"
)

func TestValidateSubject(t *testing.T) {
	limits := DefaultLimits()
	tests := []struct {
		name    string
		subject string
		want    error
	}{
		{"empty", "", nil},
		{"plain", "Hola Bob", nil},
		{"unicode", "Reunión ¿mañana?", nil},
		{"folded header", "line one\r\n\tline two", nil},
		{"at limit", strings.Repeat("a", limits.MaxSubjectLength), nil},
		{"too long", strings.Repeat("a", limits.MaxSubjectLength+1), ErrSubjectTooLong},
		{"invalid utf8", "bad \xff", ErrInvalidContent},
		{"control char", "bell\x07", ErrInvalidContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubject(tt.subject, limits)
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateBody(t *testing.T) {
	limits := MessageLimits{MaxBodySize: 8}
	if err := ValidateBody("", limits); err != nil {
		t.Errorf("empty body: %v", err)
	}
	if err := ValidateBody("12345678", limits); err != nil {
		t.Errorf("body at limit: %v", err)
	}
	if err := ValidateBody("123456789", limits); !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("expected ErrBodyTooLarge, got %v", err)
	}
	if err := ValidateBody("a\x00", limits); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("expected ErrInvalidContent, got %v", err)
	}
	if err := ValidateBody("\xc3", limits); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("expected ErrInvalidContent for invalid UTF-8, got %v", err)
	}
}

func TestValidateMetadata(t *testing.T) {
	limits := MessageLimits{MaxMetadataKeys: 2, MaxMetadataSize: 64}

	if err := ValidateMetadata(nil, limits); err != nil {
		t.Errorf("nil metadata: %v", err)
	}
	if err := ValidateMetadata(map[string]any{"a": 1, "b": "x"}, limits); err != nil {
		t.Errorf("valid metadata: %v", err)
	}
	if err := ValidateMetadata(map[string]any{"a": 1, "b": 2, "c": 3}, limits); !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("too many keys: expected ErrInvalidMetadata, got %v", err)
	}
	if err := ValidateMetadata(map[string]any{strings.Repeat("k", MaxMetadataKeyLength+1): 1}, limits); !errors.Is(err, ErrMetadataKeyTooLong) {
		t.Errorf("long key: expected ErrMetadataKeyTooLong, got %v", err)
	}
	if err := ValidateMetadata(map[string]any{"a": strings.Repeat("v", 100)}, limits); !errors.Is(err, ErrMetadataTooLarge) {
		t.Errorf("large value: expected ErrMetadataTooLarge, got %v", err)
	}
	if err := ValidateMetadata(map[string]any{"ch": make(chan int)}, limits); !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("unencodable value: expected ErrInvalidMetadata, got %v", err)
	}
}

func TestValidateMessage(t *testing.T) {
	limits := DefaultLimits()
	ok := &store.Message{SenderID: 1, RecipientID: 2, Subject: "Hola", Body: "hola"}
	if err := ValidateMessage(ok, limits); err != nil {
		t.Errorf("valid message: %v", err)
	}

	var ve *ValidationError
	err := ValidateMessage(&store.Message{SenderID: 1, RecipientID: -2}, limits)
	if !errors.As(err, &ve) || ve.Field != "recipient_id" {
		t.Errorf("expected recipient_id validation error, got %v", err)
	}

	// A sender may write to themselves.
	self := &store.Message{SenderID: 3, RecipientID: 3, Body: "nota"}
	if err := ValidateMessage(self, limits); err != nil {
		t.Errorf("self-addressed message: %v", err)
	}
}

func TestValidateUser(t *testing.T) {
	if err := ValidateUser("Ana", "ana@example.com", "1234"); err != nil {
		t.Errorf("valid user: %v", err)
	}
	// Email format is not checked.
	if err := ValidateUser("Ana", "not-an-email", "1234"); err != nil {
		t.Errorf("email format should not be checked: %v", err)
	}
	if err := ValidateUser(" ", "ana@example.com", "1234"); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("expected ErrInvalidUser, got %v", err)
	}
}
