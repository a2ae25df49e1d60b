package api

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/runger/focus/internal/now"
)

// Validation limits.
const (
	MaxUserIDLen = 128
	MaxReasonLen = 1024
	MaxTitleLen  = 512
	MaxKeyLen    = 256

	errExceedsMaxLengthFmt = "exceeds max length %d"
	errRequiredNonEmpty    = "is required and must be non-empty"
)

// ValidationError describes one rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func firstError(errs ...*ValidationError) *ValidationError {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func validateUserID(userID string) *ValidationError {
	if strings.TrimSpace(userID) == "" {
		return &ValidationError{Field: "user_id", Message: errRequiredNonEmpty}
	}
	if len(userID) > MaxUserIDLen {
		return &ValidationError{Field: "user_id", Message: fmt.Sprintf(errExceedsMaxLengthFmt, MaxUserIDLen)}
	}
	if strings.IndexFunc(userID, unicode.IsControl) >= 0 {
		return &ValidationError{Field: "user_id", Message: "must not contain control characters"}
	}
	return nil
}

func validateReason(reason string) *ValidationError {
	if len(reason) > MaxReasonLen {
		return &ValidationError{Field: "reason", Message: fmt.Sprintf(errExceedsMaxLengthFmt, MaxReasonLen)}
	}
	return nil
}

// validateKey checks a "<kind>:<id>" candidate key.
func validateKey(field, key string) *ValidationError {
	if key == "" {
		return &ValidationError{Field: field, Message: errRequiredNonEmpty}
	}
	if len(key) > MaxKeyLen {
		return &ValidationError{Field: field, Message: fmt.Sprintf(errExceedsMaxLengthFmt, MaxKeyLen)}
	}
	if _, _, ok := now.SplitCandidateKey(key); !ok {
		return &ValidationError{Field: field, Message: `must look like "<kind>:<id>"`}
	}
	return nil
}

func validateEvent(req *EventRequest) *ValidationError {
	if ve := validateUserID(req.UserID); ve != nil {
		return ve
	}
	if !req.Type.IsValid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown event type %q", req.Type)}
	}
	return nil
}

// validateItem checks and normalizes an item write.
func validateItem(req *ItemRequest) *ValidationError {
	if ve := validateUserID(req.UserID); ve != nil {
		return ve
	}
	if !req.Kind.IsValid() {
		return &ValidationError{Field: "kind", Message: "must be one of action, decision, blocker, session"}
	}
	req.Item.ID = now.ItemID(strings.TrimSpace(string(req.Item.ID)))
	if req.Item.ID == "" {
		return &ValidationError{Field: "item.id", Message: errRequiredNonEmpty}
	}
	req.Item.Title = strings.TrimSpace(req.Item.Title)
	if req.Item.Title == "" {
		return &ValidationError{Field: "item.title", Message: errRequiredNonEmpty}
	}
	if len(req.Item.Title) > MaxTitleLen {
		return &ValidationError{Field: "item.title", Message: fmt.Sprintf(errExceedsMaxLengthFmt, MaxTitleLen)}
	}
	return nil
}
