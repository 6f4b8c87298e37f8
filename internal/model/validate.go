package model

import (
	"fmt"
	"strings"
)

// Limits enforced on user-supplied content.
const (
	MaxMessageBodyLength = 4000
	MaxSummaryLength     = 2000
	MaxCartQuantity      = 999
	MaxCartNoteLength    = 500
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

// ValidateMessage checks a Message for constraint violations.
func ValidateMessage(m *Message) error {
	var ve ValidationError

	if m.ConversationID == "" {
		ve.add("conversation_id", "is required")
	}
	if m.SenderID == "" {
		ve.add("sender_id", "is required")
	}
	body := strings.TrimSpace(m.Body)
	if body == "" {
		ve.add("body", "is required")
	} else if len([]rune(body)) > MaxMessageBodyLength {
		ve.add("body", fmt.Sprintf("must be %d characters or fewer", MaxMessageBodyLength))
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateCartItem checks a CartItem for constraint violations.
func ValidateCartItem(c *CartItem) error {
	var ve ValidationError

	if c.OwnerID == "" {
		ve.add("owner_id", "is required")
	}
	if strings.TrimSpace(c.ListingID) == "" {
		ve.add("listing_id", "is required")
	}
	if c.Quantity < 1 || c.Quantity > MaxCartQuantity {
		ve.add("quantity", fmt.Sprintf("must be between 1 and %d, got %d", MaxCartQuantity, c.Quantity))
	}
	if len([]rune(c.Note)) > MaxCartNoteLength {
		ve.add("note", fmt.Sprintf("must be %d characters or fewer", MaxCartNoteLength))
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateSummary checks a support request summary.
func ValidateSummary(summary string) error {
	var ve ValidationError
	s := strings.TrimSpace(summary)
	if s == "" {
		ve.add("summary", "is required")
	} else if len([]rune(s)) > MaxSummaryLength {
		ve.add("summary", fmt.Sprintf("must be %d characters or fewer", MaxSummaryLength))
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}
