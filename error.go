package orbit

import (
	"errors"
	"fmt"
)

// ErrorCode classifies orbit errors so callers can branch on failure kind
// without string matching.
type ErrorCode int

const (
	// Unknown is the zero value, kept for uncategorized failures.
	Unknown ErrorCode = iota
	// RecordNotFound signals a strict-mode update/remove of an absent record.
	RecordNotFound
	// RelationshipNotFound signals an operation naming a relationship the
	// schema does not declare for the record's model.
	RelationshipNotFound
	// StoreUnavailable signals the backing store is closed, not yet upgraded,
	// or otherwise unable to serve.
	StoreUnavailable
	// SchemaMismatch signals a missing collection or index; an Upgrade is
	// needed before the store can serve the request.
	SchemaMismatch
	// ActionProcessingError wraps any error raised by an action's process
	// function while the queue was draining.
	ActionProcessingError
)

// Orbit custom error. Code classifies the failure, Err carries the cause and
// UserData optional context such as the offending record identity.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	if e.UserData != nil {
		return fmt.Sprintf("error code: %d, user data: %v, details: %v", e.Code, e.UserData, e.Err)
	}
	return fmt.Sprintf("error code: %d, details: %v", e.Code, e.Err)
}

// Unwrap returns the cause so errors.Is/errors.As reach through the wrapper.
func (e Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode carried by err, or Unknown if err carries none.
func CodeOf(err error) ErrorCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
