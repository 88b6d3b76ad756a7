package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrMediaPathRequired indicates a required media path field is empty.
	ErrMediaPathRequired = errors.New("media_path is required")

	// ErrSessionIDRequired indicates a required session ID field is zero.
	ErrSessionIDRequired = errors.New("session_id is required")

	// ErrProtocolRequired indicates a required protocol field is empty.
	ErrProtocolRequired = errors.New("protocol is required")

	// ErrInvalidProtocol indicates an unknown delivery protocol.
	ErrInvalidProtocol = errors.New("invalid protocol: must be 'direct', 'hls' or 'dash'")

	// ErrProfileRequired indicates a required profile field is empty.
	ErrProfileRequired = errors.New("profile is required")

	// ErrSessionRecordNotFound indicates a session record was not found.
	ErrSessionRecordNotFound = errors.New("session record not found")

	// ErrJobRecordNotFound indicates a transcode job record was not found.
	ErrJobRecordNotFound = errors.New("transcode job record not found")
)
