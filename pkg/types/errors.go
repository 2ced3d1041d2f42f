package types

import "errors"

// EventID errors
var (
	// ErrInvalidEventIDLength is returned when an event id string has the wrong length
	ErrInvalidEventIDLength = errors.New("invalid event id length")

	// ErrInvalidEventIDCharacter is returned when an event id string contains invalid characters
	ErrInvalidEventIDCharacter = errors.New("invalid event id character")
)

// Analytics event errors
var (
	// ErrUnknownEventType is returned when a record names an event type outside the closed set
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrInvalidMetadata is returned when a metadata value is not a scalar
	ErrInvalidMetadata = errors.New("metadata values must be scalars")

	// ErrMissingTimestamp is returned when a record has no timestamp
	ErrMissingTimestamp = errors.New("event timestamp is required")
)
