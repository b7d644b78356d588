package telemetry

import "errors"

// Domain errors for the telemetry package.
var (
	// ErrNoEntity is returned when a read or write has no entity to address.
	ErrNoEntity = errors.New("telemetry: no entity")

	// ErrNoValue is returned when a response held no value for the key.
	ErrNoValue = errors.New("telemetry: no value")

	// ErrReadFailed is returned when the backend read could not complete.
	ErrReadFailed = errors.New("telemetry: read failed")

	// ErrWriteFailed is returned when the backend write could not complete.
	ErrWriteFailed = errors.New("telemetry: write failed")

	// ErrNoToken is returned by a TokenSource with no usable credential.
	ErrNoToken = errors.New("telemetry: no usable token")
)
