package entity

import "errors"

// Domain errors for the entity package.
var (
	// ErrBindingNotFound is returned when a binding name does not exist.
	ErrBindingNotFound = errors.New("entity: binding not found")

	// ErrInvalidBinding is returned when a binding has no name or entity id.
	ErrInvalidBinding = errors.New("entity: invalid binding")
)
