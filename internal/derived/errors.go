package derived

import "errors"

var (
	// ErrUnknownInput is returned by a computer that needs an input which
	// resolved to nothing or is not numeric.
	ErrUnknownInput = errors.New("derived: unknown input")

	// ErrUnknownOperation is returned by Builtin for an unsupported name.
	ErrUnknownOperation = errors.New("derived: unknown operation")

	// ErrDivideByZero is returned by the ratio computer.
	ErrDivideByZero = errors.New("derived: division by zero")

	// ErrInvalidSpec is returned for a spec that cannot run.
	ErrInvalidSpec = errors.New("derived: invalid spec")

	// ErrBarrierTimeout is returned when a tick's inputs did not all
	// answer within the tick.
	ErrBarrierTimeout = errors.New("derived: inputs did not answer in time")
)
