package velux

import "errors"

var (
	// ErrDuplicateID indicates two actuators slugified to the same device
	// ID. The first registration wins; the later one is rejected.
	ErrDuplicateID = errors.New("duplicate device id")

	// ErrUnknownDevice indicates a registry lookup for an ID that was
	// never registered.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrInvalidCommand indicates a command payload that is neither a
	// known verb nor a position in range.
	ErrInvalidCommand = errors.New("invalid command payload")

	// ErrDispatchTimeout indicates a gateway operation exceeded the
	// dispatcher's execution timeout.
	ErrDispatchTimeout = errors.New("gateway operation timed out")

	// ErrRetriesExhausted indicates the broker connection failed on every
	// allowed attempt.
	ErrRetriesExhausted = errors.New("connection retries exhausted")
)
