package klf200

import "errors"

var (
	// ErrNotConnected indicates an operation was attempted without an
	// established gateway connection.
	ErrNotConnected = errors.New("gateway not connected")

	// ErrConnectionFailed indicates the TCP/TLS connection to the gateway
	// could not be established.
	ErrConnectionFailed = errors.New("gateway connection failed")

	// ErrAuthenticationFailed indicates the gateway rejected the password.
	ErrAuthenticationFailed = errors.New("gateway authentication failed")

	// ErrCommandRejected indicates the gateway refused a command request.
	ErrCommandRejected = errors.New("gateway rejected command")

	// ErrFrameInvalid indicates a received frame failed structural or
	// checksum validation.
	ErrFrameInvalid = errors.New("invalid frame")

	// ErrFrameTooLarge indicates a frame payload exceeds the protocol limit.
	ErrFrameTooLarge = errors.New("frame payload too large")

	// ErrTimeout indicates the gateway did not confirm a request in time.
	ErrTimeout = errors.New("gateway request timed out")

	// ErrUnknownNode indicates a node ID that is not in the gateway's table.
	ErrUnknownNode = errors.New("unknown node")
)
