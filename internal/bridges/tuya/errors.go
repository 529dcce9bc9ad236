package tuya

import "errors"

// Domain errors for the Tuya bridge package.
var (
	// ErrUnsupportedType is returned when a datapoint carries a type this
	// bridge does not handle (only boolean and integer are supported).
	ErrUnsupportedType = errors.New("tuya: unsupported datapoint type")

	// ErrInvalidDatapoint is returned when a datapoint payload is malformed.
	ErrInvalidDatapoint = errors.New("tuya: invalid datapoint")

	// ErrInvalidRange is returned when min_value equals max_value.
	ErrInvalidRange = errors.New("tuya: min_value and max_value must differ")

	// ErrLightNotFound is returned when a light id is not configured.
	ErrLightNotFound = errors.New("tuya: light not found")

	// ErrDeviceNotFound is returned when a device id is not configured.
	ErrDeviceNotFound = errors.New("tuya: device not found")

	// ErrInvalidCommand is returned for unknown commands.
	ErrInvalidCommand = errors.New("tuya: invalid command")

	// ErrInvalidParameters is returned when command parameters are missing
	// or out of range.
	ErrInvalidParameters = errors.New("tuya: invalid parameters")

	// ErrQueueFull is returned when the outbound queue cannot take more writes.
	ErrQueueFull = errors.New("tuya: outbound queue full")

	// ErrBridgeStopped is returned when the bridge is not running.
	ErrBridgeStopped = errors.New("tuya: bridge stopped")
)
