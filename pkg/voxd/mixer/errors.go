package mixer

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceBusy means another command holds the device link. Transient;
	// the caller may retry.
	ErrDeviceBusy = errors.New("device busy")

	// ErrDeviceUnavailable means the device session has reached its terminal
	// state; no command for this device can succeed again.
	ErrDeviceUnavailable = errors.New("device unavailable")
)

// UnsupportedEntityError rejects a command whose target entity is not in
// the attached device's capability set. Reported before any device traffic.
type UnsupportedEntityError struct {
	Entity string
}

func (e *UnsupportedEntityError) Error() string {
	return fmt.Sprintf("unsupported entity: %s", e.Entity)
}

// InvalidValueError rejects a command whose value falls outside the target
// entity's declared domain. Reported before any device traffic.
type InvalidValueError struct {
	Entity string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Entity, e.Reason)
}

// CommandFailedError means the device did not fully execute a command's
// request sequence; no state mutation was committed for it.
type CommandFailedError struct {
	Command string
	Err     error
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandFailedError) Unwrap() error {
	return e.Err
}
