package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is absent from a
// successfully completed discovery.
type NotFoundError struct {
	Resource string   // "peripheral", "service", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	// Peripherals are not nested: several ids are a list.
	if e.Resource == "peripheral" {
		quoted := make([]string, len(e.UUIDs))
		for i, u := range e.UUIDs {
			quoted[i] = fmt.Sprintf("%q", u)
		}
		return fmt.Sprintf("peripherals %s not found", strings.Join(quoted, ", "))
	}
	// For BLE hierarchy: characteristic is in service, descriptor is in characteristic
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[len(e.UUIDs)-2])
}

// Is allows errors.Is(err, &NotFoundError{Resource: "service"}) style matching by resource.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Resource == "" || t.Resource == e.Resource
}

// ErrNotFound matches any *NotFoundError via errors.Is.
var ErrNotFound = &NotFoundError{}

// HardwareError carries a failure reported by the radio stack on a completion event.
// The original error is preserved verbatim and available through Unwrap.
type HardwareError struct {
	Op     string
	Device DeviceID
	Err    error
}

func (e *HardwareError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Device, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected      ConnectionState = "not_connected"
	AlreadyConnected  ConnectionState = "already_connected"
	NotInitialized    ConnectionState = "not_initialized"
	BluetoothOff      ConnectionState = "bluetooth_off"
	UnknownPeripheral ConnectionState = "unknown_peripheral"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return strings.ReplaceAll(string(e.State), "_", " ")
	}
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(string(e.State), "_", " "), e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected      = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected  = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized    = &ConnectionError{State: NotInitialized}
	ErrBluetoothOff      = &ConnectionError{State: BluetoothOff, Msg: "bluetooth is turned off"}
	ErrUnknownPeripheral = &ConnectionError{State: UnknownPeripheral}
)

// Operation errors
var (
	// ErrTimeout is returned when a request deadline elapses before resolution.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled is the terminal result of a request the consumer no longer wants.
	// It is reported through Err() so that every request yields exactly one value,
	// but it is an outcome rather than a failure: check Outcome() to tell them apart.
	ErrCancelled = errors.New("request cancelled")

	// ErrInvalidIdentifier reports a structurally malformed device id or UUID.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	ErrUnsupported = errors.New("unsupported")
	ErrClosed      = errors.New("session closed")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// IsHardwareError reports whether err carries a radio-reported failure.
func IsHardwareError(err error) bool {
	var herr *HardwareError
	return errors.As(err, &herr)
}
