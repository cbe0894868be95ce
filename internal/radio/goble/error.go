package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blesm/internal/device"
)

// NormalizeError maps known go-ble error strings to structured ConnectionError types.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"), containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", device.ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", device.ErrNotInitialized, err)
	default:
		return err
	}
}

// hardwareError wraps a go-ble failure so consumers can tell it from local
// not-found results. Sentinel mapping is preserved through Unwrap.
func hardwareError(op string, id device.DeviceID, err error) error {
	if err == nil {
		return nil
	}
	return &device.HardwareError{Op: op, Device: id, Err: NormalizeError(err)}
}

// stateFromError derives the manager state implied by a device creation failure.
func stateFromError(err error) device.ManagerState {
	switch {
	case err == nil:
		return device.StatePoweredOn
	case errors.Is(err, device.ErrBluetoothOff):
		return device.StatePoweredOff
	case errors.Is(err, device.ErrUnsupported):
		return device.StateUnsupported
	case containsIgnoreCase(err.Error(), "unauthorized"), containsIgnoreCase(err.Error(), "permission"):
		return device.StateUnauthorized
	default:
		return device.StateUnknown
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
