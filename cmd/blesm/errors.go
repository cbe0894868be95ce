package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blesm/internal/device"
)

// ErrConnectionLost reports a link that dropped while a command was using it,
// as opposed to device.ErrNotConnected for a link that was never there.
var ErrConnectionLost = errors.New("connection lost")

// FormatUserError turns the session error taxonomy into a one-line message
// with a hint where one helps.
func FormatUserError(err error) string {
	var (
		notFound *device.NotFoundError
		hw       *device.HardwareError
	)
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again"
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v (is this machine's Bluetooth adapter available to blesm?)", err)
	case errors.Is(err, device.ErrInvalidIdentifier):
		return fmt.Sprintf("%v. Device ids are UUIDs or MAC addresses; attribute UUIDs are 16, 32 or 128 bit hex", err)
	case errors.As(err, &notFound):
		return fmt.Sprintf("%v (check the identifier and that the peripheral is advertising)", notFound)
	case errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("%v: the peripheral went away during the operation", err)
	case errors.Is(err, device.ErrNotConnected):
		return fmt.Sprintf("%v: peripheral is not connected", err)
	case errors.Is(err, device.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%v: the peripheral did not answer in time (is it in range?)", err)
	case errors.As(err, &hw):
		return fmt.Sprintf("radio reported an error: %v", hw)
	default:
		return err.Error()
	}
}
