package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError(t *testing.T) {
	svc := &NotFoundError{Resource: "service", UUIDs: []string{"180d"}}
	chr := &NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a37"}}
	dsc := &NotFoundError{Resource: "descriptor", UUIDs: []string{"180d", "2a37", "2902"}}

	assert.Equal(t, `service "180d" not found`, svc.Error())
	assert.Equal(t, `characteristic "2a37" not found in service "180d"`, chr.Error())
	assert.Equal(t, `descriptor "2902" not found in characteristic "2a37"`, dsc.Error())
	assert.Equal(t, "peripheral not found", (&NotFoundError{Resource: "peripheral"}).Error())
	assert.Equal(t, `peripherals "aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02" not found`,
		(&NotFoundError{Resource: "peripheral", UUIDs: []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"}}).Error(),
		"several missing peripherals MUST be listed, not read as a hierarchy")

	wrapped := fmt.Errorf("discover: %w", chr)
	assert.ErrorIs(t, wrapped, ErrNotFound, "any NotFoundError MUST match ErrNotFound")
	assert.ErrorIs(t, wrapped, &NotFoundError{Resource: "characteristic"})
	assert.NotErrorIs(t, wrapped, &NotFoundError{Resource: "service"}, "resource MUST discriminate")
}

func TestHardwareErrorKeepsCause(t *testing.T) {
	cause := errors.New("att: insufficient authentication")
	err := error(&HardwareError{Op: "read", Device: "aa:bb:cc:dd:ee:ff", Err: cause})

	assert.ErrorIs(t, err, cause, "radio error MUST be preserved verbatim")
	assert.True(t, IsHardwareError(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsHardwareError(&NotFoundError{Resource: "service"}), "not-found MUST be distinct from hardware failures")
	assert.Contains(t, err.Error(), "read aa:bb:cc:dd:ee:ff failed")
}

func TestConnectionError(t *testing.T) {
	err := fmt.Errorf("connect: %w", &ConnectionError{State: NotConnected, Msg: "link dropped"})

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NotErrorIs(t, err, ErrAlreadyConnected)
	assert.True(t, IsConnectionState(err, NotConnected))
	assert.False(t, IsConnectionState(ErrTimeout, NotConnected))
	assert.Equal(t, "bluetooth off: bluetooth is turned off", ErrBluetoothOff.Error())
	assert.Equal(t, "unknown peripheral", ErrUnknownPeripheral.Error())

	var nilErr *ConnectionError
	assert.Equal(t, "<nil>", nilErr.Error())
}

func TestTimeoutAndCancelAreDistinct(t *testing.T) {
	assert.NotErrorIs(t, ErrTimeout, ErrCancelled)
	assert.NotErrorIs(t, ErrCancelled, ErrTimeout)
	assert.False(t, IsHardwareError(ErrCancelled))
}
