package goble

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blesm/internal/device"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), device.ErrTimeout},
		{"darwin powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), device.ErrBluetoothOff},
		{"linux powered off", errors.New("HCI: Powered Off"), device.ErrBluetoothOff},
		{"not connected", errors.New("device not connected"), device.ErrNotConnected},
		{"disconnected", errors.New("peripheral disconnected"), device.ErrNotConnected},
		{"already connected", errors.New("Device already connected"), device.ErrAlreadyConnected},
		{"not initialized", errors.New("connection is not initialized"), device.ErrNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), tt.err.Error(), "the original message MUST be preserved")
		})
	}

	t.Run("unknown errors pass through", func(t *testing.T) {
		err := errors.New("att: insufficient authentication")
		assert.Same(t, err, NormalizeError(err))
	})
	assert.NoError(t, NormalizeError(nil))
}

func TestHardwareError(t *testing.T) {
	assert.NoError(t, hardwareError("read", "aa:bb:cc:dd:ee:ff", nil))

	err := hardwareError("read", "aa:bb:cc:dd:ee:ff", errors.New("device not connected"))
	var hw *device.HardwareError
	require.ErrorAs(t, err, &hw)
	assert.Equal(t, "read", hw.Op)
	assert.ErrorIs(t, err, device.ErrNotConnected)
}

func TestStateFromError(t *testing.T) {
	assert.Equal(t, device.StatePoweredOn, stateFromError(nil))
	assert.Equal(t, device.StatePoweredOff, stateFromError(NormalizeError(errors.New("bluetooth is turned off"))))
	assert.Equal(t, device.StateUnsupported, stateFromError(fmt.Errorf("no adapter: %w", device.ErrUnsupported)))
	assert.Equal(t, device.StateUnauthorized, stateFromError(errors.New("hci0: permission denied")))
	assert.Equal(t, device.StateUnknown, stateFromError(errors.New("boom")))
}

func TestPropertyMapping(t *testing.T) {
	all := ble.CharBroadcast | ble.CharRead | ble.CharWriteNR | ble.CharWrite |
		ble.CharNotify | ble.CharIndicate | ble.CharSignedWrite | ble.CharExtended

	assert.Equal(t, all, propertiesToBLE(propertiesFromBLE(all)))
	assert.Equal(t, device.PropRead|device.PropNotify, propertiesFromBLE(ble.CharRead|ble.CharNotify))
}

func TestParseUUIDs(t *testing.T) {
	uuids, err := parseUUIDs(nil)
	require.NoError(t, err)
	assert.Nil(t, uuids, "an empty filter MUST stay nil so go-ble discovers everything")

	uuids, err = parseUUIDs([]string{"180D", "0000180f-0000-1000-8000-00805f9b34fb"})
	require.NoError(t, err)
	require.Len(t, uuids, 2)
	assert.Equal(t, "180d", uuidString(uuids[0]))
	assert.Equal(t, "180f", uuidString(uuids[1]))

	_, err = parseUUIDs([]string{"not-a-uuid"})
	assert.ErrorIs(t, err, device.ErrInvalidIdentifier)
}

func TestAdvertisesAny(t *testing.T) {
	p := device.Peripheral{Services: []string{"180d", "180f"}}
	assert.True(t, advertisesAny(p, nil))
	assert.True(t, advertisesAny(p, []string{"180a", "180F"}))
	assert.False(t, advertisesAny(p, []string{"180a"}))
}
