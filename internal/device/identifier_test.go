package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected DeviceID
		wantErr  bool
	}{
		{
			name:     "canonical UUID",
			input:    "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
			expected: "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		},
		{
			name:     "uppercase UUID is lowered",
			input:    "6BA7B810-9DAD-11D1-80B4-00C04FD430C8",
			expected: "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		},
		{
			name:     "braced UUID",
			input:    "{6ba7b810-9dad-11d1-80b4-00c04fd430c8}",
			expected: "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		},
		{
			name:     "compact UUID",
			input:    "6ba7b8109dad11d180b400c04fd430c8",
			expected: "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		},
		{
			name:     "MAC address",
			input:    "AA:BB:CC:DD:EE:FF",
			expected: "aa:bb:cc:dd:ee:ff",
		},
		{
			name:     "MAC address with dashes",
			input:    "aa-bb-cc-dd-ee-ff",
			expected: "aa:bb:cc:dd:ee:ff",
		},
		{
			name:     "surrounding whitespace",
			input:    "  aa:bb:cc:dd:ee:ff ",
			expected: "aa:bb:cc:dd:ee:ff",
		},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "not-a-device", wantErr: true},
		{name: "EUI-64 is rejected", input: "02:00:5e:10:00:00:00:01", wantErr: true},
		{name: "truncated UUID", input: "6ba7b810-9dad-11d1-80b4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseDeviceID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidIdentifier), "error MUST wrap ErrInvalidIdentifier")
				assert.True(t, id.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestParseDeviceIDs(t *testing.T) {
	ids, err := ParseDeviceIDs("AA:BB:CC:DD:EE:01", "aa:bb:cc:dd:ee:02")
	require.NoError(t, err)
	assert.Equal(t, []DeviceID{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"}, ids)

	_, err = ParseDeviceIDs("aa:bb:cc:dd:ee:01", "nope")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestMustParseDeviceIDPanics(t *testing.T) {
	assert.Panics(t, func() { MustParseDeviceID("bogus") })
	assert.NotPanics(t, func() { MustParseDeviceID("aa:bb:cc:dd:ee:ff") })
}

func TestMissingIDs(t *testing.T) {
	a, b, c := DeviceID("a"), DeviceID("b"), DeviceID("c")

	tests := []struct {
		name     string
		want     []DeviceID
		have     []DeviceID
		expected []DeviceID
	}{
		{name: "nothing requested", want: nil, have: []DeviceID{a}, expected: nil},
		{name: "empty known set misses everything", want: []DeviceID{a, b}, have: nil, expected: []DeviceID{a, b}},
		{name: "partial", want: []DeviceID{a, b, c}, have: []DeviceID{b}, expected: []DeviceID{a, c}},
		{name: "complete", want: []DeviceID{a, b}, have: []DeviceID{b, a}, expected: nil},
		{name: "duplicates collapse", want: []DeviceID{c, a, c}, have: nil, expected: []DeviceID{c, a}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MissingIDs(tt.want, tt.have))
		})
	}
}

func TestContainsAllIDs(t *testing.T) {
	a, b := DeviceID("a"), DeviceID("b")

	assert.False(t, ContainsAllIDs(nil, []DeviceID{a}), "empty known set MUST NOT satisfy a non-empty request")
	assert.False(t, ContainsAllIDs([]DeviceID{a}, []DeviceID{a, b}))
	assert.True(t, ContainsAllIDs([]DeviceID{b, a}, []DeviceID{a, b}))
}

func TestSortIDs(t *testing.T) {
	ids := []DeviceID{"c", "a", "b"}
	assert.Equal(t, []DeviceID{"a", "b", "c"}, SortIDs(ids))
}
