package device

import (
	"fmt"
	"net"
	"sort"
	"strings"

	uuid "github.com/satori/go.uuid"
)

// DeviceID is the opaque, session-stable identifier of a peripheral and the
// correlation key for every request. On CoreBluetooth it is a UUID; on HCI
// stacks it is the peripheral's MAC address. Both forms are kept lower-case.
//
//nolint:revive // DeviceID reads better than device.ID at call sites
type DeviceID string

// ParseDeviceID validates and canonicalizes s. Accepted forms are an RFC 4122
// UUID (any case, with or without braces/dashes) and a 48-bit MAC address.
func ParseDeviceID(s string) (DeviceID, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", fmt.Errorf("%w: device id is empty", ErrInvalidIdentifier)
	}

	if u, err := uuid.FromString(trimmed); err == nil {
		return DeviceID(u.String()), nil
	}

	if hw, err := net.ParseMAC(trimmed); err == nil && len(hw) == 6 {
		return DeviceID(hw.String()), nil
	}

	return "", fmt.Errorf("%w: %q is neither a UUID nor a MAC address", ErrInvalidIdentifier, s)
}

// MustParseDeviceID is ParseDeviceID for constants and tests. It panics on malformed input.
func MustParseDeviceID(s string) DeviceID {
	id, err := ParseDeviceID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// ParseDeviceIDs parses every entry of ids, failing on the first malformed one.
func ParseDeviceIDs(ids ...string) ([]DeviceID, error) {
	result := make([]DeviceID, 0, len(ids))
	for _, s := range ids {
		id, err := ParseDeviceID(s)
		if err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, nil
}

func (id DeviceID) String() string {
	return string(id)
}

// IsZero reports whether id is the empty identifier.
func (id DeviceID) IsZero() bool {
	return id == ""
}

// MissingIDs returns the members of want that are absent from have, preserving
// the order of want and dropping duplicates.
func MissingIDs(want []DeviceID, have []DeviceID) []DeviceID {
	present := make(map[DeviceID]struct{}, len(have))
	for _, id := range have {
		present[id] = struct{}{}
	}
	var missing []DeviceID
	for _, id := range want {
		if _, ok := present[id]; ok {
			continue
		}
		present[id] = struct{}{}
		missing = append(missing, id)
	}
	return missing
}

// ContainsAllIDs reports whether have covers every id in want.
// An empty have never covers a non-empty want.
func ContainsAllIDs(have []DeviceID, want []DeviceID) bool {
	return len(MissingIDs(want, have)) == 0
}

// SortIDs sorts ids in place and returns them.
func SortIDs(ids []DeviceID) []DeviceID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
