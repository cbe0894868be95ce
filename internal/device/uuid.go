package device

import (
	"fmt"
	"strings"
)

// sigBaseSuffix is the Bluetooth SIG base UUID (0000xxxx-0000-1000-8000-00805f9b34fb)
// without its 16-bit slot, in compact form.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Handles both standard UUID format (with dashes) and already normalized format (without dashes).
// Also strips 0x prefix and braces if present (e.g., "0x2902" -> "2902").
// For full 128-bit UUIDs in Bluetooth SIG base format (0000xxxx-0000-1000-8000-00805f9b34fb),
// extracts the 16-bit short form (xxxx).
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(strings.TrimSuffix(u, "}"), "{")
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format.
func NormalizeUUIDs(uuids []string) []string {
	if uuids == nil {
		return nil
	}
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs by themselves.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or an error wrapping ErrInvalidIdentifier.
// Accepts one or more UUIDs as variadic arguments.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("%w: at least one UUID is required", ErrInvalidIdentifier)
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		if uuid == "" {
			return nil, fmt.Errorf("%w: UUID at index %d cannot be empty", ErrInvalidIdentifier, i)
		}
		normalized := NormalizeUUID(uuid)
		if !isWellFormedUUID(normalized) {
			return nil, fmt.Errorf("%w: invalid UUID format at index %d: %s", ErrInvalidIdentifier, i, uuid)
		}
		result = append(result, normalized)
	}
	return result, nil
}

// ContainsUUID reports whether uuids holds u, comparing normalized forms.
func ContainsUUID(uuids []string, u string) bool {
	n := NormalizeUUID(u)
	for _, v := range uuids {
		if NormalizeUUID(v) == n {
			return true
		}
	}
	return false
}

// ContainsAllUUIDs reports whether every UUID of want is present in have.
// An empty want is never satisfied: asking for "everything" cannot be answered
// from a cache.
func ContainsAllUUIDs(have, want []string) bool {
	if len(want) == 0 {
		return false
	}
	for _, w := range want {
		if !ContainsUUID(have, w) {
			return false
		}
	}
	return true
}

func isWellFormedUUID(u string) bool {
	switch len(u) {
	case 4, 8, 32:
	default:
		return false
	}
	for _, r := range u {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
