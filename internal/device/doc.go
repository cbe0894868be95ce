// Package device holds the data model shared by the BLE session manager:
// device identifiers, GATT attribute descriptions, manager state, and the
// error taxonomy surfaced by correlated requests.
//
// The package has no behaviour of its own beyond parsing, normalization and
// error matching:
//   - DeviceID is the only correlation key; peripherals are equal when their IDs are
//   - UUIDs are normalized to the compact lower-case form (16-bit SIG UUIDs are shortened)
//   - hardware failures, local not-found results, timeouts and cancellation are
//     distinct error values that callers match with errors.Is / errors.As
package device
