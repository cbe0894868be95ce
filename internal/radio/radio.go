// Package radio defines the collaborator the session manager drives: a BLE
// stack that accepts fire-and-forget commands and reports their completion as
// events on a Sink.
//
// A command's error return covers only synchronous rejection (the radio is
// off, the peripheral or attribute handle is unknown). Everything the
// hardware reports later arrives as an eventbus.Event, with failures carried
// in Event.Err().
package radio

import (
	"time"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
)

// Sink receives every callback a radio produces. *eventbus.Bus implements it.
type Sink interface {
	Publish(eventbus.Event)
}

// ScanOptions configures an active scan.
type ScanOptions struct {
	// Services restricts results to peripherals advertising any of these UUIDs.
	Services []string
	// AllowDuplicates reports every advertisement instead of the first per peripheral.
	AllowDuplicates bool
}

// ConnectOptions configures a connection attempt.
type ConnectOptions struct {
	// Timeout bounds the link establishment at the radio level. Zero waits
	// until the attempt is cancelled.
	Timeout time.Duration
}

// CharacteristicDefinition describes a characteristic published in the
// peripheral role.
type CharacteristicDefinition struct {
	UUID       string            `json:"uuid" yaml:"uuid"`
	Properties device.Properties `json:"properties" yaml:"properties"`
	// Value is served to reads. A characteristic with a value and no write or
	// notify property is static.
	Value []byte `json:"value,omitempty" yaml:"value,omitempty"`
}

// ServiceDefinition describes a service published in the peripheral role.
type ServiceDefinition struct {
	UUID            string                     `json:"uuid" yaml:"uuid"`
	Primary         bool                       `json:"primary" yaml:"primary"`
	Characteristics []CharacteristicDefinition `json:"characteristics" yaml:"characteristics"`
}

// Central is the central-role half of the radio.
type Central interface {
	State() device.ManagerState

	Scan(opts ScanOptions) error
	StopScan() error

	Connect(id device.DeviceID, opts ConnectOptions) error
	CancelConnection(id device.DeviceID) error

	// RetrievePeripherals answers synchronously from the stack's own memory,
	// in the order of ids, skipping unknown ones.
	RetrievePeripherals(ids []device.DeviceID) ([]device.Peripheral, error)
	// RetrieveConnectedPeripherals lists peripherals connected to the system
	// that expose every service in services.
	RetrieveConnectedPeripherals(services []string) ([]device.Peripheral, error)

	DiscoverServices(id device.DeviceID, filter []string) error
	DiscoverIncludedServices(id device.DeviceID, service string, filter []string) error
	DiscoverCharacteristics(id device.DeviceID, service string, filter []string) error
	DiscoverDescriptors(id device.DeviceID, service, characteristic string) error

	ReadCharacteristic(id device.DeviceID, service, characteristic string) error
	WriteCharacteristic(id device.DeviceID, service, characteristic string, data []byte, wt device.WriteType) error
	ReadDescriptor(id device.DeviceID, service, characteristic, descriptor string) error
	WriteDescriptor(id device.DeviceID, service, characteristic, descriptor string, data []byte) error
	SetNotify(id device.DeviceID, service, characteristic string, enabled bool) error
	ReadRSSI(id device.DeviceID) error
}

// PeripheralManager is the peripheral-role half of the radio.
type PeripheralManager interface {
	PeripheralManagerState() device.ManagerState

	StartAdvertising(name string, services []string) error
	StopAdvertising() error
	AddService(def ServiceDefinition) error
	RemoveAllServices() error
	// UpdateValue sets a local characteristic value and notifies subscribed centrals.
	UpdateValue(service, characteristic string, value []byte) error
}

// Radio is a complete BLE stack.
type Radio interface {
	Central
	PeripheralManager

	// Start powers the radio up and publishes its initial manager states.
	Start() error
	Close() error
}

// Factory builds a radio that publishes into sink.
type Factory func(sink Sink) (Radio, error)
