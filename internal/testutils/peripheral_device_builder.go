//go:build test

package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	blelib "github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"

	"github.com/srg/blesm/internal/device"
)

// createMockUUID creates a ble.UUID from a string for testing
func createMockUUID(name string) blelib.UUID {
	// Parse as proper UUID - will panic if invalid, which is fine for tests
	return blelib.MustParse(device.NormalizeUUID(name))
}

// DescriptorConfig represents a BLE descriptor configuration for mocking
type DescriptorConfig struct {
	UUID  string `json:"uuid"`
	Value []byte `json:"value,omitempty"`
}

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID        string             `json:"uuid"`
	Properties  string             `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value       []byte             `json:"value,omitempty"`
	Descriptors []DescriptorConfig `json:"descriptors,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a mocked ble.Device whose Dial yields a
// client serving the configured GATT profile.
type PeripheralDeviceBuilder struct {
	profile            DeviceProfileConfig
	scanAdvertisements []blelib.Advertisement
	dialErr            error
	dialBlocks         bool

	mu       sync.Mutex
	clients  []*MockClient
	handlers map[string]blelib.NotificationHandler
	written  map[string][]byte
}

// NewPeripheralDeviceBuilder creates a new peripheral device builder
func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		profile:  DeviceProfileConfig{Services: []ServiceConfig{}},
		handlers: make(map[string]blelib.NotificationHandler),
		written:  make(map[string][]byte),
	}
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string, value []byte, descriptors ...string) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	char := CharacteristicConfig{UUID: uuid, Properties: properties, Value: value}
	for _, d := range descriptors {
		char.Descriptors = append(char.Descriptors, DescriptorConfig{UUID: d})
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, char)
	return b
}

// WithDialError makes every Dial fail with err.
func (b *PeripheralDeviceBuilder) WithDialError(err error) *PeripheralDeviceBuilder {
	b.dialErr = err
	return b
}

// WithBlockingDial makes Dial wait until its context ends, like dialing a
// peripheral that is out of range.
func (b *PeripheralDeviceBuilder) WithBlockingDial() *PeripheralDeviceBuilder {
	b.dialBlocks = true
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// WithScanAdvertisements returns an AdvertisementArrayBuilder that will return this PeripheralDeviceBuilder on Build()
func (b *PeripheralDeviceBuilder) WithScanAdvertisements() *AdvertisementArrayBuilder[*PeripheralDeviceBuilder] {
	arrayBuilder := NewAdvertisementArrayBuilder[*PeripheralDeviceBuilder]()
	arrayBuilder.parent = b
	arrayBuilder.buildFunc = func(parent *PeripheralDeviceBuilder, ads []blelib.Advertisement) *PeripheralDeviceBuilder {
		parent.scanAdvertisements = append(parent.scanAdvertisements, ads...)
		return parent
	}
	return arrayBuilder
}

// parseCharacteristicProperties converts a property string to ble.Property flags.
// go-ble uses the GATT bit layout, so the device.Properties parser applies.
func parseCharacteristicProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify // default
	}
	return blelib.Property(device.ParseProperties(props))
}

func (b *PeripheralDeviceBuilder) buildProfile() []*blelib.Service {
	var bleServices []*blelib.Service
	for _, svcConfig := range b.profile.Services {
		bleService := &blelib.Service{UUID: createMockUUID(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			bleChar := &blelib.Characteristic{
				UUID:     createMockUUID(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
				Value:    charConfig.Value,
			}
			for _, d := range charConfig.Descriptors {
				bleChar.Descriptors = append(bleChar.Descriptors, &blelib.Descriptor{UUID: createMockUUID(d.UUID), Value: d.Value})
			}
			bleService.Characteristics = append(bleService.Characteristics, bleChar)
		}
		bleServices = append(bleServices, bleService)
	}
	return bleServices
}

func matchesFilter(filter []blelib.UUID, u blelib.UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f.Equal(u) {
			return true
		}
	}
	return false
}

func (b *PeripheralDeviceBuilder) newClient() *MockClient {
	services := b.buildProfile()
	client := NewMockClient()

	client.On("DiscoverServices", mock.Anything).Return(func(filter []blelib.UUID) ([]*blelib.Service, error) {
		var found []*blelib.Service
		for _, s := range services {
			if matchesFilter(filter, s.UUID) {
				found = append(found, s)
			}
		}
		return found, nil
	}).Maybe()
	client.On("DiscoverIncludedServices", mock.Anything, mock.Anything).Return([]*blelib.Service{}, nil).Maybe()
	client.On("DiscoverCharacteristics", mock.Anything, mock.Anything).Return(func(filter []blelib.UUID, s *blelib.Service) ([]*blelib.Characteristic, error) {
		var found []*blelib.Characteristic
		for _, c := range s.Characteristics {
			if matchesFilter(filter, c.UUID) {
				found = append(found, c)
			}
		}
		return found, nil
	}).Maybe()
	client.On("CancelConnection").Return(nil).Run(func(mock.Arguments) { client.SimulateDisconnect() }).Maybe()
	client.On("ReadRSSI").Return(-42).Maybe()

	for _, svc := range services {
		for _, char := range svc.Characteristics {
			char := char
			key := device.NormalizeUUID(svc.UUID.String()) + "/" + device.NormalizeUUID(char.UUID.String())

			client.On("DiscoverDescriptors", mock.Anything, char).Return(char.Descriptors, nil).Maybe()
			client.On("Subscribe", char, mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
				b.mu.Lock()
				b.handlers[key] = args.Get(2).(blelib.NotificationHandler)
				b.mu.Unlock()
			}).Maybe()
			client.On("Unsubscribe", char, mock.Anything).Return(nil).Run(func(mock.Arguments) {
				b.mu.Lock()
				delete(b.handlers, key)
				b.mu.Unlock()
			}).Maybe()
			client.On("WriteCharacteristic", char, mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
				b.mu.Lock()
				b.written[key] = args.Get(1).([]byte)
				b.mu.Unlock()
			}).Maybe()

			// Return value only if characteristic supports reading
			if char.Property&blelib.CharRead != 0 {
				client.On("ReadCharacteristic", char).Return(char.Value, nil).Maybe()
			} else {
				client.On("ReadCharacteristic", char).Return(nil, fmt.Errorf("characteristic does not support read")).Maybe()
			}

			for _, d := range char.Descriptors {
				client.On("ReadDescriptor", d).Return(d.Value, nil).Maybe()
				client.On("WriteDescriptor", d, mock.Anything).Return(nil).Maybe()
			}
		}
	}

	b.mu.Lock()
	b.clients = append(b.clients, client)
	b.mu.Unlock()
	return client
}

// Build creates a mocked ble.Device with the configured profile
func (b *PeripheralDeviceBuilder) Build() *MockDevice {
	mockDevice := &MockDevice{}

	mockDevice.On("Dial", mock.Anything, mock.Anything).Return(func(ctx context.Context, _ blelib.Addr) (blelib.Client, error) {
		if b.dialErr != nil {
			return nil, b.dialErr
		}
		if b.dialBlocks {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return b.newClient(), nil
	}).Maybe()

	// Simulate discovering the configured advertisements, then scan until cancelled
	mockDevice.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		handler := args.Get(2).(blelib.AdvHandler)
		for _, adv := range b.scanAdvertisements {
			handler(adv)
		}
		<-ctx.Done()
	}).Maybe()

	mockDevice.On("AddService", mock.Anything).Return(nil).Maybe()
	mockDevice.On("RemoveAllServices").Return(nil).Maybe()
	mockDevice.On("AdvertiseNameAndServices", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Maybe()
	mockDevice.On("Stop").Return(nil).Maybe()

	return mockDevice
}

// LastClient returns the client handed out by the most recent Dial.
func (b *PeripheralDeviceBuilder) LastClient() *MockClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.clients) == 0 {
		return nil
	}
	return b.clients[len(b.clients)-1]
}

// Notify delivers data to the notification handler registered for the
// characteristic. It reports false when nothing is subscribed.
func (b *PeripheralDeviceBuilder) Notify(service, characteristic string, data []byte) bool {
	b.mu.Lock()
	h, ok := b.handlers[device.NormalizeUUID(service)+"/"+device.NormalizeUUID(characteristic)]
	b.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}

// Written returns the last value written to the characteristic.
func (b *PeripheralDeviceBuilder) Written(service, characteristic string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written[device.NormalizeUUID(service)+"/"+device.NormalizeUUID(characteristic)]
}

// GetServices returns the configured services
func (b *PeripheralDeviceBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}
