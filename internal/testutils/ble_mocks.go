//go:build test

package testutils

import (
	"context"

	blelib "github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockAddr implements blelib.Addr.
type MockAddr struct {
	mock.Mock
}

func (m *MockAddr) String() string {
	return m.Called().String(0)
}

// MockAdvertisement implements blelib.Advertisement.
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string { return m.Called().String(0) }
func (m *MockAdvertisement) ManufacturerData() []byte {
	v, _ := m.Called().Get(0).([]byte)
	return v
}
func (m *MockAdvertisement) ServiceData() []blelib.ServiceData {
	v, _ := m.Called().Get(0).([]blelib.ServiceData)
	return v
}
func (m *MockAdvertisement) Services() []blelib.UUID {
	v, _ := m.Called().Get(0).([]blelib.UUID)
	return v
}
func (m *MockAdvertisement) OverflowService() []blelib.UUID  { return nil }
func (m *MockAdvertisement) SolicitedService() []blelib.UUID { return nil }
func (m *MockAdvertisement) TxPowerLevel() int               { return m.Called().Int(0) }
func (m *MockAdvertisement) Connectable() bool               { return m.Called().Bool(0) }
func (m *MockAdvertisement) RSSI() int                       { return m.Called().Int(0) }
func (m *MockAdvertisement) Addr() blelib.Addr {
	v, _ := m.Called().Get(0).(blelib.Addr)
	return v
}

// MockDevice implements blelib.Device. Methods the adapter never calls are
// left to the embedded interface and panic if reached.
type MockDevice struct {
	blelib.Device
	mock.Mock
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h blelib.AdvHandler) error {
	return m.Called(ctx, allowDup, h).Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a blelib.Addr) (blelib.Client, error) {
	args := m.Called(ctx, a)
	if fn, ok := args.Get(0).(func(context.Context, blelib.Addr) (blelib.Client, error)); ok {
		return fn(ctx, a)
	}
	c, _ := args.Get(0).(blelib.Client)
	return c, args.Error(1)
}

func (m *MockDevice) AddService(svc *blelib.Service) error {
	return m.Called(svc).Error(0)
}

func (m *MockDevice) RemoveAllServices() error {
	return m.Called().Error(0)
}

func (m *MockDevice) AdvertiseNameAndServices(ctx context.Context, name string, uuids ...blelib.UUID) error {
	return m.Called(ctx, name, uuids).Error(0)
}

func (m *MockDevice) Stop() error {
	return m.Called().Error(0)
}

// MockClient implements blelib.Client for a single connected peripheral.
type MockClient struct {
	blelib.Client
	mock.Mock

	disconnected chan struct{}
}

func (m *MockClient) DiscoverServices(filter []blelib.UUID) ([]*blelib.Service, error) {
	args := m.Called(filter)
	if fn, ok := args.Get(0).(func([]blelib.UUID) ([]*blelib.Service, error)); ok {
		return fn(filter)
	}
	v, _ := args.Get(0).([]*blelib.Service)
	return v, args.Error(1)
}

func (m *MockClient) DiscoverIncludedServices(filter []blelib.UUID, s *blelib.Service) ([]*blelib.Service, error) {
	args := m.Called(filter, s)
	v, _ := args.Get(0).([]*blelib.Service)
	return v, args.Error(1)
}

func (m *MockClient) DiscoverCharacteristics(filter []blelib.UUID, s *blelib.Service) ([]*blelib.Characteristic, error) {
	args := m.Called(filter, s)
	if fn, ok := args.Get(0).(func([]blelib.UUID, *blelib.Service) ([]*blelib.Characteristic, error)); ok {
		return fn(filter, s)
	}
	v, _ := args.Get(0).([]*blelib.Characteristic)
	return v, args.Error(1)
}

func (m *MockClient) DiscoverDescriptors(filter []blelib.UUID, c *blelib.Characteristic) ([]*blelib.Descriptor, error) {
	args := m.Called(filter, c)
	v, _ := args.Get(0).([]*blelib.Descriptor)
	return v, args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *blelib.Characteristic) ([]byte, error) {
	args := m.Called(c)
	if fn, ok := args.Get(0).(func(*blelib.Characteristic) ([]byte, error)); ok {
		return fn(c)
	}
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *blelib.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockClient) ReadDescriptor(d *blelib.Descriptor) ([]byte, error) {
	args := m.Called(d)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (m *MockClient) WriteDescriptor(d *blelib.Descriptor, v []byte) error {
	return m.Called(d, v).Error(0)
}

func (m *MockClient) ReadRSSI() int {
	return m.Called().Int(0)
}

func (m *MockClient) Subscribe(c *blelib.Characteristic, ind bool, h blelib.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *MockClient) Unsubscribe(c *blelib.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *MockClient) CancelConnection() error {
	return m.Called().Error(0)
}

// Disconnected is closed by SimulateDisconnect.
func (m *MockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// SimulateDisconnect emulates link loss reported by the stack. Idempotent.
func (m *MockClient) SimulateDisconnect() {
	select {
	case <-m.disconnected:
	default:
		close(m.disconnected)
	}
}

// NewMockClient returns a client whose Disconnected channel is open.
func NewMockClient() *MockClient {
	return &MockClient{disconnected: make(chan struct{})}
}
