//go:build test

package testutils

import (
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
	"github.com/srg/blesm/internal/radio"
	"github.com/srg/blesm/internal/radio/goble"
)

// MockBLEPeripheralSuite runs a real goble.Radio against a mocked ble.Device.
// Every event the radio publishes is recorded and can be awaited with
// NextEvent.
//
// Custom device profile usage:
//
//	func (s *InspectSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("180D").
//	        WithCharacteristic("2A37", "read,notify", []byte{80})
//
//	    s.MockBLEPeripheralSuite.SetupTest() // parent last, it applies the configuration
//	}
//
// Scan advertisements:
//
//	func (s *ScannerSuite) SetupTest() {
//	    s.WithAdvertisements().WithAdvertisements(
//	        testutils.NewAdvertisementBuilder().WithAddress("AA:BB:CC:DD:EE:FF").WithName("HR1").Build(),
//	    )
//
//	    s.MockBLEPeripheralSuite.SetupTest()
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDeviceFactory func() (blelib.Device, error)
	TestTimeout           time.Duration

	PeripheralBuilder     *PeripheralDeviceBuilder
	AdvertisementsBuilder *AdvertisementArrayBuilder[[]blelib.Advertisement]

	// Populated by SetupTest
	Device *MockDevice
	Bus    *eventbus.Bus
	Radio  *goble.Radio
	Events *eventbus.Subscription
}

func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
	s.OriginalDeviceFactory = goble.DeviceFactory

	s.T().Cleanup(func() {
		if s.OriginalDeviceFactory != nil {
			goble.DeviceFactory = s.OriginalDeviceFactory
		}
	})
}

// SetupTest installs the mocked device and starts a radio publishing into a fresh bus.
func (s *MockBLEPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = createDefaultPeripheralBuilder()
	}
	if s.AdvertisementsBuilder != nil {
		s.PeripheralBuilder.
			WithScanAdvertisements().
			WithAdvertisements(s.AdvertisementsBuilder.Build()...).
			Build()
	}

	s.Device = s.PeripheralBuilder.Build()
	goble.DeviceFactory = func() (blelib.Device, error) {
		return s.Device, nil
	}

	s.Bus = eventbus.New(s.Logger)
	s.Events = s.Bus.SubscribeChan("test-recorder", 256)
	s.Radio = goble.New(s.Bus, s.Logger)
	s.Require().NoError(s.Radio.Start(), "radio MUST start on the mocked device")

	// Start publishes both manager states
	s.NextEvent(eventbus.KindStateChanged)
	s.NextEvent(eventbus.KindPeripheralManagerStateChanged)
}

func (s *MockBLEPeripheralSuite) TearDownTest() {
	if s.Radio != nil {
		_ = s.Radio.Close()
	}
	if s.Bus != nil {
		s.Bus.Close()
	}
	if s.OriginalDeviceFactory != nil {
		goble.DeviceFactory = s.OriginalDeviceFactory
	}

	s.PeripheralBuilder = nil
	s.AdvertisementsBuilder = nil
	s.Radio, s.Bus, s.Events, s.Device = nil, nil, nil, nil
}

// WithPeripheral returns the peripheral builder. Configure it before calling SetupTest.
func (s *MockBLEPeripheralSuite) WithPeripheral() *PeripheralDeviceBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralDeviceBuilder()
	}
	return s.PeripheralBuilder
}

// WithAdvertisements returns the builder for advertisements the mocked Scan reports.
func (s *MockBLEPeripheralSuite) WithAdvertisements() *AdvertisementArrayBuilder[[]blelib.Advertisement] {
	if s.AdvertisementsBuilder == nil {
		s.AdvertisementsBuilder = NewAdvertisementArrayBuilder[[]blelib.Advertisement]()
	}
	return s.AdvertisementsBuilder
}

// NextEvent returns the next recorded event of kind k, skipping others.
// The test fails if none arrives within TestTimeout.
func (s *MockBLEPeripheralSuite) NextEvent(k eventbus.Kind) eventbus.Event {
	deadline := time.After(s.TestTimeout)
	for {
		select {
		case ev, ok := <-s.Events.C():
			if !ok {
				s.FailNow("event stream closed", "waiting for %s", k)
				return nil
			}
			if ev.Kind() == k {
				return ev
			}
		case <-deadline:
			s.FailNow("timed out waiting for event", "kind %s", k)
			return nil
		}
	}
}

// NoEvent asserts that no event of kind k arrives within wait.
func (s *MockBLEPeripheralSuite) NoEvent(k eventbus.Kind, wait time.Duration) {
	deadline := time.After(wait)
	for {
		select {
		case ev := <-s.Events.C():
			if ev != nil && ev.Kind() == k {
				s.Failf("unexpected event", "got %s for %s", k, ev.Device())
				return
			}
		case <-deadline:
			return
		}
	}
}

// Connect connects the radio to id and waits for the link.
func (s *MockBLEPeripheralSuite) Connect(id device.DeviceID) eventbus.Connected {
	s.Require().NoError(s.Radio.Connect(id, radio.ConnectOptions{Timeout: s.TestTimeout}))
	ev := s.NextEvent(eventbus.KindConnected)
	s.Require().NoError(ev.Err(), "connect MUST succeed")
	return ev.(eventbus.Connected)
}

// ConnectAndDiscover connects and discovers every service and characteristic.
func (s *MockBLEPeripheralSuite) ConnectAndDiscover(id device.DeviceID) {
	s.Connect(id)
	s.Require().NoError(s.Radio.DiscoverServices(id, nil))
	discovered := s.NextEvent(eventbus.KindServicesDiscovered).(eventbus.ServicesDiscovered)
	s.Require().NoError(discovered.Err())
	for _, svc := range discovered.Services {
		s.Require().NoError(s.Radio.DiscoverCharacteristics(id, svc.UUID, nil))
		s.Require().NoError(s.NextEvent(eventbus.KindCharacteristicsDiscovered).Err())
	}
}

// createDefaultPeripheralBuilder serves a Battery Service (180F) with a
// Battery Level characteristic (2A19) at 50%.
func createDefaultPeripheralBuilder() *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder().
		FromJSON(`
		{
			"services": [
				{
					"uuid": "180F",
					"characteristics": [
						{ "uuid": "2A19", "properties": "read,notify", "value": [50] }
					]
				}
			]
		}`)
}
