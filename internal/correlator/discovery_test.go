//go:build test

package correlator_test

import (
	"errors"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
)

func (s *CorrelatorTestSuite) TestDiscoverServicesSkipsKnownFilter() {
	// GOAL: Verify discovery answers from already-known services only for a non-empty filter
	//
	// TEST SCENARIO: discover [180d] → command; repeat → no command; empty filter → command every time

	s.connect()

	req, err := s.c.DiscoverServices(hrID, []string{"180D"})
	s.Require().NoError(err)
	svcs, err := req.Result()
	s.Require().NoError(err)
	s.Equal([]string{"180d"}, device.ServiceUUIDs(svcs))
	s.Equal(1, s.radio.Count("DiscoverServices"))

	req, err = s.c.DiscoverServices(hrID, []string{"180d"})
	s.Require().NoError(err)
	svcs, err = req.Result()
	s.Require().NoError(err)
	s.Equal([]string{"180d"}, device.ServiceUUIDs(svcs))
	s.Equal(1, s.radio.Count("DiscoverServices"), "already-known services MUST NOT be rediscovered")

	for range 2 {
		req, err = s.c.DiscoverServices(hrID, nil)
		s.Require().NoError(err)
		svcs, err = req.Result()
		s.Require().NoError(err)
		s.Len(svcs, 3)
	}
	s.Equal(3, s.radio.Count("DiscoverServices"), "an empty filter MUST always discover")
}

func (s *CorrelatorTestSuite) TestRediscoveryAfterReconnect() {
	s.connect()
	req, err := s.c.DiscoverServices(hrID, []string{"180d"})
	s.Require().NoError(err)
	_, err = req.Result()
	s.Require().NoError(err)

	s.radio.SetConnected(hrID, false)
	s.radio.Emit(eventbus.Disconnected{Base: eventbus.Base{ID: hrID}})
	s.connect()

	req, err = s.c.DiscoverServices(hrID, []string{"180d"})
	s.Require().NoError(err)
	_, err = req.Result()
	s.Require().NoError(err)
	s.Equal(2, s.radio.Count("DiscoverServices"), "a new link MUST discover again")
}

func (s *CorrelatorTestSuite) TestDiscoverServiceNotFound() {
	// GOAL: Verify a successful discovery without the requested service is a not-found failure
	//
	// TEST SCENARIO: discover service 1812 on a heart rate profile → NotFoundError(service), not a hardware error

	s.connect()

	req, err := s.c.DiscoverService(hrID, "1812")
	s.Require().NoError(err)
	_, err = req.Result()
	s.Require().Error(err)

	var nf *device.NotFoundError
	s.Require().True(errors.As(err, &nf), "MUST be a NotFoundError")
	s.Equal("service", nf.Resource)
	s.ErrorIs(err, &device.NotFoundError{Resource: "service"})
	s.False(device.IsHardwareError(err), "not-found MUST be distinct from hardware failure")
}

func (s *CorrelatorTestSuite) TestDiscoverServiceFound() {
	s.connect()

	req, err := s.c.DiscoverService(hrID, "180f")
	s.Require().NoError(err)
	svc, err := req.Result()
	s.Require().NoError(err)
	s.Equal("180f", svc.UUID)
	s.True(svc.Primary)
}

func (s *CorrelatorTestSuite) TestDiscoverIncludedServices() {
	s.connect()

	req, err := s.c.DiscoverIncludedServices(hrID, "180d", nil)
	s.Require().NoError(err)
	inc, err := req.Result()
	s.Require().NoError(err)
	s.Equal([]string{"180a"}, device.ServiceUUIDs(inc))

	req, err = s.c.DiscoverIncludedServices(hrID, "180d", []string{"180a"})
	s.Require().NoError(err)
	_, err = req.Result()
	s.Require().NoError(err)
	s.Equal(1, s.radio.Count("DiscoverIncludedServices"), "known included service MUST short-circuit")
}

func (s *CorrelatorTestSuite) TestCharacteristicDiscovery() {
	// GOAL: Verify characteristic discovery, its short-circuit and its not-found failure
	//
	// TEST SCENARIO: discover all of 180d → 2 characteristics; single 2a37 → no command; 2a99 → NotFoundError

	s.connect()

	req, err := s.c.DiscoverCharacteristics(hrID, "180d", nil)
	s.Require().NoError(err)
	chars, err := req.Result()
	s.Require().NoError(err)
	s.Equal([]string{"2a37", "2a38"}, device.CharacteristicUUIDs(chars))

	one, err := s.c.DiscoverCharacteristic(hrID, "180d", "2a37")
	s.Require().NoError(err)
	c, err := one.Result()
	s.Require().NoError(err)
	s.True(c.Properties.Has(device.PropNotify))
	s.Equal(1, s.radio.Count("DiscoverCharacteristics"), "known characteristic MUST NOT be rediscovered")

	missing, err := s.c.DiscoverCharacteristic(hrID, "180d", "2a99")
	s.Require().NoError(err)
	_, err = missing.Result()
	s.ErrorIs(err, &device.NotFoundError{Resource: "characteristic"})
	s.Equal(2, s.radio.Count("DiscoverCharacteristics"))
}

func (s *CorrelatorTestSuite) TestDescriptorDiscovery() {
	s.connect()
	chars, err := s.c.DiscoverCharacteristics(hrID, "180d", nil)
	s.Require().NoError(err)
	_, err = chars.Result()
	s.Require().NoError(err)

	req, err := s.c.DiscoverDescriptor(hrID, "180d", "2a37", "2902")
	s.Require().NoError(err)
	d, err := req.Result()
	s.Require().NoError(err)
	s.Equal("2902", d.UUID)

	again, err := s.c.DiscoverDescriptor(hrID, "180d", "2a37", "2902")
	s.Require().NoError(err)
	_, err = again.Result()
	s.Require().NoError(err)
	s.Equal(1, s.radio.Count("DiscoverDescriptors"), "known descriptor MUST NOT be rediscovered")

	all, err := s.c.DiscoverDescriptors(hrID, "180d", "2a37")
	s.Require().NoError(err)
	list, err := all.Result()
	s.Require().NoError(err)
	s.Len(list, 1)
	s.Equal(2, s.radio.Count("DiscoverDescriptors"), "descriptor listing MUST always discover")

	missing, err := s.c.DiscoverDescriptor(hrID, "180d", "2a37", "2901")
	s.Require().NoError(err)
	_, err = missing.Result()
	s.ErrorIs(err, &device.NotFoundError{Resource: "descriptor"})
}
