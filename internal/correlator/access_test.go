//go:build test

package correlator_test

import (
	"time"

	"github.com/srg/blesm/internal/correlator"
	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
	"github.com/srg/blesm/internal/radio"
)

func (s *CorrelatorTestSuite) TestReadCharacteristic() {
	s.connect()

	req, err := s.c.ReadCharacteristic(hrID, "180f", "2a19")
	s.Require().NoError(err)
	v, err := req.Result()
	s.Require().NoError(err)
	s.Equal([]byte{90}, v)
}

func (s *CorrelatorTestSuite) TestWriteWithResponseWaitsForAck() {
	s.connect()
	s.radio.Hold("WriteCharacteristic")

	req, err := s.c.WriteCharacteristic(hrID, "180d", "2a38", []byte{5}, device.WithResponse)
	s.Require().NoError(err)
	s.Equal(correlator.StateCommandIssued, req.State(), "write with response MUST wait for the acknowledgement")

	s.radio.Emit(eventbus.CharacteristicValueWritten{Base: eventbus.Base{ID: hrID}, Service: "180d", Characteristic: "2a38"})
	_, err = req.Result()
	s.Require().NoError(err)

	cmds := s.radio.CommandsFor("WriteCharacteristic")
	s.Require().Len(cmds, 1)
	s.Equal([]byte{5}, cmds[0].Data)
}

func (s *CorrelatorTestSuite) TestWriteWithoutResponseResolvesOnIssue() {
	// GOAL: Verify a write without acknowledgement resolves as soon as the command is accepted
	//
	// TEST SCENARIO: radio never answers → request already resolved, nothing left subscribed

	s.connect()
	s.radio.Hold("WriteCharacteristic")

	req, err := s.c.WriteCharacteristic(hrID, "180d", "2a38", []byte{1, 2}, device.WithoutResponse)
	s.Require().NoError(err)
	s.Equal(correlator.OutcomeSuccess, req.Outcome())
	s.Equal(device.WithoutResponse, s.radio.CommandsFor("WriteCharacteristic")[0].WriteType)
	s.requireNoRequestSubscriptions()
}

func (s *CorrelatorTestSuite) TestWriteWithoutResponseRejected() {
	req, err := s.c.WriteCharacteristic(hrID, "180d", "2a38", []byte{1}, device.WithoutResponse)
	s.Require().NoError(err)
	_, err = req.Result()
	s.ErrorIs(err, device.ErrNotConnected)
}

func (s *CorrelatorTestSuite) TestDescriptorAccess() {
	s.connect()

	read, err := s.c.ReadDescriptor(hrID, "180d", "2a37", "2902")
	s.Require().NoError(err)
	v, err := read.Result()
	s.Require().NoError(err)
	s.Equal([]byte{0, 0}, v)

	write, err := s.c.WriteDescriptor(hrID, "180d", "2a37", "2902", []byte{1, 0})
	s.Require().NoError(err)
	_, err = write.Result()
	s.Require().NoError(err)
	s.Equal([]byte{1, 0}, s.radio.CommandsFor("WriteDescriptor")[0].Data)
}

func (s *CorrelatorTestSuite) TestSetNotifyAndNotifications() {
	// GOAL: Verify enabling notifications waits for confirmation and values stream in arrival order
	//
	// TEST SCENARIO: open stream, enable → true; emit 3 values → received in order; disable resolves immediately;
	// link drop closes the stream

	s.connect()

	stream, err := s.c.Notifications(hrID, "180d", "2a37", 8)
	s.Require().NoError(err)
	defer stream.Cancel()

	on, err := s.c.SetNotify(hrID, "180d", "2a37", true)
	s.Require().NoError(err)
	enabled, err := on.Result()
	s.Require().NoError(err)
	s.True(enabled)

	for _, v := range []byte{70, 71, 72} {
		s.radio.Emit(eventbus.CharacteristicValueUpdated{Base: eventbus.Base{ID: hrID}, Service: "180d", Characteristic: "2a37", Value: []byte{v}})
	}
	s.radio.Emit(eventbus.CharacteristicValueUpdated{Base: eventbus.Base{ID: otherID}, Service: "180d", Characteristic: "2a37", Value: []byte{1}})

	for _, want := range []byte{70, 71, 72} {
		select {
		case got := <-stream.C():
			s.Equal([]byte{want}, got)
		case <-time.After(time.Second):
			s.FailNow("notification MUST be delivered")
		}
	}

	s.radio.Hold("SetNotify")
	off, err := s.c.SetNotify(hrID, "180d", "2a37", false)
	s.Require().NoError(err)
	s.Equal(correlator.OutcomeSuccess, off.Outcome(), "disabling MUST resolve without waiting")

	s.radio.Emit(eventbus.Disconnected{Base: eventbus.Base{ID: hrID}})
	_, open := <-stream.C()
	s.False(open, "the stream MUST end when the link drops")
}

func (s *CorrelatorTestSuite) TestNotificationsDropOldest() {
	s.connect()
	stream, err := s.c.Notifications(hrID, "180d", "2a37", 2)
	s.Require().NoError(err)
	defer stream.Cancel()

	for _, v := range []byte{1, 2, 3} {
		s.radio.Emit(eventbus.CharacteristicValueUpdated{Base: eventbus.Base{ID: hrID}, Service: "180d", Characteristic: "2a37", Value: []byte{v}})
	}
	s.Equal(int64(1), stream.Dropped())
	s.Equal([]byte{2}, <-stream.C())
	s.Equal([]byte{3}, <-stream.C())
}

func (s *CorrelatorTestSuite) TestReadRSSI() {
	s.connect()

	req, err := s.c.ReadRSSI(hrID)
	s.Require().NoError(err)
	rssi, err := req.Result()
	s.Require().NoError(err)
	s.Equal(-48, rssi)

	p, _ := s.reg.Get(hrID)
	s.Equal(-48, p.RSSI)
}

func (s *CorrelatorTestSuite) TestPeripheralManagerRequests() {
	// GOAL: Verify the peripheral-role requests resolve on their manager events
	//
	// TEST SCENARIO: AddService → normalized UUID; StartAdvertising → resolved; UpdateValue → resolved;
	// a cancelled advertising request stops advertising

	add, err := s.c.AddService(radio.ServiceDefinition{
		UUID:            "0000180F-0000-1000-8000-00805F9B34FB",
		Primary:         true,
		Characteristics: []radio.CharacteristicDefinition{{UUID: "2a19", Properties: device.PropRead | device.PropNotify}},
	})
	s.Require().NoError(err)
	svc, err := add.Result()
	s.Require().NoError(err)
	s.Equal("180f", svc)

	adv, err := s.c.StartAdvertising("blesm", []string{"180f"})
	s.Require().NoError(err)
	_, err = adv.Result()
	s.Require().NoError(err)
	s.Equal("blesm", s.radio.CommandsFor("StartAdvertising")[0].Name)

	upd, err := s.c.UpdateValue("180f", "2a19", []byte{55})
	s.Require().NoError(err)
	_, err = upd.Result()
	s.Require().NoError(err)

	s.radio.Hold("StartAdvertising")
	pending, err := s.c.StartAdvertising("blesm", nil)
	s.Require().NoError(err)
	pending.Cancel()
	s.Equal(1, s.radio.Count("StopAdvertising"), "cancelling advertising MUST stop it")
}
