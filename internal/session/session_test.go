//go:build test

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
	"github.com/srg/blesm/internal/radio"
	"github.com/srg/blesm/internal/resolver"
	"github.com/srg/blesm/internal/session"
	"github.com/srg/blesm/internal/testutils"
	"github.com/srg/blesm/pkg/config"
)

const batteryID = device.DeviceID("11:22:33:44:55:66")

// SessionSuite runs a full session over a scripted radio.
type SessionSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	cfg    *config.Config
	radio  *testutils.FakeRadio
	s      *session.Session
}

func (s *SessionSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.cfg = config.DefaultConfig()
	s.cfg.RequestTimeout = time.Second
	s.radio = testutils.NewFakeRadio().WithPeripheral(
		device.Peripheral{ID: batteryID, Name: "Tag"},
		device.ServiceInfo{
			UUID:    "180f",
			Primary: true,
			Characteristics: []device.CharacteristicInfo{
				{UUID: "2a19", Properties: device.PropRead | device.PropNotify, Value: []byte{87}},
			},
		},
	)
}

func (s *SessionSuite) TearDownTest() {
	if s.s != nil {
		s.NoError(s.s.Close())
		s.s = nil
	}
}

func (s *SessionSuite) open() *session.Session {
	sess, err := session.New(s.radio.Factory(), s.cfg, s.helper.Logger)
	s.Require().NoError(err)
	s.s = sess
	return sess
}

func (s *SessionSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	s.T().Cleanup(cancel)
	return ctx
}

func (s *SessionSuite) TestNewWiresComponents() {
	// GOAL: Verify New builds every component around the radio and starts it
	//
	// TEST SCENARIO: fake radio powered on → state known right after New, registry is the first subscriber

	sess := s.open()

	s.NotNil(sess.Correlator())
	s.NotNil(sess.Resolver())
	s.Same(s.cfg, sess.Config())
	s.Equal(device.StatePoweredOn, sess.State(), "Start MUST report the radio state through the bus")
	s.Equal(1, sess.Bus().Stats().Subscribers, "only the Known-Peripheral Set MUST be subscribed at rest")
}

func (s *SessionSuite) TestNewRejectsInvalidConfig() {
	s.cfg.OutputFormat = "xml"

	_, err := session.New(s.radio.Factory(), s.cfg, s.helper.Logger)
	s.Error(err)
}

func (s *SessionSuite) TestFactoryRejectsUnknownBackend() {
	s.cfg.Backend = "bluez"

	_, err := session.Factory(s.cfg, s.helper.Logger)
	s.ErrorIs(err, device.ErrUnsupported)
}

func (s *SessionSuite) TestWaitPoweredOn() {
	// GOAL: Verify WaitPoweredOn follows state changes until the radio powers on
	//
	// TEST SCENARIO: powered off at start → waiter blocks; resetting, then powered on → waiter returns nil

	sess := s.open()
	s.radio.SetState(device.StatePoweredOff)

	done := make(chan error, 1)
	go func() { done <- sess.WaitPoweredOn(s.ctx()) }()

	select {
	case err := <-done:
		s.Failf("returned early", "WaitPoweredOn MUST block while powered off, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	s.radio.SetState(device.StateResetting)
	s.radio.SetState(device.StatePoweredOn)

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("WaitPoweredOn MUST return once powered on")
	}
}

func (s *SessionSuite) TestWaitPoweredOnUnsupported() {
	sess := s.open()
	s.radio.SetState(device.StateUnsupported)

	err := sess.WaitPoweredOn(s.ctx())
	s.ErrorIs(err, device.ErrUnsupported, "an unsupported radio MUST fail without waiting")
}

func (s *SessionSuite) TestWaitPoweredOnContext() {
	sess := s.open()
	s.radio.SetState(device.StatePoweredOff)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sess.WaitPoweredOn(ctx)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Contains(err.Error(), "powered_off")
}

func (s *SessionSuite) TestStateChangesStartsWithCurrent() {
	sess := s.open()

	sub := sess.StateChanges()
	defer sub.Cancel()

	s.radio.SetState(device.StatePoweredOff)

	var states []device.ManagerState
	for len(states) < 2 {
		select {
		case ev := <-sub.C():
			states = append(states, ev.(eventbus.StateChanged).State)
		case <-time.After(time.Second):
			s.FailNow("state changes MUST be delivered", "got %v", states)
		}
	}
	s.Equal([]device.ManagerState{device.StatePoweredOn, device.StatePoweredOff}, states,
		"a new subscriber MUST receive the current state first")
}

func (s *SessionSuite) TestEndToEndRead() {
	// GOAL: Verify a consumer can resolve, connect, discover and read through one session
	//
	// TEST SCENARIO: resolve known tag → connect → discover 2a19 → read battery level 87

	sess := s.open()
	c := sess.Correlator()

	found, err := sess.Resolver().ResolveAll(s.ctx(), []device.DeviceID{batteryID}, resolver.Options{})
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal("Tag", found[0].Name)

	conn, err := c.Connect(batteryID, radio.ConnectOptions{})
	s.Require().NoError(err)
	p, err := conn.Await(s.ctx())
	s.Require().NoError(err)
	s.True(p.Connected)

	disc, err := c.DiscoverCharacteristic(batteryID, "180f", "2a19")
	s.Require().NoError(err)
	chr, err := disc.Await(s.ctx())
	s.Require().NoError(err)
	s.True(chr.Properties.Has(device.PropRead))

	read, err := c.ReadCharacteristic(batteryID, "180f", "2a19")
	s.Require().NoError(err)
	value, err := read.Await(s.ctx())
	s.Require().NoError(err)
	s.Equal([]byte{87}, value)

	s.True(sess.Registry().IsConnected(batteryID))
	s.Equal(1, sess.Bus().Stats().Subscribers, "finished requests MUST release their subscriptions")
}

func (s *SessionSuite) TestCloseFailsOutstandingRequests() {
	// GOAL: Verify Close resolves every outstanding request and rejects new ones
	//
	// TEST SCENARIO: connect held by the radio → Close → request fails ErrClosed; Close again is a no-op;
	// new requests fail ErrClosed

	s.radio.Hold("Connect")
	sess := s.open()

	req, err := sess.Correlator().Connect(batteryID, radio.ConnectOptions{})
	s.Require().NoError(err)

	s.NoError(sess.Close())
	s.NoError(sess.Close(), "Close MUST be idempotent")
	s.s = nil

	_, err = req.Await(s.ctx())
	s.ErrorIs(err, device.ErrClosed)

	again, err := sess.Correlator().ReadRSSI(batteryID)
	s.Require().NoError(err)
	_, err = again.Result()
	s.ErrorIs(err, device.ErrClosed)
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}
