package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blesm/internal/device"
)

type BusTestSuite struct {
	suite.Suite
	logger *logrus.Logger
	hook   *test.Hook
	bus    *Bus
}

func (s *BusTestSuite) SetupTest() {
	s.logger, s.hook = test.NewNullLogger()
	s.logger.SetLevel(logrus.TraceLevel)
	s.bus = New(s.logger)
}

func (s *BusTestSuite) TearDownTest() {
	s.bus.Close()
}

func rssi(id string, v int) RSSIRead {
	return RSSIRead{Base: Base{ID: device.DeviceID(id)}, RSSI: v}
}

// GOAL: Verify fan-out preserves arrival order and honours kind filters
//
// TEST SCENARIO: Two subscribers, one filtered → publish mixed kinds → each sees its events in order
func (s *BusTestSuite) TestFanOutInArrivalOrder() {
	var all, onlyRSSI []Kind
	s.bus.Subscribe("all", func(ev Event) { all = append(all, ev.Kind()) })
	s.bus.Subscribe("rssi", func(ev Event) { onlyRSSI = append(onlyRSSI, ev.Kind()) }, KindRSSIRead)

	s.bus.Publish(rssi("a", -40))
	s.bus.Publish(Disconnected{Base: Base{ID: "a"}})
	s.bus.Publish(rssi("a", -41))

	s.Equal([]Kind{KindRSSIRead, KindDisconnected, KindRSSIRead}, all, "unfiltered subscriber MUST see every event in order")
	s.Equal([]Kind{KindRSSIRead, KindRSSIRead}, onlyRSSI, "filtered subscriber MUST only see requested kinds")
}

// GOAL: Verify an event published from inside a handler is delivered after the current one
//
// TEST SCENARIO: Handler re-publishes on first event → second subscriber sees original before re-published
func (s *BusTestSuite) TestReentrantPublishIsQueued() {
	var order []int
	s.bus.Subscribe("republisher", func(ev Event) {
		if r := ev.(RSSIRead); r.RSSI == 1 {
			s.bus.Publish(rssi("a", 2))
		}
	}, KindRSSIRead)
	s.bus.Subscribe("observer", func(ev Event) {
		order = append(order, ev.(RSSIRead).RSSI)
	}, KindRSSIRead)

	s.bus.Publish(rssi("a", 1))

	s.Equal([]int{1, 2}, order, "re-entrant publish MUST NOT overtake the event being delivered")
}

// GOAL: Verify a panicking subscriber does not affect other subscribers
//
// TEST SCENARIO: First subscriber panics → second still receives → panic counted and logged
func (s *BusTestSuite) TestPanicIsolation() {
	received := 0
	s.bus.Subscribe("bad", func(Event) { panic("boom") })
	s.bus.Subscribe("good", func(Event) { received++ })

	s.bus.Publish(rssi("a", 1))
	s.bus.Publish(rssi("a", 2))

	s.Equal(2, received, "healthy subscriber MUST keep receiving")
	s.Equal(uint64(2), s.bus.Stats().Panicked)

	var found bool
	for _, entry := range s.hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel && entry.Data["subscription"] == "bad" {
			found = true
		}
	}
	s.True(found, "panic MUST be logged with the subscription name")
}

// GOAL: Verify Cancel is idempotent and stops delivery
//
// TEST SCENARIO: Cancel twice → publish → handler not invoked, subscriber count drops
func (s *BusTestSuite) TestCancelStopsDelivery() {
	received := 0
	sub := s.bus.Subscribe("x", func(Event) { received++ })
	s.bus.Publish(rssi("a", 1))

	sub.Cancel()
	sub.Cancel()
	s.bus.Publish(rssi("a", 2))

	s.Equal(1, received)
	s.True(sub.Cancelled())
	s.Equal(0, s.bus.Stats().Subscribers)
}

// GOAL: Verify a handler may cancel its own subscription without deadlocking
//
// TEST SCENARIO: Handler cancels itself on first event → later events not delivered
func (s *BusTestSuite) TestCancelFromOwnHandler() {
	received := 0
	var sub *Subscription
	sub = s.bus.Subscribe("self", func(Event) {
		received++
		sub.Cancel()
	})

	done := make(chan struct{})
	go func() {
		s.bus.Publish(rssi("a", 1))
		s.bus.Publish(rssi("a", 2))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.FailNow("self-cancel MUST NOT deadlock")
	}
	s.Equal(1, received)
}

// GOAL: Verify a cancelled subscription sees no event queued behind the cancelling one
//
// TEST SCENARIO: Subscriber A cancels B while handling event 1 → B never sees event 2
func (s *BusTestSuite) TestCancelOtherSubscriptionMidDrain() {
	var bSeen []int
	var b *Subscription
	s.bus.Subscribe("a", func(ev Event) {
		if ev.(RSSIRead).RSSI == 1 {
			s.bus.Publish(rssi("x", 2))
			b.Cancel()
		}
	}, KindRSSIRead)
	b = s.bus.Subscribe("b", func(ev Event) { bSeen = append(bSeen, ev.(RSSIRead).RSSI) }, KindRSSIRead)

	s.bus.Publish(rssi("x", 1))

	s.Empty(bSeen, "cancelled subscriber MUST NOT receive events after Cancel returned")
}

// GOAL: Verify state subscription replays the current state first
//
// TEST SCENARIO: Publish PoweredOn → subscribe → first delivery is the snapshot, then changes follow
func (s *BusTestSuite) TestStateSnapshotFirst() {
	s.bus.Publish(StateChanged{State: device.StatePoweredOn})

	var states []device.ManagerState
	s.bus.SubscribeState("state", func(ev Event) {
		states = append(states, ev.(StateChanged).State)
	})
	s.bus.Publish(StateChanged{State: device.StatePoweredOff})

	s.Equal([]device.ManagerState{device.StatePoweredOn, device.StatePoweredOff}, states)
	s.Equal(device.StatePoweredOff, s.bus.State())
}

// GOAL: Verify that ordinary subscriptions are not replayed anything
//
// TEST SCENARIO: Publish before subscribing → subscriber sees nothing
func (s *BusTestSuite) TestNoReplayForOrdinarySubscribers() {
	s.bus.Publish(rssi("a", 1))
	s.bus.Publish(StateChanged{State: device.StatePoweredOn})

	received := 0
	s.bus.Subscribe("late", func(Event) { received++ })
	s.Zero(received, "events MUST NOT be retained after delivery")
}

// GOAL: Verify peripheral manager state is tracked independently
//
// TEST SCENARIO: Publish both manager states → each state subscription replays its own
func (s *BusTestSuite) TestPeripheralManagerStateSnapshot() {
	s.bus.Publish(StateChanged{State: device.StatePoweredOff})
	s.bus.Publish(PeripheralManagerStateChanged{State: device.StatePoweredOn})

	var got []Event
	s.bus.SubscribePeripheralManagerState("pm", func(ev Event) { got = append(got, ev) })

	s.Require().Len(got, 1)
	s.Equal(device.StatePoweredOn, got[0].(PeripheralManagerStateChanged).State)
	s.Equal(device.StatePoweredOn, s.bus.PeripheralManagerState())
}

// GOAL: Verify channel subscriptions never block the bus and keep the newest events
//
// TEST SCENARIO: Buffer of 2 → publish 5 without reading → last 2 buffered, 3 overwritten
func (s *BusTestSuite) TestChannelSubscriptionOverwritesOldest() {
	sub := s.bus.SubscribeChan("chan", 2, KindRSSIRead)
	for i := 1; i <= 5; i++ {
		s.bus.Publish(rssi("a", i))
	}

	s.Equal(int64(3), sub.Overwritten())
	s.Equal(4, (<-sub.C()).(RSSIRead).RSSI)
	s.Equal(5, (<-sub.C()).(RSSIRead).RSSI)

	sub.Cancel()
	_, open := <-sub.C()
	s.False(open, "Cancel MUST close the channel")
}

// GOAL: Verify state channel subscription carries the snapshot
//
// TEST SCENARIO: State is PoweredOn → SubscribeStateChan → first element is PoweredOn
func (s *BusTestSuite) TestStateChanSnapshot() {
	s.bus.Publish(StateChanged{State: device.StatePoweredOn})
	sub := s.bus.SubscribeStateChan("state", 4)
	defer sub.Cancel()

	ev := <-sub.C()
	s.Equal(device.StatePoweredOn, ev.(StateChanged).State)
}

// GOAL: Verify Close cancels everything and drops later publishes
//
// TEST SCENARIO: Close → publish → nothing delivered, dropped counted, new subscriptions inert
func (s *BusTestSuite) TestClose() {
	received := 0
	sub := s.bus.Subscribe("x", func(Event) { received++ })
	s.bus.Close()
	s.bus.Publish(rssi("a", 1))

	s.Zero(received)
	s.True(sub.Cancelled())
	s.Equal(uint64(1), s.bus.Stats().Dropped)

	late := s.bus.SubscribeChan("late", 1)
	s.True(late.Cancelled(), "subscribing to a closed bus MUST yield a cancelled subscription")
	_, open := <-late.C()
	s.False(open)
}

// GOAL: Verify concurrent publishers do not lose events and each publisher's order is kept
//
// TEST SCENARIO: 4 goroutines publish 200 events each → all delivered, per-device order ascending
func (s *BusTestSuite) TestConcurrentPublishers() {
	const publishers, perPublisher = 4, 200

	var mu sync.Mutex
	last := map[device.DeviceID]int{}
	total := 0
	s.bus.Subscribe("counter", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		r := ev.(RSSIRead)
		s.Greater(r.RSSI, last[r.ID], "events from one publisher MUST stay in order")
		last[r.ID] = r.RSSI
		total++
	}, KindRSSIRead)

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 1; i <= perPublisher; i++ {
				s.bus.Publish(rssi(id, i))
			}
		}(string(rune('a' + p)))
	}
	wg.Wait()

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == publishers*perPublisher
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBusTestSuite(t *testing.T) {
	suite.Run(t, new(BusTestSuite))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "characteristic_value_updated", KindCharacteristicValueUpdated.String())
	assert.Equal(t, "ready_to_update_subscribers", KindReadyToUpdateSubscribers.String())
	assert.Equal(t, "unknown", Kind(-1).String())
	assert.Equal(t, "unknown", kindCount.String())
}

func TestRingChannel(t *testing.T) {
	rc := NewRingChannel[int](1)
	assert.False(t, rc.ForceSend(1))
	assert.True(t, rc.ForceSend(2), "full ring MUST report the dropped element")
	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, 1, rc.Cap())

	rc.Close()
	rc.Close()
	assert.False(t, rc.ForceSend(3), "send after close MUST be rejected, not panic")
	assert.Equal(t, 2, <-rc.C())

	m := rc.Metrics()
	assert.Equal(t, RingMetrics{Written: 2, Overwritten: 1, Rejected: 1}, m)
	assert.Panics(t, func() { NewRingChannel[int](0) })
}
