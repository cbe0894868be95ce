package eventbus

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/groutine"
)

// Handler receives events synchronously on the delivering goroutine.
// It must not block for long: every other subscriber waits behind it.
type Handler func(Event)

// Stats are cumulative bus counters.
type Stats struct {
	Published   uint64
	Delivered   uint64
	Panicked    uint64
	Dropped     uint64 // published after Close
	Subscribers int
}

// Bus is the single ingestion point for radio callbacks. Events are delivered
// to subscribers in arrival order, one event at a time; nothing is retained
// once delivered except the latest manager states, which are replayed to
// state subscribers on subscribe.
//
// Publish is safe to call from any goroutine, including from inside a
// handler. Re-entrant publishes are queued behind the event being delivered.
type Bus struct {
	logger *logrus.Logger

	mu       sync.Mutex
	subs     *orderedmap.OrderedMap[uint64, *Subscription]
	nextID   uint64
	queue    []Event
	draining bool
	closed   bool

	centralState    device.ManagerState
	peripheralState device.ManagerState

	// drainer is the goroutine id currently delivering; 0 when idle.
	drainer atomic.Uint64

	published atomic.Uint64
	delivered atomic.Uint64
	panicked  atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Bus. A nil logger falls back to logrus.New().
func New(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		logger: logger,
		subs:   orderedmap.New[uint64, *Subscription](),
	}
}

// Publish enqueues ev and, unless another goroutine is already draining the
// queue, delivers it (and anything queued meanwhile) before returning.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.dropped.Add(1)
		return
	}
	b.published.Add(1)
	b.queue = append(b.queue, ev)
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.drainer.Store(groutine.GetGID())

	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]

		switch e := next.(type) {
		case StateChanged:
			b.centralState = e.State
		case PeripheralManagerStateChanged:
			b.peripheralState = e.State
		}

		targets := b.matching(next.Kind())
		b.mu.Unlock()

		for _, sub := range targets {
			b.deliver(sub, next)
		}

		b.mu.Lock()
	}
	b.queue = nil
	b.draining = false
	b.drainer.Store(0)
	b.mu.Unlock()
}

// matching returns subscribers interested in k, in subscription order. Must hold mu.
func (b *Bus) matching(k Kind) []*Subscription {
	targets := make([]*Subscription, 0, b.subs.Len())
	for pair := b.subs.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.wants(k) {
			targets = append(targets, pair.Value)
		}
	}
	return targets
}

func (b *Bus) deliver(sub *Subscription, ev Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.panicked.Add(1)
			b.logger.WithFields(logrus.Fields{
				"kind":         ev.Kind().String(),
				"device":       ev.Device(),
				"subscription": sub.name,
				"panic":        fmt.Sprint(r),
			}).Errorf("Event subscriber panicked; delivery continues\n%s", debug.Stack())
		}
	}()

	sub.delivering.Store(b.drainer.Load())
	defer sub.delivering.Store(0)

	sub.handler(ev)
	b.delivered.Add(1)
}

// Subscribe registers handler for events of the given kinds (all kinds when
// none are given). Events published before Subscribe returns are not replayed.
func (b *Bus) Subscribe(name string, handler Handler, kinds ...Kind) *Subscription {
	sub := newSubscription(b, name, handler, kinds)
	b.register(sub)
	return sub
}

// SubscribeChan is Subscribe with delivery into a ring channel of the given
// capacity. A full channel drops its oldest event; the bus never blocks on it.
func (b *Bus) SubscribeChan(name string, buffer int, kinds ...Kind) *Subscription {
	ring := NewRingChannel[Event](buffer)
	sub := newSubscription(b, name, func(ev Event) { ring.ForceSend(ev) }, kinds)
	sub.ring = ring
	b.register(sub)
	return sub
}

// SubscribeState delivers the current central manager state immediately, then
// every subsequent StateChanged event.
func (b *Bus) SubscribeState(name string, handler Handler) *Subscription {
	sub := newSubscription(b, name, handler, []Kind{KindStateChanged})

	// Holding sub.mu across registration and the snapshot keeps a concurrent
	// drain from delivering a newer state ahead of it.
	sub.mu.Lock()
	defer sub.mu.Unlock()

	current, ok := b.registerWith(sub, func() device.ManagerState { return b.centralState })
	if ok {
		b.snapshot(sub, StateChanged{State: current})
	}
	return sub
}

// SubscribeStateChan is SubscribeState with ring-channel delivery.
func (b *Bus) SubscribeStateChan(name string, buffer int) *Subscription {
	ring := NewRingChannel[Event](buffer)
	sub := newSubscription(b, name, func(ev Event) { ring.ForceSend(ev) }, []Kind{KindStateChanged})
	sub.ring = ring

	sub.mu.Lock()
	defer sub.mu.Unlock()

	current, ok := b.registerWith(sub, func() device.ManagerState { return b.centralState })
	if ok {
		b.snapshot(sub, StateChanged{State: current})
	}
	return sub
}

// SubscribePeripheralManagerState is SubscribeState for the peripheral manager role.
func (b *Bus) SubscribePeripheralManagerState(name string, handler Handler) *Subscription {
	sub := newSubscription(b, name, handler, []Kind{KindPeripheralManagerStateChanged})

	sub.mu.Lock()
	defer sub.mu.Unlock()

	current, ok := b.registerWith(sub, func() device.ManagerState { return b.peripheralState })
	if ok {
		b.snapshot(sub, PeripheralManagerStateChanged{State: current})
	}
	return sub
}

func (b *Bus) snapshot(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panicked.Add(1)
			b.logger.WithFields(logrus.Fields{
				"kind":         ev.Kind().String(),
				"subscription": sub.name,
				"panic":        fmt.Sprint(r),
			}).Error("State subscriber panicked on snapshot")
		}
	}()
	sub.delivering.Store(groutine.GetGID())
	defer sub.delivering.Store(0)

	sub.handler(ev)
	b.delivered.Add(1)
}

func (b *Bus) register(sub *Subscription) {
	b.registerWith(sub, nil)
}

// registerWith adds sub and, under the same lock, reads a state value for the
// snapshot. ok is false when the bus is closed; sub is then already cancelled.
func (b *Bus) registerWith(sub *Subscription, state func() device.ManagerState) (device.ManagerState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.closed.Store(true)
		if sub.ring != nil {
			sub.ring.Close()
		}
		return device.StateUnknown, false
	}

	b.nextID++
	sub.id = b.nextID
	b.subs.Set(sub.id, sub)

	b.logger.WithFields(logrus.Fields{
		"subscription": sub.name,
		"kinds":        sub.kindNames(),
	}).Trace("Bus subscription registered")

	if state == nil {
		return device.StateUnknown, true
	}
	return state(), true
}

func (b *Bus) unregister(sub *Subscription) {
	b.mu.Lock()
	b.subs.Delete(sub.id)
	b.mu.Unlock()
}

// State returns the last central manager state seen on the bus.
func (b *Bus) State() device.ManagerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.centralState
}

// PeripheralManagerState returns the last peripheral manager state seen on the bus.
func (b *Bus) PeripheralManagerState() device.ManagerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peripheralState
}

// Close cancels every subscription. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, b.subs.Len())
	for pair := b.subs.Oldest(); pair != nil; pair = pair.Next() {
		subs = append(subs, pair.Value)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	b.logger.WithField("subscriptions", len(subs)).Debug("Event bus closed")
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	n := b.subs.Len()
	b.mu.Unlock()
	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Panicked:    b.panicked.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}
