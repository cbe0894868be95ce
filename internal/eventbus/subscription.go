package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/srg/blesm/internal/groutine"
)

// Subscription is a live registration on a Bus.
type Subscription struct {
	bus     *Bus
	id      uint64
	name    string
	handler Handler
	mask    uint64 // bit per Kind; 0 means every kind
	ring    *RingChannel[Event]

	mu         sync.Mutex    // held while a delivery to this subscription is in flight
	delivering atomic.Uint64 // goroutine id running the handler, 0 when idle
	closed     atomic.Bool
	once       sync.Once
}

func newSubscription(b *Bus, name string, handler Handler, kinds []Kind) *Subscription {
	var mask uint64
	for _, k := range kinds {
		mask |= 1 << uint(k)
	}
	return &Subscription{bus: b, name: name, handler: handler, mask: mask}
}

func (s *Subscription) wants(k Kind) bool {
	return s.mask == 0 || s.mask&(1<<uint(k)) != 0
}

func (s *Subscription) kindNames() []string {
	if s.mask == 0 {
		return []string{"*"}
	}
	var names []string
	for k := Kind(0); k < kindCount; k++ {
		if s.wants(k) {
			names = append(names, k.String())
		}
	}
	return names
}

// C returns the event channel of a channel subscription, nil otherwise.
// The channel is closed by Cancel.
func (s *Subscription) C() <-chan Event {
	if s.ring == nil {
		return nil
	}
	return s.ring.C()
}

// Overwritten reports how many events a channel subscription dropped because
// its consumer fell behind.
func (s *Subscription) Overwritten() int64 {
	if s.ring == nil {
		return 0
	}
	return s.ring.Metrics().Overwritten
}

// Cancelled reports whether Cancel has been called.
func (s *Subscription) Cancelled() bool {
	return s.closed.Load()
}

// Cancel stops delivery. It is idempotent and, once it returns, the handler
// will not be invoked again. Called from outside the delivering goroutine it
// waits for an in-flight delivery to this subscription to finish.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.bus.unregister(s)

		// Cancelling from inside our own handler must not wait on ourselves.
		if gid := s.delivering.Load(); gid == 0 || gid != groutine.GetGID() {
			s.mu.Lock()
			//nolint:staticcheck // empty critical section waits out an in-flight delivery
			s.mu.Unlock()
		}

		if s.ring != nil {
			s.ring.Close()
		}
	})
}
