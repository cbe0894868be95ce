// Package correlator turns fire-and-forget radio commands into single-result
// requests.
//
// Every operation subscribes to the bus first, then issues its command once,
// and resolves on the first event that matches its device and attribute. No
// operation is retried or coalesced with another: two callers asking for the
// same thing get two subscriptions and two commands, and each filters the
// shared event stream independently.
package correlator

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
	"github.com/srg/blesm/internal/radio"
	"github.com/srg/blesm/internal/registry"
)

type options struct {
	timeout time.Duration
}

// Option adjusts a single request or, passed to New, every request.
type Option func(*options)

// WithTimeout bounds how long a request waits for its completion event. Zero
// waits forever. Expiry cancels the request and reports device.ErrTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

type Correlator struct {
	bus      *eventbus.Bus
	radio    radio.Radio
	registry *registry.Registry
	logger   *logrus.Logger
	defaults options

	mu      sync.Mutex
	pending map[Key]int
	live    map[uint64]func(error) bool
	nextID  uint64
	closed  bool
}

// New creates a correlator issuing commands to r and listening on bus. reg
// may be nil, which disables answering discovery from already known attributes.
func New(bus *eventbus.Bus, r radio.Radio, reg *registry.Registry, logger *logrus.Logger, opts ...Option) *Correlator {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Correlator{
		bus:      bus,
		radio:    r,
		registry: reg,
		logger:   logger,
		pending:  make(map[Key]int),
		live:     make(map[uint64]func(error) bool),
	}
	for _, opt := range opts {
		opt(&c.defaults)
	}
	return c
}

// Pending counts outstanding requests per key.
func (c *Correlator) Pending() map[Key]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Key]int, len(c.pending))
	for k, n := range c.pending {
		out[k] = n
	}
	return out
}

// Close fails every outstanding request with device.ErrClosed. Requests
// started afterwards fail the same way.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	aborts := make([]func(error) bool, 0, len(c.live))
	for _, abort := range c.live {
		aborts = append(aborts, abort)
	}
	c.mu.Unlock()

	for _, abort := range aborts {
		abort(device.ErrClosed)
	}
	if len(aborts) > 0 {
		c.logger.WithField("requests", len(aborts)).Debug("Outstanding requests failed on close")
	}
}

func (c *Correlator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// track registers an outstanding request. It reports false when the
// correlator is closed; otherwise the returned func unregisters it.
func (c *Correlator) track(k Key, abort func(error) bool) (func(), bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}
	c.nextID++
	id := c.nextID
	c.live[id] = abort
	c.pending[k]++
	n := c.pending[k]
	c.mu.Unlock()

	if n > 1 {
		c.logger.WithFields(logrus.Fields{
			"request":   k.String(),
			"in_flight": n,
		}).Debug("Overlapping request, subscribing independently")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.live, id)
			if c.pending[k]--; c.pending[k] <= 0 {
				delete(c.pending, k)
			}
			c.mu.Unlock()
		})
	}, true
}

func (c *Correlator) resolveOptions(opts []Option) options {
	o := c.defaults
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// command describes one correlated operation.
type command[T any] struct {
	op    string
	id    device.DeviceID
	kinds []eventbus.Kind
	// match filters events down to this request's device and attribute.
	match func(ev eventbus.Event) bool
	// complete turns the matching event into the result. It is only called
	// for events without an error; errored events fail the request verbatim.
	complete func(ev eventbus.Event) (T, error)
	issue    func() error
	// cancel is the best-effort hardware cancel. Optional.
	cancel func()
}

// start runs cmd: subscribe, issue once, resolve on the first match.
func start[T any](c *Correlator, cmd command[T], opts []Option) *Request[T] {
	o := c.resolveOptions(opts)
	r := newRequest[T](cmd.op, cmd.id)
	r.onCancel = cmd.cancel
	untrack, ok := c.track(r.key, r.fail)
	if !ok {
		r.fail(device.ErrClosed)
		return r
	}
	r.onFinish = untrack

	log := c.logger.WithFields(logrus.Fields{
		"request": r.key.String(),
	})

	r.issued()
	sub := c.bus.Subscribe(r.key.String(), func(ev eventbus.Event) {
		if !cmd.match(ev) {
			return
		}
		if err := ev.Err(); err != nil {
			if r.fail(err) {
				log.WithField("error", err).Debug("Request failed")
			}
			return
		}
		v, err := cmd.complete(ev)
		if err != nil {
			if r.fail(err) {
				log.WithField("error", err).Debug("Request failed")
			}
			return
		}
		if r.succeed(v) {
			log.Debug("Request resolved")
		}
	}, cmd.kinds...)

	if sub.Cancelled() {
		r.fail(device.ErrClosed)
		return r
	}
	if !r.attach(sub) {
		return r
	}

	// The command never follows a request that ended since attach. The
	// timer is armed only after issuing, so a hardware cancel always comes
	// after the command it cancels.
	if r.finished() {
		log.Debug("Request finished before its command was issued")
		return r
	}
	log.WithField("timeout", o.timeout).Debug("Issuing command")
	if err := cmd.issue(); err != nil {
		log.WithField("error", err).Debug("Command rejected")
		r.fail(err)
		return r
	}
	r.arm(o.timeout)
	return r
}

// resolved returns a request that already succeeded with v. Used when the
// answer is known without talking to the radio.
func resolved[T any](c *Correlator, op string, id device.DeviceID, v T) *Request[T] {
	r := newRequest[T](op, id)
	if c.isClosed() {
		r.fail(device.ErrClosed)
		return r
	}
	r.succeed(v)
	return r
}

// issuedAndResolved issues a command whose completion nobody waits for and
// resolves as soon as the radio accepts it.
func issuedAndResolved[T any](c *Correlator, op string, id device.DeviceID, v T, issue func() error) *Request[T] {
	r := newRequest[T](op, id)
	if c.isClosed() {
		r.fail(device.ErrClosed)
		return r
	}
	r.issued()
	if err := issue(); err != nil {
		r.fail(err)
		return r
	}
	c.logger.WithField("request", r.key.String()).Debug("Command issued, resolved without acknowledgement")
	r.succeed(v)
	return r
}

func forDevice(id device.DeviceID) func(eventbus.Event) bool {
	return func(ev eventbus.Event) bool { return ev.Device() == id }
}

func sameUUID(a, b string) bool {
	return device.NormalizeUUID(a) == device.NormalizeUUID(b)
}

func validID(id device.DeviceID) error {
	if id.IsZero() {
		return device.ErrInvalidIdentifier
	}
	return nil
}

// validFilter validates an optional UUID filter. nil and empty are both "everything".
func validFilter(filter []string) ([]string, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	return device.ValidateUUID(filter...)
}
