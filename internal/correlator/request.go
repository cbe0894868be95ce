package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
)

// State is the lifecycle position of a Request.
type State int32

const (
	StateIdle State = iota
	StateCommandIssued
	StateResolved
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCommandIssued:
		return "command_issued"
	case StateResolved:
		return "resolved"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome tells how a finished Request ended.
type Outcome int32

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailure
	// OutcomeTimeout ends a request like cancellation and reports ErrTimeout.
	OutcomeTimeout
	// OutcomeCancelled is not a failure: the consumer gave the request up.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Key identifies what a request waits for: one operation on one device.
type Key struct {
	Device device.DeviceID
	Op     string
}

func (k Key) String() string {
	if k.Device == "" {
		return k.Op
	}
	return fmt.Sprintf("%s@%s", k.Op, k.Device)
}

// Request is the single-result future of one correlated command. It resolves
// exactly once; every later matching event is ignored.
type Request[T any] struct {
	key  Key
	done chan struct{}

	mu       sync.Mutex
	state    State
	outcome  Outcome
	value    T
	err      error
	sub      *eventbus.Subscription
	timer    *time.Timer
	onCancel func() // best-effort hardware cancel, run on cancel and timeout
	onFinish func()
}

func newRequest[T any](op string, id device.DeviceID) *Request[T] {
	return &Request[T]{
		key:  Key{Device: id, Op: op},
		done: make(chan struct{}),
	}
}

func (r *Request[T]) Key() Key { return r.key }

// Done is closed once the request is resolved or cancelled.
func (r *Request[T]) Done() <-chan struct{} { return r.done }

func (r *Request[T]) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Request[T]) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// Result blocks until the request finishes and returns its value or error.
// A cancelled request reports device.ErrCancelled, a timed out one
// device.ErrTimeout.
func (r *Request[T]) Result() (T, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.err
}

// Await is Result bounded by ctx. When ctx ends first the request is
// cancelled and ctx.Err() is returned.
func (r *Request[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
	}

	r.Cancel()
	v, err := r.Result()
	if errors.Is(err, device.ErrCancelled) {
		return v, ctx.Err()
	}
	return v, err
}

// Cancel abandons the request: the bus subscription is released and the
// hardware cancel, if the operation has one, is issued. No effect once the
// request has finished.
func (r *Request[T]) Cancel() {
	var zero T
	r.finish(OutcomeCancelled, zero, device.ErrCancelled)
}

func (r *Request[T]) succeed(v T) bool {
	return r.finish(OutcomeSuccess, v, nil)
}

func (r *Request[T]) fail(err error) bool {
	var zero T
	return r.finish(OutcomeFailure, zero, err)
}

func (r *Request[T]) expire() {
	var zero T
	r.finish(OutcomeTimeout, zero, device.ErrTimeout)
}

func (r *Request[T]) terminalLocked() bool {
	return r.state == StateResolved || r.state == StateCancelled
}

func (r *Request[T]) finish(outcome Outcome, v T, err error) bool {
	r.mu.Lock()
	if r.terminalLocked() {
		r.mu.Unlock()
		return false
	}
	cancelled := outcome == OutcomeCancelled || outcome == OutcomeTimeout
	if cancelled {
		r.state = StateCancelled
	} else {
		r.state = StateResolved
	}
	r.outcome, r.value, r.err = outcome, v, err
	sub, timer, hook, fin := r.sub, r.timer, r.onCancel, r.onFinish
	r.sub, r.timer = nil, nil
	r.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if sub != nil {
		sub.Cancel()
	}
	close(r.done)
	if fin != nil {
		fin()
	}
	if hook != nil && cancelled {
		hook()
	}
	return true
}

func (r *Request[T]) finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminalLocked()
}

// issued moves an idle request to CommandIssued.
func (r *Request[T]) issued() {
	r.mu.Lock()
	if r.state == StateIdle {
		r.state = StateCommandIssued
	}
	r.mu.Unlock()
}

// attach binds the bus subscription. It reports false, and releases sub, when
// the request already finished.
func (r *Request[T]) attach(sub *eventbus.Subscription) bool {
	r.mu.Lock()
	if r.terminalLocked() {
		r.mu.Unlock()
		sub.Cancel()
		return false
	}
	r.sub = sub
	r.mu.Unlock()
	return true
}

func (r *Request[T]) arm(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminalLocked() {
		return
	}
	r.timer = time.AfterFunc(timeout, r.expire)
}
