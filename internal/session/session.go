// Package session wires the event bus, the Known-Peripheral Set, the request
// correlator and the cache resolver around one radio.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/blesm/internal/correlator"
	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
	"github.com/srg/blesm/internal/radio"
	"github.com/srg/blesm/internal/radio/goble"
	"github.com/srg/blesm/internal/registry"
	"github.com/srg/blesm/internal/resolver"
	"github.com/srg/blesm/pkg/config"
)

type Session struct {
	cfg    *config.Config
	logger *logrus.Logger

	bus        *eventbus.Bus
	registry   *registry.Registry
	radio      radio.Radio
	correlator *correlator.Correlator
	resolver   *resolver.Resolver

	closeOnce sync.Once
	closeErr  error
}

// Factory returns the radio factory selected by cfg.Backend.
func Factory(cfg *config.Config, logger *logrus.Logger) (radio.Factory, error) {
	switch cfg.Backend {
	case "goble", "":
		return goble.NewFactory(logger), nil
	default:
		return nil, fmt.Errorf("%w: backend %q", device.ErrUnsupported, cfg.Backend)
	}
}

// New builds a session around the radio made by factory and starts it. A
// nil factory uses the configured backend. A radio that fails to power up
// does not fail New: the session reports the radio's state and commands are
// rejected until it is powered on.
func New(factory radio.Factory, cfg *config.Config, logger *logrus.Logger) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}
	if factory == nil {
		f, err := Factory(cfg, logger)
		if err != nil {
			return nil, err
		}
		factory = f
	}

	bus := eventbus.New(logger)
	reg := registry.New(logger)
	// First subscriber: everything after it reads an already updated set.
	reg.Attach(bus)

	r, err := factory(bus)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to create radio: %w", err)
	}

	s := &Session{
		cfg:        cfg,
		logger:     logger,
		bus:        bus,
		registry:   reg,
		radio:      r,
		correlator: correlator.New(bus, r, reg, logger, correlator.WithTimeout(cfg.RequestTimeout)),
		resolver:   resolver.New(bus, r, logger),
	}

	if err := r.Start(); err != nil {
		logger.WithError(err).Warn("Radio did not power up")
	}
	logger.WithFields(logrus.Fields{
		"backend": cfg.Backend,
		"state":   bus.State().String(),
	}).Debug("Session started")
	return s, nil
}

func (s *Session) Config() *config.Config             { return s.cfg }
func (s *Session) Logger() *logrus.Logger             { return s.logger }
func (s *Session) Bus() *eventbus.Bus                 { return s.bus }
func (s *Session) Registry() *registry.Registry       { return s.registry }
func (s *Session) Radio() radio.Radio                 { return s.radio }
func (s *Session) Correlator() *correlator.Correlator { return s.correlator }
func (s *Session) Resolver() *resolver.Resolver       { return s.resolver }

// State is the last central manager state reported by the radio.
func (s *Session) State() device.ManagerState {
	return s.bus.State()
}

// StateChanges streams central manager states, current state first.
func (s *Session) StateChanges() *eventbus.Subscription {
	return s.bus.SubscribeStateChan("session-state", s.cfg.SubscriberBuffer)
}

// WaitPoweredOn blocks until the radio is powered on. Unsupported and
// unauthorized radios fail immediately since neither recovers on its own.
func (s *Session) WaitPoweredOn(ctx context.Context) error {
	sub := s.bus.SubscribeStateChan("wait-powered-on", 4)
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for bluetooth (%s): %w", s.State(), ctx.Err())
		case ev, ok := <-sub.C():
			if !ok {
				return device.ErrClosed
			}
			state := ev.(eventbus.StateChanged).State
			switch state {
			case device.StatePoweredOn:
				return nil
			case device.StateUnsupported, device.StateUnauthorized:
				return fmt.Errorf("%w: bluetooth is %s", device.ErrUnsupported, state)
			}
			s.logger.WithField("state", state.String()).Debug("Waiting for bluetooth to power on")
		}
	}
}

// Close fails outstanding requests with device.ErrClosed, then stops the
// radio and the bus. Later requests fail the same way.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.correlator.Close()
		s.closeErr = s.radio.Close()
		s.bus.Close()
		s.registry.Detach()
		s.logger.Debug("Session closed")
	})
	return s.closeErr
}
