package correlator

import (
	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
	"github.com/srg/blesm/internal/radio"
)

// AddService publishes def in the local GATT database and resolves with the
// normalized service UUID once the radio reports it added.
func (c *Correlator) AddService(def radio.ServiceDefinition, opts ...Option) (*Request[string], error) {
	uuids, err := device.ValidateUUID(def.UUID)
	if err != nil {
		return nil, err
	}
	for _, ch := range def.Characteristics {
		if _, err := device.ValidateUUID(ch.UUID); err != nil {
			return nil, err
		}
	}
	svc := uuids[0]
	return start(c, command[string]{
		op:    "add-service:" + svc,
		kinds: []eventbus.Kind{eventbus.KindServiceAdded},
		match: func(ev eventbus.Event) bool {
			return sameUUID(ev.(eventbus.ServiceAdded).Service, svc)
		},
		complete: func(eventbus.Event) (string, error) { return svc, nil },
		issue:    func() error { return c.radio.AddService(def) },
	}, opts), nil
}

// StartAdvertising resolves once the radio reports advertising started.
// Cancelling the request stops advertising.
func (c *Correlator) StartAdvertising(name string, services []string, opts ...Option) (*Request[struct{}], error) {
	services, err := validFilter(services)
	if err != nil {
		return nil, err
	}
	return start(c, command[struct{}]{
		op:       "start-advertising",
		kinds:    []eventbus.Kind{eventbus.KindAdvertisingStarted},
		match:    func(eventbus.Event) bool { return true },
		complete: func(eventbus.Event) (struct{}, error) { return struct{}{}, nil },
		issue:    func() error { return c.radio.StartAdvertising(name, services) },
		cancel: func() {
			if err := c.radio.StopAdvertising(); err != nil {
				c.logger.WithError(err).Debug("Stop advertising not accepted")
			}
		},
	}, opts), nil
}

// UpdateValue sets a local characteristic value and resolves once the
// update was handed to subscribed centrals.
func (c *Correlator) UpdateValue(service, characteristic string, value []byte, opts ...Option) (*Request[struct{}], error) {
	uuids, err := device.ValidateUUID(service, characteristic)
	if err != nil {
		return nil, err
	}
	payload := append([]byte(nil), value...)
	return start(c, command[struct{}]{
		op:       "update-value",
		kinds:    []eventbus.Kind{eventbus.KindReadyToUpdateSubscribers},
		match:    func(eventbus.Event) bool { return true },
		complete: func(eventbus.Event) (struct{}, error) { return struct{}{}, nil },
		issue:    func() error { return c.radio.UpdateValue(uuids[0], uuids[1], payload) },
	}, opts), nil
}
