package correlator

import (
	"fmt"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
	"github.com/srg/blesm/internal/radio"
)

// Connect establishes a link to id. The request resolves on Connected or
// fails on ConnectFailed; cancelling it cancels the pending connection.
func (c *Correlator) Connect(id device.DeviceID, copts radio.ConnectOptions, opts ...Option) (*Request[device.Peripheral], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	return start(c, command[device.Peripheral]{
		op:    "connect",
		id:    id,
		kinds: []eventbus.Kind{eventbus.KindConnected, eventbus.KindConnectFailed, eventbus.KindDisconnected},
		match: forDevice(id),
		complete: func(ev eventbus.Event) (device.Peripheral, error) {
			switch e := ev.(type) {
			case eventbus.Connected:
				if c.registry != nil {
					if p, ok := c.registry.Get(id); ok {
						return p, nil
					}
				}
				p := e.Peripheral
				p.ID, p.Connected = id, true
				return p, nil
			case eventbus.ConnectFailed:
				return device.Peripheral{}, &device.HardwareError{Op: "connect", Device: id, Err: device.ErrNotConnected}
			default:
				return device.Peripheral{}, fmt.Errorf("link closed while connecting: %w", device.ErrNotConnected)
			}
		},
		issue: func() error { return c.radio.Connect(id, copts) },
		cancel: func() {
			if err := c.radio.CancelConnection(id); err != nil {
				c.logger.WithField("device", id).WithError(err).Debug("Cancel connection not accepted")
			}
		},
	}, opts), nil
}

// CancelConnection drops the link to id and resolves once the radio reports
// the disconnection.
func (c *Correlator) CancelConnection(id device.DeviceID, opts ...Option) (*Request[struct{}], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	return start(c, command[struct{}]{
		op:       "cancel-connection",
		id:       id,
		kinds:    []eventbus.Kind{eventbus.KindDisconnected},
		match:    forDevice(id),
		complete: func(eventbus.Event) (struct{}, error) { return struct{}{}, nil },
		issue:    func() error { return c.radio.CancelConnection(id) },
	}, opts), nil
}

// ----------------------------
// Discovery
// ----------------------------

// DiscoverServices discovers the services of id, restricted to filter when
// given. A filter whose services are all already known resolves without a
// radio round trip; an empty filter always discovers.
func (c *Correlator) DiscoverServices(id device.DeviceID, filter []string, opts ...Option) (*Request[[]device.ServiceInfo], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	filter, err := validFilter(filter)
	if err != nil {
		return nil, err
	}
	return discoverServices(c, "discover-services", id, filter, func(svcs []device.ServiceInfo) ([]device.ServiceInfo, error) {
		return svcs, nil
	}, opts), nil
}

// DiscoverService discovers a single service. A discovery that succeeds
// without it fails with a *device.NotFoundError.
func (c *Correlator) DiscoverService(id device.DeviceID, service string, opts ...Option) (*Request[device.ServiceInfo], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	uuids, err := device.ValidateUUID(service)
	if err != nil {
		return nil, err
	}
	return discoverServices(c, "discover-service", id, uuids, func(svcs []device.ServiceInfo) (device.ServiceInfo, error) {
		svc, ok := device.FindService(svcs, uuids[0])
		if !ok {
			return device.ServiceInfo{}, &device.NotFoundError{Resource: "service", UUIDs: uuids}
		}
		return svc, nil
	}, opts), nil
}

func discoverServices[T any](c *Correlator, op string, id device.DeviceID, filter []string, result func([]device.ServiceInfo) (T, error), opts []Option) *Request[T] {
	if c.registry != nil {
		known := c.registry.Services(id)
		if device.ContainsAllUUIDs(device.ServiceUUIDs(known), filter) {
			if v, err := result(selectServices(known, filter)); err == nil {
				c.logger.WithField("device", id).WithField("services", filter).Debug("Services already known, skipping discovery")
				return resolved(c, op, id, v)
			}
		}
	}
	return start(c, command[T]{
		op:    op,
		id:    id,
		kinds: []eventbus.Kind{eventbus.KindServicesDiscovered},
		match: forDevice(id),
		complete: func(ev eventbus.Event) (T, error) {
			return result(selectServices(ev.(eventbus.ServicesDiscovered).Services, filter))
		},
		issue: func() error { return c.radio.DiscoverServices(id, filter) },
	}, opts)
}

// DiscoverIncludedServices discovers the services included by service.
func (c *Correlator) DiscoverIncludedServices(id device.DeviceID, service string, filter []string, opts ...Option) (*Request[[]device.ServiceInfo], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	svc, err := device.ValidateUUID(service)
	if err != nil {
		return nil, err
	}
	if filter, err = validFilter(filter); err != nil {
		return nil, err
	}
	const op = "discover-included-services"

	if c.registry != nil {
		if parent, ok := c.registry.Service(id, svc[0]); ok && device.ContainsAllUUIDs(parent.IncludedServices, filter) {
			var included []device.ServiceInfo
			for _, u := range filter {
				if s, ok := c.registry.Service(id, u); ok {
					included = append(included, s)
				}
			}
			if len(included) == len(filter) {
				return resolved(c, op, id, included), nil
			}
		}
	}

	return start(c, command[[]device.ServiceInfo]{
		op:    op,
		id:    id,
		kinds: []eventbus.Kind{eventbus.KindIncludedServicesDiscovered},
		match: func(ev eventbus.Event) bool {
			return ev.Device() == id && sameUUID(ev.(eventbus.IncludedServicesDiscovered).Service, svc[0])
		},
		complete: func(ev eventbus.Event) ([]device.ServiceInfo, error) {
			return selectServices(ev.(eventbus.IncludedServicesDiscovered).Included, filter), nil
		},
		issue: func() error { return c.radio.DiscoverIncludedServices(id, svc[0], filter) },
	}, opts), nil
}

// DiscoverCharacteristics discovers the characteristics of service, restricted
// to filter when given.
func (c *Correlator) DiscoverCharacteristics(id device.DeviceID, service string, filter []string, opts ...Option) (*Request[[]device.CharacteristicInfo], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	svc, err := device.ValidateUUID(service)
	if err != nil {
		return nil, err
	}
	if filter, err = validFilter(filter); err != nil {
		return nil, err
	}
	return discoverCharacteristics(c, "discover-characteristics", id, svc[0], filter, func(chars []device.CharacteristicInfo) ([]device.CharacteristicInfo, error) {
		return chars, nil
	}, opts), nil
}

// DiscoverCharacteristic discovers one characteristic of service and fails
// with a *device.NotFoundError when the completed discovery lacks it.
func (c *Correlator) DiscoverCharacteristic(id device.DeviceID, service, characteristic string, opts ...Option) (*Request[device.CharacteristicInfo], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	uuids, err := device.ValidateUUID(service, characteristic)
	if err != nil {
		return nil, err
	}
	return discoverCharacteristics(c, "discover-characteristic", id, uuids[0], uuids[1:], func(chars []device.CharacteristicInfo) (device.CharacteristicInfo, error) {
		for _, ch := range chars {
			if sameUUID(ch.UUID, uuids[1]) {
				return ch, nil
			}
		}
		return device.CharacteristicInfo{}, &device.NotFoundError{Resource: "characteristic", UUIDs: uuids}
	}, opts), nil
}

func discoverCharacteristics[T any](c *Correlator, op string, id device.DeviceID, service string, filter []string, result func([]device.CharacteristicInfo) (T, error), opts []Option) *Request[T] {
	if c.registry != nil {
		known := c.registry.Characteristics(id, service)
		if device.ContainsAllUUIDs(device.CharacteristicUUIDs(known), filter) {
			if v, err := result(selectCharacteristics(known, filter)); err == nil {
				c.logger.WithField("device", id).WithField("service", service).Debug("Characteristics already known, skipping discovery")
				return resolved(c, op, id, v)
			}
		}
	}
	return start(c, command[T]{
		op:    op,
		id:    id,
		kinds: []eventbus.Kind{eventbus.KindCharacteristicsDiscovered},
		match: func(ev eventbus.Event) bool {
			return ev.Device() == id && sameUUID(ev.(eventbus.CharacteristicsDiscovered).Service, service)
		},
		complete: func(ev eventbus.Event) (T, error) {
			return result(selectCharacteristics(ev.(eventbus.CharacteristicsDiscovered).Characteristics, filter))
		},
		issue: func() error { return c.radio.DiscoverCharacteristics(id, service, filter) },
	}, opts)
}

// DiscoverDescriptors discovers every descriptor of a characteristic.
func (c *Correlator) DiscoverDescriptors(id device.DeviceID, service, characteristic string, opts ...Option) (*Request[[]device.DescriptorInfo], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	uuids, err := device.ValidateUUID(service, characteristic)
	if err != nil {
		return nil, err
	}
	return discoverDescriptors(c, "discover-descriptors", id, uuids[0], uuids[1], "", func(d []device.DescriptorInfo) ([]device.DescriptorInfo, error) {
		return d, nil
	}, opts), nil
}

// DiscoverDescriptor discovers one descriptor and fails with a
// *device.NotFoundError when the characteristic does not carry it.
func (c *Correlator) DiscoverDescriptor(id device.DeviceID, service, characteristic, descriptor string, opts ...Option) (*Request[device.DescriptorInfo], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	uuids, err := device.ValidateUUID(service, characteristic, descriptor)
	if err != nil {
		return nil, err
	}
	return discoverDescriptors(c, "discover-descriptor", id, uuids[0], uuids[1], uuids[2], func(list []device.DescriptorInfo) (device.DescriptorInfo, error) {
		for _, d := range list {
			if sameUUID(d.UUID, uuids[2]) {
				return d, nil
			}
		}
		return device.DescriptorInfo{}, &device.NotFoundError{Resource: "descriptor", UUIDs: uuids[1:]}
	}, opts), nil
}

// discoverDescriptors short-circuits only when want names a descriptor that
// is already known; descriptor discovery has no filter of its own.
func discoverDescriptors[T any](c *Correlator, op string, id device.DeviceID, service, characteristic, want string, result func([]device.DescriptorInfo) (T, error), opts []Option) *Request[T] {
	if c.registry != nil && want != "" {
		if ch, ok := c.registry.Characteristic(id, service, characteristic); ok {
			if _, known := ch.Descriptor(want); known {
				if v, err := result(ch.Descriptors); err == nil {
					return resolved(c, op, id, v)
				}
			}
		}
	}
	return start(c, command[T]{
		op:    op,
		id:    id,
		kinds: []eventbus.Kind{eventbus.KindDescriptorsDiscovered},
		match: func(ev eventbus.Event) bool {
			e := ev.(eventbus.DescriptorsDiscovered)
			return e.Device() == id && sameUUID(e.Service, service) && sameUUID(e.Characteristic, characteristic)
		},
		complete: func(ev eventbus.Event) (T, error) {
			return result(ev.(eventbus.DescriptorsDiscovered).Descriptors)
		},
		issue: func() error { return c.radio.DiscoverDescriptors(id, service, characteristic) },
	}, opts)
}

// ----------------------------
// Attribute access
// ----------------------------

// ReadCharacteristic reads a characteristic value. A notification arriving
// for the same characteristic while the read is pending also answers it.
func (c *Correlator) ReadCharacteristic(id device.DeviceID, service, characteristic string, opts ...Option) (*Request[[]byte], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	uuids, err := device.ValidateUUID(service, characteristic)
	if err != nil {
		return nil, err
	}
	return start(c, command[[]byte]{
		op:    "read-characteristic",
		id:    id,
		kinds: []eventbus.Kind{eventbus.KindCharacteristicValueUpdated},
		match: matchCharacteristic(id, uuids[0], uuids[1]),
		complete: func(ev eventbus.Event) ([]byte, error) {
			return append([]byte(nil), ev.(eventbus.CharacteristicValueUpdated).Value...), nil
		},
		issue: func() error { return c.radio.ReadCharacteristic(id, uuids[0], uuids[1]) },
	}, opts), nil
}

// WriteCharacteristic writes data. With device.WithResponse the request
// resolves on the write acknowledgement; without, as soon as the radio
// accepts the command.
func (c *Correlator) WriteCharacteristic(id device.DeviceID, service, characteristic string, data []byte, wt device.WriteType, opts ...Option) (*Request[struct{}], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	uuids, err := device.ValidateUUID(service, characteristic)
	if err != nil {
		return nil, err
	}
	payload := append([]byte(nil), data...)
	issue := func() error { return c.radio.WriteCharacteristic(id, uuids[0], uuids[1], payload, wt) }

	if wt == device.WithoutResponse {
		return issuedAndResolved(c, "write-characteristic", id, struct{}{}, issue), nil
	}
	return start(c, command[struct{}]{
		op:       "write-characteristic",
		id:       id,
		kinds:    []eventbus.Kind{eventbus.KindCharacteristicValueWritten},
		match:    matchCharacteristic(id, uuids[0], uuids[1]),
		complete: func(eventbus.Event) (struct{}, error) { return struct{}{}, nil },
		issue:    issue,
	}, opts), nil
}

func (c *Correlator) ReadDescriptor(id device.DeviceID, service, characteristic, descriptor string, opts ...Option) (*Request[[]byte], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	uuids, err := device.ValidateUUID(service, characteristic, descriptor)
	if err != nil {
		return nil, err
	}
	return start(c, command[[]byte]{
		op:    "read-descriptor",
		id:    id,
		kinds: []eventbus.Kind{eventbus.KindDescriptorValueUpdated},
		match: func(ev eventbus.Event) bool {
			e := ev.(eventbus.DescriptorValueUpdated)
			return e.Device() == id && sameUUID(e.Service, uuids[0]) && sameUUID(e.Characteristic, uuids[1]) && sameUUID(e.Descriptor, uuids[2])
		},
		complete: func(ev eventbus.Event) ([]byte, error) {
			return append([]byte(nil), ev.(eventbus.DescriptorValueUpdated).Value...), nil
		},
		issue: func() error { return c.radio.ReadDescriptor(id, uuids[0], uuids[1], uuids[2]) },
	}, opts), nil
}

func (c *Correlator) WriteDescriptor(id device.DeviceID, service, characteristic, descriptor string, data []byte, opts ...Option) (*Request[struct{}], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	uuids, err := device.ValidateUUID(service, characteristic, descriptor)
	if err != nil {
		return nil, err
	}
	payload := append([]byte(nil), data...)
	return start(c, command[struct{}]{
		op:    "write-descriptor",
		id:    id,
		kinds: []eventbus.Kind{eventbus.KindDescriptorValueWritten},
		match: func(ev eventbus.Event) bool {
			e := ev.(eventbus.DescriptorValueWritten)
			return e.Device() == id && sameUUID(e.Service, uuids[0]) && sameUUID(e.Characteristic, uuids[1]) && sameUUID(e.Descriptor, uuids[2])
		},
		complete: func(eventbus.Event) (struct{}, error) { return struct{}{}, nil },
		issue:    func() error { return c.radio.WriteDescriptor(id, uuids[0], uuids[1], uuids[2], payload) },
	}, opts), nil
}

// SetNotify enables or disables notifications. Enabling resolves on the
// radio's confirmation with the resulting state; disabling resolves with
// false as soon as the command is accepted.
func (c *Correlator) SetNotify(id device.DeviceID, service, characteristic string, enabled bool, opts ...Option) (*Request[bool], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	uuids, err := device.ValidateUUID(service, characteristic)
	if err != nil {
		return nil, err
	}
	issue := func() error { return c.radio.SetNotify(id, uuids[0], uuids[1], enabled) }

	if !enabled {
		return issuedAndResolved(c, "set-notify", id, false, issue), nil
	}
	return start(c, command[bool]{
		op:    "set-notify",
		id:    id,
		kinds: []eventbus.Kind{eventbus.KindNotificationStateUpdated},
		match: matchCharacteristic(id, uuids[0], uuids[1]),
		complete: func(ev eventbus.Event) (bool, error) {
			return ev.(eventbus.NotificationStateUpdated).Enabled, nil
		},
		issue: issue,
	}, opts), nil
}

func (c *Correlator) ReadRSSI(id device.DeviceID, opts ...Option) (*Request[int], error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	return start(c, command[int]{
		op:    "read-rssi",
		id:    id,
		kinds: []eventbus.Kind{eventbus.KindRSSIRead},
		match: forDevice(id),
		complete: func(ev eventbus.Event) (int, error) {
			return ev.(eventbus.RSSIRead).RSSI, nil
		},
		issue: func() error { return c.radio.ReadRSSI(id) },
	}, opts), nil
}

// ----------------------------
// Helpers
// ----------------------------

// matchCharacteristic matches the characteristic-scoped events.
func matchCharacteristic(id device.DeviceID, service, characteristic string) func(eventbus.Event) bool {
	return func(ev eventbus.Event) bool {
		if ev.Device() != id {
			return false
		}
		var svc, chr string
		switch e := ev.(type) {
		case eventbus.CharacteristicValueUpdated:
			svc, chr = e.Service, e.Characteristic
		case eventbus.CharacteristicValueWritten:
			svc, chr = e.Service, e.Characteristic
		case eventbus.NotificationStateUpdated:
			svc, chr = e.Service, e.Characteristic
		default:
			return false
		}
		return sameUUID(svc, service) && sameUUID(chr, characteristic)
	}
}

// selectServices keeps the services named by filter; an empty filter keeps all.
func selectServices(svcs []device.ServiceInfo, filter []string) []device.ServiceInfo {
	if len(filter) == 0 {
		return svcs
	}
	var out []device.ServiceInfo
	for _, s := range svcs {
		if device.ContainsUUID(filter, s.UUID) {
			out = append(out, s)
		}
	}
	return out
}

func selectCharacteristics(chars []device.CharacteristicInfo, filter []string) []device.CharacteristicInfo {
	if len(filter) == 0 {
		return chars
	}
	var out []device.CharacteristicInfo
	for _, ch := range chars {
		if device.ContainsUUID(filter, ch.UUID) {
			out = append(out, ch)
		}
	}
	return out
}
