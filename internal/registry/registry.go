// Package registry keeps the process-wide Known-Peripheral Set.
//
// The set is written only by its bus subscription, so every mutation happens
// on the bus delivery queue in event order. Readers never mutate it and see
// immutable entries; it is a cache and never authoritative.
package registry

import (
	"sort"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
)

// Entry is everything known about one peripheral.
type Entry struct {
	Peripheral device.Peripheral
	// Services is the GATT tree discovered over the current link. It is
	// dropped on disconnect since attribute handles do not survive a link.
	Services []device.ServiceInfo
}

type Registry struct {
	entries *hashmap.Map[device.DeviceID, *Entry]
	logger  *logrus.Logger
	sub     *eventbus.Subscription
}

func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		entries: hashmap.New[device.DeviceID, *Entry](),
		logger:  logger,
	}
}

// Attach subscribes the registry to bus. Attach it before any other
// subscriber so consumers reading the registry from their own handler see
// the event already applied.
func (r *Registry) Attach(bus *eventbus.Bus) {
	if r.sub != nil {
		r.sub.Cancel()
	}
	r.sub = bus.Subscribe("registry", r.apply)
}

// Detach stops tracking bus events. Known entries are kept.
func (r *Registry) Detach() {
	if r.sub != nil {
		r.sub.Cancel()
		r.sub = nil
	}
}

// ----------------------------
// Read API
// ----------------------------

func (r *Registry) Get(id device.DeviceID) (device.Peripheral, bool) {
	e, ok := r.entries.Get(id)
	if !ok {
		return device.Peripheral{}, false
	}
	return e.Peripheral, true
}

// Lookup returns the known peripherals among ids, in the order of ids.
func (r *Registry) Lookup(ids []device.DeviceID) []device.Peripheral {
	var found []device.Peripheral
	for _, id := range ids {
		if p, ok := r.Get(id); ok {
			found = append(found, p)
		}
	}
	return found
}

func (r *Registry) Len() int {
	return r.entries.Len()
}

// Snapshot lists every known peripheral ordered by ID.
func (r *Registry) Snapshot() []device.Peripheral {
	list := make([]device.Peripheral, 0, r.entries.Len())
	r.entries.Range(func(_ device.DeviceID, e *Entry) bool {
		list = append(list, e.Peripheral)
		return true
	})
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (r *Registry) IsConnected(id device.DeviceID) bool {
	e, ok := r.entries.Get(id)
	return ok && e.Peripheral.Connected
}

// Services returns the discovered services of id.
func (r *Registry) Services(id device.DeviceID) []device.ServiceInfo {
	e, ok := r.entries.Get(id)
	if !ok {
		return nil
	}
	return cloneServices(e.Services)
}

func (r *Registry) Service(id device.DeviceID, service string) (device.ServiceInfo, bool) {
	e, ok := r.entries.Get(id)
	if !ok {
		return device.ServiceInfo{}, false
	}
	svc, ok := device.FindService(e.Services, service)
	if !ok {
		return device.ServiceInfo{}, false
	}
	return cloneServices([]device.ServiceInfo{svc})[0], true
}

// Characteristics returns the discovered characteristics of a service.
func (r *Registry) Characteristics(id device.DeviceID, service string) []device.CharacteristicInfo {
	svc, ok := r.Service(id, service)
	if !ok {
		return nil
	}
	return svc.Characteristics
}

func (r *Registry) Characteristic(id device.DeviceID, service, characteristic string) (device.CharacteristicInfo, bool) {
	svc, ok := r.Service(id, service)
	if !ok {
		return device.CharacteristicInfo{}, false
	}
	return svc.Characteristic(characteristic)
}

// ----------------------------
// Single writer
// ----------------------------

// update replaces the entry for id with fn applied to a private copy.
func (r *Registry) update(id device.DeviceID, fn func(e *Entry)) {
	next := &Entry{Peripheral: device.Peripheral{ID: id}}
	if cur, ok := r.entries.Get(id); ok {
		next.Peripheral = cur.Peripheral
		next.Services = cur.Services
	}
	fn(next)
	r.entries.Set(id, next)
}

func (r *Registry) learn(p device.Peripheral, connected bool) {
	r.update(p.ID, func(e *Entry) {
		e.Peripheral = e.Peripheral.Merge(p)
		if connected {
			e.Peripheral.Connected = true
		}
	})
}

func (r *Registry) apply(ev eventbus.Event) {
	switch e := ev.(type) {
	case eventbus.Disconnected:
		// Applied even when the event carries an error: the link is gone either way.
		if _, ok := r.entries.Get(e.Device()); ok {
			r.update(e.Device(), func(en *Entry) {
				en.Peripheral.Connected = false
				en.Services = nil
			})
		}
		return
	}

	if ev.Err() != nil {
		return
	}

	switch e := ev.(type) {
	case eventbus.Discovered:
		r.learn(e.Peripheral, false)
	case eventbus.RestoreState:
		for _, p := range e.Peripherals {
			r.learn(p, p.Connected)
		}
	case eventbus.PeripheralsRetrieved:
		for _, p := range e.Peripherals {
			r.learn(p, e.Connected || p.Connected)
		}
	case eventbus.Connected:
		p := e.Peripheral
		p.ID = e.Device()
		r.learn(p, true)
	case eventbus.NameUpdated:
		r.update(e.Device(), func(en *Entry) { en.Peripheral.Name = e.Name })
	case eventbus.RSSIRead:
		r.update(e.Device(), func(en *Entry) { en.Peripheral.RSSI = e.RSSI })
	case eventbus.ServicesModified:
		r.update(e.Device(), func(en *Entry) { en.Services = removeServices(en.Services, e.Invalidated) })
	case eventbus.ServicesDiscovered:
		r.update(e.Device(), func(en *Entry) { en.Services = mergeServices(en.Services, e.Services) })
	case eventbus.IncludedServicesDiscovered:
		r.update(e.Device(), func(en *Entry) { en.Services = mergeIncluded(en.Services, e.Service, e.Included) })
	case eventbus.CharacteristicsDiscovered:
		r.update(e.Device(), func(en *Entry) {
			en.Services = withService(en.Services, e.Service, func(s *device.ServiceInfo) {
				s.Characteristics = mergeCharacteristics(s.Characteristics, e.Characteristics)
			})
		})
	case eventbus.DescriptorsDiscovered:
		r.update(e.Device(), func(en *Entry) {
			en.Services = withCharacteristic(en.Services, e.Service, e.Characteristic, func(c *device.CharacteristicInfo) {
				c.Descriptors = append([]device.DescriptorInfo(nil), e.Descriptors...)
			})
		})
	case eventbus.CharacteristicValueUpdated:
		r.update(e.Device(), func(en *Entry) {
			en.Services = withCharacteristic(en.Services, e.Service, e.Characteristic, func(c *device.CharacteristicInfo) {
				c.Value = append([]byte(nil), e.Value...)
			})
		})
	case eventbus.NotificationStateUpdated:
		r.update(e.Device(), func(en *Entry) {
			en.Services = withCharacteristic(en.Services, e.Service, e.Characteristic, func(c *device.CharacteristicInfo) {
				c.Notifying = e.Enabled
			})
		})
	default:
		return
	}

	r.logger.WithFields(logrus.Fields{
		"kind":   ev.Kind().String(),
		"device": ev.Device(),
	}).Trace("Registry updated")
}
