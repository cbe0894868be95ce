package goble

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
	"github.com/srg/blesm/internal/radio"
)

// link is a live connection and the attribute handles discovered over it.
// Handles are keyed by normalized UUID path: "svc", "svc/chr", "svc/chr/dsc".
type link struct {
	id        device.DeviceID
	client    ble.Client
	requested atomic.Bool // CancelConnection was issued; the coming disconnect is not an error
	dropped   sync.Once

	mu        sync.RWMutex
	services  map[string]*ble.Service
	chars     map[string]*ble.Characteristic
	descs     map[string]*ble.Descriptor
	notifying map[string]bool
}

func newLink(id device.DeviceID, client ble.Client) *link {
	return &link{
		id:        id,
		client:    client,
		services:  make(map[string]*ble.Service),
		chars:     make(map[string]*ble.Characteristic),
		descs:     make(map[string]*ble.Descriptor),
		notifying: make(map[string]bool),
	}
}

func charKey(service, characteristic string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(characteristic)
}

func descKey(service, characteristic, descriptor string) string {
	return charKey(service, characteristic) + "/" + device.NormalizeUUID(descriptor)
}

func (l *link) storeServices(svcs []*ble.Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range svcs {
		l.services[uuidString(s.UUID)] = s
	}
}

func (l *link) storeCharacteristics(service string, chars []*ble.Characteristic) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range chars {
		l.chars[charKey(service, uuidString(c.UUID))] = c
	}
}

func (l *link) storeDescriptors(service, characteristic string, descs []*ble.Descriptor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, d := range descs {
		l.descs[descKey(service, characteristic, uuidString(d.UUID))] = d
	}
}

func (l *link) service(uuid string) (*ble.Service, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.services[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return s, nil
}

func (l *link) characteristic(service, characteristic string) (*ble.Characteristic, error) {
	if _, err := l.service(service); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.chars[charKey(service, characteristic)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	return c, nil
}

func (l *link) descriptor(service, characteristic, descriptor string) (*ble.Descriptor, error) {
	if _, err := l.characteristic(service, characteristic); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.descs[descKey(service, characteristic, descriptor)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "descriptor", UUIDs: []string{service, characteristic, descriptor}}
	}
	return d, nil
}

func (l *link) serviceUUIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	uuids := make([]string, 0, len(l.services))
	for u := range l.services {
		uuids = append(uuids, u)
	}
	sort.Strings(uuids)
	return uuids
}

// serviceInfos snapshots every known service with its known characteristics.
func (l *link) serviceInfos() []device.ServiceInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	infos := make([]device.ServiceInfo, 0, len(l.services))
	for u := range l.services {
		info := device.ServiceInfo{UUID: u, Primary: true}
		info.Characteristics = l.characteristicInfosLocked(u)
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UUID < infos[j].UUID })
	return infos
}

func (l *link) characteristicInfos(service string) []device.CharacteristicInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.characteristicInfosLocked(device.NormalizeUUID(service))
}

func (l *link) characteristicInfosLocked(service string) []device.CharacteristicInfo {
	prefix := service + "/"
	var infos []device.CharacteristicInfo
	for key, c := range l.chars {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		info := characteristicInfo(c)
		info.Notifying = l.notifying[key]
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UUID < infos[j].UUID })
	return infos
}

func (l *link) setNotifying(service, characteristic string, enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifying[charKey(service, characteristic)] = enabled
}

// ----------------------------
// Connection lifecycle
// ----------------------------

type pendingDial struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Connect dials the peripheral. Connecting to an already connected peripheral
// republishes Connected; a second Connect while a dial is pending joins it.
func (r *Radio) Connect(id device.DeviceID, opts radio.ConnectOptions) error {
	dev, err := r.bleDevice()
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.links[id]; ok {
		r.mu.Unlock()
		r.run("connect-existing", func(context.Context) {
			r.sink.Publish(eventbus.Connected{Base: eventbus.Base{ID: id}, Peripheral: r.remember(device.Peripheral{ID: id})})
		})
		return nil
	}
	if _, ok := r.dials[id]; ok {
		r.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(r.ctx)
	dialCtx, dialCancel := ctx, context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		dialCtx, dialCancel = context.WithTimeout(ctx, opts.Timeout)
	}
	pending := &pendingDial{cancel: cancel}
	r.dials[id] = pending
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"device":  id,
		"timeout": opts.Timeout,
	}).Debug("Dialing BLE device...")

	r.run("dial", func(context.Context) {
		defer cancel()
		defer dialCancel()
		client, err := dev.Dial(dialCtx, ble.NewAddr(id.String()))

		var l *link
		r.mu.Lock()
		delete(r.dials, id)
		cancelled := pending.cancelled.Load()
		if err == nil {
			l = newLink(id, client)
			r.links[id] = l
		}
		r.mu.Unlock()

		if err != nil {
			if cancelled {
				r.logger.WithField("device", id).Debug("Pending connection cancelled")
				r.sink.Publish(eventbus.Disconnected{Base: eventbus.Base{ID: id}})
				return
			}
			r.logger.WithFields(logrus.Fields{
				"device": id,
				"error":  err,
			}).Warn("Failed to dial BLE device")
			r.sink.Publish(eventbus.ConnectFailed{Base: eventbus.Base{ID: id, Error: hardwareError("connect", id, err)}})
			return
		}

		r.monitor(l)

		r.logger.WithField("device", id).Info("BLE device connected")
		r.sink.Publish(eventbus.Connected{Base: eventbus.Base{ID: id}, Peripheral: r.remember(device.Peripheral{ID: id, LastSeen: r.now()})})

		if cancelled {
			// CancelConnection raced with a successful dial.
			r.disconnect(l)
		}
	})
	return nil
}

// CancelConnection cancels a pending dial or disconnects a live link. The
// outcome is published as Disconnected.
func (r *Radio) CancelConnection(id device.DeviceID) error {
	r.mu.Lock()
	if p, ok := r.dials[id]; ok {
		p.cancelled.Store(true)
		r.mu.Unlock()
		p.cancel()
		return nil
	}
	l, ok := r.links[id]
	r.mu.Unlock()
	if !ok {
		return device.ErrNotConnected
	}

	r.run("cancel-connection", func(context.Context) {
		r.disconnect(l)
	})
	return nil
}

func (r *Radio) disconnect(l *link) {
	l.requested.Store(true)
	if err := l.client.CancelConnection(); err != nil {
		r.logger.WithFields(logrus.Fields{
			"device": l.id,
			"error":  err,
		}).Warn("CancelConnection failed")
		r.dropLink(l, hardwareError("disconnect", l.id, err))
		return
	}
	r.dropLink(l, nil)
}

// monitor publishes Disconnected when the stack reports link loss.
func (r *Radio) monitor(l *link) {
	disconnected, ok := l.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		r.logger.WithField("device", l.id).Debug("Client does not support Disconnected() channel")
		return
	}
	r.run("connection-monitor", func(ctx context.Context) {
		select {
		case <-disconnected.Disconnected():
			var cause error
			if !l.requested.Load() {
				cause = &device.HardwareError{Op: "link", Device: l.id, Err: device.ErrNotConnected}
				r.logger.WithField("device", l.id).Warn("BLE link lost")
			}
			r.dropLink(l, cause)
		case <-ctx.Done():
		}
	})
}

// dropLink forgets l and publishes Disconnected exactly once per link.
func (r *Radio) dropLink(l *link, cause error) {
	l.dropped.Do(func() {
		r.mu.Lock()
		if cur, ok := r.links[l.id]; ok && cur == l {
			delete(r.links, l.id)
		}
		if p, ok := r.seen[l.id]; ok {
			p.Connected = false
			r.seen[l.id] = p
		}
		r.mu.Unlock()

		if cause != nil && errors.Is(cause, context.Canceled) {
			cause = nil
		}
		r.sink.Publish(eventbus.Disconnected{Base: eventbus.Base{ID: l.id, Error: cause}})
	})
}

// link returns the live link for id.
func (r *Radio) link(id device.DeviceID) (*link, error) {
	if _, err := r.bleDevice(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok {
		return nil, device.ErrNotConnected
	}
	return l, nil
}
