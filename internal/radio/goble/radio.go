// Package goble implements radio.Radio on top of github.com/go-ble/ble.
//
// go-ble exposes a blocking, call-and-return API. The adapter turns every
// command into a named goroutine that performs the call and publishes the
// outcome as the matching delegate-style event, so the rest of the session
// manager sees the same callback surface on every platform.
package goble

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
	"github.com/srg/blesm/internal/groutine"
	"github.com/srg/blesm/internal/radio"
)

var _ radio.Radio = (*Radio)(nil)

// Radio drives a single ble.Device in both roles.
type Radio struct {
	sink   radio.Sink
	logger *logrus.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	dev        ble.Device
	state      device.ManagerState
	scanCancel context.CancelFunc
	scanDone   chan struct{}
	advCancel  context.CancelFunc
	seen       map[device.DeviceID]device.Peripheral
	dials      map[device.DeviceID]*pendingDial
	links      map[device.DeviceID]*link
	local      map[string]*ble.Service
	localChars map[string]*localCharacteristic
}

// New creates a radio publishing into sink. Start must be called before any command.
func New(sink radio.Sink, logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Radio{
		sink:   sink,
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		seen:   make(map[device.DeviceID]device.Peripheral),
		dials:  make(map[device.DeviceID]*pendingDial),
		links:  make(map[device.DeviceID]*link),
		local:  make(map[string]*ble.Service),
	}
}

// NewFactory adapts New to radio.Factory.
func NewFactory(logger *logrus.Logger) radio.Factory {
	return func(sink radio.Sink) (radio.Radio, error) {
		return New(sink, logger), nil
	}
}

// Start creates the platform device and publishes the resulting manager
// states. A device that cannot be created leaves the radio in the reported
// state; commands then fail with ErrBluetoothOff.
func (r *Radio) Start() error {
	dev, err := DeviceFactory()
	err = NormalizeError(err)
	state := stateFromError(err)

	r.mu.Lock()
	r.dev = dev
	r.state = state
	r.mu.Unlock()

	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"state": state.String(),
			"error": err,
		}).Warn("BLE device unavailable")
	} else {
		r.logger.Debug("BLE device created")
	}

	r.sink.Publish(eventbus.StateChanged{State: state})
	r.sink.Publish(eventbus.PeripheralManagerStateChanged{State: state})

	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}
	return nil
}

// Close stops scanning and advertising, drops every link and stops the device.
func (r *Radio) Close() error {
	r.cancel()

	r.mu.Lock()
	links := make([]*link, 0, len(r.links))
	for _, l := range r.links {
		links = append(links, l)
	}
	for _, p := range r.dials {
		p.cancelled.Store(true)
		p.cancel()
	}
	dev := r.dev
	scanDone := r.scanDone
	r.mu.Unlock()

	for _, l := range links {
		l.requested.Store(true)
		if err := l.client.CancelConnection(); err != nil {
			r.logger.WithFields(logrus.Fields{
				"device": l.id,
				"error":  err,
			}).Debug("CancelConnection during close failed")
		}
		r.dropLink(l, nil)
	}

	if scanDone != nil {
		<-scanDone
	}

	if dev == nil {
		return nil
	}
	return NormalizeError(dev.Stop())
}

func (r *Radio) State() device.ManagerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Radio) PeripheralManagerState() device.ManagerState {
	return r.State()
}

// bleDevice returns the ble.Device or ErrBluetoothOff when the radio is not powered.
func (r *Radio) bleDevice() (ble.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil || r.state != device.StatePoweredOn {
		return nil, device.ErrBluetoothOff
	}
	return r.dev, nil
}

// run executes fn on a named goroutine bound to the radio lifetime.
func (r *Radio) run(name string, fn func(ctx context.Context)) {
	groutine.GoRecover(r.ctx, "goble-"+name, r.logger, fn)
}

// remember records p as seen and returns the merged snapshot.
func (r *Radio) remember(p device.Peripheral) device.Peripheral {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.seen[p.ID]; ok {
		p = prev.Merge(p)
	}
	_, p.Connected = r.links[p.ID]
	r.seen[p.ID] = p
	return p
}

// ----------------------------
// Scanning
// ----------------------------

// Scan starts an active scan, replacing any scan in progress. Every matching
// advertisement is published as a Discovered event.
func (r *Radio) Scan(opts radio.ScanOptions) error {
	dev, err := r.bleDevice()
	if err != nil {
		return err
	}
	services, err := validateFilter(opts.Services)
	if err != nil {
		return err
	}

	r.stopScan()

	ctx, cancel := context.WithCancel(r.ctx)
	done := make(chan struct{})
	r.mu.Lock()
	r.scanCancel = cancel
	r.scanDone = done
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"services":         services,
		"allow_duplicates": opts.AllowDuplicates,
	}).Debug("Starting BLE scan")

	r.run("scan", func(context.Context) {
		defer close(done)
		err := dev.Scan(ctx, opts.AllowDuplicates, func(adv ble.Advertisement) {
			p, ok := peripheralFromAdvertisement(adv, r.now())
			if !ok || !advertisesAny(p, services) {
				return
			}
			r.sink.Publish(eventbus.Discovered{Peripheral: r.remember(p)})
		})
		if err != nil && ctx.Err() == nil {
			r.logger.WithField("error", err).Warn("BLE scan ended with error")
		}
	})
	return nil
}

func (r *Radio) StopScan() error {
	r.stopScan()
	return nil
}

func (r *Radio) stopScan() {
	r.mu.Lock()
	cancel, done := r.scanCancel, r.scanDone
	r.scanCancel, r.scanDone = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Debug("BLE scan stopped")
}

// ----------------------------
// Known peripherals
// ----------------------------

func (r *Radio) RetrievePeripherals(ids []device.DeviceID) ([]device.Peripheral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found []device.Peripheral
	for _, id := range ids {
		if p, ok := r.seen[id]; ok {
			_, p.Connected = r.links[id]
			found = append(found, p)
		}
	}
	return found, nil
}

func (r *Radio) RetrieveConnectedPeripherals(services []string) ([]device.Peripheral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found []device.Peripheral
	for id, l := range r.links {
		if len(services) > 0 && !device.ContainsAllUUIDs(l.serviceUUIDs(), services) {
			continue
		}
		p, ok := r.seen[id]
		if !ok {
			p = device.Peripheral{ID: id}
		}
		p.Connected = true
		found = append(found, p)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found, nil
}
