//go:build test

package testutils

import (
	"sync"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
	"github.com/srg/blesm/internal/radio"
)

// Command is one call recorded by FakeRadio.
type Command struct {
	Method         string
	Device         device.DeviceID
	Service        string
	Characteristic string
	Descriptor     string
	Filter         []string
	Data           []byte
	WriteType      device.WriteType
	Enabled        bool
	Name           string
}

// Responder produces the completion events for a command. Returning nil
// leaves the command pending forever.
type Responder func(cmd Command) []eventbus.Event

// FakeRadio is a scripted radio.Radio. By default every accepted command is
// answered synchronously from the configured peripherals, so a request issued
// through it is resolved by the time the issuing call returns. Use Hold,
// Respond and Reject to script anything else, and Emit to inject callbacks
// the way the hardware would.
//
//	fake := testutils.NewFakeRadio().
//	    WithPeripheral(device.Peripheral{ID: id, Name: "HR"},
//	        device.ServiceInfo{UUID: "180d", Primary: true, Characteristics: []device.CharacteristicInfo{
//	            {UUID: "2a37", Properties: device.PropRead | device.PropNotify, Value: []byte{72}},
//	        }})
//	fake.Hold("Connect")
type FakeRadio struct {
	mu         sync.Mutex
	sink       radio.Sink
	state      device.ManagerState
	pmState    device.ManagerState
	commands   []Command
	rejects    map[string]error
	responders map[string]Responder

	order     []device.DeviceID
	known     map[device.DeviceID]device.Peripheral
	profiles  map[device.DeviceID][]device.ServiceInfo
	connected map[device.DeviceID]bool
	// system holds peripherals connected by another process: only
	// RetrieveConnectedPeripherals reports them.
	system   map[device.DeviceID]bool
	scanning bool
	adverts  []device.Peripheral
}

func NewFakeRadio() *FakeRadio {
	return &FakeRadio{
		state:      device.StatePoweredOn,
		pmState:    device.StatePoweredOn,
		rejects:    make(map[string]error),
		responders: make(map[string]Responder),
		known:      make(map[device.DeviceID]device.Peripheral),
		profiles:   make(map[device.DeviceID][]device.ServiceInfo),
		connected:  make(map[device.DeviceID]bool),
		system:     make(map[device.DeviceID]bool),
	}
}

// Factory returns a radio.Factory handing out this fake.
func (f *FakeRadio) Factory() radio.Factory {
	return func(sink radio.Sink) (radio.Radio, error) {
		f.mu.Lock()
		f.sink = sink
		f.mu.Unlock()
		return f, nil
	}
}

// Attach publishes into sink from now on.
func (f *FakeRadio) Attach(sink radio.Sink) *FakeRadio {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
	return f
}

// ----------------------------
// Scripting
// ----------------------------

// WithPeripheral makes p known to the radio (RetrievePeripherals finds it)
// and serves services once connected.
func (f *FakeRadio) WithPeripheral(p device.Peripheral, services ...device.ServiceInfo) *FakeRadio {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.known[p.ID]; !ok {
		f.order = append(f.order, p.ID)
	}
	f.known[p.ID] = p
	f.profiles[p.ID] = services
	if p.Connected {
		f.connected[p.ID] = true
	}
	return f
}

// WithSystemPeripheral adds p as connected to the system by another process:
// it is invisible to RetrievePeripherals and reported by
// RetrieveConnectedPeripherals when it exposes the requested services.
func (f *FakeRadio) WithSystemPeripheral(p device.Peripheral, services ...device.ServiceInfo) *FakeRadio {
	p.Connected = true
	f.WithPeripheral(p, services...)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system[p.ID] = true
	return f
}

// WithProfile serves services for id without making it known to the radio.
func (f *FakeRadio) WithProfile(id device.DeviceID, services ...device.ServiceInfo) *FakeRadio {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[id] = services
	return f
}

// WithAdvertisements queues peripherals reported as Discovered when Scan starts.
func (f *FakeRadio) WithAdvertisements(ps ...device.Peripheral) *FakeRadio {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adverts = append(f.adverts, ps...)
	return f
}

func (f *FakeRadio) SetConnected(id device.DeviceID, connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[id] = connected
}

// Reject makes method fail synchronously with err. A nil err clears it.
func (f *FakeRadio) Reject(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.rejects, method)
		return
	}
	f.rejects[method] = err
}

// Respond replaces the default completion of method.
func (f *FakeRadio) Respond(method string, r Responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responders[method] = r
}

// Hold accepts method without ever completing it.
func (f *FakeRadio) Hold(method string) {
	f.Respond(method, func(Command) []eventbus.Event { return nil })
}

// Emit publishes ev as if the hardware reported it.
func (f *FakeRadio) Emit(evs ...eventbus.Event) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink == nil {
		return
	}
	for _, ev := range evs {
		sink.Publish(ev)
	}
}

// SetState changes both manager states and reports the change.
func (f *FakeRadio) SetState(state device.ManagerState) {
	f.mu.Lock()
	f.state, f.pmState = state, state
	f.mu.Unlock()
	f.Emit(eventbus.StateChanged{State: state}, eventbus.PeripheralManagerStateChanged{State: state})
}

// ----------------------------
// Inspection
// ----------------------------

func (f *FakeRadio) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.commands...)
}

// CommandsFor returns the recorded calls of method in call order.
func (f *FakeRadio) CommandsFor(method string) []Command {
	var out []Command
	for _, c := range f.Commands() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeRadio) Count(method string) int {
	return len(f.CommandsFor(method))
}

func (f *FakeRadio) Scanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

// ----------------------------
// radio.Radio
// ----------------------------

func (f *FakeRadio) Start() error {
	f.mu.Lock()
	state, pm := f.state, f.pmState
	f.mu.Unlock()
	f.Emit(eventbus.StateChanged{State: state}, eventbus.PeripheralManagerStateChanged{State: pm})
	return nil
}

func (f *FakeRadio) Close() error {
	f.mu.Lock()
	f.scanning = false
	f.mu.Unlock()
	return nil
}

func (f *FakeRadio) State() device.ManagerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakeRadio) PeripheralManagerState() device.ManagerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pmState
}

func (f *FakeRadio) Scan(opts radio.ScanOptions) error {
	err := f.exec(Command{Method: "Scan", Filter: opts.Services}, func(Command) []eventbus.Event {
		f.mu.Lock()
		adverts := append([]device.Peripheral(nil), f.adverts...)
		f.mu.Unlock()

		var evs []eventbus.Event
		for _, p := range adverts {
			if len(opts.Services) > 0 && !containsAny(p.Services, opts.Services) {
				continue
			}
			evs = append(evs, eventbus.Discovered{Peripheral: p})
		}
		return evs
	})
	if err == nil {
		f.mu.Lock()
		f.scanning = true
		f.mu.Unlock()
	}
	return err
}

func (f *FakeRadio) StopScan() error {
	f.mu.Lock()
	f.commands = append(f.commands, Command{Method: "StopScan"})
	f.scanning = false
	f.mu.Unlock()
	return nil
}

func (f *FakeRadio) Connect(id device.DeviceID, _ radio.ConnectOptions) error {
	return f.exec(Command{Method: "Connect", Device: id}, func(cmd Command) []eventbus.Event {
		f.mu.Lock()
		f.connected[id] = true
		p, ok := f.known[id]
		f.mu.Unlock()
		if !ok {
			p = device.Peripheral{ID: id}
		}
		p.Connected = true
		return []eventbus.Event{eventbus.Connected{Base: eventbus.Base{ID: id}, Peripheral: p}}
	})
}

func (f *FakeRadio) CancelConnection(id device.DeviceID) error {
	return f.exec(Command{Method: "CancelConnection", Device: id}, func(Command) []eventbus.Event {
		f.mu.Lock()
		f.connected[id] = false
		f.mu.Unlock()
		return []eventbus.Event{eventbus.Disconnected{Base: eventbus.Base{ID: id}}}
	})
}

func (f *FakeRadio) RetrievePeripherals(ids []device.DeviceID) ([]device.Peripheral, error) {
	if err := f.record(Command{Method: "RetrievePeripherals"}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []device.Peripheral
	for _, id := range ids {
		if p, ok := f.known[id]; ok && !f.system[id] {
			p.Connected = f.connected[id]
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *FakeRadio) RetrieveConnectedPeripherals(services []string) ([]device.Peripheral, error) {
	if err := f.record(Command{Method: "RetrieveConnectedPeripherals", Filter: services}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []device.Peripheral
	for _, id := range f.order {
		if !f.connected[id] {
			continue
		}
		if !device.ContainsAllUUIDs(device.ServiceUUIDs(f.profiles[id]), services) {
			continue
		}
		p := f.known[id]
		p.Connected = true
		out = append(out, p)
	}
	return out, nil
}

func (f *FakeRadio) DiscoverServices(id device.DeviceID, filter []string) error {
	return f.execConnected(Command{Method: "DiscoverServices", Device: id, Filter: filter}, func(Command) []eventbus.Event {
		var svcs []device.ServiceInfo
		for _, s := range f.profile(id) {
			if len(filter) == 0 || device.ContainsUUID(filter, s.UUID) {
				s.Characteristics = nil
				svcs = append(svcs, s)
			}
		}
		return []eventbus.Event{eventbus.ServicesDiscovered{Base: eventbus.Base{ID: id}, Services: svcs}}
	})
}

func (f *FakeRadio) DiscoverIncludedServices(id device.DeviceID, service string, filter []string) error {
	return f.execConnected(Command{Method: "DiscoverIncludedServices", Device: id, Service: service, Filter: filter}, func(Command) []eventbus.Event {
		profile := f.profile(id)
		parent, _ := device.FindService(profile, service)
		var included []device.ServiceInfo
		for _, u := range parent.IncludedServices {
			if len(filter) > 0 && !device.ContainsUUID(filter, u) {
				continue
			}
			if s, ok := device.FindService(profile, u); ok {
				s.Characteristics = nil
				included = append(included, s)
			}
		}
		return []eventbus.Event{eventbus.IncludedServicesDiscovered{Base: eventbus.Base{ID: id}, Service: service, Included: included}}
	})
}

func (f *FakeRadio) DiscoverCharacteristics(id device.DeviceID, service string, filter []string) error {
	return f.execConnected(Command{Method: "DiscoverCharacteristics", Device: id, Service: service, Filter: filter}, func(Command) []eventbus.Event {
		svc, _ := device.FindService(f.profile(id), service)
		var chars []device.CharacteristicInfo
		for _, c := range svc.Characteristics {
			if len(filter) == 0 || device.ContainsUUID(filter, c.UUID) {
				c.Descriptors, c.Value = nil, nil
				chars = append(chars, c)
			}
		}
		return []eventbus.Event{eventbus.CharacteristicsDiscovered{Base: eventbus.Base{ID: id}, Service: service, Characteristics: chars}}
	})
}

func (f *FakeRadio) DiscoverDescriptors(id device.DeviceID, service, characteristic string) error {
	return f.execConnected(Command{Method: "DiscoverDescriptors", Device: id, Service: service, Characteristic: characteristic}, func(Command) []eventbus.Event {
		c, _ := f.characteristic(id, service, characteristic)
		return []eventbus.Event{eventbus.DescriptorsDiscovered{
			Base: eventbus.Base{ID: id}, Service: service, Characteristic: characteristic, Descriptors: c.Descriptors,
		}}
	})
}

func (f *FakeRadio) ReadCharacteristic(id device.DeviceID, service, characteristic string) error {
	return f.execConnected(Command{Method: "ReadCharacteristic", Device: id, Service: service, Characteristic: characteristic}, func(Command) []eventbus.Event {
		c, _ := f.characteristic(id, service, characteristic)
		return []eventbus.Event{eventbus.CharacteristicValueUpdated{
			Base: eventbus.Base{ID: id}, Service: service, Characteristic: characteristic, Value: c.Value,
		}}
	})
}

func (f *FakeRadio) WriteCharacteristic(id device.DeviceID, service, characteristic string, data []byte, wt device.WriteType) error {
	cmd := Command{Method: "WriteCharacteristic", Device: id, Service: service, Characteristic: characteristic, Data: append([]byte(nil), data...), WriteType: wt}
	return f.execConnected(cmd, func(Command) []eventbus.Event {
		f.updateCharacteristic(id, service, characteristic, func(c *device.CharacteristicInfo) { c.Value = cmd.Data })
		if wt == device.WithoutResponse {
			return []eventbus.Event{eventbus.ReadyToSendWithoutResponse{Base: eventbus.Base{ID: id}}}
		}
		return []eventbus.Event{eventbus.CharacteristicValueWritten{Base: eventbus.Base{ID: id}, Service: service, Characteristic: characteristic}}
	})
}

func (f *FakeRadio) ReadDescriptor(id device.DeviceID, service, characteristic, descriptor string) error {
	cmd := Command{Method: "ReadDescriptor", Device: id, Service: service, Characteristic: characteristic, Descriptor: descriptor}
	return f.execConnected(cmd, func(Command) []eventbus.Event {
		c, _ := f.characteristic(id, service, characteristic)
		d, _ := c.Descriptor(descriptor)
		return []eventbus.Event{eventbus.DescriptorValueUpdated{
			Base: eventbus.Base{ID: id}, Service: service, Characteristic: characteristic, Descriptor: descriptor, Value: d.Value,
		}}
	})
}

func (f *FakeRadio) WriteDescriptor(id device.DeviceID, service, characteristic, descriptor string, data []byte) error {
	cmd := Command{Method: "WriteDescriptor", Device: id, Service: service, Characteristic: characteristic, Descriptor: descriptor, Data: append([]byte(nil), data...)}
	return f.execConnected(cmd, func(Command) []eventbus.Event {
		return []eventbus.Event{eventbus.DescriptorValueWritten{
			Base: eventbus.Base{ID: id}, Service: service, Characteristic: characteristic, Descriptor: descriptor,
		}}
	})
}

func (f *FakeRadio) SetNotify(id device.DeviceID, service, characteristic string, enabled bool) error {
	cmd := Command{Method: "SetNotify", Device: id, Service: service, Characteristic: characteristic, Enabled: enabled}
	return f.execConnected(cmd, func(Command) []eventbus.Event {
		f.updateCharacteristic(id, service, characteristic, func(c *device.CharacteristicInfo) { c.Notifying = enabled })
		return []eventbus.Event{eventbus.NotificationStateUpdated{
			Base: eventbus.Base{ID: id}, Service: service, Characteristic: characteristic, Enabled: enabled,
		}}
	})
}

func (f *FakeRadio) ReadRSSI(id device.DeviceID) error {
	return f.execConnected(Command{Method: "ReadRSSI", Device: id}, func(Command) []eventbus.Event {
		f.mu.Lock()
		rssi := f.known[id].RSSI
		f.mu.Unlock()
		return []eventbus.Event{eventbus.RSSIRead{Base: eventbus.Base{ID: id}, RSSI: rssi}}
	})
}

func (f *FakeRadio) StartAdvertising(name string, services []string) error {
	return f.exec(Command{Method: "StartAdvertising", Name: name, Filter: services}, func(Command) []eventbus.Event {
		return []eventbus.Event{eventbus.AdvertisingStarted{}}
	})
}

func (f *FakeRadio) StopAdvertising() error {
	return f.record(Command{Method: "StopAdvertising"})
}

func (f *FakeRadio) AddService(def radio.ServiceDefinition) error {
	return f.exec(Command{Method: "AddService", Service: def.UUID}, func(Command) []eventbus.Event {
		return []eventbus.Event{eventbus.ServiceAdded{Service: device.NormalizeUUID(def.UUID)}}
	})
}

func (f *FakeRadio) RemoveAllServices() error {
	return f.record(Command{Method: "RemoveAllServices"})
}

func (f *FakeRadio) UpdateValue(service, characteristic string, value []byte) error {
	cmd := Command{Method: "UpdateValue", Service: service, Characteristic: characteristic, Data: append([]byte(nil), value...)}
	return f.exec(cmd, func(Command) []eventbus.Event {
		return []eventbus.Event{eventbus.ReadyToUpdateSubscribers{}}
	})
}

// ----------------------------
// Internals
// ----------------------------

// record stores cmd and returns the synchronous rejection, if any.
func (f *FakeRadio) record(cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	if err, ok := f.rejects[cmd.Method]; ok {
		return err
	}
	if f.state != device.StatePoweredOn && cmd.Method != "StopScan" && cmd.Method != "StopAdvertising" {
		return device.ErrBluetoothOff
	}
	return nil
}

func (f *FakeRadio) exec(cmd Command, fallback Responder) error {
	return f.run(cmd, fallback, false)
}

// execConnected is exec for commands that need an established link.
func (f *FakeRadio) execConnected(cmd Command, fallback Responder) error {
	return f.run(cmd, fallback, true)
}

func (f *FakeRadio) run(cmd Command, fallback Responder, needsLink bool) error {
	if err := f.record(cmd); err != nil {
		return err
	}
	f.mu.Lock()
	connected := f.connected[cmd.Device]
	respond, ok := f.responders[cmd.Method]
	f.mu.Unlock()
	if needsLink && !connected {
		return device.ErrNotConnected
	}
	if !ok {
		respond = fallback
	}
	f.Emit(respond(cmd)...)
	return nil
}

func (f *FakeRadio) profile(id device.DeviceID) []device.ServiceInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[id]
}

func (f *FakeRadio) characteristic(id device.DeviceID, service, characteristic string) (device.CharacteristicInfo, bool) {
	svc, ok := device.FindService(f.profile(id), service)
	if !ok {
		return device.CharacteristicInfo{}, false
	}
	return svc.Characteristic(characteristic)
}

func (f *FakeRadio) updateCharacteristic(id device.DeviceID, service, characteristic string, fn func(*device.CharacteristicInfo)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile := append([]device.ServiceInfo(nil), f.profiles[id]...)
	for i := range profile {
		if device.NormalizeUUID(profile[i].UUID) != device.NormalizeUUID(service) {
			continue
		}
		chars := append([]device.CharacteristicInfo(nil), profile[i].Characteristics...)
		for j := range chars {
			if device.NormalizeUUID(chars[j].UUID) == device.NormalizeUUID(characteristic) {
				fn(&chars[j])
			}
		}
		profile[i].Characteristics = chars
	}
	f.profiles[id] = profile
}

func containsAny(have, want []string) bool {
	for _, w := range want {
		if device.ContainsUUID(have, w) {
			return true
		}
	}
	return false
}

var _ radio.Radio = (*FakeRadio)(nil)
