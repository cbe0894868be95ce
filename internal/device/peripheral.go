package device

import (
	"sort"
	"strings"
	"time"
)

// ManagerState mirrors the power/authorization state of a central or
// peripheral manager.
type ManagerState int

const (
	StateUnknown ManagerState = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

var managerStateNames = map[ManagerState]string{
	StateUnknown:      "unknown",
	StateResetting:    "resetting",
	StateUnsupported:  "unsupported",
	StateUnauthorized: "unauthorized",
	StatePoweredOff:   "powered_off",
	StatePoweredOn:    "powered_on",
}

func (s ManagerState) String() string {
	if name, ok := managerStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// WriteType selects whether a write waits for the peripheral's acknowledgement.
type WriteType int

const (
	WithResponse WriteType = iota
	WithoutResponse
)

func (w WriteType) String() string {
	if w == WithoutResponse {
		return "without_response"
	}
	return "with_response"
}

// Properties is the GATT characteristic property bit set.
type Properties uint8

const (
	PropBroadcast     Properties = 0x01
	PropRead          Properties = 0x02
	PropWriteNoResp   Properties = 0x04
	PropWrite         Properties = 0x08
	PropNotify        Properties = 0x10
	PropIndicate      Properties = 0x20
	PropSignedWrite   Properties = 0x40
	PropExtendedProps Properties = 0x80
)

var propertyNames = []struct {
	bit  Properties
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteNoResp, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropSignedWrite, "signed-write"},
	{PropExtendedProps, "extended-properties"},
}

// Has reports whether every bit of p2 is set in p.
func (p Properties) Has(p2 Properties) bool {
	return p&p2 == p2
}

// Names returns the human-readable names of the set bits, in bit order.
func (p Properties) Names() []string {
	var names []string
	for _, pn := range propertyNames {
		if p&pn.bit != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

func (p Properties) String() string {
	return strings.Join(p.Names(), ",")
}

// MarshalText renders the property names, so JSON and YAML carry "read,notify".
func (p Properties) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (p *Properties) UnmarshalText(text []byte) error {
	*p = ParseProperties(string(text))
	return nil
}

// ParseProperties parses a comma-separated property list ("read,notify").
// Unknown names are ignored.
func ParseProperties(s string) Properties {
	var p Properties
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		for _, pn := range propertyNames {
			if pn.name == part {
				p |= pn.bit
			}
		}
	}
	return p
}

// DescriptorInfo describes a discovered GATT descriptor.
type DescriptorInfo struct {
	UUID  string `json:"uuid"`
	Value []byte `json:"value,omitempty"`
}

// CharacteristicInfo describes a discovered GATT characteristic.
type CharacteristicInfo struct {
	UUID        string           `json:"uuid"`
	Properties  Properties       `json:"properties"`
	Value       []byte           `json:"value,omitempty"`
	Notifying   bool             `json:"notifying,omitempty"`
	Descriptors []DescriptorInfo `json:"descriptors,omitempty"`
}

// Descriptor returns the descriptor with the given UUID, if discovered.
func (c CharacteristicInfo) Descriptor(uuid string) (DescriptorInfo, bool) {
	n := NormalizeUUID(uuid)
	for _, d := range c.Descriptors {
		if NormalizeUUID(d.UUID) == n {
			return d, true
		}
	}
	return DescriptorInfo{}, false
}

// ServiceInfo describes a discovered GATT service.
type ServiceInfo struct {
	UUID             string               `json:"uuid"`
	Primary          bool                 `json:"primary"`
	IncludedServices []string             `json:"included_services,omitempty"`
	Characteristics  []CharacteristicInfo `json:"characteristics,omitempty"`
}

// Characteristic returns the characteristic with the given UUID, if discovered.
func (s ServiceInfo) Characteristic(uuid string) (CharacteristicInfo, bool) {
	n := NormalizeUUID(uuid)
	for _, c := range s.Characteristics {
		if NormalizeUUID(c.UUID) == n {
			return c, true
		}
	}
	return CharacteristicInfo{}, false
}

// FindService returns the service with the given UUID from services.
func FindService(services []ServiceInfo, uuid string) (ServiceInfo, bool) {
	n := NormalizeUUID(uuid)
	for _, s := range services {
		if NormalizeUUID(s.UUID) == n {
			return s, true
		}
	}
	return ServiceInfo{}, false
}

// ServiceUUIDs lists the UUIDs of services.
func ServiceUUIDs(services []ServiceInfo) []string {
	uuids := make([]string, 0, len(services))
	for _, s := range services {
		uuids = append(uuids, NormalizeUUID(s.UUID))
	}
	return uuids
}

// CharacteristicUUIDs lists the UUIDs of chars.
func CharacteristicUUIDs(chars []CharacteristicInfo) []string {
	uuids := make([]string, 0, len(chars))
	for _, c := range chars {
		uuids = append(uuids, NormalizeUUID(c.UUID))
	}
	return uuids
}

// Peripheral is the last-known snapshot of a remote device. It is a value:
// two snapshots denote the same peripheral when their IDs are equal.
type Peripheral struct {
	ID               DeviceID          `json:"id"`
	Name             string            `json:"name,omitempty"`
	RSSI             int               `json:"rssi"`
	Connectable      bool              `json:"connectable"`
	Connected        bool              `json:"connected"`
	Services         []string          `json:"advertised_services,omitempty"`
	ManufacturerData []byte            `json:"manufacturer_data,omitempty"`
	ServiceData      map[string][]byte `json:"service_data,omitempty"`
	TxPower          *int              `json:"tx_power,omitempty"`
	LastSeen         time.Time         `json:"last_seen"`
}

// DisplayName returns the name, falling back to the identifier.
func (p Peripheral) DisplayName() string {
	if p.Name == "" {
		return p.ID.String()
	}
	return p.Name
}

// Merge folds a newer snapshot of the same peripheral into p. Fields absent in
// the newer snapshot keep their previous values.
func (p Peripheral) Merge(newer Peripheral) Peripheral {
	if newer.ID != p.ID {
		return p
	}
	if newer.Name != "" {
		p.Name = newer.Name
	}
	if newer.RSSI != 0 {
		p.RSSI = newer.RSSI
	}
	p.Connectable = p.Connectable || newer.Connectable
	if len(newer.ManufacturerData) > 0 {
		p.ManufacturerData = newer.ManufacturerData
	}
	if newer.TxPower != nil {
		p.TxPower = newer.TxPower
	}
	services := append([]string(nil), p.Services...)
	for _, svc := range newer.Services {
		if !ContainsUUID(services, svc) {
			services = append(services, NormalizeUUID(svc))
		}
	}
	sort.Strings(services)
	p.Services = services
	if len(newer.ServiceData) > 0 {
		merged := make(map[string][]byte, len(p.ServiceData)+len(newer.ServiceData))
		for k, v := range p.ServiceData {
			merged[k] = v
		}
		for k, v := range newer.ServiceData {
			merged[NormalizeUUID(k)] = v
		}
		p.ServiceData = merged
	}
	if newer.LastSeen.After(p.LastSeen) {
		p.LastSeen = newer.LastSeen
	}
	return p
}

// PeripheralIDs lists the IDs of peripherals in order.
func PeripheralIDs(peripherals []Peripheral) []DeviceID {
	ids := make([]DeviceID, 0, len(peripherals))
	for _, p := range peripherals {
		ids = append(ids, p.ID)
	}
	return ids
}

// MergePeripherals concatenates lists, keeping the first occurrence of each ID
// (merged with later duplicates) in first-seen order.
func MergePeripherals(lists ...[]Peripheral) []Peripheral {
	index := make(map[DeviceID]int)
	var result []Peripheral
	for _, list := range lists {
		for _, p := range list {
			if i, ok := index[p.ID]; ok {
				result[i] = result[i].Merge(p)
				continue
			}
			index[p.ID] = len(result)
			result = append(result, p)
		}
	}
	return result
}
