//go:build test

package testutils

import (
	"github.com/go-ble/ble"

	"github.com/srg/blesm/internal/device"
)

// AdvertisementBuilder builds mocked go-ble advertisements and the snapshot
// the radio is expected to derive from each of them. Unset RSSI reads as
// -50 and unset TX power as unavailable.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        *int
	services    []string
	manufData   []byte
	serviceData map[string][]byte
	txPower     *int
	connectable bool
}

func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{connectable: true}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithAddress sets the advertiser address. An advertisement without one is
// dropped by the radio.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = &rssi
	return b
}

// WithServices adds advertised service UUIDs, short or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	if b.serviceData == nil {
		b.serviceData = make(map[string][]byte)
	}
	b.serviceData[uuid] = data
	return b
}

func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.txPower = &power
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

func (b *AdvertisementBuilder) rssiOrDefault() int {
	if b.rssi == nil {
		return -50
	}
	return *b.rssi
}

// Build creates the mocked advertisement. Every accessor has an expectation
// since the radio reads them all.
func (b *AdvertisementBuilder) Build() *MockAdvertisement {
	adv := &MockAdvertisement{}

	var bleServices []ble.UUID
	for _, s := range b.services {
		bleServices = append(bleServices, ble.MustParse(device.NormalizeUUID(s)))
	}

	var bleServiceData []ble.ServiceData
	for uuid, data := range b.serviceData {
		bleServiceData = append(bleServiceData, ble.ServiceData{
			UUID: ble.MustParse(device.NormalizeUUID(uuid)),
			Data: data,
		})
	}

	if b.address != "" {
		addr := &MockAddr{}
		addr.On("String").Return(b.address)
		adv.On("Addr").Return(addr)
	} else {
		adv.On("Addr").Return(nil)
	}

	txPower := 127 // go-ble's "unavailable"
	if b.txPower != nil {
		txPower = *b.txPower
	}

	adv.On("LocalName").Return(b.name)
	adv.On("RSSI").Return(b.rssiOrDefault())
	adv.On("ManufacturerData").Return(b.manufData)
	adv.On("ServiceData").Return(bleServiceData)
	adv.On("Services").Return(bleServices)
	adv.On("Connectable").Return(b.connectable)
	adv.On("TxPowerLevel").Return(txPower)

	return adv
}

// BuildPeripheral returns the snapshot the radio is expected to derive from
// this advertisement, LastSeen aside.
func (b *AdvertisementBuilder) BuildPeripheral() device.Peripheral {
	p := device.Peripheral{
		ID:               device.MustParseDeviceID(b.address),
		Name:             b.name,
		RSSI:             b.rssiOrDefault(),
		Connectable:      b.connectable,
		Services:         device.NormalizeUUIDs(b.services),
		ManufacturerData: b.manufData,
		TxPower:          b.txPower,
	}
	if len(b.serviceData) > 0 {
		p.ServiceData = make(map[string][]byte, len(b.serviceData))
		for k, v := range b.serviceData {
			p.ServiceData[device.NormalizeUUID(k)] = v
		}
	}
	return p
}

// AdvertisementArrayBuilder collects advertisements for a mocked scan. T is
// what Build returns: []ble.Advertisement standalone, or the parent
// *PeripheralDeviceBuilder when reached through WithScanAdvertisements.
//
//	s.WithAdvertisements().
//	    WithAdvertisements(beacon.Build()).
//	    WithNewAdvertisement().WithAddress("11:22:33:44:55:66").WithName("HR").Build()
type AdvertisementArrayBuilder[T any] struct {
	advertisements []ble.Advertisement
	parent         T
	buildFunc      func(T, []ble.Advertisement) T
}

func NewAdvertisementArrayBuilder[T any]() *AdvertisementArrayBuilder[T] {
	return &AdvertisementArrayBuilder[T]{}
}

func (ab *AdvertisementArrayBuilder[T]) WithAdvertisements(ads ...ble.Advertisement) *AdvertisementArrayBuilder[T] {
	ab.advertisements = append(ab.advertisements, ads...)
	return ab
}

// WithNewAdvertisement starts an advertisement whose Build appends it here.
func (ab *AdvertisementArrayBuilder[T]) WithNewAdvertisement() *AdvertisementArrayBuilderItem[T] {
	return &AdvertisementArrayBuilderItem[T]{
		AdvertisementBuilder: NewAdvertisementBuilder(),
		parent:               ab,
	}
}

func (ab *AdvertisementArrayBuilder[T]) Build() T {
	if ab.buildFunc != nil {
		return ab.buildFunc(ab.parent, ab.advertisements)
	}
	var result interface{} = ab.advertisements
	return result.(T)
}

type AdvertisementArrayBuilderItem[T any] struct {
	*AdvertisementBuilder
	parent *AdvertisementArrayBuilder[T]
}

func (abi *AdvertisementArrayBuilderItem[T]) Build() *AdvertisementArrayBuilder[T] {
	abi.parent.advertisements = append(abi.parent.advertisements, abi.AdvertisementBuilder.Build())
	return abi.parent
}

// The item setters shadow the embedded ones so chains stay on the item and
// Build returns to the array.

func (abi *AdvertisementArrayBuilderItem[T]) WithName(name string) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithName(name)
	return abi
}

func (abi *AdvertisementArrayBuilderItem[T]) WithAddress(addr string) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithAddress(addr)
	return abi
}

func (abi *AdvertisementArrayBuilderItem[T]) WithRSSI(rssi int) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithRSSI(rssi)
	return abi
}

func (abi *AdvertisementArrayBuilderItem[T]) WithServices(uuids ...string) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithServices(uuids...)
	return abi
}

func (abi *AdvertisementArrayBuilderItem[T]) WithServiceData(uuid string, data []byte) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithServiceData(uuid, data)
	return abi
}

func (abi *AdvertisementArrayBuilderItem[T]) WithConnectable(c bool) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithConnectable(c)
	return abi
}
