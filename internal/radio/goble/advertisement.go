package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blesm/internal/device"
)

// txPowerUnavailable is the value go-ble reports when the advertisement has no TX power field.
const txPowerUnavailable = 127

// peripheralFromAdvertisement converts one advertisement into a snapshot.
// ok is false when the advertiser address is not a usable identifier.
func peripheralFromAdvertisement(adv ble.Advertisement, now time.Time) (device.Peripheral, bool) {
	if adv.Addr() == nil {
		return device.Peripheral{}, false
	}
	id, err := device.ParseDeviceID(adv.Addr().String())
	if err != nil {
		return device.Peripheral{}, false
	}

	p := device.Peripheral{
		ID:               id,
		Name:             adv.LocalName(),
		RSSI:             adv.RSSI(),
		Connectable:      adv.Connectable(),
		ManufacturerData: adv.ManufacturerData(),
		LastSeen:         now,
	}

	for _, u := range adv.Services() {
		p.Services = append(p.Services, uuidString(u))
	}

	if sd := adv.ServiceData(); len(sd) > 0 {
		p.ServiceData = make(map[string][]byte, len(sd))
		for _, d := range sd {
			p.ServiceData[uuidString(d.UUID)] = d.Data
		}
	}

	if tx := adv.TxPowerLevel(); tx != txPowerUnavailable {
		p.TxPower = &tx
	}

	return p, true
}

// advertisesAny reports whether p advertises at least one of services.
// An empty filter matches everything.
func advertisesAny(p device.Peripheral, services []string) bool {
	if len(services) == 0 {
		return true
	}
	for _, s := range services {
		if device.ContainsUUID(p.Services, s) {
			return true
		}
	}
	return false
}
