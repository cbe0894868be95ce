package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blesm/internal/device"
)

// go-ble and the GATT spec share the property bit layout; the table keeps the
// mapping explicit rather than relying on a cast.
var propertyBits = []struct {
	ble ble.Property
	dev device.Properties
}{
	{ble.CharBroadcast, device.PropBroadcast},
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteNoResp},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
	{ble.CharSignedWrite, device.PropSignedWrite},
	{ble.CharExtended, device.PropExtendedProps},
}

func propertiesFromBLE(p ble.Property) device.Properties {
	var out device.Properties
	for _, b := range propertyBits {
		if p&b.ble != 0 {
			out |= b.dev
		}
	}
	return out
}

func propertiesToBLE(p device.Properties) ble.Property {
	var out ble.Property
	for _, b := range propertyBits {
		if p&b.dev != 0 {
			out |= b.ble
		}
	}
	return out
}

func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	normalized, err := device.ValidateUUID(uuids...)
	if err != nil {
		return nil, err
	}
	out := make([]ble.UUID, 0, len(normalized))
	for _, u := range normalized {
		parsed, err := ble.Parse(u)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

func uuidString(u ble.UUID) string {
	return device.NormalizeUUID(u.String())
}

func serviceInfo(s *ble.Service) device.ServiceInfo {
	info := device.ServiceInfo{UUID: uuidString(s.UUID), Primary: true}
	for _, c := range s.Characteristics {
		info.Characteristics = append(info.Characteristics, characteristicInfo(c))
	}
	return info
}

func characteristicInfo(c *ble.Characteristic) device.CharacteristicInfo {
	info := device.CharacteristicInfo{
		UUID:       uuidString(c.UUID),
		Properties: propertiesFromBLE(c.Property),
		Value:      c.Value,
	}
	for _, d := range c.Descriptors {
		info.Descriptors = append(info.Descriptors, device.DescriptorInfo{UUID: uuidString(d.UUID), Value: d.Value})
	}
	return info
}

// validateFilter normalizes an optional UUID filter; nil and empty stay nil.
func validateFilter(uuids []string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	return device.ValidateUUID(uuids...)
}
