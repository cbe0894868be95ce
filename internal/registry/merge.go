package registry

import (
	"github.com/srg/blesm/internal/device"
)

// The helpers below never modify their inputs: entries are shared with
// readers, so every change builds new slices.

func cloneServices(in []device.ServiceInfo) []device.ServiceInfo {
	if in == nil {
		return nil
	}
	out := make([]device.ServiceInfo, len(in))
	for i, s := range in {
		out[i] = s
		out[i].IncludedServices = append([]string(nil), s.IncludedServices...)
		out[i].Characteristics = cloneCharacteristics(s.Characteristics)
	}
	return out
}

func cloneCharacteristics(in []device.CharacteristicInfo) []device.CharacteristicInfo {
	if in == nil {
		return nil
	}
	out := make([]device.CharacteristicInfo, len(in))
	for i, c := range in {
		out[i] = c
		out[i].Value = append([]byte(nil), c.Value...)
		out[i].Descriptors = append([]device.DescriptorInfo(nil), c.Descriptors...)
	}
	return out
}

func indexOfService(services []device.ServiceInfo, uuid string) int {
	n := device.NormalizeUUID(uuid)
	for i, s := range services {
		if device.NormalizeUUID(s.UUID) == n {
			return i
		}
	}
	return -1
}

func indexOfCharacteristic(chars []device.CharacteristicInfo, uuid string) int {
	n := device.NormalizeUUID(uuid)
	for i, c := range chars {
		if device.NormalizeUUID(c.UUID) == n {
			return i
		}
	}
	return -1
}

// mergeServices folds a discovery result into known. Characteristics already
// discovered survive when the incoming service carries none.
func mergeServices(known, incoming []device.ServiceInfo) []device.ServiceInfo {
	out := cloneServices(known)
	for _, svc := range incoming {
		svc.UUID = device.NormalizeUUID(svc.UUID)
		i := indexOfService(out, svc.UUID)
		if i < 0 {
			out = append(out, cloneServices([]device.ServiceInfo{svc})[0])
			continue
		}
		prev := out[i]
		out[i] = cloneServices([]device.ServiceInfo{svc})[0]
		out[i].Characteristics = mergeCharacteristics(prev.Characteristics, svc.Characteristics)
		if len(out[i].IncludedServices) == 0 {
			out[i].IncludedServices = prev.IncludedServices
		}
	}
	return out
}

func mergeIncluded(known []device.ServiceInfo, parent string, included []device.ServiceInfo) []device.ServiceInfo {
	out := mergeServices(known, included)
	return withService(out, parent, func(s *device.ServiceInfo) {
		for _, inc := range included {
			if !device.ContainsUUID(s.IncludedServices, inc.UUID) {
				s.IncludedServices = append(s.IncludedServices, device.NormalizeUUID(inc.UUID))
			}
		}
	})
}

// mergeCharacteristics keeps descriptors and cached values the incoming
// snapshot does not carry.
func mergeCharacteristics(known, incoming []device.CharacteristicInfo) []device.CharacteristicInfo {
	out := cloneCharacteristics(known)
	for _, c := range incoming {
		c.UUID = device.NormalizeUUID(c.UUID)
		i := indexOfCharacteristic(out, c.UUID)
		if i < 0 {
			out = append(out, cloneCharacteristics([]device.CharacteristicInfo{c})[0])
			continue
		}
		prev := out[i]
		out[i] = cloneCharacteristics([]device.CharacteristicInfo{c})[0]
		if len(out[i].Descriptors) == 0 {
			out[i].Descriptors = prev.Descriptors
		}
		if len(out[i].Value) == 0 {
			out[i].Value = prev.Value
		}
		out[i].Notifying = out[i].Notifying || prev.Notifying
	}
	return out
}

// withService applies fn to a copy of the named service, adding it first if unknown.
func withService(known []device.ServiceInfo, uuid string, fn func(*device.ServiceInfo)) []device.ServiceInfo {
	out := cloneServices(known)
	i := indexOfService(out, uuid)
	if i < 0 {
		out = append(out, device.ServiceInfo{UUID: device.NormalizeUUID(uuid), Primary: true})
		i = len(out) - 1
	}
	fn(&out[i])
	return out
}

// withCharacteristic applies fn to a copy of a known characteristic. Unknown
// characteristics are left alone: values and descriptors only make sense for
// discovered attributes.
func withCharacteristic(known []device.ServiceInfo, service, characteristic string, fn func(*device.CharacteristicInfo)) []device.ServiceInfo {
	si := indexOfService(known, service)
	if si < 0 {
		return known
	}
	ci := indexOfCharacteristic(known[si].Characteristics, characteristic)
	if ci < 0 {
		return known
	}
	out := cloneServices(known)
	fn(&out[si].Characteristics[ci])
	return out
}

func removeServices(known []device.ServiceInfo, invalidated []string) []device.ServiceInfo {
	if len(invalidated) == 0 {
		return known
	}
	var out []device.ServiceInfo
	for _, s := range known {
		if !device.ContainsUUID(invalidated, s.UUID) {
			out = append(out, s)
		}
	}
	return cloneServices(out)
}
