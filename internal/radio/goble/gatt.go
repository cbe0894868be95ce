package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
)

// ----------------------------
// Discovery
// ----------------------------

func (r *Radio) DiscoverServices(id device.DeviceID, filter []string) error {
	l, err := r.link(id)
	if err != nil {
		return err
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return err
	}

	r.run("discover-services", func(context.Context) {
		svcs, err := l.client.DiscoverServices(uuids)
		if err == nil {
			l.storeServices(svcs)
		}
		r.logger.WithFields(logrus.Fields{
			"device":   id,
			"filter":   filter,
			"services": len(svcs),
			"error":    err,
		}).Debug("Services discovered")
		r.sink.Publish(eventbus.ServicesDiscovered{
			Base:     eventbus.Base{ID: id, Error: hardwareError("discover services", id, err)},
			Services: l.serviceInfos(),
		})
	})
	return nil
}

func (r *Radio) DiscoverIncludedServices(id device.DeviceID, service string, filter []string) error {
	l, err := r.link(id)
	if err != nil {
		return err
	}
	svc, err := l.service(service)
	if err != nil {
		return err
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return err
	}

	r.run("discover-included-services", func(context.Context) {
		included, err := l.client.DiscoverIncludedServices(uuids, svc)
		infos := make([]device.ServiceInfo, 0, len(included))
		if err == nil {
			l.storeServices(included)
			for _, s := range included {
				info := serviceInfo(s)
				info.Primary = false
				infos = append(infos, info)
			}
		}
		r.sink.Publish(eventbus.IncludedServicesDiscovered{
			Base:     eventbus.Base{ID: id, Error: hardwareError("discover included services", id, err)},
			Service:  device.NormalizeUUID(service),
			Included: infos,
		})
	})
	return nil
}

func (r *Radio) DiscoverCharacteristics(id device.DeviceID, service string, filter []string) error {
	l, err := r.link(id)
	if err != nil {
		return err
	}
	svc, err := l.service(service)
	if err != nil {
		return err
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return err
	}

	r.run("discover-characteristics", func(context.Context) {
		chars, err := l.client.DiscoverCharacteristics(uuids, svc)
		if err == nil {
			l.storeCharacteristics(service, chars)
		}
		r.logger.WithFields(logrus.Fields{
			"device":          id,
			"service":         service,
			"characteristics": len(chars),
			"error":           err,
		}).Debug("Characteristics discovered")
		r.sink.Publish(eventbus.CharacteristicsDiscovered{
			Base:            eventbus.Base{ID: id, Error: hardwareError("discover characteristics", id, err)},
			Service:         device.NormalizeUUID(service),
			Characteristics: l.characteristicInfos(service),
		})
	})
	return nil
}

func (r *Radio) DiscoverDescriptors(id device.DeviceID, service, characteristic string) error {
	l, err := r.link(id)
	if err != nil {
		return err
	}
	c, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}

	r.run("discover-descriptors", func(context.Context) {
		descs, err := l.client.DiscoverDescriptors(nil, c)
		infos := make([]device.DescriptorInfo, 0, len(descs))
		if err == nil {
			l.storeDescriptors(service, characteristic, descs)
			for _, d := range descs {
				infos = append(infos, device.DescriptorInfo{UUID: uuidString(d.UUID), Value: d.Value})
			}
		}
		r.sink.Publish(eventbus.DescriptorsDiscovered{
			Base:           eventbus.Base{ID: id, Error: hardwareError("discover descriptors", id, err)},
			Service:        device.NormalizeUUID(service),
			Characteristic: device.NormalizeUUID(characteristic),
			Descriptors:    infos,
		})
	})
	return nil
}

// ----------------------------
// Values
// ----------------------------

func (r *Radio) ReadCharacteristic(id device.DeviceID, service, characteristic string) error {
	l, err := r.link(id)
	if err != nil {
		return err
	}
	c, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}

	r.run("read-characteristic", func(context.Context) {
		value, err := l.client.ReadCharacteristic(c)
		r.sink.Publish(eventbus.CharacteristicValueUpdated{
			Base:           eventbus.Base{ID: id, Error: hardwareError("read", id, err)},
			Service:        device.NormalizeUUID(service),
			Characteristic: device.NormalizeUUID(characteristic),
			Value:          value,
		})
	})
	return nil
}

// WriteCharacteristic writes data. A write without response publishes
// ReadyToSendWithoutResponse once the stack accepted it; a failure there is
// only logged, as nothing waits for it.
func (r *Radio) WriteCharacteristic(id device.DeviceID, service, characteristic string, data []byte, wt device.WriteType) error {
	l, err := r.link(id)
	if err != nil {
		return err
	}
	c, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), data...)

	r.run("write-characteristic", func(context.Context) {
		noRsp := wt == device.WithoutResponse
		err := l.client.WriteCharacteristic(c, payload, noRsp)
		if noRsp {
			if err != nil {
				r.logger.WithFields(logrus.Fields{
					"device":         id,
					"characteristic": characteristic,
					"error":          err,
				}).Warn("Write without response failed")
				return
			}
			r.sink.Publish(eventbus.ReadyToSendWithoutResponse{Base: eventbus.Base{ID: id}})
			return
		}
		r.sink.Publish(eventbus.CharacteristicValueWritten{
			Base:           eventbus.Base{ID: id, Error: hardwareError("write", id, err)},
			Service:        device.NormalizeUUID(service),
			Characteristic: device.NormalizeUUID(characteristic),
		})
	})
	return nil
}

func (r *Radio) ReadDescriptor(id device.DeviceID, service, characteristic, descriptor string) error {
	l, err := r.link(id)
	if err != nil {
		return err
	}
	d, err := l.descriptor(service, characteristic, descriptor)
	if err != nil {
		return err
	}

	r.run("read-descriptor", func(context.Context) {
		value, err := l.client.ReadDescriptor(d)
		r.sink.Publish(eventbus.DescriptorValueUpdated{
			Base:           eventbus.Base{ID: id, Error: hardwareError("read descriptor", id, err)},
			Service:        device.NormalizeUUID(service),
			Characteristic: device.NormalizeUUID(characteristic),
			Descriptor:     device.NormalizeUUID(descriptor),
			Value:          value,
		})
	})
	return nil
}

func (r *Radio) WriteDescriptor(id device.DeviceID, service, characteristic, descriptor string, data []byte) error {
	l, err := r.link(id)
	if err != nil {
		return err
	}
	d, err := l.descriptor(service, characteristic, descriptor)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), data...)

	r.run("write-descriptor", func(context.Context) {
		err := l.client.WriteDescriptor(d, payload)
		r.sink.Publish(eventbus.DescriptorValueWritten{
			Base:           eventbus.Base{ID: id, Error: hardwareError("write descriptor", id, err)},
			Service:        device.NormalizeUUID(service),
			Characteristic: device.NormalizeUUID(characteristic),
			Descriptor:     device.NormalizeUUID(descriptor),
		})
	})
	return nil
}

// SetNotify subscribes to (or unsubscribes from) value updates. Indications
// are used when the characteristic cannot notify. Incoming values are
// published as CharacteristicValueUpdated.
func (r *Radio) SetNotify(id device.DeviceID, service, characteristic string, enabled bool) error {
	l, err := r.link(id)
	if err != nil {
		return err
	}
	c, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	svcUUID, charUUID := device.NormalizeUUID(service), device.NormalizeUUID(characteristic)
	ind := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0

	r.run("set-notify", func(context.Context) {
		var err error
		if enabled {
			err = l.client.Subscribe(c, ind, func(data []byte) {
				defer func() {
					if rec := recover(); rec != nil {
						r.logger.WithFields(logrus.Fields{
							"device":         id,
							"characteristic": charUUID,
							"panic":          rec,
						}).Error("Panic in notification handler")
					}
				}()
				r.sink.Publish(eventbus.CharacteristicValueUpdated{
					Base:           eventbus.Base{ID: id},
					Service:        svcUUID,
					Characteristic: charUUID,
					Value:          append([]byte(nil), data...),
				})
			})
		} else {
			err = l.client.Unsubscribe(c, ind)
		}

		state := enabled
		if err != nil {
			state = !enabled
		} else {
			l.setNotifying(service, characteristic, enabled)
		}
		r.sink.Publish(eventbus.NotificationStateUpdated{
			Base:           eventbus.Base{ID: id, Error: hardwareError("set notify", id, err)},
			Service:        svcUUID,
			Characteristic: charUUID,
			Enabled:        state,
		})
	})
	return nil
}

func (r *Radio) ReadRSSI(id device.DeviceID) error {
	l, err := r.link(id)
	if err != nil {
		return err
	}

	r.run("read-rssi", func(context.Context) {
		rssi := l.client.ReadRSSI()
		r.remember(device.Peripheral{ID: id, RSSI: rssi})
		r.sink.Publish(eventbus.RSSIRead{Base: eventbus.Base{ID: id}, RSSI: rssi})
	})
	return nil
}
