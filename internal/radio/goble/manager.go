package goble

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
	"github.com/srg/blesm/internal/radio"
)

// advertiseSettle is how long StartAdvertising waits for go-ble to reject the
// request before reporting advertising as started. go-ble's Advertise calls
// block for the whole advertising period, so there is no explicit ack.
var advertiseSettle = 200 * time.Millisecond

// localCharacteristic is the server-side state of a characteristic we publish.
type localCharacteristic struct {
	service string
	uuid    string

	mu        sync.Mutex
	value     []byte
	notifiers map[ble.Notifier]device.DeviceID
}

func (c *localCharacteristic) setValue(v []byte) {
	c.mu.Lock()
	c.value = append([]byte(nil), v...)
	c.mu.Unlock()
}

func (c *localCharacteristic) readValue(offset int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if offset >= len(c.value) {
		return nil
	}
	return append([]byte(nil), c.value[offset:]...)
}

func remoteID(req ble.Request) device.DeviceID {
	if req == nil || req.Conn() == nil || req.Conn().RemoteAddr() == nil {
		return ""
	}
	id, err := device.ParseDeviceID(req.Conn().RemoteAddr().String())
	if err != nil {
		return device.DeviceID(req.Conn().RemoteAddr().String())
	}
	return id
}

// AddService publishes def in the local GATT database. The outcome is
// reported as ServiceAdded.
func (r *Radio) AddService(def radio.ServiceDefinition) error {
	dev, err := r.bleDevice()
	if err != nil {
		return err
	}
	svcUUIDs, err := device.ValidateUUID(def.UUID)
	if err != nil {
		return err
	}
	svcUUID := svcUUIDs[0]
	parsed, err := ble.Parse(svcUUID)
	if err != nil {
		return err
	}

	svc := ble.NewService(parsed)
	for _, cd := range def.Characteristics {
		if err := r.addCharacteristic(svc, svcUUID, cd); err != nil {
			return err
		}
	}

	r.run("add-service", func(context.Context) {
		err := dev.AddService(svc)
		if err == nil {
			r.mu.Lock()
			r.local[svcUUID] = svc
			r.mu.Unlock()
		}
		r.logger.WithFields(logrus.Fields{
			"service":         svcUUID,
			"characteristics": len(def.Characteristics),
			"error":           err,
		}).Debug("Local service added")
		r.sink.Publish(eventbus.ServiceAdded{
			Base:    eventbus.Base{Error: hardwareError("add service", "", err)},
			Service: svcUUID,
		})
	})
	return nil
}

func (r *Radio) addCharacteristic(svc *ble.Service, svcUUID string, cd radio.CharacteristicDefinition) error {
	normalized, err := device.ValidateUUID(cd.UUID)
	if err != nil {
		return err
	}
	parsed, err := ble.Parse(normalized[0])
	if err != nil {
		return err
	}

	lc := &localCharacteristic{
		service:   svcUUID,
		uuid:      normalized[0],
		value:     append([]byte(nil), cd.Value...),
		notifiers: make(map[ble.Notifier]device.DeviceID),
	}
	r.mu.Lock()
	if r.localChars == nil {
		r.localChars = make(map[string]*localCharacteristic)
	}
	r.localChars[charKey(svcUUID, lc.uuid)] = lc
	r.mu.Unlock()

	c := svc.NewCharacteristic(parsed)
	props := cd.Properties
	static := props.Has(device.PropRead) && !props.Has(device.PropWrite) && !props.Has(device.PropWriteNoResp) &&
		!props.Has(device.PropNotify) && !props.Has(device.PropIndicate) && len(cd.Value) > 0

	switch {
	case static:
		c.SetValue(lc.value)
	case props.Has(device.PropRead):
		c.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			r.sink.Publish(eventbus.ReadRequest{
				Base:           eventbus.Base{ID: remoteID(req)},
				Service:        svcUUID,
				Characteristic: lc.uuid,
				Offset:         req.Offset(),
			})
			if _, err := rsp.Write(lc.readValue(req.Offset())); err != nil {
				r.logger.WithField("error", err).Debug("Read response truncated")
			}
		}))
	}

	if props.Has(device.PropWrite) || props.Has(device.PropWriteNoResp) {
		c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			data := append([]byte(nil), req.Data()...)
			lc.setValue(data)
			r.sink.Publish(eventbus.WriteRequests{
				Base: eventbus.Base{ID: remoteID(req)},
				Requests: []eventbus.WriteRequest{{
					Central:        remoteID(req),
					Service:        svcUUID,
					Characteristic: lc.uuid,
					Offset:         req.Offset(),
					Value:          data,
				}},
			})
		}))
	}

	notify := ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
		central := remoteID(req)
		lc.mu.Lock()
		lc.notifiers[n] = central
		lc.mu.Unlock()

		r.sink.Publish(eventbus.CentralSubscribed{Base: eventbus.Base{ID: central}, Service: svcUUID, Characteristic: lc.uuid})
		<-n.Context().Done()

		lc.mu.Lock()
		delete(lc.notifiers, n)
		lc.mu.Unlock()
		r.sink.Publish(eventbus.CentralUnsubscribed{Base: eventbus.Base{ID: central}, Service: svcUUID, Characteristic: lc.uuid})
	})
	if props.Has(device.PropNotify) {
		c.HandleNotify(notify)
	}
	if props.Has(device.PropIndicate) {
		c.HandleIndicate(notify)
	}
	return nil
}

// UpdateValue sets a local characteristic value and pushes it to every
// subscribed central. ReadyToUpdateSubscribers is published once the
// notifications were handed to the stack.
func (r *Radio) UpdateValue(service, characteristic string, value []byte) error {
	r.mu.Lock()
	lc, ok := r.localChars[charKey(service, characteristic)]
	r.mu.Unlock()
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	lc.setValue(value)

	lc.mu.Lock()
	notifiers := make([]ble.Notifier, 0, len(lc.notifiers))
	for n := range lc.notifiers {
		notifiers = append(notifiers, n)
	}
	lc.mu.Unlock()

	payload := append([]byte(nil), value...)
	r.run("update-value", func(context.Context) {
		for _, n := range notifiers {
			if _, err := n.Write(payload); err != nil {
				r.logger.WithFields(logrus.Fields{
					"characteristic": lc.uuid,
					"error":          err,
				}).Debug("Notification to central failed")
			}
		}
		r.sink.Publish(eventbus.ReadyToUpdateSubscribers{})
	})
	return nil
}

func (r *Radio) RemoveAllServices() error {
	dev, err := r.bleDevice()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.local = make(map[string]*ble.Service)
	r.localChars = nil
	r.mu.Unlock()
	return hardwareError("remove services", "", dev.RemoveAllServices())
}

// StartAdvertising advertises name and services until StopAdvertising or Close.
func (r *Radio) StartAdvertising(name string, services []string) error {
	dev, err := r.bleDevice()
	if err != nil {
		return err
	}
	uuids, err := parseUUIDs(services)
	if err != nil {
		return err
	}

	r.stopAdvertising()
	ctx, cancel := context.WithCancel(r.ctx)
	r.mu.Lock()
	r.advCancel = cancel
	r.mu.Unlock()

	errCh := make(chan error, 1)
	r.run("advertise", func(context.Context) {
		errCh <- dev.AdvertiseNameAndServices(ctx, name, uuids...)
	})

	r.run("advertise-ack", func(context.Context) {
		var err error
		select {
		case err = <-errCh:
			if errors.Is(err, context.Canceled) {
				err = nil
			}
		case <-time.After(advertiseSettle):
		case <-ctx.Done():
		}
		r.logger.WithFields(logrus.Fields{
			"name":     name,
			"services": services,
			"error":    err,
		}).Debug("Advertising started")
		r.sink.Publish(eventbus.AdvertisingStarted{Base: eventbus.Base{Error: hardwareError("advertise", "", err)}})
	})
	return nil
}

func (r *Radio) StopAdvertising() error {
	r.stopAdvertising()
	return nil
}

func (r *Radio) stopAdvertising() {
	r.mu.Lock()
	cancel := r.advCancel
	r.advCancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
