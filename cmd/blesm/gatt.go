package main

import (
	"context"
	"fmt"
	"time"

	"github.com/srg/blesm/internal/bledb"
	"github.com/srg/blesm/internal/correlator"
	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/radio"
)

const disconnectTimeout = 2 * time.Second

// attribute addresses one characteristic of one peripheral.
type attribute struct {
	id             device.DeviceID
	service        string
	characteristic string
}

// parseAttribute reads "<device-id> <service> <characteristic>" arguments.
func parseAttribute(args []string) (attribute, error) {
	id, err := device.ParseDeviceID(args[0])
	if err != nil {
		return attribute{}, err
	}
	uuids, err := device.ValidateUUID(args[1], args[2])
	if err != nil {
		return attribute{}, err
	}
	return attribute{id: id, service: uuids[0], characteristic: uuids[1]}, nil
}

// openCharacteristic connects to a.id and discovers the characteristic. The
// caller disconnects with closeLink.
func (e *commandEnv) openCharacteristic(a attribute) (device.CharacteristicInfo, error) {
	c := e.session.Correlator()
	log := e.session.Logger().WithField("device", a.id)

	conn, err := c.Connect(a.id, radio.ConnectOptions{Timeout: e.cfg.ConnectTimeout}, correlator.WithTimeout(e.cfg.ConnectTimeout))
	if err != nil {
		return device.CharacteristicInfo{}, err
	}
	if _, err := conn.Await(e.ctx); err != nil {
		return device.CharacteristicInfo{}, fmt.Errorf("connect to %s: %w", a.id, err)
	}
	log.Debug("Connected")

	svc, err := c.DiscoverService(a.id, a.service)
	if err != nil {
		return device.CharacteristicInfo{}, err
	}
	if _, err := svc.Await(e.ctx); err != nil {
		return device.CharacteristicInfo{}, err
	}

	chr, err := c.DiscoverCharacteristic(a.id, a.service, a.characteristic)
	if err != nil {
		return device.CharacteristicInfo{}, err
	}
	info, err := chr.Await(e.ctx)
	if err != nil {
		return device.CharacteristicInfo{}, err
	}
	log.WithField("properties", info.Properties.String()).Debug("Characteristic discovered")
	return info, nil
}

// closeLink disconnects from id if the link is still up. Failures are only
// logged: the command already has its result.
func (e *commandEnv) closeLink(id device.DeviceID) {
	if !e.session.Registry().IsConnected(id) {
		return
	}
	req, err := e.session.Correlator().CancelConnection(id)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if _, err := req.Await(ctx); err != nil {
		e.session.Logger().WithField("device", id).WithError(err).Debug("Disconnect did not complete")
	}
}

func requireProperty(info device.CharacteristicInfo, want device.Properties, action string) error {
	if !info.Properties.Has(want) {
		return fmt.Errorf("characteristic %s does not support %s (properties: %s)",
			bledb.Label(info.UUID, bledb.LookupCharacteristic), action, info.Properties)
	}
	return nil
}
