package correlator

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
)

const defaultNotificationBuffer = 64

// Notifications is a stream of value updates for one characteristic. A slow
// consumer loses the oldest values, never blocks the bus.
type Notifications struct {
	sub  *eventbus.Subscription
	ring *eventbus.RingChannel[[]byte]
}

// Notifications opens a value stream for a characteristic. It does not enable
// notifications on the peripheral: pair it with SetNotify. The stream ends
// when the link drops or Cancel is called.
func (c *Correlator) Notifications(id device.DeviceID, service, characteristic string, buffer int) (*Notifications, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	uuids, err := device.ValidateUUID(service, characteristic)
	if err != nil {
		return nil, err
	}
	if buffer <= 0 {
		buffer = defaultNotificationBuffer
	}

	n := &Notifications{ring: eventbus.NewRingChannel[[]byte](buffer)}
	match := matchCharacteristic(id, uuids[0], uuids[1])
	log := c.logger.WithFields(logrus.Fields{
		"device":         id,
		"service":        uuids[0],
		"characteristic": uuids[1],
	})

	n.sub = c.bus.Subscribe("notifications:"+id.String(), func(ev eventbus.Event) {
		switch e := ev.(type) {
		case eventbus.Disconnected:
			if e.Device() == id {
				log.Debug("Link dropped, closing notification stream")
				n.ring.Close()
			}
		case eventbus.CharacteristicValueUpdated:
			if e.Err() != nil || !match(ev) {
				return
			}
			if n.ring.ForceSend(append([]byte(nil), e.Value...)) {
				log.Trace("Notification buffer full, oldest value dropped")
			}
		}
	}, eventbus.KindCharacteristicValueUpdated, eventbus.KindDisconnected)

	if n.sub.Cancelled() {
		n.ring.Close()
	}
	return n, nil
}

// C delivers values in arrival order and is closed when the stream ends.
func (n *Notifications) C() <-chan []byte { return n.ring.C() }

// Dropped counts values overwritten before the consumer read them.
func (n *Notifications) Dropped() int64 { return n.ring.Metrics().Overwritten }

func (n *Notifications) Cancel() {
	n.sub.Cancel()
	n.ring.Close()
}
