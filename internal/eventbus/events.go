package eventbus

import (
	"github.com/srg/blesm/internal/device"
)

// Kind identifies the delegate callback an Event was produced from.
type Kind int

const (
	// Central role
	KindStateChanged Kind = iota
	KindRestoreState
	KindDiscovered
	KindConnected
	KindConnectFailed
	KindDisconnected
	KindPeripheralsRetrieved

	// Remote peripheral
	KindNameUpdated
	KindServicesModified
	KindRSSIRead
	KindServicesDiscovered
	KindIncludedServicesDiscovered
	KindCharacteristicsDiscovered
	KindDescriptorsDiscovered
	KindCharacteristicValueUpdated
	KindDescriptorValueUpdated
	KindCharacteristicValueWritten
	KindDescriptorValueWritten
	KindNotificationStateUpdated
	KindReadyToSendWithoutResponse
	KindL2CAPChannelOpened

	// Peripheral manager role
	KindPeripheralManagerStateChanged
	KindAdvertisingStarted
	KindServiceAdded
	KindCentralSubscribed
	KindCentralUnsubscribed
	KindReadRequest
	KindWriteRequests
	KindReadyToUpdateSubscribers

	kindCount
)

var kindNames = [...]string{
	KindStateChanged:                  "state_changed",
	KindRestoreState:                  "restore_state",
	KindDiscovered:                    "discovered",
	KindConnected:                     "connected",
	KindConnectFailed:                 "connect_failed",
	KindDisconnected:                  "disconnected",
	KindPeripheralsRetrieved:          "peripherals_retrieved",
	KindNameUpdated:                   "name_updated",
	KindServicesModified:              "services_modified",
	KindRSSIRead:                      "rssi_read",
	KindServicesDiscovered:            "services_discovered",
	KindIncludedServicesDiscovered:    "included_services_discovered",
	KindCharacteristicsDiscovered:     "characteristics_discovered",
	KindDescriptorsDiscovered:         "descriptors_discovered",
	KindCharacteristicValueUpdated:    "characteristic_value_updated",
	KindDescriptorValueUpdated:        "descriptor_value_updated",
	KindCharacteristicValueWritten:    "characteristic_value_written",
	KindDescriptorValueWritten:        "descriptor_value_written",
	KindNotificationStateUpdated:      "notification_state_updated",
	KindReadyToSendWithoutResponse:    "ready_to_send_without_response",
	KindL2CAPChannelOpened:            "l2cap_channel_opened",
	KindPeripheralManagerStateChanged: "peripheral_manager_state_changed",
	KindAdvertisingStarted:            "advertising_started",
	KindServiceAdded:                  "service_added",
	KindCentralSubscribed:             "central_subscribed",
	KindCentralUnsubscribed:           "central_unsubscribed",
	KindReadRequest:                   "read_request",
	KindWriteRequests:                 "write_requests",
	KindReadyToUpdateSubscribers:      "ready_to_update_subscribers",
}

func (k Kind) String() string {
	if k >= 0 && k < kindCount {
		return kindNames[k]
	}
	return "unknown"
}

// Event is a single hardware callback. Every concrete event type below
// implements it; consumers switch on the concrete type.
type Event interface {
	Kind() Kind
	// Device is the peripheral (or, for peripheral-manager events, the remote
	// central) the callback concerns. Empty for manager-wide events.
	Device() device.DeviceID
	// Err is the failure the radio reported alongside the callback, if any.
	Err() error
}

// Base carries the fields shared by most events.
type Base struct {
	ID    device.DeviceID
	Error error
}

func (b Base) Device() device.DeviceID { return b.ID }
func (b Base) Err() error              { return b.Error }

// Central role events.

type StateChanged struct {
	Base
	State device.ManagerState
}

func (StateChanged) Kind() Kind { return KindStateChanged }

// RestoreState carries the peripherals the OS handed back after the process
// was relaunched in the background.
type RestoreState struct {
	Base
	Peripherals []device.Peripheral
}

func (RestoreState) Kind() Kind { return KindRestoreState }

// Discovered is one advertisement observed during a scan.
type Discovered struct {
	Peripheral device.Peripheral
}

func (Discovered) Kind() Kind                { return KindDiscovered }
func (e Discovered) Device() device.DeviceID { return e.Peripheral.ID }
func (Discovered) Err() error                { return nil }

type Connected struct {
	Base
	Peripheral device.Peripheral
}

func (Connected) Kind() Kind { return KindConnected }

type ConnectFailed struct{ Base }

func (ConnectFailed) Kind() Kind { return KindConnectFailed }

// Disconnected is reported both for requested and for unexpected link loss;
// Error is set in the latter case.
type Disconnected struct{ Base }

func (Disconnected) Kind() Kind { return KindDisconnected }

// PeripheralsRetrieved is the answer to a known-by-id or connected-with-services query.
type PeripheralsRetrieved struct {
	Base
	Peripherals []device.Peripheral
	Connected   bool
	Services    []string
}

func (PeripheralsRetrieved) Kind() Kind { return KindPeripheralsRetrieved }

// Remote peripheral events.

type NameUpdated struct {
	Base
	Name string
}

func (NameUpdated) Kind() Kind { return KindNameUpdated }

type ServicesModified struct {
	Base
	Invalidated []string
}

func (ServicesModified) Kind() Kind { return KindServicesModified }

type RSSIRead struct {
	Base
	RSSI int
}

func (RSSIRead) Kind() Kind { return KindRSSIRead }

type ServicesDiscovered struct {
	Base
	Services []device.ServiceInfo
}

func (ServicesDiscovered) Kind() Kind { return KindServicesDiscovered }

type IncludedServicesDiscovered struct {
	Base
	Service  string
	Included []device.ServiceInfo
}

func (IncludedServicesDiscovered) Kind() Kind { return KindIncludedServicesDiscovered }

type CharacteristicsDiscovered struct {
	Base
	Service         string
	Characteristics []device.CharacteristicInfo
}

func (CharacteristicsDiscovered) Kind() Kind { return KindCharacteristicsDiscovered }

type DescriptorsDiscovered struct {
	Base
	Service        string
	Characteristic string
	Descriptors    []device.DescriptorInfo
}

func (DescriptorsDiscovered) Kind() Kind { return KindDescriptorsDiscovered }

// CharacteristicValueUpdated answers both reads and notifications.
type CharacteristicValueUpdated struct {
	Base
	Service        string
	Characteristic string
	Value          []byte
}

func (CharacteristicValueUpdated) Kind() Kind { return KindCharacteristicValueUpdated }

type DescriptorValueUpdated struct {
	Base
	Service        string
	Characteristic string
	Descriptor     string
	Value          []byte
}

func (DescriptorValueUpdated) Kind() Kind { return KindDescriptorValueUpdated }

type CharacteristicValueWritten struct {
	Base
	Service        string
	Characteristic string
}

func (CharacteristicValueWritten) Kind() Kind { return KindCharacteristicValueWritten }

type DescriptorValueWritten struct {
	Base
	Service        string
	Characteristic string
	Descriptor     string
}

func (DescriptorValueWritten) Kind() Kind { return KindDescriptorValueWritten }

type NotificationStateUpdated struct {
	Base
	Service        string
	Characteristic string
	Enabled        bool
}

func (NotificationStateUpdated) Kind() Kind { return KindNotificationStateUpdated }

type ReadyToSendWithoutResponse struct{ Base }

func (ReadyToSendWithoutResponse) Kind() Kind { return KindReadyToSendWithoutResponse }

type L2CAPChannelOpened struct {
	Base
	PSM uint16
}

func (L2CAPChannelOpened) Kind() Kind { return KindL2CAPChannelOpened }

// Peripheral manager events. Device() is the remote central where one exists.

type PeripheralManagerStateChanged struct {
	Base
	State device.ManagerState
}

func (PeripheralManagerStateChanged) Kind() Kind { return KindPeripheralManagerStateChanged }

type AdvertisingStarted struct{ Base }

func (AdvertisingStarted) Kind() Kind { return KindAdvertisingStarted }

type ServiceAdded struct {
	Base
	Service string
}

func (ServiceAdded) Kind() Kind { return KindServiceAdded }

type CentralSubscribed struct {
	Base
	Service        string
	Characteristic string
}

func (CentralSubscribed) Kind() Kind { return KindCentralSubscribed }

type CentralUnsubscribed struct {
	Base
	Service        string
	Characteristic string
}

func (CentralUnsubscribed) Kind() Kind { return KindCentralUnsubscribed }

type ReadRequest struct {
	Base
	Service        string
	Characteristic string
	Offset         int
}

func (ReadRequest) Kind() Kind { return KindReadRequest }

// WriteRequest is one element of a WriteRequests batch.
type WriteRequest struct {
	Central        device.DeviceID
	Service        string
	Characteristic string
	Offset         int
	Value          []byte
}

type WriteRequests struct {
	Base
	Requests []WriteRequest
}

func (WriteRequests) Kind() Kind { return KindWriteRequests }

type ReadyToUpdateSubscribers struct{ Base }

func (ReadyToUpdateSubscribers) Kind() Kind { return KindReadyToUpdateSubscribers }
