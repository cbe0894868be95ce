//go:build test

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
	"github.com/srg/blesm/internal/testutils"
)

type CommandsTestSuite struct {
	CommandTestSuite
}

// ----------------------------
// state
// ----------------------------

func (s *CommandsTestSuite) TestStatePrintsCurrentState() {
	out, err := s.ExecuteCommand("state")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, "central: powered_on")
}

func (s *CommandsTestSuite) TestStateJSON() {
	out, err := s.ExecuteCommand("state", "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `{"role": "central", "state": "powered_on"}`)
}

func (s *CommandsTestSuite) TestStateDoesNotNeedPower() {
	// GOAL: Verify state reports a powered-off radio instead of failing
	//
	// TEST SCENARIO: radio powered off → state → prints powered_off, exit without error

	s.radio.SetState(device.StatePoweredOff)

	out, err := s.ExecuteCommand("state")
	s.Require().NoError(err, "state MUST NOT wait for the radio to power on")
	testutils.NewTextAsserter(s.T()).Assert(out, "central: powered_off")
}

func (s *CommandsTestSuite) TestStateWatchFollowsChanges() {
	// GOAL: Verify state --watch prints the current state, then every change
	//
	// TEST SCENARIO: watch with count 2 → current state printed → radio powers off → second line, command ends

	out, done := s.StartCommand("state", "--watch", "--count", "2")

	s.Require().Eventually(func() bool {
		return strings.Contains(out.String(), "powered_on")
	}, 2*time.Second, 5*time.Millisecond, "current state MUST be printed first")

	s.radio.SetState(device.StatePoweredOff)

	s.Require().NoError(s.WaitCommand(done))
	testutils.NewTextAsserter(s.T()).Assert(out.String(), "central: powered_on\ncentral: powered_off")
}

func (s *CommandsTestSuite) TestStateRejectsNegativeCount() {
	_, err := s.ExecuteCommand("state", "--watch", "--count", "-1")
	s.Error(err)
}

// ----------------------------
// scan
// ----------------------------

func (s *CommandsTestSuite) withAdverts() {
	s.radio.WithAdvertisements(
		device.Peripheral{ID: hrmID, Name: "HRM", RSSI: -40, Services: []string{"180d"}},
		device.Peripheral{ID: tagID, Name: "Tag", RSSI: -70, Services: []string{"180f"}},
		device.Peripheral{ID: hrmID, RSSI: -45},
	)
}

func (s *CommandsTestSuite) TestScanJSON() {
	// GOAL: Verify scan lists each peripheral once, first-seen order, latest data merged
	//
	// TEST SCENARIO: HRM, Tag, HRM again advertise → scan --format json → two entries, HRM keeps its name with the newer RSSI

	s.withAdverts()

	out, err := s.ExecuteCommand("scan", "--duration", "50ms", "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).
		WithOptions(testutils.WithIgnoredFields("last_seen")).
		Assert(out, `[
			{"id": "aa:bb:cc:dd:ee:ff", "name": "HRM", "rssi": -45, "connectable": false, "connected": false, "advertised_services": ["180d"]},
			{"id": "11:22:33:44:55:66", "name": "Tag", "rssi": -70, "connectable": false, "connected": false, "advertised_services": ["180f"]}
		]`)
	s.False(s.radio.Scanning(), "the scan MUST stop when the command ends")
}

func (s *CommandsTestSuite) TestScanTable() {
	s.withAdverts()

	out, err := s.ExecuteCommand("scan", "--duration", "50ms")
	s.Require().NoError(err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	s.Require().Len(lines, 3, "header and one row per peripheral MUST be printed")
	s.Contains(lines[0], "ID")
	s.Contains(lines[1], hrmID)
	s.Contains(lines[1], "-45 dBm")
	s.Contains(lines[2], tagID)
	s.Contains(lines[2], "180f")
}

func (s *CommandsTestSuite) TestScanServiceFilter() {
	s.withAdverts()

	out, err := s.ExecuteCommand("scan", "--duration", "50ms", "--services", "180F", "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).
		WithOptions(testutils.WithIgnoredFields("last_seen")).
		Assert(out, `[{"id": "11:22:33:44:55:66", "name": "Tag"}]`)
	s.Equal([]string{"180f"}, s.radio.CommandsFor("Scan")[0].Filter, "the filter MUST reach the radio normalized")
}

func (s *CommandsTestSuite) TestScanNothingFound() {
	out, err := s.ExecuteCommand("scan", "--duration", "20ms")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, "No peripherals found")
}

func (s *CommandsTestSuite) TestScanRejectsInvalidService() {
	_, err := s.ExecuteCommand("scan", "--services", "not-a-uuid")
	s.ErrorIs(err, device.ErrInvalidIdentifier)
	s.Zero(s.radio.Count("Scan"), "an invalid filter MUST NOT start a scan")
}

// ----------------------------
// resolve
// ----------------------------

func (s *CommandsTestSuite) TestResolveKnownWithoutScanning() {
	// GOAL: Verify a peripheral the radio already knows resolves without a scan
	//
	// TEST SCENARIO: tag known to the radio → resolve tag → JSON with the tag, no Scan command

	out, err := s.ExecuteCommand("resolve", tagID, "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).
		WithOptions(testutils.WithIgnoredFields("last_seen")).
		Assert(out, `[{"id": "11:22:33:44:55:66", "name": "Tag", "rssi": -60}]`)
	s.Zero(s.radio.Count("Scan"), "known peripherals MUST NOT trigger a scan")
}

func (s *CommandsTestSuite) TestResolveScansForMissing() {
	s.withAdverts()

	out, err := s.ExecuteCommand("resolve", "AA:BB:CC:DD:EE:FF", tagID, "--format", "json", "--timeout", "1s")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).
		WithOptions(testutils.WithIgnoredFields("last_seen")).
		Assert(out, `[
			{"id": "aa:bb:cc:dd:ee:ff", "name": "HRM"},
			{"id": "11:22:33:44:55:66", "name": "Tag"}
		]`)
	s.Equal(1, s.radio.Count("Scan"))
}

func (s *CommandsTestSuite) TestResolveReportsMissing() {
	// GOAL: Verify a peripheral that never shows up fails with the missing id after the timeout
	//
	// TEST SCENARIO: unknown id, nothing advertises → resolve --timeout 50ms → NotFoundError naming it

	_, err := s.ExecuteCommand("resolve", "de:ad:be:ef:00:01", "--timeout", "50ms")

	var notFound *device.NotFoundError
	s.Require().ErrorAs(err, &notFound)
	s.Equal("peripheral", notFound.Resource)
	s.Contains(err.Error(), "de:ad:be:ef:00:01")
}

func (s *CommandsTestSuite) TestResolveReportsEveryMissingID() {
	_, err := s.ExecuteCommand("resolve", "de:ad:be:ef:00:01", tagID, "de:ad:be:ef:00:02", "--timeout", "50ms")

	var notFound *device.NotFoundError
	s.Require().ErrorAs(err, &notFound)
	s.Equal([]string{"de:ad:be:ef:00:01", "de:ad:be:ef:00:02"}, notFound.UUIDs, "each missing id MUST be its own entry")
	s.Contains(err.Error(), `"de:ad:be:ef:00:01", "de:ad:be:ef:00:02"`)
}

func (s *CommandsTestSuite) TestResolveRejectsInvalidID() {
	_, err := s.ExecuteCommand("resolve", "kitchen-sensor")
	s.ErrorIs(err, device.ErrInvalidIdentifier)
	s.Empty(s.radio.Commands(), "an invalid id MUST be rejected before the radio is used")
}

// ----------------------------
// read / write / notify
// ----------------------------

func (s *CommandsTestSuite) TestReadPrintsText() {
	// GOAL: Verify read connects, discovers, reads and disconnects
	//
	// TEST SCENARIO: battery level 87 → read → "W" (printable), link cancelled afterwards

	out, err := s.ExecuteCommand("read", tagID, "180f", "2a19")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, "W")
	s.Equal(1, s.radio.Count("Connect"))
	s.Equal(1, s.radio.Count("CancelConnection"), "read MUST disconnect when done")
}

func (s *CommandsTestSuite) TestReadHex() {
	out, err := s.ExecuteCommand("read", tagID, "180f", "2a19", "--hex")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, "57")
}

func (s *CommandsTestSuite) TestReadBinaryFallsBackToHex() {
	out, err := s.ExecuteCommand("read", tagID, "fff0", "fff2")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, "00ff")
}

func (s *CommandsTestSuite) TestReadJSON() {
	out, err := s.ExecuteCommand("read", tagID, "0x180F", "2A19", "-f", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"device": "11:22:33:44:55:66",
		"service": "180f",
		"characteristic": "2a19",
		"name": "Battery Level",
		"value": "57"
	}`)
}

func (s *CommandsTestSuite) TestReadUnknownCharacteristic() {
	_, err := s.ExecuteCommand("read", tagID, "180f", "2a00")

	s.ErrorIs(err, &device.NotFoundError{Resource: "characteristic"})
	s.Zero(s.radio.Count("ReadCharacteristic"))
}

func (s *CommandsTestSuite) TestReadRequiresReadProperty() {
	_, err := s.ExecuteCommand("read", tagID, "fff0", "fff1")

	s.Require().Error(err)
	s.Contains(err.Error(), "does not support read")
	s.Zero(s.radio.Count("ReadCharacteristic"))
}

func (s *CommandsTestSuite) TestWriteWithResponse() {
	out, err := s.ExecuteCommand("write", tagID, "fff0", "fff1", "0x01:02")
	s.Require().NoError(err)

	writes := s.radio.CommandsFor("WriteCharacteristic")
	s.Require().Len(writes, 1)
	s.Equal([]byte{0x01, 0x02}, writes[0].Data)
	s.Equal(device.WithResponse, writes[0].WriteType)
	testutils.NewTextAsserter(s.T()).Assert(out, "Wrote 2 bytes to fff1")
}

func (s *CommandsTestSuite) TestWriteWithoutResponse() {
	_, err := s.ExecuteCommand("write", tagID, "fff0", "fff1", "ff", "--without-response")
	s.Require().NoError(err)

	writes := s.radio.CommandsFor("WriteCharacteristic")
	s.Require().Len(writes, 1)
	s.Equal(device.WithoutResponse, writes[0].WriteType)
}

func (s *CommandsTestSuite) TestWriteRejectsBadHex() {
	_, err := s.ExecuteCommand("write", tagID, "fff0", "fff1", "zz")
	s.Require().Error(err)
	s.Contains(err.Error(), "invalid hex data")
	s.Empty(s.radio.Commands(), "bad data MUST be rejected before connecting")
}

func (s *CommandsTestSuite) TestNotifyStreamsValues() {
	// GOAL: Verify notify enables notifications and prints each value
	//
	// TEST SCENARIO: notify --count 2 → notifications enabled → two values arrive → both printed, then disabled

	out, done := s.StartCommand("notify", tagID, "180f", "2a19", "--count", "2", "--hex")

	s.Require().Eventually(func() bool {
		return s.radio.Count("SetNotify") == 1
	}, 2*time.Second, 5*time.Millisecond, "notifications MUST be enabled")

	for _, v := range []byte{0x50, 0x51} {
		s.radio.Emit(eventbus.CharacteristicValueUpdated{
			Base: eventbus.Base{ID: tagID}, Service: "180f", Characteristic: "2a19", Value: []byte{v},
		})
	}

	s.Require().NoError(s.WaitCommand(done))
	testutils.NewTextAsserter(s.T()).Assert(out.String(), "50\n51")

	toggles := s.radio.CommandsFor("SetNotify")
	s.Require().Len(toggles, 2)
	s.True(toggles[0].Enabled)
	s.False(toggles[1].Enabled, "notifications MUST be disabled on exit")
}

func (s *CommandsTestSuite) TestNotifyLinkLoss() {
	_, done := s.StartCommand("notify", tagID, "180f", "2a1a")

	s.Require().Eventually(func() bool {
		return s.radio.Count("SetNotify") == 1
	}, 2*time.Second, 5*time.Millisecond)

	s.radio.Emit(eventbus.Disconnected{Base: eventbus.Base{ID: tagID}})

	s.ErrorIs(s.WaitCommand(done), ErrConnectionLost)
}

// ----------------------------
// advertise
// ----------------------------

func (s *CommandsTestSuite) TestAdvertiseFromFlags() {
	// GOAL: Verify advertise publishes the service, advertises it and cleans up
	//
	// TEST SCENARIO: battery service from flags, 20ms → AddService, StartAdvertising, then stop and remove

	out, err := s.ExecuteCommand("advertise", "--name", "tag", "--service", "180F",
		"-c", "2a19:read+notify:57", "--duration", "20ms")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `Advertising "tag" with services Battery Service (180f)`)

	var methods []string
	for _, c := range s.radio.Commands() {
		methods = append(methods, c.Method)
	}
	s.Equal([]string{"AddService", "StartAdvertising", "StopAdvertising", "RemoveAllServices"}, methods)
	s.Equal("tag", s.radio.CommandsFor("StartAdvertising")[0].Name)
}

func (s *CommandsTestSuite) TestAdvertiseFromFile() {
	path := filepath.Join(s.T().TempDir(), "services.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(`
- uuid: 180f
  primary: true
  characteristics:
    - uuid: 2a19
      properties: read,notify
      value: [87]
- uuid: fff0
  primary: true
`), 0o600))

	out, err := s.ExecuteCommand("advertise", "--file", path, "--duration", "20ms")
	s.Require().NoError(err)

	s.Equal(2, s.radio.Count("AddService"))
	s.Contains(out, "Battery Service (180f), fff0")
}

func (s *CommandsTestSuite) TestAdvertiseNeedsServices() {
	_, err := s.ExecuteCommand("advertise", "--duration", "20ms")
	s.Require().Error(err)
	s.Contains(err.Error(), "nothing to advertise")
}

// ----------------------------
// radio readiness
// ----------------------------

func (s *CommandsTestSuite) TestBluetoothOff() {
	s.radio.SetState(device.StatePoweredOff)

	_, err := s.ExecuteCommand("scan", "--duration", "20ms")
	s.ErrorIs(err, device.ErrBluetoothOff)
	s.Zero(s.radio.Count("Scan"))
}

func (s *CommandsTestSuite) TestUnsupportedRadio() {
	s.radio.SetState(device.StateUnsupported)

	_, err := s.ExecuteCommand("read", tagID, "180f", "2a19")
	s.ErrorIs(err, device.ErrUnsupported)
}

func TestCommandsTestSuite(t *testing.T) {
	suite.Run(t, new(CommandsTestSuite))
}
