package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/blesm/internal/bledb"
	"github.com/srg/blesm/internal/device"
)

var writeCmd = &cobra.Command{
	Use:   "write <device-id> <service> <characteristic> <hex-data>",
	Short: "Write a characteristic value",
	Long: `Connects to a peripheral, discovers the characteristic and writes hex data.

Data may use spaces, colons or dashes between bytes and 0x prefixes.

Examples:
  # Write with acknowledgement
  blesm write AA:BB:CC:DD:EE:FF fff0 fff1 "01 02 03"

  # Write without response
  blesm write AA:BB:CC:DD:EE:FF fff0 fff2 0x01 --without-response`,
	Args: cobra.ExactArgs(4),
	RunE: runWrite,
}

var writeWithoutResponse bool

func init() {
	writeCmd.Flags().BoolVar(&writeWithoutResponse, "without-response", false, "Do not wait for the peripheral's acknowledgement")
}

func runWrite(cmd *cobra.Command, args []string) error {
	attr, err := parseAttribute(args[:3])
	if err != nil {
		return err
	}
	data, err := parseHexData(args[3])
	if err != nil {
		return err
	}
	wt, prop := device.WithResponse, device.PropWrite
	if writeWithoutResponse {
		wt, prop = device.WithoutResponse, device.PropWriteNoResp
	}

	env, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer env.Close()
	defer env.closeLink(attr.id)

	info, err := env.openCharacteristic(attr)
	if err != nil {
		return err
	}
	if err := requireProperty(info, prop, fmt.Sprintf("write (%s)", wt)); err != nil {
		return err
	}

	req, err := env.session.Correlator().WriteCharacteristic(attr.id, attr.service, attr.characteristic, data, wt)
	if err != nil {
		return err
	}
	if _, err := req.Await(env.ctx); err != nil {
		return err
	}
	env.out.status("Wrote %d bytes to %s", len(data), bledb.Label(attr.characteristic, bledb.LookupCharacteristic))
	return nil
}
