package main

import (
	"github.com/spf13/cobra"

	"github.com/srg/blesm/internal/device"
)

var readCmd = &cobra.Command{
	Use:   "read <device-id> <service> <characteristic>",
	Short: "Read a characteristic value",
	Long: `Connects to a peripheral, discovers the characteristic and reads its value.

Printable values are shown as text, anything else as hex.

Examples:
  # Read the battery level
  blesm read AA:BB:CC:DD:EE:FF 180f 2a19 --hex

  # Read the device name as JSON
  blesm read AA:BB:CC:DD:EE:FF 1800 2a00 --format json`,
	Args: cobra.ExactArgs(3),
	RunE: runRead,
}

var readHex bool

func init() {
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Always print the value as hex")
}

func runRead(cmd *cobra.Command, args []string) error {
	attr, err := parseAttribute(args)
	if err != nil {
		return err
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
	if err := requireProperty(info, device.PropRead, "read"); err != nil {
		return err
	}

	req, err := env.session.Correlator().ReadCharacteristic(attr.id, attr.service, attr.characteristic)
	if err != nil {
		return err
	}
	value, err := req.Await(env.ctx)
	if err != nil {
		return err
	}
	return env.out.value(attr.id, attr.service, attr.characteristic, value, readHex)
}
