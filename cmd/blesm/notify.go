package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/blesm/internal/device"
)

var notifyCmd = &cobra.Command{
	Use:   "notify <device-id> <service> <characteristic>",
	Short: "Stream characteristic notifications",
	Long: `Connects to a peripheral, enables notifications on the characteristic and
prints each value until Ctrl+C, the link drops or --count values arrived.

Examples:
  # Heart rate measurements until Ctrl+C
  blesm notify AA:BB:CC:DD:EE:FF 180d 2a37 --hex

  # The next 10 values as JSON lines
  blesm notify AA:BB:CC:DD:EE:FF 180d 2a37 --count 10 --format json`,
	Args: cobra.ExactArgs(3),
	RunE: runNotify,
}

var (
	notifyHex   bool
	notifyCount int
)

func init() {
	notifyCmd.Flags().BoolVar(&notifyHex, "hex", false, "Always print values as hex")
	notifyCmd.Flags().IntVarP(&notifyCount, "count", "n", 0, "Stop after this many values (0 for no limit)")
}

func runNotify(cmd *cobra.Command, args []string) error {
	if notifyCount < 0 {
		return errors.New("--count must not be negative")
	}
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
	if !info.Properties.Has(device.PropNotify) && !info.Properties.Has(device.PropIndicate) {
		return fmt.Errorf("characteristic %s does not support notifications (properties: %s)", info.UUID, info.Properties)
	}

	c := env.session.Correlator()
	// Open the stream first so the first value after enabling is not missed.
	stream, err := c.Notifications(attr.id, attr.service, attr.characteristic, env.cfg.SubscriberBuffer)
	if err != nil {
		return err
	}
	defer stream.Cancel()

	enable, err := c.SetNotify(attr.id, attr.service, attr.characteristic, true)
	if err != nil {
		return err
	}
	if _, err := enable.Await(env.ctx); err != nil {
		return err
	}
	defer func() {
		if off, err := c.SetNotify(attr.id, attr.service, attr.characteristic, false); err == nil {
			_, _ = off.Result()
		}
	}()

	for received := 0; notifyCount == 0 || received < notifyCount; received++ {
		select {
		case <-env.ctx.Done():
			return nil
		case value, ok := <-stream.C():
			if !ok {
				return fmt.Errorf("%s: %w", attr.id, ErrConnectionLost)
			}
			if err := env.out.value(attr.id, attr.service, attr.characteristic, value, notifyHex); err != nil {
				return err
			}
		}
	}
	if dropped := stream.Dropped(); dropped > 0 {
		env.session.Logger().WithField("dropped", dropped).Warn("Slow output dropped notifications")
	}
	return nil
}
