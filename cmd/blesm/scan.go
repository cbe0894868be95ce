package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/resolver"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for advertising peripherals",
	Long: `Scans for Bluetooth Low Energy peripherals and lists each one once, in the
order they were first seen, with their latest advertisement data.

Examples:
  # Scan for the configured scan timeout
  blesm scan

  # Scan for 5 seconds for heart rate monitors
  blesm scan --duration 5s --services 180d

  # Scan until Ctrl+C, as JSON
  blesm scan --duration 0 --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration        time.Duration
	scanServices        []string
	scanAllowDuplicates bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", -1, "Scan duration (0 for until Ctrl+C); defaults to the configured scan timeout")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Only peripherals advertising one of these service UUIDs")
	scanCmd.Flags().BoolVar(&scanAllowDuplicates, "allow-duplicates", false, "Ask the radio to report every advertisement")
}

func runScan(cmd *cobra.Command, _ []string) error {
	services, err := validServices(scanServices)
	if err != nil {
		return err
	}

	env, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer env.Close()

	duration := scanDuration
	if duration < 0 {
		duration = env.cfg.ScanTimeout
	}
	ctx := env.ctx
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	progress := newProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", duration)
	progress.Start()

	seen := orderedmap.New[device.DeviceID, device.Peripheral]()
	opts := resolver.Options{
		Services:        services,
		AllowDuplicates: scanAllowDuplicates || env.cfg.AllowDuplicates,
		ScanBuffer:      env.cfg.SubscriberBuffer,
	}
	for p, err := range env.session.Resolver().Scan(ctx, opts) {
		if err != nil {
			// The scan window closing or Ctrl+C ends a scan normally.
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			progress.Stop()
			return err
		}
		if prev, ok := seen.Get(p.ID); ok {
			p = prev.Merge(p)
		}
		seen.Set(p.ID, p)
	}
	progress.Stop()

	found := make([]device.Peripheral, 0, seen.Len())
	for pair := seen.Oldest(); pair != nil; pair = pair.Next() {
		found = append(found, pair.Value)
	}
	return env.out.peripherals(found)
}

// validServices normalizes service UUID flags; none means no filter.
func validServices(services []string) ([]string, error) {
	if len(services) == 0 {
		return nil, nil
	}
	return device.ValidateUUID(services...)
}
