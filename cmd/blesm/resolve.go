package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/resolver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <device-id>...",
	Short: "Resolve device identifiers to peripherals",
	Long: `Resolves device identifiers to peripherals. Identifiers the system already
knows, or that are connected with one of the given services, are answered
without scanning; the rest are looked for in a scan that stops as soon as
every identifier was seen.

Examples:
  # Resolve two peripherals
  blesm resolve AA:BB:CC:DD:EE:FF 11:22:33:44:55:66

  # Also accept peripherals connected to the system with the battery service
  blesm resolve AA:BB:CC:DD:EE:FF --services 180f --timeout 5s`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

var (
	resolveServices []string
	resolveTimeout  time.Duration
)

func init() {
	resolveCmd.Flags().StringSliceVarP(&resolveServices, "services", "s", nil, "Service UUIDs for the scan filter and the connected-peripherals lookup")
	resolveCmd.Flags().DurationVarP(&resolveTimeout, "timeout", "t", 0, "How long to scan for missing peripherals; defaults to the configured scan timeout")
}

func runResolve(cmd *cobra.Command, args []string) error {
	ids, err := device.ParseDeviceIDs(args...)
	if err != nil {
		return err
	}
	services, err := validServices(resolveServices)
	if err != nil {
		return err
	}

	env, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer env.Close()

	timeout := resolveTimeout
	if timeout <= 0 {
		timeout = env.cfg.ScanTimeout
	}
	ctx := env.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	opts := resolver.Options{Services: services, ScanBuffer: env.cfg.SubscriberBuffer}
	progress := newProgressPrinter(cmd.ErrOrStderr(), "Resolving peripherals", timeout)
	progress.Start()
	found, err := env.session.Resolver().ResolveAll(ctx, ids, opts)
	progress.Stop()

	if errors.Is(err, context.DeadlineExceeded) {
		have := device.PeripheralIDs(found)
		if perr := env.out.peripherals(found); perr != nil {
			return perr
		}
		missing := device.MissingIDs(ids, have)
		uuids := make([]string, len(missing))
		for i, id := range missing {
			uuids[i] = id.String()
		}
		return &device.NotFoundError{Resource: "peripheral", UUIDs: uuids}
	}
	if err != nil {
		return err
	}
	return env.out.peripherals(found)
}
