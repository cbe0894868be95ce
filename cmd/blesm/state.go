package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/eventbus"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the Bluetooth radio state",
	Long: `Prints the central manager state of the Bluetooth radio.

Examples:
  # Current state
  blesm state

  # Follow state changes until Ctrl+C
  blesm state --watch

  # Print the current state and the next two changes
  blesm state --watch --count 3`,
	Args: cobra.NoArgs,
	RunE: runState,
}

var (
	stateWatch bool
	stateCount int
)

func init() {
	stateCmd.Flags().BoolVarP(&stateWatch, "watch", "w", false, "Follow state changes")
	stateCmd.Flags().IntVarP(&stateCount, "count", "n", 0, "Stop after this many states when watching (0 for no limit)")
}

func runState(cmd *cobra.Command, _ []string) error {
	if stateCount < 0 {
		return errors.New("--count must not be negative")
	}

	env, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer env.Close()

	sub := env.session.StateChanges()
	defer sub.Cancel()

	if !stateWatch {
		return env.out.state("central", settledState(env, sub))
	}

	for printed := 0; stateCount == 0 || printed < stateCount; printed++ {
		select {
		case <-env.ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := env.out.state("central", ev.(eventbus.StateChanged).State); err != nil {
				return err
			}
		}
	}
	return nil
}

// settledState returns the first known state, or unknown if the radio does
// not report one in time.
func settledState(env *commandEnv, sub *eventbus.Subscription) device.ManagerState {
	timeout := time.After(powerOnTimeout)
	for {
		select {
		case <-env.ctx.Done():
			return env.session.State()
		case <-timeout:
			return env.session.State()
		case ev, ok := <-sub.C():
			if !ok {
				return env.session.State()
			}
			if state := ev.(eventbus.StateChanged).State; state != device.StateUnknown {
				return state
			}
		}
	}
}
