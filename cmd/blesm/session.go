package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/radio"
	"github.com/srg/blesm/internal/session"
	"github.com/srg/blesm/pkg/config"
)

// radioFactory replaces the configured backend when set.
var radioFactory radio.Factory

// powerOnTimeout bounds the wait for the radio before any command.
var powerOnTimeout = 5 * time.Second

// commandEnv is what every command works with once flags are validated.
type commandEnv struct {
	cfg     *config.Config
	session *session.Session
	out     *printer
	ctx     context.Context
	cancel  context.CancelFunc
}

// Close releases the session and the signal handler.
func (e *commandEnv) Close() {
	_ = e.session.Close()
	e.cancel()
}

// openSession loads settings and opens a session. With waitPower it also
// waits for the radio to power on. The returned context ends on Ctrl+C or
// SIGTERM.
func openSession(cmd *cobra.Command, waitPower bool) (*commandEnv, error) {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}

	// Arguments are valid from here on; runtime errors do not need usage.
	cmd.SilenceUsage = true

	s, err := session.New(radioFactory, cfg, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	env := &commandEnv{
		cfg:     cfg,
		session: s,
		out:     newPrinter(cmd.OutOrStdout(), cfg.OutputFormat),
		ctx:     ctx,
		cancel:  cancel,
	}

	if !waitPower {
		return env, nil
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, powerOnTimeout)
	defer waitCancel()
	if err := s.WaitPoweredOn(waitCtx); err != nil {
		env.Close()
		if s.State() == device.StatePoweredOff {
			return nil, device.ErrBluetoothOff
		}
		return nil, fmt.Errorf("radio not ready: %w", err)
	}
	return env, nil
}
