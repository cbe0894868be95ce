//go:build test

package main

import (
	"bytes"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/testutils"
)

// Test peripherals served by the scripted radio.
const (
	tagID = "11:22:33:44:55:66"
	hrmID = "aa:bb:cc:dd:ee:ff"
)

// CommandTestSuite runs blesm commands against a scripted radio. All cmd/blesm
// suites embed it.
type CommandTestSuite struct {
	suite.Suite

	radio *testutils.FakeRadio
}

func (s *CommandTestSuite) SetupTest() {
	s.radio = testutils.NewFakeRadio().WithPeripheral(
		device.Peripheral{ID: tagID, Name: "Tag", RSSI: -60},
		device.ServiceInfo{
			UUID:    "180f",
			Primary: true,
			Characteristics: []device.CharacteristicInfo{
				{UUID: "2a19", Properties: device.PropRead | device.PropNotify, Value: []byte{87}},
				{UUID: "2a1a", Properties: device.PropNotify},
			},
		},
		device.ServiceInfo{
			UUID:    "fff0",
			Primary: true,
			Characteristics: []device.CharacteristicInfo{
				{UUID: "fff1", Properties: device.PropWrite | device.PropWriteNoResp},
				{UUID: "fff2", Properties: device.PropRead, Value: []byte{0x00, 0xff}},
			},
		},
	)
	radioFactory = s.radio.Factory()
	powerOnTimeout = 100 * time.Millisecond
	resetFlags(rootCmd)
}

func (s *CommandTestSuite) TearDownTest() {
	radioFactory = nil
	powerOnTimeout = 5 * time.Second
}

// ExecuteCommand runs blesm with args and returns what it printed to stdout.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	out := new(syncBuffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// StartCommand runs blesm in the background for streaming commands. The
// returned buffer is safe to read while the command runs.
func (s *CommandTestSuite) StartCommand(args ...string) (*syncBuffer, <-chan error) {
	out := new(syncBuffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)

	done := make(chan error, 1)
	go func() { done <- rootCmd.Execute() }()
	return out, done
}

// WaitCommand waits for a command started with StartCommand.
func (s *CommandTestSuite) WaitCommand(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		s.FailNow("command MUST finish")
		return nil
	}
}

// resetFlags restores every flag of cmd and its subcommands to its default,
// since cobra keeps values between executions of the same command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
