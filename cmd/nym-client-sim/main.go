// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Command nym-client-sim drives the client real traffic control against a
// loopback gateway and reports what happened to every packet.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nymtech/nym-go/client/config"
	"github.com/nymtech/nym-go/common"
	nlog "github.com/nymtech/nym-go/core/log"
	"github.com/nymtech/nym-go/internal/profiling"
)

// options holds the command line configuration
type options struct {
	ConfigFile  string
	Messages    int
	MessageSize int
	ReplySurbs  uint32
	PacketLoss  float64
	AckLoss     float64
	TimeScale   float64
	Timeout     time.Duration
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "nym-client-sim",
		Short: "Exercise the client real traffic control against a simulated network",
		Long: `nym-client-sim runs the outbound Poisson scheduler, the acknowledgement
controller and the reply controller of a single client against a loopback
gateway. Packets are framed without encryption, delivered after the delays
they carry, and their SURB-acks are returned the same way.

Messages are sent to a simulated recipient that reassembles and verifies
them. The run ends once every message arrived and every fragment was either
acknowledged or given up on, or when the timeout expires.`,
		Example: `  # Send 20 messages with the default configuration
  nym-client-sim

  # Lose 10% of the packets and 5% of the acks
  nym-client-sim --packet-loss 0.1 --ack-loss 0.05

  # Attach 20 reply SURBs to every message
  nym-client-sim -n 5 --reply-surbs 20

  # Use a configuration file
  nym-client-sim -f client.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "f", "",
		"path to the client configuration file (TOML format)")
	cmd.Flags().IntVarP(&opts.Messages, "messages", "n", 20,
		"number of messages to send")
	cmd.Flags().IntVarP(&opts.MessageSize, "size", "s", 4096,
		"size of every message in bytes")
	cmd.Flags().Uint32Var(&opts.ReplySurbs, "reply-surbs", 0,
		"reply SURBs attached to every message, 0 sends plain messages")
	cmd.Flags().Float64Var(&opts.PacketLoss, "packet-loss", 0,
		"probability that the network loses a packet")
	cmd.Flags().Float64Var(&opts.AckLoss, "ack-loss", 0,
		"probability that the network loses an ack")
	cmd.Flags().Float64Var(&opts.TimeScale, "time-scale", 1,
		"factor applied to every simulated network delay")
	cmd.Flags().DurationVarP(&opts.Timeout, "timeout", "t", time.Minute,
		"give up after this long")

	return cmd
}

func main() {
	common.ExecuteWithFang(context.Background(), newRootCommand())
}

func run(ctx context.Context, opts options) error {
	cfg := config.Default()
	if opts.ConfigFile != "" {
		var err error
		cfg, err = config.LoadFile(opts.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to load config file '%v': %v", opts.ConfigFile, err)
		}
	}

	backend, err := nlog.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return err
	}
	defer backend.Close()

	stopProfiling, err := profiling.Start(backend.GetLogger("profiling"))
	if err != nil {
		return err
	}
	defer stopProfiling()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim, err := newSimulation(cfg, opts, backend)
	if err != nil {
		return err
	}
	rep, err := sim.run(ctx)
	if rep != nil {
		rep.print(os.Stdout)
	}
	return err
}
