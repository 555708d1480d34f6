// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command xypi runs the real-time music-controller hub (spec section 6):
// a single long-running process, so unlike the teacher's verb-per-subcommand
// slurm-cli tree this is one root command with persistent flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dakyri/xypi/internal/hub"
	"github.com/dakyri/xypi/pkg/config"
	"github.com/dakyri/xypi/pkg/logging"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.NewDefault()

	cmd := &cobra.Command{
		Use:     "xypi",
		Short:   "Real-time bridge between WebSocket, OSC, MIDI, and SPI planes",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.OSCDstAddr, "osc_dst_addr", "a", cfg.OSCDstAddr, "OSC destination address")
	flags.Uint16VarP(&cfg.OSCDstPort, "osc_dst_port", "p", cfg.OSCDstPort, "OSC destination port")
	flags.Uint16VarP(&cfg.OSCRcvPort, "osc_rcv_port", "q", cfg.OSCRcvPort, "UDP port the hub listens on for incoming OSC")
	flags.Uint16VarP(&cfg.WSPort, "ws_port", "r", cfg.WSPort, "WebSocket control-plane port")

	var threads uint16 = 1
	flags.Uint16VarP(&threads, "threads", "t", threads, "reactor thread count (0 means hardware concurrency)")
	var logLevel uint16 = 4
	flags.Uint16VarP(&logLevel, "log-level", "l", logLevel, "log verbosity, 0 (silent) through 5 (most verbose)")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		cfg.Threads = int(threads)
		cfg.LogLevel = logLevel
		return cfg.Validate()
	}

	return cmd
}

// run builds and runs the hub until it receives SIGINT/SIGTERM or a fatal
// startup error occurs (spec section 7: "Fatal errors (bind failures at
// start) abort the hub").
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.NewLogger(&logging.Config{
		Level:   logging.LevelFromVerbosity(cfg.LogLevel),
		Format:  logging.FormatText,
		Output:  os.Stdout,
		Version: Version,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := hub.New(cfg, log)
	if err != nil {
		return fmt.Errorf("xypi: %w", err)
	}

	log.Info("starting hub",
		"osc_rcv_port", cfg.OSCRcvPort,
		"osc_dst_addr", cfg.OSCDstAddr,
		"osc_dst_port", cfg.OSCDstPort,
		"ws_port", cfg.WSPort,
		"threads", cfg.ResolvedThreads(),
	)

	return h.Run(ctx)
}
