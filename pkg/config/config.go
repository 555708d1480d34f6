// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config holds the hub's runtime configuration, populated from the
// cmd/xypi CLI flags (spec section 6).
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds configuration for the xypi hub.
type Config struct {
	// OSCDstAddr is the address OSC replies/forwards are sent to.
	OSCDstAddr string

	// OSCDstPort is the port OSC replies/forwards are sent to.
	OSCDstPort uint16

	// OSCRcvPort is the UDP port the hub listens on for incoming OSC.
	OSCRcvPort uint16

	// WSPort is the TCP port the hub's WebSocket server listens on.
	WSPort uint16

	// Threads is the worker pool size; 0 means use runtime.NumCPU().
	Threads int

	// LogLevel is the verbosity level, 0 (silent) through 5 (most verbose).
	LogLevel uint16

	// ReadTimeout is the per-read idle deadline of a session; the session
	// closes once its retry budget of consecutive timeouts is spent (spec
	// section 4.9).
	ReadTimeout time.Duration
}

// NewDefault creates a new configuration with the defaults from spec section 6.
func NewDefault() *Config {
	return &Config{
		OSCDstAddr:  getEnvOrDefault("XYPI_OSC_DST_ADDR", "127.0.0.1"),
		OSCDstPort:  57120,
		OSCRcvPort:  5505,
		WSPort:      8080,
		Threads:     1,
		LogLevel:    4,
		ReadTimeout: 20 * time.Second,
	}
}

// Load overlays environment variables onto c, letting an operator override a
// default without editing the invocation. The CLI does not call it.
func (c *Config) Load() {
	if addr := os.Getenv("XYPI_OSC_DST_ADDR"); addr != "" {
		c.OSCDstAddr = addr
	}
	if port := os.Getenv("XYPI_OSC_DST_PORT"); port != "" {
		if v, err := strconv.ParseUint(port, 10, 16); err == nil {
			c.OSCDstPort = uint16(v)
		}
	}
	if port := os.Getenv("XYPI_OSC_RCV_PORT"); port != "" {
		if v, err := strconv.ParseUint(port, 10, 16); err == nil {
			c.OSCRcvPort = uint16(v)
		}
	}
	if port := os.Getenv("XYPI_WS_PORT"); port != "" {
		if v, err := strconv.ParseUint(port, 10, 16); err == nil {
			c.WSPort = uint16(v)
		}
	}
}

// ResolvedThreads returns Threads, substituting runtime.NumCPU() for the
// "0 means auto" sentinel (spec section 6's --threads/-t flag).
func (c *Config) ResolvedThreads() int {
	if c.Threads <= 0 {
		return runtime.NumCPU()
	}
	return c.Threads
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.OSCDstAddr == "" {
		return ErrMissingOSCDstAddr
	}
	if c.OSCDstPort == 0 {
		return ErrInvalidPort
	}
	if c.OSCRcvPort == 0 {
		return ErrInvalidPort
	}
	if c.WSPort == 0 {
		return ErrInvalidPort
	}
	if c.LogLevel > 5 {
		return ErrInvalidLogLevel
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
