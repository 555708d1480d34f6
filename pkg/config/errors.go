// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import "errors"

var (
	// ErrMissingOSCDstAddr is returned when the OSC destination address is not set.
	ErrMissingOSCDstAddr = errors.New("osc destination address is required")

	// ErrInvalidPort is returned when a configured port is 0.
	ErrInvalidPort = errors.New("port must be between 1 and 65535")

	// ErrInvalidLogLevel is returned when the log level is out of the 0..5 range.
	ErrInvalidLogLevel = errors.New("log level must be between 0 and 5")
)
