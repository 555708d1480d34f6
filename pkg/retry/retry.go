// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package retry

import "context"

// Policy defines the interface for job retry policies: given the error a job
// Process() returned and how many attempts have already been made, should the
// worker try again, and is a capability reboot needed first.
type Policy interface {
	// ShouldRetry reports whether attempt (0-indexed) should be retried given err.
	ShouldRetry(err error, attempt int) bool

	// MaxRetries returns the maximum number of retries.
	MaxRetries() int
}

// RebootRetryable is implemented by errors that carry their own retry verdict
// (xerrors.Error.IsRetryable does this for DONGLE_REQUIRED-class failures).
type RebootRetryable interface {
	IsRetryable() bool
}

// RebootOnceOnError implements the worker's reboot-and-retry-once policy
// (spec section 4.5): on a recoverable capability failure, the worker reboots
// the capability and retries the job exactly once before giving up.
type RebootOnceOnError struct{}

// NewRebootOnceOnError creates the worker's reboot-and-retry-once policy.
func NewRebootOnceOnError() *RebootOnceOnError {
	return &RebootOnceOnError{}
}

func (r *RebootOnceOnError) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= r.MaxRetries() {
		return false
	}
	if rr, ok := err.(RebootRetryable); ok {
		return rr.IsRetryable()
	}
	return false
}

func (r *RebootOnceOnError) MaxRetries() int { return 1 }

// RebootFunc reboots the capability a worker depends on (e.g. reopens the
// SPI device or MIDI port) before a retried attempt.
type RebootFunc func(ctx context.Context) error

// WithReboot runs fn, and on a retryable failure invokes reboot then retries
// fn once, per policy. It returns the final error, which is nil on success.
func WithReboot(ctx context.Context, policy Policy, reboot RebootFunc, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !policy.ShouldRetry(lastErr, attempt) {
			return lastErr
		}
		if reboot != nil {
			if err := reboot(ctx); err != nil {
				return err
			}
		}
	}
}
