// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides lightweight atomic counters for the hub's
// workers, adapted from the teacher's pkg/metrics client-call counters
// (request/error/retry tallies) to the worker domain: processed, errored,
// and retried item counts per worker, exposed for diagnostics.
package metrics

import "sync/atomic"

// Counters tracks a worker's lifetime processing stats. Zero value is ready
// to use.
type Counters struct {
	processed atomic.Uint64
	errored   atomic.Uint64
	retried   atomic.Uint64
}

// Snapshot is a point-in-time copy of a Counters, safe to log or serialize.
type Snapshot struct {
	Processed uint64 `json:"processed"`
	Errored   uint64 `json:"errored"`
	Retried   uint64 `json:"retried"`
}

func (c *Counters) IncProcessed() { c.processed.Add(1) }
func (c *Counters) IncErrored()   { c.errored.Add(1) }
func (c *Counters) IncRetried()   { c.retried.Add(1) }

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Processed: c.processed.Load(),
		Errored:   c.errored.Load(),
		Retried:   c.retried.Load(),
	}
}
