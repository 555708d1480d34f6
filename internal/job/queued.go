// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package job

// QueuedJob couples a Job's identity with the Processor that does its
// work; this is the element type carried on the dispatcher's work queue.
// It is always handled by pointer so queue removal can match by identity,
// the same "remove by shared handle" pattern the teacher queue uses for
// reference-counted payloads.
type QueuedJob struct {
	Job       *Job
	Processor Processor
}

// NewQueuedJob builds a QueuedJob for a freshly minted id.
func NewQueuedJob(id uint32, kind string, request []byte, proc Processor) *QueuedJob {
	return &QueuedJob{
		Job:       &Job{ID: id, Kind: kind, Request: request},
		Processor: proc,
	}
}
