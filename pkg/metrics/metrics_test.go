// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounters_ZeroValue(t *testing.T) {
	var c Counters

	snap := c.Snapshot()
	assert.Equal(t, uint64(0), snap.Processed)
	assert.Equal(t, uint64(0), snap.Errored)
	assert.Equal(t, uint64(0), snap.Retried)
}

func TestCounters_Increments(t *testing.T) {
	var c Counters

	c.IncProcessed()
	c.IncProcessed()
	c.IncErrored()
	c.IncRetried()
	c.IncRetried()
	c.IncRetried()

	snap := c.Snapshot()
	assert.Equal(t, uint64(2), snap.Processed)
	assert.Equal(t, uint64(1), snap.Errored)
	assert.Equal(t, uint64(3), snap.Retried)
}

func TestCounters_Concurrency(t *testing.T) {
	var c Counters

	const numGoroutines = 10
	const numOperations = 100

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				c.IncProcessed()
				if j%10 == 0 {
					c.IncErrored()
				}
				if j%25 == 0 {
					c.IncRetried()
				}
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, uint64(numGoroutines*numOperations), snap.Processed)
	assert.Equal(t, uint64(numGoroutines*10), snap.Errored)
	assert.Equal(t, uint64(numGoroutines*4), snap.Retried)
}
