// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retryableErr struct{ retryable bool }

func (e retryableErr) Error() string    { return "capability failure" }
func (e retryableErr) IsRetryable() bool { return e.retryable }

func TestRebootOnceOnError_ShouldRetry(t *testing.T) {
	policy := NewRebootOnceOnError()

	assert.True(t, policy.ShouldRetry(retryableErr{retryable: true}, 0))
	assert.False(t, policy.ShouldRetry(retryableErr{retryable: true}, 1))
	assert.False(t, policy.ShouldRetry(retryableErr{retryable: false}, 0))
	assert.False(t, policy.ShouldRetry(errors.New("plain"), 0))
	assert.False(t, policy.ShouldRetry(nil, 0))
}

func TestRebootOnceOnError_MaxRetries(t *testing.T) {
	assert.Equal(t, 1, NewRebootOnceOnError().MaxRetries())
}

func TestWithReboot_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := WithReboot(context.Background(), NewRebootOnceOnError(), nil, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithReboot_RetriesOnceThenSucceeds(t *testing.T) {
	calls := 0
	rebooted := false
	reboot := func(ctx context.Context) error {
		rebooted = true
		return nil
	}
	err := WithReboot(context.Background(), NewRebootOnceOnError(), reboot, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return retryableErr{retryable: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, rebooted)
}

func TestWithReboot_GivesUpAfterOneRetry(t *testing.T) {
	calls := 0
	err := WithReboot(context.Background(), NewRebootOnceOnError(), func(ctx context.Context) error {
		return nil
	}, func(ctx context.Context) error {
		calls++
		return retryableErr{retryable: true}
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithReboot_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	err := WithReboot(context.Background(), NewRebootOnceOnError(), nil, func(ctx context.Context) error {
		calls++
		return errors.New("fatal")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithReboot_RebootFailurePropagates(t *testing.T) {
	rebootErr := errors.New("reboot failed")
	err := WithReboot(context.Background(), NewRebootOnceOnError(), func(ctx context.Context) error {
		return rebootErr
	}, func(ctx context.Context) error {
		return retryableErr{retryable: true}
	})
	require.Error(t, err)
	assert.Equal(t, rebootErr, err)
}
