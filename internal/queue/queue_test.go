// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue[T any]() *Queue[T] {
	q := New[T]()
	q.Enable(true)
	return q
}

func TestFIFOOrderAndUrgency(t *testing.T) {
	q := newTestQueue[int]()
	q.PushBack(1)
	q.PushBack(2)
	q.PushBack(3)

	v, ok := q.FrontBlocking(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, v)

	q.PushFront(0)
	v, ok = q.FrontBlocking(context.Background())
	require.True(t, ok)
	assert.Equal(t, 0, v)
}

func TestDisabledQueueDropsPushes(t *testing.T) {
	q := New[int]()
	q.PushBack(1)
	assert.True(t, q.IsEmpty())
}

func TestBlockingReleaseOnPush(t *testing.T) {
	q := newTestQueue[int]()
	q.SetBlocking(true)

	result := make(chan bool, 1)
	go func() {
		_, ok := q.FrontBlocking(context.Background())
		result <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.PushBack(42)

	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("FrontBlocking did not return after push")
	}
}

func TestBlockingReleaseOnSetBlockingFalse(t *testing.T) {
	q := newTestQueue[int]()
	q.SetBlocking(true)

	result := make(chan bool, 1)
	go func() {
		_, ok := q.FrontBlocking(context.Background())
		result <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.SetBlocking(false)

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("FrontBlocking did not return after SetBlocking(false)")
	}
}

func TestFrontBlockingContextCancel(t *testing.T) {
	q := newTestQueue[int]()
	q.SetBlocking(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.FrontBlocking(ctx)
	assert.False(t, ok)
}

func TestRemoveFunc(t *testing.T) {
	q := newTestQueue[int]()
	q.PushBack(1)
	q.PushBack(2)
	q.PushBack(3)

	assert.True(t, q.RemoveFunc(func(v int) bool { return v == 2 }))
	assert.False(t, q.RemoveFunc(func(v int) bool { return v == 2 }))
	assert.Equal(t, 2, q.Len())
}

func TestFindQOrder(t *testing.T) {
	q := newTestQueue[int]()
	q.PushBack(10)
	q.PushBack(20)
	q.PushBack(30)

	assert.Equal(t, 1, q.FindQOrder(func(v int) bool { return v == 20 }))
	assert.Equal(t, -1, q.FindQOrder(func(v int) bool { return v == 99 }))
}

func TestForEach(t *testing.T) {
	q := newTestQueue[int]()
	q.PushBack(1)
	q.PushBack(2)
	q.PushBack(3)

	var sum int
	q.ForEach(func(v int) { sum += v })
	assert.Equal(t, 6, sum)
}

func TestIsEmptyAndLen(t *testing.T) {
	q := newTestQueue[int]()
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Len())

	q.PushBack(1)
	assert.False(t, q.IsEmpty())
	assert.Equal(t, 1, q.Len())
}

func TestFrontBlockingNonBlockingEmptyReturnsImmediately(t *testing.T) {
	q := newTestQueue[int]()
	q.SetBlocking(false)

	_, ok := q.FrontBlocking(context.Background())
	assert.False(t, ok)
}
