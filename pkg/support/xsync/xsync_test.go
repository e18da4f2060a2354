// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	require.False(t, l.Test())
	go l.Trigger()
	l.Wait()
	require.True(t, l.Test())
	l.Trigger() // No-op.
	select {
	case <-l.WaitChan():
	default:
		t.Fatal("WaitChan should be closed after Trigger")
	}
}

func TestLatchWithValue(t *testing.T) {
	l := NewLatchWithValue[int]()
	require.False(t, l.Test())
	go func() {
		l.Trigger(7)
		l.Trigger(11) // Discarded.
	}()
	assert.Equal(t, 7, l.Wait())
	got, err := l.WaitContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	// Context expiring before trigger.
	l2 := NewLatchWithValue[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l2.WaitContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDynamicWaitGroup(t *testing.T) {
	wg := NewDynamicWaitGroup()
	wg.Add(2)
	done := NewLatch()
	go func() {
		wg.Wait()
		done.Trigger()
	}()
	wg.Done()
	wg.Add(1) // Added while someone is waiting.
	assert.Equal(t, 2, wg.Count())
	wg.Done()
	require.False(t, done.Test())
	wg.Done()
	select {
	case <-done.WaitChan():
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after counter reached zero")
	}
	require.Panics(t, func() { wg.Done() })
}
