// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package local

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/distarray/backends"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

var numSlowRunning, maxSlowRunning atomic.Int32

func init() {
	backends.RegisterFunction("test.add", func(args []any) ([]any, error) {
		return []any{args[0].(int) + args[1].(int)}, nil
	})
	backends.RegisterFunction("test.divmod", func(args []any) ([]any, error) {
		a, b := args[0].(int), args[1].(int)
		return []any{a / b, a % b}, nil
	})
	backends.RegisterFunction("test.fail", func(args []any) ([]any, error) {
		return nil, errBoom
	})
	backends.RegisterFunction("test.panic", func(args []any) ([]any, error) {
		var s []int
		return []any{s[len(args)+1]}, nil
	})
	backends.RegisterFunction("test.slow", func(args []any) ([]any, error) {
		n := numSlowRunning.Add(1)
		for {
			current := maxSlowRunning.Load()
			if n <= current || maxSlowRunning.CompareAndSwap(current, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		numSlowRunning.Add(-1)
		return []any{args[0]}, nil
	})
}

func TestParseConfig(t *testing.T) {
	p, err := parseConfig("parallelism=3")
	require.NoError(t, err)
	assert.Equal(t, 3, p)

	p, err = parseConfig(" parallelism=-1 ")
	require.NoError(t, err)
	assert.Equal(t, -1, p)

	_, err = parseConfig("parallelism=x")
	require.Error(t, err)
	_, err = parseConfig("threads=2")
	require.Error(t, err)

	backend, err := backends.NewWithConfig("local:parallelism=2")
	require.NoError(t, err)
	assert.Equal(t, BackendName, backend.Name())
	assert.Contains(t, backend.Description(), "parallelism=2")
}

func TestPushPull(t *testing.T) {
	b := NewWithParallelism(2)
	ctx := context.Background()
	ref, err := b.Push(7)
	require.NoError(t, err)
	require.True(t, ref.IsValid())

	v, err := backends.Pull[int](ctx, b, ref)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = backends.Pull[string](ctx, b, ref)
	require.ErrorIs(t, err, backends.ErrTypeMismatch)

	_, err = b.Pull(ctx, backends.ObjRef{})
	require.ErrorIs(t, err, backends.ErrInvalidRef)

	_, err = b.Push(nil)
	require.Error(t, err)

	b.Free(ref)
	_, err = b.Pull(ctx, ref)
	require.ErrorIs(t, err, backends.ErrInvalidRef)
}

func TestCall(t *testing.T) {
	for _, parallelism := range []int{0, 1, 4, -1} {
		t.Run(fmt.Sprintf("parallelism=%d", parallelism), func(t *testing.T) {
			b := NewWithParallelism(parallelism)
			ctx := context.Background()
			one, err := b.Push(1)
			require.NoError(t, err)

			// Chain of dependent calls: sum = 1 + 1 + ... + 1.
			sum := one
			for range 20 {
				sum, err = backends.CallOne(b, "test.add", sum, one)
				require.NoError(t, err)
			}
			v, err := backends.Pull[int](ctx, b, sum)
			require.NoError(t, err)
			assert.Equal(t, 21, v)

			// Multiple outputs, mixing references and plain values.
			refs, err := b.Call("test.divmod", 2, sum, 4)
			require.NoError(t, err)
			values, err := backends.PullAll[int](ctx, b, refs...)
			require.NoError(t, err)
			assert.Equal(t, []int{5, 1}, values)

			b.Wait()
			stats := b.Stats()
			assert.Equal(t, int64(21), stats.TasksDispatched)
			assert.Equal(t, int64(21), stats.TasksCompleted)
			assert.Equal(t, int64(0), stats.TasksFailed)
			assert.Equal(t, int64(1), stats.NumPushed)
		})
	}
}

func TestCallErrors(t *testing.T) {
	b := NewWithParallelism(2)
	ctx := context.Background()
	one, err := b.Push(1)
	require.NoError(t, err)

	_, err = b.Call("test.unknown", 1, one)
	require.ErrorIs(t, err, backends.ErrUnknownFunction)

	_, err = b.Call("test.add", 1, one, backends.NewObjRef())
	require.ErrorIs(t, err, backends.ErrInvalidRef)

	_, err = b.Call("test.add", 0, one, one)
	require.Error(t, err)

	// Failures propagate to the outputs and to the tasks consuming them.
	failed, err := backends.CallOne(b, "test.fail", one)
	require.NoError(t, err)
	downstream, err := backends.CallOne(b, "test.add", failed, one)
	require.NoError(t, err)
	_, err = b.Pull(ctx, failed)
	require.ErrorIs(t, err, errBoom)
	_, err = b.Pull(ctx, downstream)
	require.ErrorIs(t, err, errBoom)

	// Panics become errors.
	panicked, err := backends.CallOne(b, "test.panic")
	require.NoError(t, err)
	_, err = b.Pull(ctx, panicked)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test.panic")

	// Wrong number of outputs.
	wrong, err := b.Call("test.add", 2, one, one)
	require.NoError(t, err)
	_, err = b.Pull(ctx, wrong[1])
	require.Error(t, err)

	b.Wait()
	assert.Equal(t, int64(4), b.Stats().TasksFailed)
}

func TestFreeArgumentAfterCall(t *testing.T) {
	b := NewWithParallelism(1)
	one, err := b.Push(1)
	require.NoError(t, err)
	slow, err := backends.CallOne(b, "test.slow", one)
	require.NoError(t, err)
	sum, err := backends.CallOne(b, "test.add", slow, one)
	require.NoError(t, err)
	b.Free(one, slow)
	v, err := backends.Pull[int](context.Background(), b, sum)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestParallelismLimit(t *testing.T) {
	numSlowRunning.Store(0)
	maxSlowRunning.Store(0)
	b := NewWithParallelism(2)
	var refs []backends.ObjRef
	for ii := range 10 {
		ref, err := backends.CallOne(b, "test.slow", ii)
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	b.Wait()
	assert.LessOrEqual(t, maxSlowRunning.Load(), int32(2))
	values, err := backends.PullAll[int](context.Background(), b, refs...)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, values)
}

func TestPullContext(t *testing.T) {
	numSlowRunning.Store(0)
	b := NewWithParallelism(1)
	ref, err := backends.CallOne(b, "test.slow", 1)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Microsecond)
	defer cancel()
	_, err = b.Pull(ctx, ref)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	b.Wait()
}

func TestFinalize(t *testing.T) {
	b := NewWithParallelism(1)
	ref, err := b.Push(1)
	require.NoError(t, err)
	b.Finalize()
	_, err = b.Pull(context.Background(), ref)
	require.ErrorIs(t, err, backends.ErrFinalized)
	_, err = b.Push(2)
	require.ErrorIs(t, err, backends.ErrFinalized)
	_, err = b.Call("test.add", 1, 1, 2)
	require.ErrorIs(t, err, backends.ErrFinalized)
}
