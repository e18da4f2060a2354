// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends_test

import (
	"context"
	"testing"

	"github.com/gomlx/distarray/backends"
	_ "github.com/gomlx/distarray/backends/default"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjRef(t *testing.T) {
	var unassigned backends.ObjRef
	assert.False(t, unassigned.IsValid())
	assert.Equal(t, "ObjRef(unassigned)", unassigned.String())

	a, b := backends.NewObjRef(), backends.NewObjRef()
	assert.True(t, a.IsValid())
	assert.NotEqual(t, a, b)
	assert.Len(t, a.String(), len("ObjRef()")+8)
}

func TestNew(t *testing.T) {
	t.Setenv(backends.ConfigEnvVar, "local:parallelism=3")
	backend, err := backends.New()
	require.NoError(t, err)
	assert.Equal(t, "local", backend.Name())
	assert.Contains(t, backend.Description(), "parallelism=3")

	backend, err = backends.NewWithConfig("")
	require.NoError(t, err)
	assert.Equal(t, "local", backend.Name())

	_, err = backends.NewWithConfig("nonexistent")
	require.Error(t, err)
}

func TestFunctions(t *testing.T) {
	backends.RegisterFunction("backends_test.concat", func(args []any) ([]any, error) {
		return []any{args[0].(string) + args[1].(string)}, nil
	})
	require.Panics(t, func() {
		backends.RegisterFunction("backends_test.concat", nil)
	})
	assert.Contains(t, backends.RegisteredFunctions(), "backends_test.concat")
	_, err := backends.LookupFunction("backends_test.missing")
	require.ErrorIs(t, err, backends.ErrUnknownFunction)

	backend := backends.MustNew()
	defer backend.Finalize()
	ctx := context.Background()
	hello, err := backend.Push("hello, ")
	require.NoError(t, err)
	ref, err := backends.CallOne(backend, "backends_test.concat", hello, "world")
	require.NoError(t, err)
	got, err := backends.Pull[string](ctx, backend, ref)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", got)

	backend.Wait()
	stats := backend.Stats()
	assert.Equal(t, int64(1), stats.TasksCompleted)
	assert.Equal(t, 2, stats.NumObjects)
	assert.Contains(t, stats.String(), "completed=1")
}
