// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	got, err := ReplaceTilde("~/data/a.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data/a.csv"), got)

	got, err = ReplaceTilde("/tmp/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.csv", got)
}

func TestFileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.csv")
	exists, err := FileExists(path)
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, os.WriteFile(path, []byte("1,2\n"), 0o644))
	exists, err = FileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)
}
