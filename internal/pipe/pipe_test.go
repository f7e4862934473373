// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipe_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/aibor/bootvm/internal/pipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuestPath(t *testing.T) {
	assert.Equal(t, "/dev/virtio-ports/org.bootvm.status",
		pipe.GuestPath("org.bootvm.status"))
}

func TestCreate(t *testing.T) {
	dir := t.TempDir()

	port, err := pipe.Create(dir, "status")
	require.NoError(t, err)

	assert.Equal(t, "org.bootvm.status", port.Name)
	assert.Equal(t, filepath.Join(dir, "status"), port.HostPath)
	assert.Equal(t, "/dev/virtio-ports/org.bootvm.status", port.GuestPath())
	assert.FileExists(t, port.HostPath)
}

func TestCreate_MissingDir(t *testing.T) {
	_, err := pipe.Create(filepath.Join(t.TempDir(), "missing"), "status")
	require.ErrorIs(t, err, &pipe.Error{})
}

func TestPort_CopyTo(t *testing.T) {
	t.Run("output", func(t *testing.T) {
		port, err := pipe.Create(t.TempDir(), "execute")
		require.NoError(t, err)

		require.NoError(t, os.WriteFile(port.HostPath, []byte("hello\n"), 0o600))

		var out bytes.Buffer

		written, err := port.CopyTo(&out)
		require.NoError(t, err)
		assert.Equal(t, int64(6), written)
		assert.Equal(t, "hello\n", out.String())
	})

	t.Run("no output", func(t *testing.T) {
		port, err := pipe.Create(t.TempDir(), "execute")
		require.NoError(t, err)

		_, err = port.CopyTo(&bytes.Buffer{})
		require.ErrorIs(t, err, pipe.ErrNoOutput)
		require.ErrorIs(t, err, &pipe.Error{})
	})
}
