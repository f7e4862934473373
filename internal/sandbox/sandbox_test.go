// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sandbox_test

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/aibor/bootvm/internal/sandbox"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBwrap skips all bubblewrap arguments and runs the command directly.
const fakeBwrap = `#!/bin/sh
while [ "$1" != "--" ]; do shift; done
shift
exec "$@"
`

func prepare(t *testing.T) *sandbox.Sandbox {
	t.Helper()

	dir := t.TempDir()
	bwrap := filepath.Join(dir, "bwrap")
	require.NoError(t, os.WriteFile(bwrap, []byte(fakeBwrap), 0o755))

	resolvConf := filepath.Join(dir, "resolv.conf")
	require.NoError(t, os.WriteFile(resolvConf, []byte("nameserver 192.0.2.1\n"), 0o644))

	runDir := filepath.Join(dir, "run")
	require.NoError(t, os.Mkdir(runDir, 0o755))

	sb, err := sandbox.Prepare(afero.NewOsFs(), sandbox.Spec{
		RunDir:          runDir,
		ResolvConf:      resolvConf,
		Bwrap:           bwrap,
		StopGracePeriod: time.Second,
	})
	require.NoError(t, err)

	return sb
}

func TestPrepare(t *testing.T) {
	sb := prepare(t)
	t.Cleanup(func() { _ = sb.Teardown() })

	target, err := os.Readlink(filepath.Join(sb.Root, "bin"))
	require.NoError(t, err)
	assert.Equal(t, "usr/bin", target)

	passwd, err := os.ReadFile(filepath.Join(sb.Root, "etc/passwd"))
	require.NoError(t, err)
	assert.Contains(t, string(passwd), "root:x:0:0:")

	resolvConf, err := os.ReadFile(filepath.Join(sb.Root, "etc/resolv.conf"))
	require.NoError(t, err)
	assert.Equal(t, "nameserver 192.0.2.1\n", string(resolvConf))

	assert.DirExists(t, filepath.Join(sb.Root, "tmp"))
}

func TestPrepare_Errors(t *testing.T) {
	t.Run("bwrap missing", func(t *testing.T) {
		t.Setenv("PATH", t.TempDir())

		_, err := sandbox.Prepare(afero.NewMemMapFs(), sandbox.Spec{RunDir: "/run"})
		require.ErrorIs(t, err, &sandbox.SetupError{})
		require.ErrorIs(t, err, sandbox.ErrBwrapNotFound)
	})

	t.Run("no run dir", func(t *testing.T) {
		_, err := sandbox.Prepare(afero.NewMemMapFs(), sandbox.Spec{Bwrap: "/bin/bwrap"})
		require.ErrorIs(t, err, &sandbox.SetupError{})
	})

	t.Run("read-only file system", func(t *testing.T) {
		fsys := afero.NewReadOnlyFs(afero.NewMemMapFs())

		_, err := sandbox.Prepare(fsys, sandbox.Spec{RunDir: "/run", Bwrap: "/bin/bwrap"})
		require.ErrorIs(t, err, &sandbox.SetupError{})
	})
}

func TestSandbox_Start(t *testing.T) {
	sb := prepare(t)
	t.Cleanup(func() { _ = sb.Teardown() })

	var stdout bytes.Buffer

	proc, err := sb.Start(sandbox.Command{
		Path:   "/bin/sh",
		Args:   []string{"-c", "echo hello; exit 3"},
		Stdout: &stdout,
	})
	require.NoError(t, err)

	err = proc.Wait()
	require.Error(t, err)

	assert.Equal(t, 3, proc.ExitCode())
	assert.False(t, proc.Alive())
	assert.Equal(t, "hello\n", stdout.String())
}

func TestSandbox_Start_NoCommand(t *testing.T) {
	sb := prepare(t)
	t.Cleanup(func() { _ = sb.Teardown() })

	_, err := sb.Start(sandbox.Command{})
	require.ErrorIs(t, err, sandbox.ErrNoCommand)
}

func TestSandbox_Signal(t *testing.T) {
	sb := prepare(t)
	t.Cleanup(func() { _ = sb.Teardown() })

	proc, err := sb.Start(sandbox.Command{Path: "/bin/sleep", Args: []string{"60"}})
	require.NoError(t, err)

	assert.True(t, proc.Alive())
	assert.Equal(t, -1, proc.ExitCode())

	require.NoError(t, proc.Signal(syscall.SIGINT))
	require.Error(t, proc.Wait())

	assert.False(t, proc.Alive())
}

func TestSandbox_Teardown(t *testing.T) {
	sb := prepare(t)

	helper, err := sb.Start(sandbox.Command{Path: "/bin/sleep", Args: []string{"60"}})
	require.NoError(t, err)

	// Ignores SIGTERM, so it must be killed after the grace period.
	stubborn, err := sb.Start(sandbox.Command{
		Path: "/bin/sh",
		Args: []string{"-c", "trap '' TERM; while :; do sleep 0.1; done"},
	})
	require.NoError(t, err)

	require.NoError(t, sb.Teardown())

	assert.False(t, helper.Alive())
	assert.False(t, stubborn.Alive())
	assert.NoDirExists(t, sb.Root)

	require.NoError(t, sb.Teardown(), "second teardown is a no-op")

	_, err = sb.Start(sandbox.Command{Path: "/bin/true"})
	require.ErrorIs(t, err, sandbox.ErrTornDown)
}

func TestSandbox_Teardown_Detached(t *testing.T) {
	sb := prepare(t)

	proc, err := sb.Start(sandbox.Command{
		Path:   "/bin/sleep",
		Args:   []string{"60"},
		Detach: true,
	})
	require.NoError(t, err)

	sb.Detach()
	require.NoError(t, sb.Teardown())

	assert.True(t, proc.Alive())
	assert.DirExists(t, sb.Root)

	require.NoError(t, proc.Signal(syscall.SIGKILL))
	require.Eventually(t, func() bool {
		// Reap the detached child so it does not linger as zombie.
		var status syscall.WaitStatus
		pid, _ := syscall.Wait4(proc.Pid(), &status, syscall.WNOHANG, nil)

		return pid == proc.Pid()
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, sandbox.Remove(afero.NewOsFs(), filepath.Dir(sb.Root)))
	assert.NoDirExists(t, sb.Root)
}
