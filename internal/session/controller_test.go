// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"testing/fstest"
	"time"

	"github.com/aibor/bootvm/internal/boot"
	"github.com/aibor/bootvm/internal/image"
	"github.com/aibor/bootvm/internal/qemu"
	"github.com/aibor/bootvm/internal/sandbox"
	"github.com/aibor/bootvm/internal/session"
	"github.com/aibor/bootvm/internal/sys"
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

// fakeVirtiofsd creates its socket and idles.
const fakeVirtiofsd = `#!/bin/sh
while [ $# -gt 0 ]; do
  if [ "$1" = "--socket-path" ]; then
    shift
    touch "$1"
  fi
  shift
done
exec sleep 30
`

// fakeQemuHeader finds the host files of the serial ports.
const fakeQemuHeader = `#!/bin/sh
for arg in "$@"; do
  case "$arg" in
    file,id=port*)
      p=${arg#*path=}
      p=${p%%,*}
      case "$p" in
        */status) status=$p ;;
        */output) output=$p ;;
        */exitcode) exitcode=$p ;;
      esac
      ;;
  esac
done
`

type fakeImages struct {
	rootfs *image.Rootfs

	// onMount runs after a successful mount.
	onMount func(ctx context.Context)

	mu       sync.Mutex
	mounted  int
	unmounts int
}

func (f *fakeImages) Ensure(context.Context, string, image.PullPolicy) error {
	return nil
}

func (f *fakeImages) Mount(ctx context.Context, ref string) (*image.Rootfs, error) {
	f.mu.Lock()
	f.mounted++
	f.mu.Unlock()

	if f.onMount != nil {
		f.onMount(ctx)
	}

	rootfs := *f.rootfs
	rootfs.Ref = ref

	return &rootfs, nil
}

func (f *fakeImages) Unmount(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unmounts++

	return nil
}

func writeScript(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))

	return path
}

type testEnv struct {
	controller *session.Controller
	images     *fakeImages
	stdout     *bytes.Buffer
}

func newTestEnv(t *testing.T, qemuBody string) (*testEnv, session.Spec) {
	t.Helper()

	dir := t.TempDir()

	modules := filepath.Join(dir, "rootfs", "usr", "lib", "modules", "6.12.0")
	require.NoError(t, os.MkdirAll(modules, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modules, "vmlinuz"), []byte("kernel"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(modules, "initramfs.img"), []byte("070701"), 0o644))

	images := &fakeImages{
		rootfs: &image.Rootfs{
			Path:          filepath.Join(dir, "rootfs"),
			KernelVersion: "6.12.0",
			Kernel:        filepath.Join(modules, "vmlinuz"),
			Initramfs:     filepath.Join(modules, "initramfs.img"),
		},
	}

	stdout := &bytes.Buffer{}

	controller := &session.Controller{
		Fs:     afero.NewOsFs(),
		HostFS: fstest.MapFS{},
		Host: sys.Host{
			Arch: sys.AMD64,
		},
		Images:     images,
		Store:      &session.Store{Fs: afero.NewOsFs(), Dir: filepath.Join(dir, "sessions")},
		Bwrap:      writeScript(t, dir, "bwrap", fakeBwrap),
		Virtiofsd:  writeScript(t, dir, "virtiofsd", fakeVirtiofsd),
		Stdout:     stdout,
		SocketWait: 5 * time.Second,
	}

	spec := session.Spec{
		Image:          "quay.io/fedora/fedora-bootc:42",
		Firmware:       qemu.FirmwareBIOS,
		QemuExecutable: writeScript(t, dir, "qemu", fakeQemuHeader+qemuBody),
		BootDeadline:   5 * time.Second,
		GracePeriod:    100 * time.Millisecond,
	}

	return &testEnv{controller, images, stdout}, spec
}

func TestController_Run(t *testing.T) {
	tests := []struct {
		name     string
		qemu     string
		modify   func(spec *session.Spec)
		state    session.State
		exitCode int
		stdout   string
	}{
		{
			name: "ready then poweroff",
			qemu: `echo "multi-user.target ready" >> "$status"
sleep 0.2
exit 0
`,
			state: session.Terminated,
		},
		{
			name: "poweroff before ready report",
			qemu: `exit 0
`,
			state: session.Terminated,
		},
		{
			name: "execute",
			qemu: `echo "multi-user.target ready" >> "$status"
echo "hello from guest" >> "$output"
echo "BOOTVM_EXIT_CODE: 3" >> "$exitcode"
exit 0
`,
			modify: func(spec *session.Spec) {
				spec.Execute = []string{"sh", "-c", "echo hello from guest; exit 3"}
			},
			state:    session.Terminated,
			exitCode: 3,
			stdout:   "hello from guest\n",
		},
		{
			name: "launch failure",
			qemu: `exit 1
`,
			state:    session.Terminated,
			exitCode: session.ExitCodeLaunch,
		},
		{
			name: "guest failure",
			qemu: `echo "emergency.target failed no root" >> "$status"
exec sleep 30
`,
			state:    session.Terminated,
			exitCode: session.ExitCodeFailure,
		},
		{
			name: "boot timeout",
			qemu: `echo "basic.target booting" >> "$status"
exec sleep 30
`,
			modify: func(spec *session.Spec) {
				spec.BootDeadline = 300 * time.Millisecond
			},
			state:    session.Terminated,
			exitCode: session.ExitCodeBootTimeout,
		},
		{
			name: "hypervisor error after ready",
			qemu: `echo "multi-user.target ready" >> "$status"
sleep 0.2
exit 2
`,
			state:    session.Terminated,
			exitCode: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, spec := newTestEnv(t, tt.qemu)
			if tt.modify != nil {
				tt.modify(&spec)
			}

			result, err := env.controller.Run(context.Background(), spec)
			assert.Equal(t, tt.exitCode, session.ExitCode(err), "error: %v", err)

			if tt.exitCode != 0 {
				require.ErrorIs(t, err, &session.Error{})
			}

			require.NotNil(t, result)
			assert.Equal(t, tt.state, result.State)
			assert.Equal(t, tt.stdout, env.stdout.String())

			assert.Equal(t, 1, env.images.mounted)
			assert.Equal(t, 1, env.images.unmounts)
			assert.NoDirExists(t, env.controller.Store.RunDir(result.ID))
		})
	}
}

func TestController_Run_GuestFailureVerdict(t *testing.T) {
	env, spec := newTestEnv(t, `echo "emergency.target failed no root" >> "$status"
exec sleep 30
`)

	result, err := env.controller.Run(context.Background(), spec)
	require.ErrorIs(t, err, &boot.FailedError{})

	var sessionErr *session.Error
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, session.AwaitingBoot, sessionErr.State)
	assert.False(t, sessionErr.HostCapability)

	assert.Equal(t, boot.StateFailed, result.Boot.State)
	assert.Equal(t, "emergency.target", result.Boot.Event.Milestone)
}

func TestController_Run_InvalidSpec(t *testing.T) {
	env, spec := newTestEnv(t, "exit 0\n")
	spec.Image = ""

	_, err := env.controller.Run(context.Background(), spec)
	require.ErrorIs(t, err, session.ErrInvalidSpec)
	assert.Equal(t, 0, env.images.mounted)
}

func TestController_Run_MissingSecureBootKeys(t *testing.T) {
	env, spec := newTestEnv(t, "exit 0\n")
	spec.Firmware = qemu.FirmwareUEFISecure
	spec.SecureBootDir = t.TempDir()

	_, err := env.controller.Run(context.Background(), spec)
	require.Error(t, err)
	assert.Equal(t, 0, env.images.mounted, "fails before anything is started")
}

func TestController_Run_EphemeralKey(t *testing.T) {
	env, spec := newTestEnv(t, `echo "multi-user.target ready" >> "$status"
exit 0
`)
	spec.GenerateKey = true

	result, err := env.controller.Run(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.controller.Store.RunDir(result.ID), session.KeyFileName), result.KeyPath)
}

func TestController_DetachAndRemove(t *testing.T) {
	env, spec := newTestEnv(t, `echo "multi-user.target ready" >> "$status"
exec sleep 30
`)
	spec.Detach = true
	spec.PortForwards = []qemu.PortForward{{Host: 2222, Guest: 22}}

	result, err := env.controller.Run(context.Background(), spec)
	require.NoError(t, err)
	require.NotNil(t, result.Record)

	assert.Equal(t, session.Ready, result.State)
	assert.Equal(t, uint16(2222), result.Record.SSHPort)
	assert.Len(t, result.Record.HelperPids, 1)
	assert.True(t, result.Record.Alive())
	assert.Equal(t, 0, env.images.unmounts, "image stays mounted")

	records, err := env.controller.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, result.ID, records[0].ID)

	require.NoError(t, env.controller.Await(context.Background(), result.ID[:8]))

	err = env.controller.Remove(context.Background(), result.ID, false)
	require.ErrorIs(t, err, session.ErrRunning)

	require.NoError(t, env.controller.Remove(context.Background(), result.ID, true))

	assert.False(t, result.Record.Alive())
	assert.Equal(t, 1, env.images.unmounts)
	assert.NoDirExists(t, env.controller.Store.RunDir(result.ID))

	records, err = env.controller.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestController_Run_Signal(t *testing.T) {
	t.Run("during setup", func(t *testing.T) {
		env, spec := newTestEnv(t, `touch "$0.started"
exit 0
`)

		signals := make(chan os.Signal, 1)
		env.controller.Signals = signals
		env.images.onMount = func(ctx context.Context) {
			signals <- syscall.SIGTERM
			<-ctx.Done()
		}

		result, err := env.controller.Run(context.Background(), spec)
		require.ErrorIs(t, err, &session.InterruptError{})
		assert.Equal(t, 128+int(syscall.SIGTERM), session.ExitCode(err))

		assert.Equal(t, session.Terminated, result.State)
		assert.NoFileExists(t, spec.QemuExecutable+".started", "hypervisor must not start")
		assert.Equal(t, 1, env.images.mounted)
		assert.Equal(t, 1, env.images.unmounts)
		assert.NoDirExists(t, env.controller.Store.RunDir(result.ID))
	})

	t.Run("after hypervisor started", func(t *testing.T) {
		env, spec := newTestEnv(t, `echo "basic.target booting" >> "$status"
touch "$0.started"
exec sleep 30
`)

		signals := make(chan os.Signal, 1)
		env.controller.Signals = signals

		type outcome struct {
			result *session.Result
			err    error
		}

		done := make(chan outcome, 1)

		go func() {
			result, err := env.controller.Run(context.Background(), spec)
			done <- outcome{result, err}
		}()

		assert.Eventually(t, func() bool {
			_, err := os.Stat(spec.QemuExecutable + ".started")
			return err == nil
		}, 3*time.Second, 10*time.Millisecond)

		signals <- syscall.SIGTERM

		out := <-done
		require.ErrorIs(t, out.err, &session.InterruptError{})
		assert.Equal(t, 128+int(syscall.SIGTERM), session.ExitCode(out.err))
		assert.NotErrorIs(t, out.err, &qemu.LaunchError{})

		var sessionErr *session.Error
		require.ErrorAs(t, out.err, &sessionErr)
		assert.Equal(t, session.AwaitingBoot, sessionErr.State)

		assert.Equal(t, session.Terminated, out.result.State)
		assert.Equal(t, 1, env.images.mounted)
		assert.Equal(t, 1, env.images.unmounts)
		assert.NoDirExists(t, env.controller.Store.RunDir(out.result.ID))
	})
}

// readyDirFailFs fails to create the rendezvous directory and records
// removals.
type readyDirFailFs struct {
	afero.Fs

	mu      sync.Mutex
	removed []string
}

func (f *readyDirFailFs) Mkdir(name string, perm os.FileMode) error {
	if filepath.Base(name) == session.ReadyDirName {
		return errors.New("read-only file system")
	}

	return f.Fs.Mkdir(name, perm)
}

func (f *readyDirFailFs) RemoveAll(path string) error {
	f.mu.Lock()
	f.removed = append(f.removed, path)
	f.mu.Unlock()

	return f.Fs.RemoveAll(path)
}

func TestController_Run_RendezvousFailure(t *testing.T) {
	env, spec := newTestEnv(t, "exit 0\n")

	fsys := &readyDirFailFs{Fs: afero.NewOsFs()}
	env.controller.Fs = fsys

	result, err := env.controller.Run(context.Background(), spec)
	require.ErrorIs(t, err, &sandbox.SetupError{})
	assert.Equal(t, session.ExitCodeSandboxSetup, session.ExitCode(err))

	runDir := env.controller.Store.RunDir(result.ID)
	assert.Contains(t, fsys.removed, filepath.Join(runDir, sandbox.RootDirName),
		"sandbox is torn down")
	assert.Equal(t, 1, env.images.unmounts)
}
