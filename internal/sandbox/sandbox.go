// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// DefaultStopGracePeriod is the time processes get to exit after SIGTERM
// before they are killed on teardown.
const DefaultStopGracePeriod = 5 * time.Second

// RootDirName is the name of the sandbox root inside the run directory.
const RootDirName = "sandbox-root"

// Spec defines what is visible inside the sandbox.
//
// All host paths are bound at the same path inside the sandbox, so paths in
// hypervisor arguments are valid on both sides.
type Spec struct {
	// RunDir is the session's run directory. The sandbox root is created in
	// it and it is bound read-write.
	RunDir string

	// Rootfs is the mounted image root file system, bound read-only.
	Rootfs string

	// ReadOnlyBinds are additional host paths bound read-only.
	ReadOnlyBinds []string

	// Binds are additional host paths bound read-write.
	Binds []string

	// Devices are device nodes bound into the sandbox if they exist.
	Devices []string

	// ResolvConf is the host resolver config copied into the sandbox root.
	// Empty disables copying.
	ResolvConf string

	// Bwrap is the bubblewrap binary. It is looked up in PATH if empty.
	Bwrap string

	// StopGracePeriod overrides [DefaultStopGracePeriod].
	StopGracePeriod time.Duration
}

// Sandbox is a prepared sandbox. It must be torn down with
// [Sandbox.Teardown] on every exit path.
type Sandbox struct {
	// Root is the host path of the sandbox root directory.
	Root string

	spec  Spec
	fs    afero.Fs
	bwrap string

	mu        sync.Mutex
	processes []*Process
	detached  bool
	tornDown  bool

	teardownOnce sync.Once
	teardownErr  error
}

// Prepare builds the sandbox root for the given spec on the given file
// system, usually [afero.NewOsFs].
//
// It returns a [SetupError] if bubblewrap is missing or the root can not be
// created. A partially created root is removed.
func Prepare(fsys afero.Fs, spec Spec) (*Sandbox, error) {
	bwrap := spec.Bwrap
	if bwrap == "" {
		path, err := exec.LookPath(BwrapName)
		if err != nil {
			return nil, &SetupError{"find bwrap", fmt.Errorf("%w: %w", ErrBwrapNotFound, err)}
		}

		bwrap = path
	}

	if spec.RunDir == "" {
		return nil, &SetupError{"check run dir", os.ErrInvalid}
	}

	if spec.StopGracePeriod == 0 {
		spec.StopGracePeriod = DefaultStopGracePeriod
	}

	sandbox := &Sandbox{
		Root:  filepath.Join(spec.RunDir, RootDirName),
		spec:  spec,
		fs:    fsys,
		bwrap: bwrap,
	}

	var resolvConf []byte

	if spec.ResolvConf != "" {
		content, err := os.ReadFile(spec.ResolvConf)
		switch {
		case err == nil:
			resolvConf = content
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("No resolver config to copy", slog.String("path", spec.ResolvConf))
		default:
			return nil, &SetupError{"read resolver config", err}
		}
	}

	err := buildRoot(fsys, sandbox.Root, resolvConf)
	if err != nil {
		_ = fsys.RemoveAll(sandbox.Root)
		return nil, &SetupError{"build root", err}
	}

	slog.Debug("Sandbox prepared",
		slog.String("root", sandbox.Root),
		slog.String("bwrap", bwrap),
	)

	return sandbox, nil
}

// Start runs the command inside the sandbox asynchronously.
func (s *Sandbox) Start(cmd Command) (*Process, error) {
	if cmd.Path == "" {
		return nil, ErrNoCommand
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tornDown {
		return nil, ErrTornDown
	}

	args := s.bwrapArgs(cmd)

	slog.Debug("Start sandboxed process",
		slog.String("command", cmd.Path),
		slog.Any("args", cmd.Args),
	)

	proc, err := startProcess(s.bwrap, args, cmd)
	if err != nil {
		return nil, err
	}

	s.processes = append(s.processes, proc)

	return proc, nil
}

// Detach releases the sandbox from the controller. Teardown keeps detached
// processes running and the root in place, so a later removal can clean
// them up.
func (s *Sandbox) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detached = true
}

// Teardown stops all processes started in the sandbox and removes the root.
//
// Only the first call does anything. Later calls return the first result.
func (s *Sandbox) Teardown() error {
	s.teardownOnce.Do(func() {
		s.teardownErr = s.teardown()
	})

	return s.teardownErr
}

func (s *Sandbox) teardown() error {
	s.mu.Lock()
	s.tornDown = true
	processes := s.processes
	detached := s.detached
	s.mu.Unlock()

	var errs []error

	// Stop in reverse start order, so the hypervisor goes before its helpers.
	for idx := len(processes) - 1; idx >= 0; idx-- {
		proc := processes[idx]
		if detached && proc.released {
			continue
		}

		errs = append(errs, proc.stop(s.spec.StopGracePeriod))
	}

	if !detached {
		err := s.fs.RemoveAll(s.Root)
		if err != nil {
			errs = append(errs, fmt.Errorf("remove root: %w", err))
		}
	}

	slog.Debug("Sandbox torn down", slog.String("root", s.Root), slog.Bool("detached", detached))

	return errors.Join(errs...)
}

// Remove removes the sandbox root of a detached session in the given run
// directory.
func Remove(fsys afero.Fs, runDir string) error {
	err := fsys.RemoveAll(filepath.Join(runDir, RootDirName))
	if err != nil {
		return fmt.Errorf("remove sandbox root: %w", err)
	}

	return nil
}
