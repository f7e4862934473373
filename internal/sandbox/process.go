// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Command is a command to run inside a [Sandbox].
type Command struct {
	Path string
	Args []string

	// ExtraFiles are passed to the process starting with file descriptor 3.
	ExtraFiles []*os.File

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Foreground puts the process group in the foreground of the terminal
	// on stdin, so it can read from it.
	Foreground bool

	// Detach starts the process without parent death signal and without a
	// waiter, so it survives the controller.
	Detach bool
}

// Process is a process started in a [Sandbox].
//
// The process runs in its own process group, so signals sent with
// [Process.Signal] reach every process in the sandbox, not only the
// bubblewrap shim.
type Process struct {
	cmd      *exec.Cmd
	done     chan struct{}
	err      error
	released bool
}

func startProcess(path string, args []string, cmd Command) (*Process, error) {
	execCmd := exec.Command(path, args...)
	execCmd.Stdin = cmd.Stdin
	execCmd.Stdout = cmd.Stdout
	execCmd.Stderr = cmd.Stderr
	execCmd.ExtraFiles = cmd.ExtraFiles
	execCmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if !cmd.Detach {
		execCmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
	}

	if cmd.Foreground {
		if file, ok := cmd.Stdin.(*os.File); ok {
			execCmd.SysProcAttr.Foreground = true
			execCmd.SysProcAttr.Ctty = int(file.Fd())
		}
	}

	err := execCmd.Start()
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	proc := &Process{
		cmd:  execCmd,
		done: make(chan struct{}),
	}

	if cmd.Detach {
		proc.released = true
		close(proc.done)

		_ = execCmd.Process.Release()

		return proc, nil
	}

	go func() {
		proc.err = execCmd.Wait()
		close(proc.done)
	}()

	return proc, nil
}

// Pid returns the process id, which is also the process group id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done returns a channel that is closed once the process exited. For
// detached processes it is closed right away.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exited and returns its error, if any.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// ExitCode returns the exit code of the exited process. It returns -1 if the
// process has not exited, was killed by a signal or was detached.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
	default:
		return -1
	}

	if p.released || p.cmd.ProcessState == nil {
		return -1
	}

	return p.cmd.ProcessState.ExitCode()
}

// Alive returns true if the process is still running.
func (p *Process) Alive() bool {
	if !p.released {
		select {
		case <-p.done:
			return false
		default:
			return true
		}
	}

	return ProcessAlive(p.Pid())
}

// Signal sends the signal to the process group.
func (p *Process) Signal(sig syscall.Signal) error {
	err := unix.Kill(-p.Pid(), sig)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %s to %d: %w", sig, p.Pid(), err)
	}

	return nil
}

// stop terminates the process group and kills it if it does not exit within
// the grace period.
func (p *Process) stop(grace time.Duration) error {
	if !p.Alive() {
		return nil
	}

	// Released processes can not be waited for.
	if p.released {
		return p.Signal(syscall.SIGKILL)
	}

	err := p.Signal(syscall.SIGTERM)
	if err != nil {
		return err
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	err = p.Signal(syscall.SIGKILL)
	<-p.done

	return err
}

// ProcessAlive returns true if a process with the given pid exists.
//
// An exited released child of this process is reaped, so it does not count
// as alive while it lingers as zombie.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	var status unix.WaitStatus

	reaped, _ := unix.Wait4(pid, &status, unix.WNOHANG, nil)
	if reaped == pid {
		return false
	}

	err := unix.Kill(pid, 0)

	return err == nil || errors.Is(err, unix.EPERM)
}

// StopGroup terminates the process group of a released process and kills it
// if it is still alive after the grace period.
func StopGroup(pid int, grace time.Duration) error {
	if !ProcessAlive(pid) {
		return nil
	}

	err := unix.Kill(-pid, unix.SIGTERM)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("terminate %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !ProcessAlive(pid) {
			return nil
		}

		time.Sleep(50 * time.Millisecond)
	}

	err = unix.Kill(-pid, unix.SIGKILL)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill %d: %w", pid, err)
	}

	return nil
}
