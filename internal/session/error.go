// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/aibor/bootvm/internal/boot"
	"github.com/aibor/bootvm/internal/credential"
	"github.com/aibor/bootvm/internal/exitcode"
	"github.com/aibor/bootvm/internal/qemu"
	"github.com/aibor/bootvm/internal/sandbox"
	"github.com/aibor/bootvm/internal/sys"
)

// Internal exit codes. They do not collide with each other and are unlikely
// to be used by guest commands for anything else than what they are used
// for by the shell.
const (
	ExitCodeBootTimeout  = 124
	ExitCodeSandboxSetup = 125
	ExitCodeLaunch       = 126
	ExitCodeCredential   = 127

	exitCodeSignalBase = 128

	// ExitCodeFailure is used for all other errors.
	ExitCodeFailure = 1
)

var (
	// ErrInvalidSpec is returned for contradicting or malformed session
	// options.
	ErrInvalidSpec = errors.New("invalid session spec")

	// ErrInvalidTransition is returned if a session state change would move
	// backwards.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrNotFound is returned if no session with the given id is stored.
	ErrNotFound = errors.New("session not found")

	// ErrExists is returned if a session with the same id is already being
	// set up.
	ErrExists = errors.New("session already exists")

	// ErrRunning is returned if a running session is removed without force.
	ErrRunning = errors.New("session still running")

	// ErrNoExitCode is returned if the guest command did not report its exit
	// code.
	ErrNoExitCode = errors.New("guest command did not report an exit code")
)

// Error is returned for every failed session. It carries the last state the
// session reached.
type Error struct {
	State State

	// HostCapability is true if the failure is caused by a missing or
	// degraded host capability rather than a configuration mistake.
	HostCapability bool

	Err error
}

// newError wraps err with the state and classifies it for the given host.
func newError(state State, host sys.Host, err error) *Error {
	return &Error{
		State:          state,
		HostCapability: isHostCapability(err, host),
		Err:            err,
	}
}

// Error implements the [error] interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("session %s: %v", e.State, e.Err)
	if e.HostCapability {
		msg += " (host capability issue)"
	}

	return msg
}

// Is implements the [errors.Is] interface.
func (*Error) Is(other error) bool {
	_, ok := other.(*Error)
	return ok
}

// Unwrap implements the [errors.Unwrap] interface.
func (e *Error) Unwrap() error {
	return e.Err
}

// ExitError is returned if the hypervisor exited with a non-zero exit code
// after the guest booted.
type ExitError struct {
	Code int
}

// Error implements the [error] interface.
func (e *ExitError) Error() string {
	return fmt.Sprintf("hypervisor exited with code %d", e.Code)
}

// Is implements the [errors.Is] interface.
func (*ExitError) Is(other error) bool {
	_, ok := other.(*ExitError)
	return ok
}

// InterruptError is returned if the session was ended by a signal, either
// while it was set up or by relaying it to the hypervisor.
type InterruptError struct {
	Signal syscall.Signal
}

// Error implements the [error] interface.
func (e *InterruptError) Error() string {
	return "interrupted by signal " + e.Signal.String()
}

// Is implements the [errors.Is] interface.
func (*InterruptError) Is(other error) bool {
	_, ok := other.(*InterruptError)
	return ok
}

// ExitCode follows the shell convention for processes ended by a signal.
func (e *InterruptError) ExitCode() int {
	return exitCodeSignalBase + int(e.Signal)
}

func isHostCapability(err error, host sys.Host) bool {
	switch {
	case errors.Is(err, sandbox.ErrBwrapNotFound),
		errors.Is(err, sys.ErrNoFreeGuestCID),
		errors.Is(err, sys.ErrArchNotSupported),
		errors.Is(err, qemu.ErrFirmwareNotFound),
		errors.Is(err, qemu.ErrVirtiofsdNotFound):
		return true
	case errors.Is(err, &boot.TimeoutError{}),
		errors.Is(err, boot.ErrChannelsExhausted):
		return host.Nested || host.Ambiguous
	default:
		return false
	}
}

// ExitCode returns the process exit code for the given session error.
//
// A guest command's exit code and the hypervisor's exit code are passed
// through. Internal failures map to the internal exit codes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	if code, ok := exitcode.From(err); ok {
		return code
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var interruptErr *InterruptError
	if errors.As(err, &interruptErr) {
		return interruptErr.ExitCode()
	}

	switch {
	case errors.Is(err, &boot.TimeoutError{}):
		return ExitCodeBootTimeout
	case errors.Is(err, &sandbox.SetupError{}):
		return ExitCodeSandboxSetup
	case errors.Is(err, &qemu.LaunchError{}):
		return ExitCodeLaunch
	case errors.Is(err, credential.ErrCredential):
		return ExitCodeCredential
	default:
		return ExitCodeFailure
	}
}
