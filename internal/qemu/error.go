// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrGuestPanic is returned if a kernel panic occurred in the guest
	// system.
	ErrGuestPanic = errors.New("guest system panicked")

	// ErrGuestOom is returned if the guest system ran out of memory.
	ErrGuestOom = errors.New("guest system ran out of memory")

	// ErrArgumentCollision is returned if two [Argument]s are considered equal.
	ErrArgumentCollision = errors.New("colliding args")

	// ErrFirmwareNotFound is returned if no UEFI firmware matching the
	// requested mode is installed.
	ErrFirmwareNotFound = errors.New("uefi firmware not found")

	// ErrVirtiofsdNotFound is returned if no virtiofsd binary is installed.
	ErrVirtiofsdNotFound = errors.New("virtiofsd not found")

	// ErrSocketTimeout is returned if a socket did not appear in time.
	ErrSocketTimeout = errors.New("socket did not appear in time")
)

// ArgumentError indicates an issue with an input argument.
type ArgumentError struct {
	msg string
}

// Error implements the [error] interface.
func (e *ArgumentError) Error() string {
	return "argument error: " + e.msg
}

// Is implements the [errors.Is] interface.
func (*ArgumentError) Is(other error) bool {
	_, ok := other.(*ArgumentError)
	return ok
}

// LaunchError is returned if the hypervisor fails to start or exits before
// the boot status monitor attached.
//
// It carries the fully rendered command line for diagnosis.
type LaunchError struct {
	Cmdline  []string
	ExitCode int
	Err      error
}

// Error implements the [error] interface.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch hypervisor: %v (command: %s)",
		e.Err, strings.Join(e.Cmdline, " "))
}

// Is implements the [errors.Is] interface.
func (*LaunchError) Is(other error) bool {
	_, ok := other.(*LaunchError)
	return ok
}

// Unwrap implements the [errors.Unwrap] interface.
func (e *LaunchError) Unwrap() error {
	return e.Err
}
