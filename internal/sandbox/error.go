// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sandbox

import (
	"errors"
	"fmt"
)

var (
	// ErrBwrapNotFound is returned if the bubblewrap binary is not installed.
	ErrBwrapNotFound = errors.New("bwrap not found")

	// ErrRendezvousTimeout is returned if a follower did not observe the
	// rendezvous directory in time.
	ErrRendezvousTimeout = errors.New("rendezvous directory did not appear in time")

	// ErrTornDown is returned if a process is started in a sandbox that was
	// already torn down.
	ErrTornDown = errors.New("sandbox is torn down")

	// ErrNoCommand is returned if a command without path is started.
	ErrNoCommand = errors.New("no command given")
)

// SetupError is returned if the sandbox could not be set up.
type SetupError struct {
	Op  string
	Err error
}

// Error implements the [error] interface.
func (e *SetupError) Error() string {
	return fmt.Sprintf("sandbox setup: %s: %v", e.Op, e.Err)
}

// Is implements the [errors.Is] interface.
func (*SetupError) Is(other error) bool {
	_, ok := other.(*SetupError)
	return ok
}

// Unwrap implements the [errors.Unwrap] interface.
func (e *SetupError) Unwrap() error {
	return e.Err
}
