// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package boot

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoChannels is returned if a monitor has no channel armed.
	ErrNoChannels = errors.New("no boot status channel armed")

	// ErrChannelsExhausted is returned if every armed channel ended without
	// a terminal event.
	ErrChannelsExhausted = errors.New("all boot status channels ended without verdict")

	// ErrHypervisorExited is returned if the hypervisor exited before any
	// channel reported a terminal event.
	ErrHypervisorExited = errors.New("hypervisor exited before boot verdict")
)

// TimeoutError is returned if no channel reported a terminal event before the
// deadline.
type TimeoutError struct {
	Deadline time.Duration

	// HypervisorAlive is the hypervisor liveness at the deadline.
	HypervisorAlive bool
}

// Error implements the [error] interface.
func (e *TimeoutError) Error() string {
	if e.HypervisorAlive {
		return fmt.Sprintf("guest did not report boot status within %s, hypervisor still running", e.Deadline)
	}

	return fmt.Sprintf("guest did not report boot status within %s, hypervisor already exited", e.Deadline)
}

// Is implements the [errors.Is] interface.
func (*TimeoutError) Is(other error) bool {
	_, ok := other.(*TimeoutError)
	return ok
}

// ParseError is returned for malformed status messages. It is not terminal.
type ParseError struct {
	Channel string
	Input   string
	Reason  string
}

// Error implements the [error] interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s channel: malformed status message %q: %s", e.Channel, e.Input, e.Reason)
}

// Is implements the [errors.Is] interface.
func (*ParseError) Is(other error) bool {
	_, ok := other.(*ParseError)
	return ok
}

// FailedError is returned if the guest reported a boot failure.
type FailedError struct {
	Event Event
}

// Error implements the [error] interface.
func (e *FailedError) Error() string {
	msg := fmt.Sprintf("guest boot failed at %s", e.Event.Milestone)
	if e.Event.Detail != "" {
		msg += ": " + e.Event.Detail
	}

	return msg + " (reported on " + e.Event.Channel + " channel)"
}

// Is implements the [errors.Is] interface.
func (*FailedError) Is(other error) bool {
	_, ok := other.(*FailedError)
	return ok
}
