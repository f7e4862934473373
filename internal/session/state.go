// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"fmt"
	"log/slog"
	"sync"
)

// State is the lifecycle state of a session.
type State int

// Session states in their forward order. Ready, Failed and Terminated are
// terminal, although a Ready or Failed session still ends Terminated once
// its resources are released.
const (
	Initializing State = iota
	SandboxReady
	HypervisorStarted
	AwaitingBoot
	Ready
	Failed
	Terminated
)

var stateNames = map[State]string{
	Initializing:      "initializing",
	SandboxReady:      "sandbox-ready",
	HypervisorStarted: "hypervisor-started",
	AwaitingBoot:      "awaiting-boot",
	Ready:             "ready",
	Failed:            "failed",
	Terminated:        "terminated",
}

// String implements [fmt.Stringer].
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return "unknown"
}

// canMoveTo reports whether the transition from s to next is allowed.
func (s State) canMoveTo(next State) bool {
	switch s {
	case Terminated:
		return false
	case Ready:
		return next == Failed || next == Terminated
	case Failed:
		return next == Terminated
	default:
		return next > s
	}
}

// stateTracker holds the forward-monotonic state of a session.
type stateTracker struct {
	mu    sync.Mutex
	state State
}

// Get returns the current state.
func (t *stateTracker) Get() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// MoveTo transitions to the next state. Moving backwards or out of
// Terminated returns an error and keeps the current state.
func (t *stateTracker) MoveTo(next State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.canMoveTo(next) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, t.state, next)
	}

	slog.Debug("Session state", slog.String("from", t.state.String()), slog.String("to", next.String()))

	t.state = next

	return nil
}
