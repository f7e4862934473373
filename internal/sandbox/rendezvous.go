// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/spf13/afero"
)

// Defaults for [Rendezvous].
const (
	DefaultFollowerPollInterval = 50 * time.Millisecond
	DefaultFollowerPollTimeout  = 30 * time.Second
)

// Role is the role an invocation got assigned by [Rendezvous.Join].
type Role int

// Roles.
const (
	Leader Role = iota
	Follower
)

func (r Role) String() string {
	if r == Leader {
		return "leader"
	}

	return "follower"
}

// Rendezvous coordinates one-time setup between concurrent invocations
// without locking.
//
// The first invocation atomically creates the election directory and becomes
// leader. It runs the setup and creates the rendezvous directory afterwards.
// All other invocations are followers. They never run the setup, but poll for
// the rendezvous directory until it exists or the timeout expires.
type Rendezvous struct {
	Fs  afero.Fs
	Dir string

	PollInterval time.Duration
	PollTimeout  time.Duration
}

func (r *Rendezvous) electionDir() string {
	return r.Dir + ".leader"
}

// Join elects the role of the caller and runs setup if it is the leader.
//
// If the leader's setup fails, the election directory is removed again, so a
// later invocation can retry.
func (r *Rendezvous) Join(ctx context.Context, setup func() error) (Role, error) {
	err := r.Fs.Mkdir(r.electionDir(), 0o700)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrExist):
		return Follower, r.Await(ctx)
	default:
		return Leader, &SetupError{"elect leader", err}
	}

	slog.Debug("Rendezvous leader elected", slog.String("dir", r.Dir))

	err = setup()
	if err != nil {
		_ = r.Fs.Remove(r.electionDir())
		return Leader, err
	}

	err = r.Fs.Mkdir(r.Dir, 0o700)
	if err != nil {
		return Leader, &SetupError{"create rendezvous directory", err}
	}

	return Leader, nil
}

// Await blocks until the leader completed setup, without taking part in the
// election. It returns [ErrRendezvousTimeout] after the poll timeout.
func (r *Rendezvous) Await(ctx context.Context) error {
	interval := r.PollInterval
	if interval == 0 {
		interval = DefaultFollowerPollInterval
	}

	timeout := r.PollTimeout
	if timeout == 0 {
		timeout = DefaultFollowerPollTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		exists, err := afero.DirExists(r.Fs, r.Dir)
		if err != nil {
			return fmt.Errorf("check rendezvous directory: %w", err)
		}

		if exists {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrRendezvousTimeout, r.Dir)
		case <-ticker.C:
		}
	}
}
