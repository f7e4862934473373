// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aibor/bootvm/internal/sandbox"
)

// List returns the records of all sessions left running.
func (c *Controller) List() ([]*Record, error) {
	return c.Store.List()
}

// Remove stops the session with the given id and releases its resources.
//
// A session that is still running is only stopped if force is set.
func (c *Controller) Remove(ctx context.Context, id string, force bool) error {
	record, err := c.Store.Load(id)
	if err != nil {
		return err
	}

	if record.Alive() {
		if !force {
			return fmt.Errorf("%w: %s (pid %d)", ErrRunning, record.ID, record.Pid)
		}

		slog.Debug("Stop session", slog.String("id", record.ID), slog.Int("pid", record.Pid))

		err = sandbox.StopGroup(record.Pid, sandbox.DefaultStopGracePeriod)
		if err != nil {
			return fmt.Errorf("stop session %s: %w", record.ID, err)
		}
	}

	var errs []error

	for _, pid := range record.HelperPids {
		err = sandbox.StopGroup(pid, sandbox.DefaultStopGracePeriod)
		if err != nil {
			errs = append(errs, fmt.Errorf("stop helper: %w", err))
		}
	}

	err = sandbox.Remove(c.Fs, record.RunDir)
	if err != nil {
		errs = append(errs, err)
	}

	err = c.Images.Unmount(ctx, record.Image)
	if err != nil {
		errs = append(errs, fmt.Errorf("unmount image: %w", err))
	}

	err = c.Store.Delete(record.ID)
	if err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Await blocks until the sandbox of the session with the given id is ready.
// It never takes part in the setup itself.
func (c *Controller) Await(ctx context.Context, id string) error {
	id, err := c.Store.resolve(id)
	if err != nil {
		return err
	}

	rendezvous := sandbox.Rendezvous{
		Fs:  c.Fs,
		Dir: filepath.Join(c.Store.RunDir(id), ReadyDirName),
	}

	return rendezvous.Await(ctx) //nolint:wrapcheck
}
