// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds external helper commands.
const DefaultCommandTimeout = 2 * time.Minute

// CommandRunner runs external helper commands on the host.
//
// It returns an [ExecError] in case the command is not available or it
// returned with a non-zero exit code.
type CommandRunner struct {
	// Timeout overrides [DefaultCommandTimeout].
	Timeout time.Duration
}

// Run runs the command and discards its output.
func (r CommandRunner) Run(ctx context.Context, name string, args ...string) error {
	_, err := r.Output(ctx, name, args...)
	return err
}

// Output runs the command and returns its stdout.
func (r CommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}

	ctx, stop := context.WithTimeout(ctx, timeout)
	defer stop()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Run helper command", slog.String("command", cmd.String()))

	err := cmd.Run()
	if err != nil {
		return nil, &ExecError{
			Name:   name,
			Err:    err,
			Stderr: strings.TrimSpace(stderr.String()),
		}
	}

	return stdout.Bytes(), nil
}
