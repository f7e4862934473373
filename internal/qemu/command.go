// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"fmt"
	"os"
	"strings"
)

// Command is a fully rendered QEMU invocation.
type Command struct {
	Executable string
	Args       []string

	// ExtraFiles are passed to the process starting with file descriptor 3.
	ExtraFiles []*os.File
}

// NewCommand validates the given spec and renders the command.
func NewCommand(spec CommandSpec) (*Command, error) {
	err := spec.Validate()
	if err != nil {
		return nil, err
	}

	args, err := BuildArgumentStrings(spec.arguments())
	if err != nil {
		return nil, fmt.Errorf("build arguments: %w", err)
	}

	return &Command{
		Executable: spec.Executable,
		Args:       args,
		ExtraFiles: spec.extraFiles(),
	}, nil
}

// Cmdline returns the executable and all arguments.
func (c *Command) Cmdline() []string {
	return append([]string{c.Executable}, c.Args...)
}

// String implements [fmt.Stringer].
func (c *Command) String() string {
	return strings.Join(c.Cmdline(), " ")
}
