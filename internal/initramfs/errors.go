// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package initramfs

import (
	"errors"
)

var (
	// ErrInvalidUnitName is returned if a unit name is empty or contains a
	// path separator.
	ErrInvalidUnitName = errors.New("invalid unit name")

	// ErrDuplicateUnit is returned if a unit name is used more than once.
	ErrDuplicateUnit = errors.New("duplicate unit")

	// ErrInvalidArgument is returned if an invalid argument is given.
	ErrInvalidArgument = errors.New("invalid argument")
)
