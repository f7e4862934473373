// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image

import (
	"errors"
	"fmt"
)

var (
	// ErrKernelNotFound is returned if the image does not contain a kernel
	// and initramfs pair in /usr/lib/modules.
	ErrKernelNotFound = errors.New("no kernel and initramfs found in image")

	// ErrNoMountPoint is returned if the container engine did not return a
	// mount point.
	ErrNoMountPoint = errors.New("no mount point returned")

	// ErrEmptyReference is returned for an empty image reference.
	ErrEmptyReference = errors.New("empty image reference")
)

// Error is returned if an image operation failed.
type Error struct {
	Ref string
	Op  string
	Err error
}

// Error implements the [error] interface.
func (e *Error) Error() string {
	return fmt.Sprintf("image %s: %s: %v", e.Ref, e.Op, e.Err)
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
