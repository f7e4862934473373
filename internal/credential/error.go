// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package credential

import (
	"errors"
	"fmt"
)

var (
	// ErrCredential matches all errors of this package that prevent building a
	// credential payload.
	ErrCredential = errors.New("credential error")

	// ErrUnknownChannel is returned if a channel name can not be parsed.
	ErrUnknownChannel = errors.New("unknown credential channel")

	// ErrNoKeys is returned if no SSH public key was found in the input.
	ErrNoKeys = errors.New("no ssh public key found")
)

// TooLargeError is returned if the encoded payload exceeds the transport
// limit of the chosen channel. Payloads are never truncated.
type TooLargeError struct {
	Channel Channel
	Size    int
	Limit   int
}

// Error implements the [error] interface.
func (e *TooLargeError) Error() string {
	return fmt.Sprintf("credential payload too large for %s: %d > %d bytes",
		e.Channel, e.Size, e.Limit)
}

// Is implements the [errors.Is] interface.
func (*TooLargeError) Is(other error) bool {
	if other == ErrCredential {
		return true
	}

	_, ok := other.(*TooLargeError)

	return ok
}

// KeygenError is returned if generating an ephemeral key pair fails.
type KeygenError struct {
	Err error
}

// Error implements the [error] interface.
func (e *KeygenError) Error() string {
	return "generate ssh key: " + e.Err.Error()
}

// Is implements the [errors.Is] interface.
func (*KeygenError) Is(other error) bool {
	if other == ErrCredential {
		return true
	}

	_, ok := other.(*KeygenError)

	return ok
}

// Unwrap implements the [errors.Unwrap] interface.
func (e *KeygenError) Unwrap() error {
	return e.Err
}
