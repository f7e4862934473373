// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"runtime"
)

// Arch is a guest architecture.
type Arch string

// Supported guest architectures.
const (
	AMD64   Arch = "amd64"
	ARM64   Arch = "arm64"
	RISCV64 Arch = "riscv64"
)

// Native is the architecture of the host. Using the same architecture for the
// guest allows using KVM, if available. [DetectHost] checks for it.
const Native Arch = Arch(runtime.GOARCH)

func (a *Arch) String() string {
	return string(*a)
}

// IsNative returns true if the architecture matches the host's.
func (a *Arch) IsNative() bool {
	return Native == *a
}

// QemuSystemName returns the name of the architecture as used by the
// qemu-system binaries.
func (a *Arch) QemuSystemName() (string, error) {
	switch *a {
	case AMD64:
		return "x86_64", nil
	case ARM64:
		return "aarch64", nil
	case RISCV64:
		return "riscv64", nil
	default:
		return "", ErrArchNotSupported
	}
}

// Set implements [pflag.Value].
func (a *Arch) Set(s string) error {
	switch Arch(s) {
	case AMD64, ARM64, RISCV64:
		*a = Arch(s)
	default:
		return ErrArchNotSupported
	}

	return nil
}

// Type implements [pflag.Value].
func (*Arch) Type() string {
	return "arch"
}
