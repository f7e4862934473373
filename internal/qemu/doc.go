// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package qemu provides utilities for composing QEMU system virtualization
// commands that boot container root file systems or bootable disk images. It
// expects the required QEMU and virtiofsd binaries to be present on the
// system.
//
// The root file system is shared with the guest by virtiofsd via a
// vhost-user-fs device. The guest console is written to a host file, unless
// the console is attached to stdio.
package qemu
