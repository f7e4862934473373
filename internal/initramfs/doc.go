// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package initramfs builds the guest's initramfs overlay.
//
// The overlay is a small CPIO archive that is appended to the initramfs of the
// booted image. The kernel unpacks concatenated archives in order, so the
// overlay adds systemd units to the initrd without touching the image. The
// initrd units make /etc and /var writable and copy the session's guest units
// into the booted system before switch-root.
package initramfs
