// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package pipe provides named virtio serial ports whose guest output is
// appended to host files.
//
// In the guest, a port appears as "/dev/virtio-ports/<name>". On the host,
// the hypervisor appends everything written to it to [Port.HostPath].
package pipe
