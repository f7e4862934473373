// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package boot observes the guest boot progress.
//
// Two independent channels report status events. The [SocketChannel] gets
// service manager notifications over vsock. It is fast but silently broken on
// some nested hosts. The [FileWatchChannel] watches a host file the guest
// appends status lines to through a serial port. It only becomes meaningful
// once the guest's status units run.
//
// A [Monitor] races both channels under a deadline and produces exactly one
// terminal verdict. The socket channel has priority: a terminal event from
// the file channel is only accepted once the socket channel stayed silent for
// the grace period or ended.
package boot
