// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package sandbox runs the hypervisor and its helpers in an unprivileged
// bubblewrap sandbox.
//
// A [Sandbox] owns a minimal root directory inside the session's run
// directory and every process started in it. [Sandbox.Teardown] stops all of
// them and removes the root. It is safe to call more than once.
package sandbox
