// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package session runs a single VM session: it mounts the image, prepares the
// sandbox, computes the credentials, launches the hypervisor, waits for the
// guest boot verdict and tears everything down again.
package session
