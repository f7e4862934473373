// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package credential computes the systemd credentials a guest reads at boot
// and renders them for exactly one delivery channel.
//
// Credentials are delivered either as SMBIOS OEM strings (firmware table) or
// as kernel command line arguments. The firmware table is preferred since the
// kernel command line is readable by any process in the guest.
package credential
