// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cmd provides the CLI command entry point for bootvm. It handles
// flag and config parsing, wires the session controller and maps errors to
// exit codes.
package cmd
