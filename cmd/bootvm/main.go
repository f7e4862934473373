// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/aibor/bootvm/internal/cmd"
	"github.com/aibor/bootvm/internal/session"
)

func main() {
	// Signals are not turned into context cancellation, since a running VM
	// gets them relayed and decides itself how to react.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, session.RelayedSignals...)

	exitCode := cmd.Run(
		context.Background(),
		os.Args[1:],
		cmd.IO{
			Stdin:   os.Stdin,
			Stdout:  os.Stdout,
			Stderr:  os.Stderr,
			Signals: signals,
		},
	)

	signal.Stop(signals)
	os.Exit(exitCode)
}
