// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterrupt_CancelOnSignal(t *testing.T) {
	t.Run("signal", func(t *testing.T) {
		var intr interrupt

		sigs := make(chan os.Signal, 1)
		ctx, stop := intr.cancelOnSignal(context.Background(), sigs)

		defer stop()

		sigs <- syscall.SIGHUP

		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			require.Fail(t, "context not cancelled")
		}

		require.ErrorIs(t, intr.Err(), &InterruptError{})
		assert.Equal(t, &InterruptError{Signal: syscall.SIGHUP}, intr.Err())
	})

	t.Run("stopped", func(t *testing.T) {
		var intr interrupt

		sigs := make(chan os.Signal, 1)
		ctx, stop := intr.cancelOnSignal(context.Background(), sigs)

		stop()
		stop()

		sigs <- syscall.SIGTERM

		require.NoError(t, intr.Err())
		assert.Len(t, sigs, 1, "signal left for the relay")
		assert.Error(t, ctx.Err())
	})

	t.Run("first signal wins", func(t *testing.T) {
		var intr interrupt

		signaler := recordingSignaler{target: nopSignaler{}, interrupt: &intr}

		require.NoError(t, signaler.Signal(syscall.SIGINT))
		require.NoError(t, signaler.Signal(syscall.SIGTERM))

		assert.Equal(t, 130, ExitCode(intr.Err()))
	})
}

type nopSignaler struct{}

func (nopSignaler) Signal(syscall.Signal) error {
	return nil
}
