// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// RelayedSignals are the signals forwarded to the hypervisor.
var RelayedSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGHUP,
}

// Signaler is a process that signals can be forwarded to.
type Signaler interface {
	Signal(sig syscall.Signal) error
}

// RelaySignals forwards the signals received on sigs to the target until ctx
// is done or sigs is closed.
//
// The hypervisor shuts the guest down on SIGTERM and SIGINT and its exit
// unblocks everything waiting for it, so there is no need to cancel
// anything else.
func RelaySignals(ctx context.Context, target Signaler, sigs <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigs:
			if !ok {
				return
			}

			sysSig, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}

			slog.Info("Forward signal to hypervisor", slog.String("signal", sysSig.String()))

			err := target.Signal(sysSig)
			if err != nil {
				slog.Warn("Failed to forward signal", slog.Any("error", err))
			}
		}
	}
}

// interrupt records the first signal that ended a session.
type interrupt struct {
	signal atomic.Int32
}

func (i *interrupt) record(sig syscall.Signal) {
	i.signal.CompareAndSwap(0, int32(sig))
}

// Err returns an [*InterruptError] if a signal was recorded.
func (i *interrupt) Err() error {
	sig := syscall.Signal(i.signal.Load())
	if sig == 0 {
		return nil
	}

	return &InterruptError{Signal: sig}
}

// recordingSignaler records every signal forwarded to the target.
type recordingSignaler struct {
	target    Signaler
	interrupt *interrupt
}

func (r recordingSignaler) Signal(sig syscall.Signal) error {
	r.interrupt.record(sig)
	return r.target.Signal(sig)
}

// cancelOnSignal returns a context that is cancelled once a signal arrives
// on sigs, for as long as there is no process to relay signals to. The
// returned stop function stops watching, cancels the context and must be
// called before anything else reads from sigs.
func (i *interrupt) cancelOnSignal(
	ctx context.Context,
	sigs <-chan os.Signal,
) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	if sigs == nil {
		return ctx, cancel
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		select {
		case sig, ok := <-sigs:
			if !ok {
				return
			}

			slog.Info("Cancel session setup on signal", slog.String("signal", sig.String()))

			sysSig, ok := sig.(syscall.Signal)
			if !ok {
				sysSig = syscall.SIGINT
			}

			i.record(sysSig)
			cancel()
		case <-stop:
		}
	}()

	var once sync.Once

	return ctx, func() {
		once.Do(func() {
			close(stop)
			<-done
			cancel()
		})
	}
}
