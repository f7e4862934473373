// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package boot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Monitor defaults.
const (
	DefaultGracePeriod = 10 * time.Second
	DefaultDeadline    = 240 * time.Second

	// DefaultExitDrain is how long channels are still read after the
	// hypervisor exited, so a verdict written right before exit is not lost.
	DefaultExitDrain = 500 * time.Millisecond
)

// State is the state of a [Monitor].
type State int

// Monitor states. Ready, Failed and TimedOut are terminal.
const (
	WaitingForChannelA State = iota
	WaitingForChannelB
	StateReady
	StateFailed
	StateTimedOut
)

var stateNames = map[State]string{
	WaitingForChannelA: "waiting-for-socket",
	WaitingForChannelB: "waiting-for-file",
	StateReady:         "ready",
	StateFailed:        "failed",
	StateTimedOut:      "timed-out",
}

// String implements [fmt.Stringer].
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return "unknown"
}

// Result is the verdict of [Monitor.Wait].
type Result struct {
	State State

	// Event is the terminal event, if any.
	Event Event

	Elapsed time.Duration
}

// Monitor races the socket channel (A) and the file channel (B) under a
// deadline.
type Monitor struct {
	// Socket is channel A. Nil if the socket transport is not usable.
	Socket Channel

	// File is channel B.
	File Channel

	// GracePeriod overrides [DefaultGracePeriod].
	GracePeriod time.Duration

	// Deadline overrides [DefaultDeadline].
	Deadline time.Duration

	// ExitDrain overrides [DefaultExitDrain].
	ExitDrain time.Duration

	// Exited is closed once the hypervisor exited.
	Exited <-chan struct{}

	// Alive reports the hypervisor liveness at the deadline.
	Alive func() bool
}

type channelMessage struct {
	channel Channel
	event   Event
	err     error
}

// Wait blocks until a terminal verdict is reached.
//
// It returns a Ready result with nil error, or an error and a result with
// the terminal state: [*FailedError] if the guest reported a failure,
// [*TimeoutError] at the deadline, [ErrHypervisorExited] if the hypervisor
// exited without verdict and [ErrChannelsExhausted] if all channels ended
// without verdict. All channels are closed and their readers stopped when
// Wait returns.
func (m *Monitor) Wait(ctx context.Context) (Result, error) {
	if m.Socket == nil && m.File == nil {
		return Result{State: StateFailed}, ErrNoChannels
	}

	start := time.Now()
	deadline := valueOr(m.Deadline, DefaultDeadline)

	deadlineCtx, cancelDeadline := context.WithTimeout(ctx, deadline)
	defer cancelDeadline()

	readCtx, stopReaders := context.WithCancel(context.Background())

	messages := make(chan channelMessage)
	group := errgroup.Group{}

	armed := map[Channel]bool{}

	for _, channel := range []Channel{m.Socket, m.File} {
		if channel == nil {
			continue
		}

		armed[channel] = true

		group.Go(func() error {
			read(readCtx, channel, messages)
			return nil
		})
	}

	defer func() {
		stopReaders()

		for channel := range armed {
			_ = channel.Close()
		}

		_ = group.Wait()
	}()

	state := WaitingForChannelB

	var grace <-chan time.Time

	if m.Socket != nil {
		state = WaitingForChannelA

		// The grace period is nested in the deadline, so channel B can
		// still decide in time.
		gracePeriod := valueOr(m.GracePeriod, DefaultGracePeriod)
		if gracePeriod >= deadline {
			gracePeriod = deadline / 2
		}

		timer := time.NewTimer(gracePeriod)

		defer timer.Stop()

		grace = timer.C
	}

	slog.Debug("Boot monitor started",
		slog.String("state", state.String()),
		slog.Duration("deadline", deadline),
	)

	result := func(state State, event Event) Result {
		return Result{State: state, Event: event, Elapsed: time.Since(start)}
	}

	verdict := func(event Event) (Result, error) {
		slog.Info("Guest boot verdict", slog.Any("event", event))

		if event.Kind == Ready {
			return result(StateReady, event), nil
		}

		return result(StateFailed, event), &FailedError{event}
	}

	var (
		held   *Event
		exited = m.Exited
		drain  <-chan time.Time
	)

	for {
		select {
		case msg := <-messages:
			if msg.err != nil {
				if errors.Is(msg.err, &ParseError{}) {
					slog.Warn("Skip malformed boot status", slog.Any("error", msg.err))
					continue
				}

				if !errors.Is(msg.err, io.EOF) {
					slog.Warn("Boot status channel failed",
						slog.String("channel", msg.channel.Name()),
						slog.Any("error", msg.err),
					)
				}

				delete(armed, msg.channel)
				_ = msg.channel.Close()

				slog.Debug("Boot status channel ended", slog.String("channel", msg.channel.Name()))

				if msg.channel == m.Socket && state == WaitingForChannelA {
					state = WaitingForChannelB
					if held != nil {
						return verdict(*held)
					}
				}

				if len(armed) == 0 {
					if held != nil {
						return verdict(*held)
					}

					if drain != nil {
						return result(StateFailed, Event{}), ErrHypervisorExited
					}

					return result(StateFailed, Event{}), ErrChannelsExhausted
				}

				continue
			}

			event := msg.event

			if !event.Kind.Terminal() {
				slog.Debug("Guest boot progress", slog.Any("event", event))
				continue
			}

			// The file channel only decides once the socket channel had its
			// chance, unless the hypervisor is gone already.
			if msg.channel != m.Socket && state == WaitingForChannelA && drain == nil {
				if held == nil {
					slog.Debug("Hold file channel verdict during grace period", slog.Any("event", event))
					held = &event
				}

				continue
			}

			return verdict(event)
		case <-grace:
			grace = nil

			if state == WaitingForChannelA {
				slog.Debug("Socket channel silent, accepting file channel")

				state = WaitingForChannelB
			}

			if held != nil {
				return verdict(*held)
			}
		case <-exited:
			exited = nil

			if held != nil {
				return verdict(*held)
			}

			timer := time.NewTimer(valueOr(m.ExitDrain, DefaultExitDrain))
			defer timer.Stop()

			drain = timer.C
		case <-drain:
			return result(StateFailed, Event{}), ErrHypervisorExited
		case <-deadlineCtx.Done():
			if ctx.Err() != nil {
				return result(state, Event{}), ctx.Err()
			}

			if held != nil {
				return verdict(*held)
			}

			alive := m.Alive != nil && m.Alive()

			return result(StateTimedOut, Event{}), &TimeoutError{
				Deadline:        deadline,
				HypervisorAlive: alive,
			}
		}
	}
}

// read forwards events of the channel until it is exhausted or fails.
func read(ctx context.Context, channel Channel, messages chan<- channelMessage) {
	for {
		event, err := channel.Next(ctx)

		select {
		case messages <- channelMessage{channel, event, err}:
		case <-ctx.Done():
			return
		}

		if err != nil && !errors.Is(err, &ParseError{}) {
			return
		}
	}
}

func valueOr(value, fallback time.Duration) time.Duration {
	if value == 0 {
		return fallback
	}

	return value
}
