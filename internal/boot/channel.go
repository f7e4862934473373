// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package boot

import "context"

// Channel names.
const (
	ChannelSocket = "socket"
	ChannelFile   = "file"
)

// Channel is a source of guest boot status events.
//
// The sequence of events is lazy, finite and can not be restarted. Next
// blocks until the next event is available. It returns a [*ParseError] for a
// malformed message, after which Next may be called again. It returns
// [io.EOF] once the channel is exhausted, and an error once ctx is done or the
// channel is closed.
type Channel interface {
	Name() string
	Next(ctx context.Context) (Event, error)
	Close() error
}
