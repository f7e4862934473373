// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package boot

import (
	"log/slog"
	"strings"
)

// Kind is the kind of a boot status [Event].
type Kind int

// Event kinds. Ready and Failed are terminal.
const (
	Booting Kind = iota
	Ready
	Failed
)

var kindNames = map[Kind]string{
	Booting: "booting",
	Ready:   "ready",
	Failed:  "failed",
}

// String implements [fmt.Stringer].
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return "unknown"
}

// Terminal returns true for Ready and Failed.
func (k Kind) Terminal() bool {
	return k == Ready || k == Failed
}

// ParseKind parses the status word of a status line.
func ParseKind(s string) (Kind, bool) {
	for kind, name := range kindNames {
		if name == s {
			return kind, true
		}
	}

	return 0, false
}

// Event is a guest boot status event.
type Event struct {
	// Channel is the name of the channel that produced the event.
	Channel string

	Kind      Kind
	Milestone string
	Detail    string
}

// LogValue implements [slog.LogValuer].
func (e Event) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("channel", e.Channel),
		slog.String("kind", e.Kind.String()),
		slog.String("milestone", e.Milestone),
		slog.String("detail", e.Detail),
	)
}

// FormatLine returns the status line "<milestone> <status> [detail]".
func FormatLine(milestone string, kind Kind, detail string) string {
	line := milestone + " " + kind.String()
	if detail != "" {
		line += " " + detail
	}

	return line
}

// ParseLine parses a status line "<milestone> <status> [detail]".
func ParseLine(channel, line string) (Event, error) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(fields) < 2 || fields[0] == "" {
		return Event{}, &ParseError{channel, line, "want <milestone> <status> [detail]"}
	}

	kind, ok := ParseKind(fields[1])
	if !ok {
		return Event{}, &ParseError{channel, line, "unknown status " + fields[1]}
	}

	event := Event{
		Channel:   channel,
		Kind:      kind,
		Milestone: fields[0],
	}

	if len(fields) == 3 {
		event.Detail = strings.TrimSpace(fields[2])
	}

	return event, nil
}
