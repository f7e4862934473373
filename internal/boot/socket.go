// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package boot

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/vsock"
	"golang.org/x/sys/unix"
)

const (
	// maxNotifyMessage bounds a single notification message.
	maxNotifyMessage = 64 << 10

	connReadTimeout = 5 * time.Second
)

// Notification keys sent by the guest service manager.
const (
	notifyReady        = "READY"
	notifyStatus       = "STATUS"
	notifyExitStatus   = "EXIT_STATUS"
	notifyErrno        = "ERRNO"
	notifyUnitActive   = "X_SYSTEMD_UNIT_ACTIVE"
	notifyBootvmStatus = "X_BOOTVM_STATUS"
)

// ListenVsock listens for guest connections on a free vsock port of the host.
func ListenVsock() (net.Listener, uint32, error) {
	listener, err := vsock.Listen(unix.VMADDR_PORT_ANY, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("listen vsock: %w", err)
	}

	addr, ok := listener.Addr().(*vsock.Addr)
	if !ok {
		_ = listener.Close()
		return nil, 0, fmt.Errorf("listen vsock: unexpected address %v", listener.Addr())
	}

	return listener, addr.Port, nil
}

// SocketChannel reads service manager notifications from guest connections.
//
// The guest connects once per notification, writes newline separated
// assignments like "READY=1" and closes the connection. Besides the standard
// keys, "X_BOOTVM_STATUS=<milestone> <status> [detail]" reports a status line
// directly.
type SocketChannel struct {
	listener net.Listener

	pending   []Event
	pendingMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ Channel = (*SocketChannel)(nil)

// NewSocketChannel creates a channel accepting connections on the given
// listener. The channel owns the listener.
func NewSocketChannel(listener net.Listener) *SocketChannel {
	return &SocketChannel{listener: listener}
}

// Name implements [Channel].
func (*SocketChannel) Name() string {
	return ChannelSocket
}

// Next implements [Channel].
func (c *SocketChannel) Next(ctx context.Context) (Event, error) {
	if event, ok := c.pop(); ok {
		return event, nil
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}

			if errors.Is(err, net.ErrClosed) {
				return Event{}, io.EOF
			}

			return Event{}, fmt.Errorf("accept: %w", err)
		}

		msg, err := readMessage(conn)
		if err != nil {
			slog.Debug("Read notification", slog.Any("error", err))
			continue
		}

		events, err := parseNotification(msg)

		c.pendingMu.Lock()
		c.pending = append(c.pending, events...)
		c.pendingMu.Unlock()

		if err != nil {
			return Event{}, err
		}

		if event, ok := c.pop(); ok {
			return event, nil
		}
	}
}

func (c *SocketChannel) pop() (Event, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if len(c.pending) == 0 {
		return Event{}, false
	}

	event := c.pending[0]
	c.pending = c.pending[1:]

	return event, true
}

// Close implements [Channel]. It closes the listener.
func (c *SocketChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.listener.Close()
	})

	return c.closeErr
}

func readMessage(conn net.Conn) ([]byte, error) {
	defer conn.Close()

	err := conn.SetReadDeadline(time.Now().Add(connReadTimeout))
	if err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	msg, err := io.ReadAll(io.LimitReader(conn, maxNotifyMessage))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	return msg, nil
}

// parseNotification translates a notification message into events. Malformed
// lines yield a [ParseError] after all valid lines were translated.
func parseNotification(msg []byte) ([]Event, error) {
	var (
		events   []Event
		parseErr error
		status   string
	)

	scanner := bufio.NewScanner(bytes.NewReader(msg))
	scanner.Buffer(make([]byte, 0, 4096), maxNotifyMessage)

	assignments := map[string]string{}

	var keys []string

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			parseErr = &ParseError{ChannelSocket, line, "want KEY=VALUE"}
			continue
		}

		if _, seen := assignments[key]; !seen {
			keys = append(keys, key)
		}

		assignments[key] = value
	}

	status = assignments[notifyStatus]

	for _, key := range keys {
		value := assignments[key]

		switch key {
		case notifyReady:
			if value == "1" {
				events = append(events, Event{
					Channel:   ChannelSocket,
					Kind:      Ready,
					Milestone: "service-manager",
					Detail:    status,
				})
			}
		case notifyUnitActive:
			events = append(events, Event{
				Channel:   ChannelSocket,
				Kind:      Booting,
				Milestone: value,
				Detail:    status,
			})
		case notifyExitStatus, notifyErrno:
			code, err := strconv.Atoi(value)
			if err != nil {
				parseErr = &ParseError{ChannelSocket, key + "=" + value, "want integer"}
				continue
			}

			// Zero is a regular shutdown.
			if code != 0 {
				events = append(events, Event{
					Channel:   ChannelSocket,
					Kind:      Failed,
					Milestone: "service-manager",
					Detail:    fmt.Sprintf("%s %d", strings.ToLower(key), code),
				})
			}
		case notifyBootvmStatus:
			event, err := ParseLine(ChannelSocket, value)
			if err != nil {
				parseErr = err
				continue
			}

			events = append(events, event)
		case notifyStatus:
			if _, hasOther := assignments[notifyReady]; !hasOther && len(keys) == 1 {
				events = append(events, Event{
					Channel:   ChannelSocket,
					Kind:      Booting,
					Milestone: "service-manager",
					Detail:    value,
				})
			}
		}
	}

	return events, parseErr
}
