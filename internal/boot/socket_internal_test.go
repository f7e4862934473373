// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name        string
		msg         string
		expected    []Event
		expectedErr bool
	}{
		{
			name: "ready",
			msg:  "READY=1\nSTATUS=Startup finished\n",
			expected: []Event{
				{ChannelSocket, Ready, "service-manager", "Startup finished"},
			},
		},
		{
			name: "status only",
			msg:  "STATUS=Reached basic.target",
			expected: []Event{
				{ChannelSocket, Booting, "service-manager", "Reached basic.target"},
			},
		},
		{
			name: "unit active",
			msg:  "X_SYSTEMD_UNIT_ACTIVE=sysinit.target\n",
			expected: []Event{
				{ChannelSocket, Booting, "sysinit.target", ""},
			},
		},
		{
			name: "exit status",
			msg:  "EXIT_STATUS=3\n",
			expected: []Event{
				{ChannelSocket, Failed, "service-manager", "exit_status 3"},
			},
		},
		{
			name: "exit status zero",
			msg:  "EXIT_STATUS=0\n",
		},
		{
			name: "bootvm status",
			msg:  "X_BOOTVM_STATUS=emergency failed dropped to emergency shell\n",
			expected: []Event{
				{ChannelSocket, Failed, "emergency", "dropped to emergency shell"},
			},
		},
		{
			name: "unknown keys ignored",
			msg:  "MAINPID=1\nWATCHDOG=1\n",
		},
		{
			name:        "malformed line keeps valid ones",
			msg:         "garbage\nREADY=1\n",
			expected:    []Event{{ChannelSocket, Ready, "service-manager", ""}},
			expectedErr: true,
		},
		{
			name:        "malformed errno",
			msg:         "ERRNO=abc\n",
			expectedErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := parseNotification([]byte(tt.msg))

			if tt.expectedErr {
				require.ErrorIs(t, err, &ParseError{})
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.expected, events)
		})
	}
}
