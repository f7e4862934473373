// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package exitcode_test

import (
	"strings"
	"testing"
	"testing/iotest"

	"github.com/aibor/bootvm/internal/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSprint(t *testing.T) {
	assert.Equal(t, exitcode.Identifier+": 42", exitcode.Sprint(42))
}

func TestShellReport(t *testing.T) {
	expected := `echo "BOOTVM_EXIT_CODE: $?" > /dev/virtio-ports/status`
	assert.Equal(t, expected, exitcode.ShellReport("/dev/virtio-ports/status"))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    int
		assertFound assert.BoolAssertionFunc
	}{
		{
			name:        "empty input",
			assertFound: assert.False,
		},
		{
			name:        "matching input zero",
			input:       exitcode.Identifier + ": 0",
			assertFound: assert.True,
		},
		{
			name:        "matching input",
			input:       exitcode.Identifier + ": 42",
			expected:    42,
			assertFound: assert.True,
		},
		{
			name:        "matching input with prefix and trailing",
			input:       "[  1.23] " + exitcode.Identifier + ": 42 whatever",
			expected:    42,
			assertFound: assert.True,
		},
		{
			name:        "identifier without code",
			input:       exitcode.Identifier + ": abc",
			assertFound: assert.False,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual, found := exitcode.Parse([]byte(tt.input))
			tt.assertFound(t, found)

			assert.Equal(t, tt.expected, actual)
		})
	}
}

func TestScan(t *testing.T) {
	t.Run("last code wins", func(t *testing.T) {
		input := strings.Join([]string{
			"some output",
			exitcode.Sprint(3),
			"more output",
			exitcode.Sprint(7),
			"",
		}, "\n")

		actual, found, err := exitcode.Scan(strings.NewReader(input))
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 7, actual)
	})

	t.Run("not found", func(t *testing.T) {
		_, found, err := exitcode.Scan(strings.NewReader("nothing\n"))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("read error", func(t *testing.T) {
		_, _, err := exitcode.Scan(iotest.ErrReader(assert.AnError))
		require.ErrorIs(t, err, assert.AnError)
	})
}
