// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package credential_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/aibor/bootvm/internal/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuthorizedKeys(t *testing.T) {
	first, err := credential.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	second, err := credential.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name          string
		input         []byte
		expectedCount int
		expectedErr   error
	}{
		{
			name:          "single",
			input:         first.AuthorizedKey(),
			expectedCount: 1,
		},
		{
			name: "multiple with comments and blank lines",
			input: bytes.Join([][]byte{
				[]byte("# my keys"),
				first.AuthorizedKey(),
				[]byte(""),
				second.AuthorizedKey(),
			}, []byte("\n")),
			expectedCount: 2,
		},
		{
			name:        "empty",
			input:       []byte("  \n"),
			expectedErr: credential.ErrNoKeys,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := credential.ParseAuthorizedKeys(tt.input)
			require.ErrorIs(t, err, tt.expectedErr)
			assert.Len(t, keys, tt.expectedCount)
		})
	}
}

func TestParseAuthorizedKeys_Invalid(t *testing.T) {
	_, err := credential.ParseAuthorizedKeys([]byte("ssh-ed25519 garbage"))
	require.Error(t, err)
}
