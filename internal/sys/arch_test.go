// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys_test

import (
	"testing"

	"github.com/aibor/bootvm/internal/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArch_QemuSystemName(t *testing.T) {
	tests := []struct {
		arch        sys.Arch
		expected    string
		expectedErr error
	}{
		{arch: sys.AMD64, expected: "x86_64"},
		{arch: sys.ARM64, expected: "aarch64"},
		{arch: sys.RISCV64, expected: "riscv64"},
		{arch: "mips", expectedErr: sys.ErrArchNotSupported},
	}

	for _, tt := range tests {
		t.Run(string(tt.arch), func(t *testing.T) {
			actual, err := tt.arch.QemuSystemName()
			require.ErrorIs(t, err, tt.expectedErr)
			assert.Equal(t, tt.expected, actual)
		})
	}
}

func TestArch_Set(t *testing.T) {
	var arch sys.Arch

	require.NoError(t, arch.Set("arm64"))
	assert.Equal(t, sys.ARM64, arch)

	require.ErrorIs(t, arch.Set("sparc"), sys.ErrArchNotSupported)
	assert.Equal(t, sys.ARM64, arch)
}
