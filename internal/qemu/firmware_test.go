// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/aibor/bootvm/internal/qemu"
	"github.com/aibor/bootvm/internal/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ownerGUID = "3c5f6d4e-8a9b-4c1d-9e2f-0a1b2c3d4e5f"

type recordingRunner struct {
	name string
	args []string
	err  error
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) error {
	r.name = name
	r.args = args

	return r.err
}

func writeKeyDir(t *testing.T, skip string) string {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		qemu.PlatformKeyFile:    "pk",
		qemu.KeyExchangeKeyFile: "kek",
		qemu.SignatureDBKeyFile: "db",
		qemu.OwnerGUIDFile:      ownerGUID + "\n",
	}

	for name, content := range files {
		if name == skip {
			continue
		}

		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}

	return dir
}

func TestLoadSecureBootKeys(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		dir := writeKeyDir(t, "")

		keys, err := qemu.LoadSecureBootKeys(dir)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, "PK.crt"), keys.PlatformKey)
		assert.Equal(t, filepath.Join(dir, "KEK.crt"), keys.KeyExchangeKey)
		assert.Equal(t, filepath.Join(dir, "db.crt"), keys.SignatureDBKey)
		assert.Equal(t, ownerGUID, keys.OwnerGUID.String())
	})

	for _, missing := range []string{
		qemu.PlatformKeyFile,
		qemu.KeyExchangeKeyFile,
		qemu.SignatureDBKeyFile,
		qemu.OwnerGUIDFile,
	} {
		t.Run("missing "+missing, func(t *testing.T) {
			dir := writeKeyDir(t, missing)

			_, err := qemu.LoadSecureBootKeys(dir)
			require.ErrorIs(t, err, &qemu.ArgumentError{})
			assert.ErrorContains(t, err, missing)
		})
	}

	t.Run("invalid guid", func(t *testing.T) {
		dir := writeKeyDir(t, "")
		path := filepath.Join(dir, qemu.OwnerGUIDFile)
		require.NoError(t, os.WriteFile(path, []byte("nope"), 0o600))

		_, err := qemu.LoadSecureBootKeys(dir)
		require.ErrorIs(t, err, &qemu.ArgumentError{})
	})

	t.Run("no dir", func(t *testing.T) {
		_, err := qemu.LoadSecureBootKeys("")
		require.ErrorIs(t, err, &qemu.ArgumentError{})
	})
}

func TestFindFirmware(t *testing.T) {
	fsys := fstest.MapFS{
		"usr/share/OVMF/OVMF_CODE_4M.secboot.fd": {},
		"usr/share/OVMF/OVMF_VARS_4M.fd":         {},
		"usr/share/OVMF/OVMF_CODE.fd":            {},
		"usr/share/OVMF/OVMF_VARS.fd":            {},
	}

	tests := []struct {
		name        string
		arch        sys.Arch
		mode        qemu.FirmwareMode
		expected    *qemu.Firmware
		expectedErr error
	}{
		{
			name: "secure",
			arch: sys.AMD64,
			mode: qemu.FirmwareUEFISecure,
			expected: &qemu.Firmware{
				Mode: qemu.FirmwareUEFISecure,
				Code: "/usr/share/OVMF/OVMF_CODE_4M.secboot.fd",
				Vars: "/usr/share/OVMF/OVMF_VARS_4M.fd",
			},
		},
		{
			name: "insecure",
			arch: sys.AMD64,
			mode: qemu.FirmwareUEFIInsecure,
			expected: &qemu.Firmware{
				Mode: qemu.FirmwareUEFIInsecure,
				Code: "/usr/share/OVMF/OVMF_CODE.fd",
				Vars: "/usr/share/OVMF/OVMF_VARS.fd",
			},
		},
		{
			name:        "other arch",
			arch:        sys.ARM64,
			mode:        qemu.FirmwareUEFISecure,
			expectedErr: qemu.ErrFirmwareNotFound,
		},
		{
			name:        "bios",
			arch:        sys.AMD64,
			mode:        qemu.FirmwareBIOS,
			expectedErr: &qemu.ArgumentError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual, err := qemu.FindFirmware(fsys, tt.arch, tt.mode)
			require.ErrorIs(t, err, tt.expectedErr)
			assert.Equal(t, tt.expected, actual)
		})
	}
}

func TestFirmware_PrepareVars(t *testing.T) {
	t.Run("insecure copies template", func(t *testing.T) {
		dir := t.TempDir()
		template := filepath.Join(dir, "template.fd")
		require.NoError(t, os.WriteFile(template, []byte("vars"), 0o600))

		fw := &qemu.Firmware{Mode: qemu.FirmwareUEFIInsecure, Code: "/code.fd", Vars: template}
		target := filepath.Join(dir, "vars.fd")
		runner := &recordingRunner{}

		require.NoError(t, fw.PrepareVars(context.Background(), runner, nil, target))

		assert.Equal(t, target, fw.Vars)
		assert.Empty(t, runner.name)

		content, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, "vars", string(content))
	})

	t.Run("secure enrolls keys", func(t *testing.T) {
		keys, err := qemu.LoadSecureBootKeys(writeKeyDir(t, ""))
		require.NoError(t, err)

		fw := &qemu.Firmware{Mode: qemu.FirmwareUEFISecure, Code: "/code.fd", Vars: "/template.fd"}
		runner := &recordingRunner{}

		require.NoError(t, fw.PrepareVars(context.Background(), runner, keys, "/run/vars.fd"))

		assert.Equal(t, "/run/vars.fd", fw.Vars)
		assert.Equal(t, qemu.VarsEnrollTool, runner.name)
		assert.Equal(t, []string{
			"--input", "/template.fd",
			"--secure-boot",
			"--set-pk", ownerGUID, keys.PlatformKey,
			"--add-kek", ownerGUID, keys.KeyExchangeKey,
			"--add-db", ownerGUID, keys.SignatureDBKey,
			"-o", "/run/vars.fd",
		}, runner.args)
	})

	t.Run("secure without keys", func(t *testing.T) {
		fw := &qemu.Firmware{Mode: qemu.FirmwareUEFISecure, Vars: "/template.fd"}

		err := fw.PrepareVars(context.Background(), &recordingRunner{}, nil, "/run/vars.fd")
		require.ErrorIs(t, err, &qemu.ArgumentError{})
	})

	t.Run("enroll fails", func(t *testing.T) {
		keys, err := qemu.LoadSecureBootKeys(writeKeyDir(t, ""))
		require.NoError(t, err)

		runErr := errors.New("boom")
		fw := &qemu.Firmware{Mode: qemu.FirmwareUEFISecure, Vars: "/template.fd"}

		err = fw.PrepareVars(context.Background(), &recordingRunner{err: runErr}, keys, "/run/vars.fd")
		require.ErrorIs(t, err, runErr)
		assert.Equal(t, "/template.fd", fw.Vars)
	})
}

func TestFirmwareMode_Set(t *testing.T) {
	var mode qemu.FirmwareMode

	require.NoError(t, mode.Set("bios"))
	assert.Equal(t, qemu.FirmwareBIOS, mode)

	require.ErrorIs(t, mode.Set("efi"), &qemu.ArgumentError{})
	assert.Equal(t, qemu.FirmwareBIOS, mode)
}
