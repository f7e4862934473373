// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aibor/bootvm/internal/sys"
	"github.com/google/uuid"
)

// FirmwareMode is the guest firmware and secure boot mode.
type FirmwareMode string

// Supported firmware modes.
const (
	FirmwareUEFISecure   FirmwareMode = "uefi-secure"
	FirmwareUEFIInsecure FirmwareMode = "uefi-insecure"
	FirmwareBIOS         FirmwareMode = "bios"
)

// String implements [fmt.Stringer].
func (m *FirmwareMode) String() string {
	return string(*m)
}

// Set implements [pflag.Value].
func (m *FirmwareMode) Set(s string) error {
	switch FirmwareMode(s) {
	case FirmwareUEFISecure, FirmwareUEFIInsecure, FirmwareBIOS:
		*m = FirmwareMode(s)
	default:
		return &ArgumentError{"unknown firmware mode: " + s}
	}

	return nil
}

// Type implements [pflag.Value].
func (*FirmwareMode) Type() string {
	return "mode"
}

// Secure boot key file names expected in the key directory.
const (
	PlatformKeyFile    = "PK.crt"
	KeyExchangeKeyFile = "KEK.crt"
	SignatureDBKeyFile = "db.crt"
	OwnerGUIDFile      = "GUID.txt"
)

// SecureBootKeys are the artifacts required for enrolling secure boot keys.
type SecureBootKeys struct {
	PlatformKey    string
	KeyExchangeKey string
	SignatureDBKey string
	OwnerGUID      uuid.UUID
}

// LoadSecureBootKeys loads and validates the key artifacts from the given
// directory.
//
// Each missing artifact is a hard configuration error.
func LoadSecureBootKeys(dir string) (*SecureBootKeys, error) {
	if dir == "" {
		return nil, &ArgumentError{"uefi-secure requires a secure boot key directory"}
	}

	var missing []string

	path := func(name string) string {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, name)
		}

		return p
	}

	keys := &SecureBootKeys{
		PlatformKey:    path(PlatformKeyFile),
		KeyExchangeKey: path(KeyExchangeKeyFile),
		SignatureDBKey: path(SignatureDBKeyFile),
	}
	guidPath := path(OwnerGUIDFile)

	if len(missing) > 0 {
		return nil, &ArgumentError{fmt.Sprintf(
			"secure boot key directory %s misses: %s", dir, strings.Join(missing, ", "),
		)}
	}

	guid, err := os.ReadFile(guidPath)
	if err != nil {
		return nil, fmt.Errorf("read owner guid: %w", err)
	}

	keys.OwnerGUID, err = uuid.Parse(strings.TrimSpace(string(guid)))
	if err != nil {
		return nil, &ArgumentError{fmt.Sprintf("invalid owner guid in %s: %v", guidPath, err)}
	}

	return keys, nil
}

// Firmware is a UEFI firmware code and variable store pair.
type Firmware struct {
	Mode FirmwareMode
	Code string
	Vars string
}

type firmwareCandidate struct {
	code string
	vars string
}

// firmwareCandidates lists the well-known install locations of edk2 builds
// per architecture, secure boot capable builds first.
var firmwareCandidates = map[sys.Arch]map[bool][]firmwareCandidate{
	sys.AMD64: {
		true: {
			{"usr/share/edk2/ovmf/OVMF_CODE.secboot.fd", "usr/share/edk2/ovmf/OVMF_VARS.secboot.fd"},
			{"usr/share/OVMF/OVMF_CODE_4M.secboot.fd", "usr/share/OVMF/OVMF_VARS_4M.fd"},
			{"usr/share/OVMF/OVMF_CODE.secboot.fd", "usr/share/OVMF/OVMF_VARS.fd"},
		},
		false: {
			{"usr/share/edk2/ovmf/OVMF_CODE.fd", "usr/share/edk2/ovmf/OVMF_VARS.fd"},
			{"usr/share/OVMF/OVMF_CODE_4M.fd", "usr/share/OVMF/OVMF_VARS_4M.fd"},
			{"usr/share/OVMF/OVMF_CODE.fd", "usr/share/OVMF/OVMF_VARS.fd"},
		},
	},
	sys.ARM64: {
		true: {
			{"usr/share/edk2/aarch64/QEMU_EFI-silent-pflash.raw", "usr/share/edk2/aarch64/vars-template-pflash.raw"},
		},
		false: {
			{"usr/share/edk2/aarch64/QEMU_EFI-pflash.raw", "usr/share/edk2/aarch64/vars-template-pflash.raw"},
			{"usr/share/AAVMF/AAVMF_CODE.fd", "usr/share/AAVMF/AAVMF_VARS.fd"},
		},
	},
}

// FindFirmware returns the first installed firmware for the given
// architecture and mode found in the given file system, which is usually
// [os.DirFS] of "/".
func FindFirmware(fsys fs.FS, arch sys.Arch, mode FirmwareMode) (*Firmware, error) {
	if mode == FirmwareBIOS {
		return nil, &ArgumentError{"bios mode does not use uefi firmware"}
	}

	for _, candidate := range firmwareCandidates[arch][mode == FirmwareUEFISecure] {
		if !exists(fsys, candidate.code) || !exists(fsys, candidate.vars) {
			continue
		}

		return &Firmware{
			Mode: mode,
			Code: "/" + candidate.code,
			Vars: "/" + candidate.vars,
		}, nil
	}

	return nil, fmt.Errorf("%w: arch %s, mode %s", ErrFirmwareNotFound, arch, mode)
}

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// VarsEnrollTool is the tool used to enroll secure boot keys into a variable
// store.
const VarsEnrollTool = "virt-fw-vars"

// PrepareVars creates a writable copy of the firmware's variable store at the
// given path and points the firmware to it.
//
// For [FirmwareUEFISecure], the given keys are enrolled and secure boot is
// enabled in the copy.
func (f *Firmware) PrepareVars(
	ctx context.Context,
	runner Runner,
	keys *SecureBootKeys,
	path string,
) error {
	if f.Mode != FirmwareUEFISecure {
		err := copyFile(path, f.Vars)
		if err != nil {
			return fmt.Errorf("copy vars: %w", err)
		}

		f.Vars = path

		return nil
	}

	if keys == nil {
		return &ArgumentError{"uefi-secure requires secure boot keys"}
	}

	guid := keys.OwnerGUID.String()

	err := runner.Run(ctx, VarsEnrollTool,
		"--input", f.Vars,
		"--secure-boot",
		"--set-pk", guid, keys.PlatformKey,
		"--add-kek", guid, keys.KeyExchangeKey,
		"--add-db", guid, keys.SignatureDBKey,
		"-o", path,
	)
	if err != nil {
		return fmt.Errorf("enroll secure boot keys: %w", err)
	}

	f.Vars = path

	return nil
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err //nolint:wrapcheck
	}

	_, err = io.Copy(out, in)

	return errors.Join(err, out.Close())
}

func exists(fsys fs.FS, path string) bool {
	_, err := fs.Stat(fsys, path)
	return err == nil
}
