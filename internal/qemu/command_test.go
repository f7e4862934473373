// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu_test

import (
	"strings"
	"testing"

	"github.com/aibor/bootvm/internal/qemu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() qemu.CommandSpec {
	return qemu.CommandSpec{
		Executable: "qemu-kvm",
		Machine:    "q35",
		CPU:        "host",
		Resources:  qemu.Resources{CPUs: 1, MemoryMB: 512},
		Kernel:     "/vmlinuz",
		Initramfs:  "/initramfs.img",
		Rootfs:     &qemu.SharedDir{Tag: qemu.RootfsTag, SocketPath: "/root.sock"},
		Network:    qemu.NetworkUser,
	}
}

func TestNewCommand(t *testing.T) {
	cmd, err := qemu.NewCommand(validSpec())
	require.NoError(t, err)

	assert.Equal(t, "qemu-kvm", cmd.Executable)
	assert.Equal(t, "qemu-kvm", cmd.Cmdline()[0])
	assert.Contains(t, cmd.Args, "-kernel")
	assert.Contains(t, cmd.String(), "-append rootfstype=virtiofs root=rootfs quiet")
	assert.Empty(t, cmd.ExtraFiles)
}

func TestNewCommand_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*qemu.CommandSpec)
		expectedErr error
	}{
		{
			name: "kernel and boot disk",
			modify: func(s *qemu.CommandSpec) {
				s.BootDisk = &qemu.Disk{Path: "/disk.img"}
			},
			expectedErr: &qemu.ArgumentError{},
		},
		{
			name: "nothing to boot",
			modify: func(s *qemu.CommandSpec) {
				s.Kernel = ""
			},
			expectedErr: &qemu.ArgumentError{},
		},
		{
			name: "no initramfs",
			modify: func(s *qemu.CommandSpec) {
				s.Initramfs = ""
			},
			expectedErr: &qemu.ArgumentError{},
		},
		{
			name: "no rootfs",
			modify: func(s *qemu.CommandSpec) {
				s.Rootfs = nil
			},
			expectedErr: &qemu.ArgumentError{},
		},
		{
			name: "kernel args with boot disk",
			modify: func(s *qemu.CommandSpec) {
				s.Kernel = ""
				s.BootDisk = &qemu.Disk{Path: "/disk.img"}
				s.KernelArgs = []string{"quiet"}
			},
			expectedErr: &qemu.ArgumentError{},
		},
		{
			name: "port forwards without network",
			modify: func(s *qemu.CommandSpec) {
				s.Network = qemu.NetworkNone
				s.PortForwards = []qemu.PortForward{{Host: 2222, Guest: 22}}
			},
			expectedErr: &qemu.ArgumentError{},
		},
		{
			name: "kernel command line too long",
			modify: func(s *qemu.CommandSpec) {
				s.KernelArgs = []string{strings.Repeat("x", 2048)}
			},
			expectedErr: &qemu.ArgumentError{},
		},
		{
			name: "resources out of range",
			modify: func(s *qemu.CommandSpec) {
				s.Resources.CPUs = 0
			},
			expectedErr: &qemu.ArgumentError{},
		},
		{
			name: "colliding extra args",
			modify: func(s *qemu.CommandSpec) {
				s.ExtraArgs = []qemu.Argument{qemu.UniqueArg("m", "1G")}
			},
			expectedErr: qemu.ErrArgumentCollision,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.modify(&spec)

			_, err := qemu.NewCommand(spec)
			require.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestParsePortForward(t *testing.T) {
	tests := []struct {
		input       string
		expected    qemu.PortForward
		expectedErr error
	}{
		{input: "2222:22", expected: qemu.PortForward{Host: 2222, Guest: 22}},
		{input: "2222", expectedErr: &qemu.ArgumentError{}},
		{input: "x:22", expectedErr: &qemu.ArgumentError{}},
		{input: "22:70000", expectedErr: &qemu.ArgumentError{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			actual, err := qemu.ParsePortForward(tt.input)
			require.ErrorIs(t, err, tt.expectedErr)
			assert.Equal(t, tt.expected, actual)
		})
	}
}
