// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"
	"strings"

	"github.com/aibor/bootvm/internal/credential"
	"github.com/aibor/bootvm/internal/image"
	"github.com/aibor/bootvm/internal/qemu"
	"github.com/aibor/bootvm/internal/session"
	"github.com/spf13/pflag"
)

// runFlags are the flags of the run command that are not config keys.
type runFlags struct {
	volumes     []string
	disks       []string
	ports       []string
	sshKeys     FilePathList
	generateKey bool
	kernelArgs  []string
	qemuArgs    []string

	label        string
	detach       bool
	interactive  bool
	console      bool
	autoRemove   bool
	guestVerbose bool
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.String(keyStateDir, "", "directory for session run directories")
	fs.String(keyQemuBin, "", "QEMU binary to use (env QEMU_BIN)")
	fs.String(keyVirtiofsd, "", "virtiofsd binary to use")
	fs.String(keyBwrap, "", "bubblewrap binary to use")
}

func addRunFlags(fs *pflag.FlagSet, f *runFlags) {
	// Config keys, read back through viper.
	fs.String(keySecureBootDir, "", "directory with secure boot keys PK.crt, KEK.crt, db.crt and GUID.txt")
	fs.String(keyFirmware, string(qemu.FirmwareUEFISecure), "firmware: uefi-secure, uefi-insecure or bios")
	fs.String(keyCredentialChannel, string(credential.ChannelAuto),
		"credential channel: auto, firmware or kernel-arg")
	fs.String(keyInstanceType, "", "instance type, one of "+strings.Join(qemu.InstanceTypes(), ", "))
	fs.Var(&LimitedUintValue{Value: new(uint64), Upper: qemu.MaxCPUs}, keyCPUs, "number of vCPUs")
	fs.String(keyMemory, "", "memory size, like 4G or 2048 (MB)")
	fs.String(keyNetwork, string(qemu.NetworkUser), "network mode: user or none")
	fs.String(keyPull, string(image.PullMissing), "image pull policy: missing, always or never")
	fs.Duration(keyBootTimeout, 0, "deadline for the guest to report boot")
	fs.Duration(keyGracePeriod, 0, "time the socket channel is preferred over the file channel")

	fs.StringArrayVarP(&f.volumes, "volume", "v", nil, "share host directory HOST[:TAG][:ro|rw]")
	fs.StringArrayVar(&f.disks, "disk", nil, "attach disk image PATH[:ro]")
	fs.StringArrayVarP(&f.ports, "publish", "p", nil, "forward host port HOST:GUEST")
	fs.VarP(&f.sshKeys, "ssh-key", "k", "authorized keys file for root in the guest")
	fs.BoolVar(&f.generateKey, "generate-key", false, "generate an ephemeral ssh key pair")
	fs.StringArrayVar(&f.kernelArgs, "karg", nil, "additional kernel argument")
	fs.StringArrayVar(&f.qemuArgs, "qemu-arg", nil, `additional QEMU argument, like "-device virtio-rng-pci"`)

	fs.StringVar(&f.label, "label", "", "process label of the VM")
	fs.BoolVarP(&f.detach, "detach", "d", false, "leave the VM running once booted")
	fs.BoolVarP(&f.interactive, "interactive", "i", false, "attach stdin to the VM")
	fs.BoolVar(&f.console, "console", false, "attach the guest console to stdio")
	fs.BoolVar(&f.autoRemove, "rm", false, "stop a VM that did not boot in time instead of keeping it")
	fs.BoolVar(&f.guestVerbose, "guest-verbose", false, "enable verbose guest kernel output")
}

// sessionSpec builds the session spec for the given image and guest command.
//
//nolint:cyclop,funlen
func (f *runFlags) sessionSpec(cfg *Config, ref string, command []string) (session.Spec, error) {
	spec := session.Spec{
		Image:          ref,
		Label:          f.label,
		GenerateKey:    f.generateKey,
		KernelArgs:     f.kernelArgs,
		SecureBootDir:  cfg.SecureBootDir,
		QemuExecutable: cfg.QemuBin,
		Detach:         f.detach,
		Interactive:    f.interactive,
		Console:        f.console,
		Execute:        command,
		AutoRemove:     f.autoRemove,
		BootDeadline:   cfg.BootTimeout,
		GracePeriod:    cfg.GracePeriod,
		Verbose:        f.guestVerbose,
	}

	err := spec.PullPolicy.Set(cfg.Pull)
	if err != nil {
		return spec, argsError("pull policy", err)
	}

	err = spec.Firmware.Set(cfg.Firmware)
	if err != nil {
		return spec, argsError("firmware", err)
	}

	err = spec.CredentialChannel.Set(cfg.CredentialChannel)
	if err != nil {
		return spec, argsError("credential channel", err)
	}

	spec.Network, err = parseNetwork(cfg.Network)
	if err != nil {
		return spec, err
	}

	spec.Resources, err = qemu.ResolveResources(cfg.InstanceType, cfg.CPUs, cfg.Memory)
	if err != nil {
		return spec, argsError("resources", err)
	}

	for _, s := range f.volumes {
		volume, err := session.ParseVolume(s)
		if err != nil {
			return spec, argsError("volume", err)
		}

		spec.Volumes = append(spec.Volumes, volume)
	}

	for _, s := range f.disks {
		disk, err := parseDisk(s)
		if err != nil {
			return spec, err
		}

		spec.Disks = append(spec.Disks, disk)
	}

	for _, s := range f.ports {
		fwd, err := qemu.ParsePortForward(s)
		if err != nil {
			return spec, argsError("publish", err)
		}

		spec.PortForwards = append(spec.PortForwards, fwd)
	}

	for _, s := range f.qemuArgs {
		arg, err := parseQemuArg(s)
		if err != nil {
			return spec, err
		}

		spec.ExtraQemuArgs = append(spec.ExtraQemuArgs, arg)
	}

	spec.SSHKeys, err = ReadSSHKeys(f.sshKeys)
	if err != nil {
		return spec, err
	}

	return spec, nil
}

func parseNetwork(s string) (qemu.NetworkMode, error) {
	switch mode := qemu.NetworkMode(s); mode {
	case qemu.NetworkUser, qemu.NetworkNone:
		return mode, nil
	default:
		return "", &ParseArgsError{msg: "unknown network mode " + s}
	}
}

// parseDisk parses "PATH[:ro]".
func parseDisk(s string) (qemu.Disk, error) {
	path, mode, hasMode := strings.Cut(s, ":")
	if hasMode && mode != "ro" {
		return qemu.Disk{}, &ParseArgsError{msg: fmt.Sprintf("disk %q: unknown mode %q", s, mode)}
	}

	path, err := AbsoluteFilePath(path)
	if err != nil {
		return qemu.Disk{}, argsError("disk", err)
	}

	err = ValidateFilePath(path)
	if err != nil {
		return qemu.Disk{}, argsError("disk", err)
	}

	return qemu.Disk{Path: path, ReadOnly: hasMode}, nil
}

// parseQemuArg parses "-name [value]".
func parseQemuArg(s string) (qemu.Argument, error) {
	name, value, _ := strings.Cut(strings.TrimSpace(s), " ")
	if !strings.HasPrefix(name, "-") || len(name) < 2 {
		return qemu.Argument{}, &ParseArgsError{msg: fmt.Sprintf("qemu argument %q must start with -", s)}
	}

	return qemu.RepeatableArg(strings.TrimLeft(name, "-"), strings.TrimSpace(value)), nil
}

func argsError(msg string, err error) error {
	return &ParseArgsError{msg: msg, err: err}
}
