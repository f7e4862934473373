// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"bufio"
	"bytes"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
)

const (
	cpuinfoPath      = "proc/cpuinfo"
	dmiSysVendorPath = "sys/class/dmi/id/sys_vendor"
	dmiBIOSVendor    = "sys/class/dmi/id/bios_vendor"
	vhostVsockPath   = "dev/vhost-vsock"
	kvmPath          = "dev/kvm"
)

// hypervisorVendors are DMI system vendors reported by virtual machines.
var hypervisorVendors = []string{
	"QEMU",
	"Red Hat",
	"Microsoft Corporation",
	"VMware, Inc.",
	"Xen",
	"innotek GmbH",
	"Parallels Software International Inc.",
}

// Host contains the host capability facts relevant for running a VM session.
//
// It is computed once by [DetectHost] and passed around as value.
type Host struct {
	Arch Arch

	// KVM is true if the host provides hardware acceleration.
	KVM bool

	// Nested is true if the host itself runs virtualized and still provides
	// KVM, so the guests are nested.
	Nested bool

	// Ambiguous is true if the nested virtualization probes did not agree or
	// could not be read.
	Ambiguous bool

	// BuggyFirmware is true if the host firmware is known to not deliver
	// firmware table credentials reliably.
	BuggyFirmware bool

	// VhostVsock is true if /dev/vhost-vsock is present.
	VhostVsock bool
}

// SocketChannelUsable returns true if the host-guest socket transport is
// believed to work.
//
// On nested hosts the vsock transport silently drops connections. If the
// detection is ambiguous it is assumed to work, so the socket channel is
// armed in addition to the file channel.
func (h Host) SocketChannelUsable() bool {
	if !h.VhostVsock {
		return false
	}

	return !h.Nested || h.Ambiguous
}

// LogValue implements [slog.LogValuer].
func (h Host) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("arch", string(h.Arch)),
		slog.Bool("kvm", h.KVM),
		slog.Bool("nested", h.Nested),
		slog.Bool("ambiguous", h.Ambiguous),
		slog.Bool("buggy_firmware", h.BuggyFirmware),
		slog.Bool("vhost_vsock", h.VhostVsock),
	)
}

// DetectOptions tune [DetectHost].
type DetectOptions struct {
	// BuggyFirmwareVendors are DMI BIOS vendors known to break firmware table
	// credential delivery.
	BuggyFirmwareVendors []string
}

// DetectHost probes the host described by the given file system, which is
// usually [os.DirFS] of "/".
func DetectHost(fsys fs.FS, arch Arch, opts DetectOptions) Host {
	host := Host{
		Arch:       arch,
		KVM:        arch.IsNative() && exists(fsys, kvmPath),
		VhostVsock: exists(fsys, vhostVsockPath),
	}

	cpuFlag, cpuKnown := cpuHypervisorFlag(fsys)
	vendor, vendorKnown := readTrimmed(fsys, dmiSysVendorPath)
	dmiVirt := vendorKnown && isHypervisorVendor(vendor)

	var guest bool

	switch {
	case cpuKnown && vendorKnown:
		guest = cpuFlag || dmiVirt
		host.Ambiguous = cpuFlag != dmiVirt
	case cpuKnown:
		guest = cpuFlag
	case vendorKnown:
		guest = dmiVirt
	default:
		host.Ambiguous = true
	}

	host.Nested = guest && host.KVM

	if biosVendor, ok := readTrimmed(fsys, dmiBIOSVendor); ok {
		host.BuggyFirmware = slices.Contains(opts.BuggyFirmwareVendors, biosVendor)
	}

	return host
}

// cpuHypervisorFlag returns whether the "hypervisor" CPU flag is set and
// whether the flags could be read at all.
func cpuHypervisorFlag(fsys fs.FS) (bool, bool) {
	data, err := fs.ReadFile(fsys, cpuinfoPath)
	if err != nil {
		return false, false
	}

	known := false
	scanner := bufio.NewScanner(bytes.NewReader(data))

	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), ":")
		if !found || strings.TrimSpace(key) != "flags" {
			continue
		}

		known = true

		if slices.Contains(strings.Fields(value), "hypervisor") {
			return true, true
		}
	}

	return false, known
}

func isHypervisorVendor(vendor string) bool {
	return slices.ContainsFunc(hypervisorVendors, func(v string) bool {
		return strings.HasPrefix(vendor, v)
	})
}

func readTrimmed(fsys fs.FS, path string) (string, bool) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return "", false
	}

	value := strings.TrimSpace(string(data))

	return value, value != ""
}

func exists(fsys fs.FS, path string) bool {
	_, err := fs.Stat(fsys, path)
	return err == nil
}
