// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/aibor/bootvm/internal/credential"
	"github.com/aibor/bootvm/internal/pipe"
	"github.com/aibor/bootvm/internal/sys"
)

const minAdditionalFileDescriptor = 3

const (
	machineTypeQ35  = "q35"
	machineTypeVirt = "virt"

	consoleID = "console0"
)

// NetworkMode is the guest network mode.
type NetworkMode string

// Supported network modes.
const (
	NetworkUser NetworkMode = "user"
	NetworkNone NetworkMode = "none"
)

// PortForward forwards a host TCP port to a guest TCP port.
type PortForward struct {
	Host  uint16
	Guest uint16
}

// ParsePortForward parses "host:guest".
func ParsePortForward(s string) (PortForward, error) {
	hostPort, guestPort, found := strings.Cut(s, ":")
	if !found {
		return PortForward{}, &ArgumentError{"port forward must be host:guest: " + s}
	}

	host, err := strconv.ParseUint(hostPort, 10, 16)
	if err != nil {
		return PortForward{}, &ArgumentError{"invalid host port: " + hostPort}
	}

	guest, err := strconv.ParseUint(guestPort, 10, 16)
	if err != nil {
		return PortForward{}, &ArgumentError{"invalid guest port: " + guestPort}
	}

	return PortForward{Host: uint16(host), Guest: uint16(guest)}, nil
}

// String implements [fmt.Stringer] in QEMU hostfwd format.
func (p PortForward) String() string {
	return fmt.Sprintf("tcp::%d-:%d", p.Host, p.Guest)
}

// Disk is a disk image attached as virtio block device.
type Disk struct {
	Path     string
	Format   string
	Serial   string
	ReadOnly bool
}

// SharedDir is a virtiofs share served by virtiofsd on the given socket.
type SharedDir struct {
	Tag        string
	SocketPath string
}

// CommandSpec defines the parameters for a [Command].
type CommandSpec struct {
	// Path to the qemu-system binary.
	Executable string

	// Label used as guest name and process name, so the process can be found
	// later.
	Label string

	// QEMU machine type to use. Depends on the QEMU binary used.
	Machine string

	// CPU type to use. Depends on machine type and QEMU binary used.
	CPU string

	// Guest CPU and memory.
	Resources Resources

	// Disable KVM support.
	NoKVM bool

	// UEFI firmware. Nil means legacy BIOS boot.
	Firmware *Firmware

	// Path to the kernel for direct kernel boot. Requires Initramfs and
	// Rootfs. Mutually exclusive with BootDisk.
	Kernel string

	// Path to the initramfs for direct kernel boot.
	Initramfs string

	// Virtiofs share of the root file system for direct kernel boot.
	Rootfs *SharedDir

	// Bootable disk image. Mutually exclusive with Kernel.
	BootDisk *Disk

	// Additional disk images.
	Disks []Disk

	// Additional virtiofs shares.
	SharedDirs []SharedDir

	// Named serial ports backed by host files.
	Ports []*pipe.Port

	// Host file the guest console is written to, if Console is not set.
	ConsoleLog string

	// Attach the guest console and the QEMU monitor to stdio.
	Console bool

	// Opened vhost-vsock device. Nil disables the vsock device.
	Vsock *sys.VhostVsock

	Network      NetworkMode
	PortForwards []PortForward

	// Credentials passed as SMBIOS type 11 OEM strings.
	SMBIOSCredentials []string

	// Kernel arguments in their final order. They are appended after the
	// root file system arguments and before console and debug flags.
	KernelArgs []string

	// ExtraArgs are extra arguments that are passed to the QEMU command.
	// They must not interfere with the essential arguments set by the command
	// itself or an error will be returned by [NewCommand].
	ExtraArgs []Argument

	// Increase guest logging.
	Verbose bool
}

// DefaultExecutable returns the QEMU binary for the given architecture.
//
// On the native architecture, the distribution's qemu-kvm binary is preferred
// if it exists in the given file system, which is usually [os.DirFS] of "/".
func DefaultExecutable(fsys fs.FS, arch sys.Arch) (string, error) {
	if arch.IsNative() && exists(fsys, "usr/libexec/qemu-kvm") {
		return "/usr/libexec/qemu-kvm", nil
	}

	name, err := arch.QemuSystemName()
	if err != nil {
		return "", err
	}

	return "qemu-system-" + name, nil
}

// AddDefaultsFor adds architecture specific default values to the given spec
// if the fields are not set yet.
func (s *CommandSpec) AddDefaultsFor(fsys fs.FS, host sys.Host) error {
	var machine string

	switch host.Arch {
	case sys.AMD64:
		machine = machineTypeQ35
	case sys.ARM64, sys.RISCV64:
		machine = machineTypeVirt
	default:
		return sys.ErrArchNotSupported
	}

	if s.Executable == "" {
		executable, err := DefaultExecutable(fsys, host.Arch)
		if err != nil {
			return err
		}

		s.Executable = executable
	}

	if s.Machine == "" {
		s.Machine = machine
	}

	if !s.NoKVM {
		s.NoKVM = !host.KVM
	}

	if s.CPU == "" {
		s.CPU = "host"
		if s.NoKVM {
			s.CPU = "max"
		}
	}

	if s.Resources == (Resources{}) {
		s.Resources = Resources{CPUs: DefaultCPUs, MemoryMB: DefaultMemoryMB}
	}

	if s.Network == "" {
		s.Network = NetworkUser
	}

	return nil
}

// Validate checks for known incompatibilities.
func (s *CommandSpec) Validate() error {
	if err := s.Resources.Validate(); err != nil {
		return err
	}

	switch {
	case s.Kernel != "" && s.BootDisk != nil:
		return &ArgumentError{"kernel and boot disk are mutually exclusive"}
	case s.Kernel == "" && s.BootDisk == nil:
		return &ArgumentError{"either kernel or boot disk is required"}
	case s.Kernel != "" && s.Initramfs == "":
		return &ArgumentError{"direct kernel boot requires an initramfs"}
	case s.Kernel != "" && s.Rootfs == nil:
		return &ArgumentError{"direct kernel boot requires a root file system share"}
	case s.Kernel == "" && len(s.KernelArgs) > 0:
		return &ArgumentError{"kernel arguments require direct kernel boot"}
	}

	switch s.Network {
	case NetworkUser, NetworkNone, "":
	default:
		return &ArgumentError{"unknown network mode: " + string(s.Network)}
	}

	if s.Network == NetworkNone && len(s.PortForwards) > 0 {
		return &ArgumentError{"port forwards require user network"}
	}

	if len(s.SMBIOSCredentials) > 0 && s.Machine == machineTypeVirt && s.Firmware == nil {
		return &ArgumentError{"smbios credentials on " + s.Machine + " require uefi firmware"}
	}

	if s.Kernel != "" {
		cmdline := strings.Join(s.kernelCmdlineArgs(), " ")
		if len(cmdline) > credential.KernelArgLimit {
			return &ArgumentError{fmt.Sprintf(
				"kernel command line too long: %d > %d bytes",
				len(cmdline), credential.KernelArgLimit,
			)}
		}
	}

	return nil
}

// extraFiles returns the files passed to the QEMU process. The first one
// will be file descriptor 3 in the child.
func (s *CommandSpec) extraFiles() []*os.File {
	if s.Vsock == nil {
		return nil
	}

	return []*os.File{s.Vsock.File}
}

// arguments compiles the argument list for the QEMU command.
func (s *CommandSpec) arguments() []Argument {
	machine := []string{s.Machine}
	if s.Firmware != nil && s.Firmware.Mode == FirmwareUEFISecure && s.Machine == machineTypeQ35 {
		machine = append(machine, "smm=on")
	}

	mem := strconv.FormatUint(s.Resources.MemoryMB, 10)

	args := []Argument{
		UniqueArg("machine", machine...),
		UniqueArg("cpu", s.CPU),
		UniqueArg("smp", strconv.FormatUint(s.Resources.CPUs, 10)),
		UniqueArg("m", mem+"M"),
		// vhost-user-fs requires shared guest memory.
		UniqueArg("object", "memory-backend-memfd", "id=mem", "share=on", "size="+mem+"M"),
		UniqueArg("numa", "node", "memdev=mem"),
	}

	if s.Label != "" {
		args = append(args, UniqueArg("name", Option("guest", s.Label), Option("process", s.Label)))
	}

	if !s.NoKVM {
		args = append(args, UniqueArg("enable-kvm"))
	}

	args = append(args, s.firmwareArgs()...)
	args = append(args, s.bootArgs()...)
	args = append(args, s.diskArgs()...)
	args = append(args, s.sharedDirArgs()...)
	args = append(args, s.serialArgs()...)
	args = append(args, s.networkArgs()...)

	if s.Vsock != nil {
		fd := minAdditionalFileDescriptor
		args = append(args, RepeatableArg("device",
			"vhost-vsock-pci",
			"guest-cid="+strconv.FormatUint(uint64(s.Vsock.CID), 10),
			"vhostfd="+strconv.Itoa(fd),
		))
	}

	for _, cred := range s.SMBIOSCredentials {
		args = append(args, RepeatableArg("smbios", "type=11", Option("value", cred)))
	}

	args = append(args,
		// Disable video output.
		UniqueArg("display", "none"),
		// Guest reboot ends the session.
		UniqueArg("no-reboot"),
		// Disable all default devices.
		UniqueArg("nodefaults"),
		// Do not load any user config files.
		UniqueArg("no-user-config"),
	)

	args = append(args, s.ExtraArgs...)

	if s.Kernel != "" {
		kernelCmdline := strings.Join(s.kernelCmdlineArgs(), " ")
		args = append(args, UniqueArg("append", kernelCmdline))
	}

	return args
}

func (s *CommandSpec) firmwareArgs() []Argument {
	if s.Firmware == nil {
		return nil
	}

	args := []Argument{
		RepeatableArg("drive", "if=pflash", "format=raw", "unit=0",
			Option("file", s.Firmware.Code), "readonly=on"),
		RepeatableArg("drive", "if=pflash", "format=raw", "unit=1",
			Option("file", s.Firmware.Vars)),
	}

	if s.Firmware.Mode == FirmwareUEFISecure && s.Machine == machineTypeQ35 {
		args = append(args, RepeatableArg("global",
			"driver=cfi.pflash01", "property=secure", "value=on"))
	}

	return args
}

func (s *CommandSpec) bootArgs() []Argument {
	if s.Kernel == "" {
		return nil
	}

	return append(
		[]Argument{
			UniqueArg("kernel", s.Kernel),
			UniqueArg("initrd", s.Initramfs),
		},
		vhostUserFSArgs("char0", *s.Rootfs)...,
	)
}

func (s *CommandSpec) diskArgs() []Argument {
	disks := s.Disks
	if s.BootDisk != nil {
		disks = append([]Disk{*s.BootDisk}, disks...)
	}

	args := make([]Argument, 0, 2*len(disks))

	for idx, disk := range disks {
		driveID := fmt.Sprintf("drive%d", idx)

		format := disk.Format
		if format == "" {
			format = "raw"
		}

		drive := []string{Option("file", disk.Path), "format=" + format, "if=none", "id=" + driveID}
		if disk.ReadOnly {
			drive = append(drive, "readonly=on")
		}

		device := []string{"virtio-blk-pci", "drive=" + driveID}
		if disk.Serial != "" {
			device = append(device, Option("serial", disk.Serial))
		}

		if idx == 0 && s.BootDisk != nil {
			device = append(device, "bootindex=0")
		}

		args = append(args,
			RepeatableArg("drive", drive...),
			RepeatableArg("device", device...),
		)
	}

	return args
}

func (s *CommandSpec) sharedDirArgs() []Argument {
	args := make([]Argument, 0, 2*len(s.SharedDirs))

	for idx, dir := range s.SharedDirs {
		args = append(args, vhostUserFSArgs(fmt.Sprintf("char%d", idx+1), dir)...)
	}

	return args
}

func vhostUserFSArgs(id string, dir SharedDir) []Argument {
	return []Argument{
		RepeatableArg("chardev", "socket", "id="+id, Option("path", dir.SocketPath)),
		RepeatableArg("device", "vhost-user-fs-pci", "queue-size=1024",
			"chardev="+id, Option("tag", dir.Tag)),
	}
}

func (s *CommandSpec) serialArgs() []Argument {
	args := []Argument{
		RepeatableArg("device", "virtio-serial"),
	}

	if s.Console {
		args = append(args,
			RepeatableArg("chardev", "stdio", "id="+consoleID, "mux=on"),
			RepeatableArg("device", "virtconsole", "chardev="+consoleID),
			UniqueArg("monitor", "chardev:"+consoleID),
		)
	} else {
		if s.ConsoleLog != "" {
			args = append(args,
				RepeatableArg("chardev", "file", "id="+consoleID,
					Option("path", s.ConsoleLog), "append=on"),
				RepeatableArg("device", "virtconsole", "chardev="+consoleID),
			)
		}

		args = append(args, UniqueArg("monitor", "none"))
	}

	for idx, port := range s.Ports {
		id := fmt.Sprintf("port%d", idx)
		args = append(args,
			RepeatableArg("chardev", "file", "id="+id,
				Option("path", port.HostPath), "append=on"),
			RepeatableArg("device", "virtserialport", "chardev="+id,
				Option("name", port.Name)),
		)
	}

	return args
}

func (s *CommandSpec) networkArgs() []Argument {
	if s.Network == NetworkNone {
		return nil
	}

	netdev := []string{"user", "id=net0"}
	for _, fwd := range s.PortForwards {
		netdev = append(netdev, "hostfwd="+fwd.String())
	}

	return []Argument{
		RepeatableArg("netdev", netdev...),
		RepeatableArg("device", "virtio-net-pci", "netdev=net0"),
	}
}

// kernelCmdlineArgs returns the kernel cmdline arguments.
//
// The order is fixed: root file system, caller provided kernel arguments,
// console and debug flags.
func (s *CommandSpec) kernelCmdlineArgs() []string {
	cmdline := []string{
		"rootfstype=virtiofs",
		"root=" + RootfsTag,
	}

	cmdline = append(cmdline, s.KernelArgs...)

	if s.Console || s.ConsoleLog != "" {
		cmdline = append(cmdline, "console=hvc0")
	}

	if s.Verbose {
		cmdline = append(cmdline, "systemd.log_level=debug", "debug")
	} else {
		cmdline = append(cmdline, "quiet")
	}

	return cmdline
}
