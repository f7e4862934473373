// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aibor/bootvm/internal/credential"
	"github.com/aibor/bootvm/internal/image"
	"github.com/aibor/bootvm/internal/qemu"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
)

// GuestMountPrefix is the guest directory volumes are mounted in, unless a
// guest path is given.
const GuestMountPrefix = "/run/virtiofs-mnt-"

// Volume is a host directory shared with the guest.
type Volume struct {
	HostPath  string
	Tag       string
	GuestPath string
	ReadOnly  bool
}

// ParseVolume parses a volume in the format "HOST[:TAG][:ro|rw]".
//
// The tag defaults to the base name of the host path. The guest path is
// derived from the tag. Volumes are read-write by default.
func ParseVolume(s string) (Volume, error) {
	if s == "" {
		return Volume{}, fmt.Errorf("%w: empty volume", ErrInvalidSpec)
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return Volume{}, fmt.Errorf("%w: volume %q: want HOST[:TAG][:ro|rw]", ErrInvalidSpec, s)
	}

	hostPath, err := homedir.Expand(parts[0])
	if err != nil {
		return Volume{}, fmt.Errorf("%w: volume %q: %w", ErrInvalidSpec, s, err)
	}

	hostPath, err = filepath.Abs(hostPath)
	if err != nil {
		return Volume{}, fmt.Errorf("%w: volume %q: %w", ErrInvalidSpec, s, err)
	}

	volume := Volume{
		HostPath: hostPath,
		Tag:      filepath.Base(hostPath),
	}

	rest := parts[1:]
	if len(rest) > 0 {
		switch mode := rest[len(rest)-1]; mode {
		case "ro", "rw":
			volume.ReadOnly = mode == "ro"
			rest = rest[:len(rest)-1]
		}
	}

	switch len(rest) {
	case 0:
	case 1:
		if rest[0] == "" || strings.ContainsAny(rest[0], "/ ") {
			return Volume{}, fmt.Errorf("%w: volume %q: invalid tag %q", ErrInvalidSpec, s, rest[0])
		}

		volume.Tag = rest[0]
	default:
		return Volume{}, fmt.Errorf("%w: volume %q: invalid mode %q", ErrInvalidSpec, s, rest[1])
	}

	volume.GuestPath = GuestMountPrefix + volume.Tag

	return volume, nil
}

// Spec is the immutable description of a VM session.
type Spec struct {
	// Image is the container image reference.
	Image      string
	PullPolicy image.PullPolicy

	// Label names the hypervisor process. Defaults to "bootvm-<id prefix>".
	Label string

	// Resources are the resolved guest CPUs and memory.
	Resources qemu.Resources

	Volumes []Volume
	Disks   []qemu.Disk

	Network      qemu.NetworkMode
	PortForwards []qemu.PortForward

	// SSHKeys are authorized for root in the guest.
	SSHKeys []ssh.PublicKey

	// GenerateKey requests an ephemeral key pair, written to the run
	// directory.
	GenerateKey bool

	// CredentialChannel overrides the credential channel selection.
	CredentialChannel credential.Channel

	KernelArgs []string

	Firmware      qemu.FirmwareMode
	SecureBootDir string

	// QemuExecutable overrides the default hypervisor binary.
	QemuExecutable string

	// ExtraQemuArgs are passed to the hypervisor as is.
	ExtraQemuArgs []qemu.Argument

	// Detach leaves the VM running once it booted.
	Detach bool

	// Interactive attaches stdin and makes the hypervisor the terminal's
	// foreground process group.
	Interactive bool

	// Console attaches the guest console to stdio.
	Console bool

	// Execute is a command run in the guest after boot. The guest powers off
	// when it is done and its exit code becomes the session's.
	Execute []string

	// AutoRemove stops a timed out VM instead of leaving it for inspection.
	AutoRemove bool

	// BootDeadline bounds the wait for the boot verdict.
	BootDeadline time.Duration

	// GracePeriod is how long the socket channel is preferred.
	GracePeriod time.Duration

	Verbose bool
}

// Validate checks the spec for contradicting options.
func (s *Spec) Validate() error {
	switch {
	case s.Image == "":
		return fmt.Errorf("%w: no image given", ErrInvalidSpec)
	case s.Detach && s.Interactive:
		return fmt.Errorf("%w: detach and interactive are mutually exclusive", ErrInvalidSpec)
	case s.Detach && s.Console:
		return fmt.Errorf("%w: detach and console are mutually exclusive", ErrInvalidSpec)
	case s.Detach && len(s.Execute) > 0:
		return fmt.Errorf("%w: detach and execute are mutually exclusive", ErrInvalidSpec)
	case s.Console && len(s.Execute) > 0:
		return fmt.Errorf("%w: console and execute are mutually exclusive", ErrInvalidSpec)
	}

	tags := map[string]bool{qemu.RootfsTag: true}

	for _, volume := range s.Volumes {
		if tags[volume.Tag] {
			return fmt.Errorf("%w: duplicate volume tag %q", ErrInvalidSpec, volume.Tag)
		}

		tags[volume.Tag] = true
	}

	if s.Firmware == qemu.FirmwareUEFISecure && s.SecureBootDir == "" {
		return fmt.Errorf("%w: uefi-secure requires a secure boot key directory", ErrInvalidSpec)
	}

	// Zero resources are filled with defaults later.
	if s.Resources == (qemu.Resources{}) {
		return nil
	}

	return s.Resources.Validate() //nolint:wrapcheck
}
