// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// NamePrefix is the prefix for all port names.
const NamePrefix = "org.bootvm."

const guestPathPrefix = "/dev/virtio-ports/"

// Port is a named serial port backed by a host file.
type Port struct {
	Name     string
	HostPath string
}

// GuestPath returns the path of the port device in the guest.
func (p *Port) GuestPath() string {
	return GuestPath(p.Name)
}

// GuestPath returns the guest device path for the port with the given name.
func GuestPath(name string) string {
	return guestPathPrefix + name
}

// Create creates the port with the given short name and an empty host file in
// the given directory.
//
// The file exists before the hypervisor starts, so it can be watched right
// away.
func Create(dir, name string) (*Port, error) {
	port := &Port{
		Name:     NamePrefix + name,
		HostPath: filepath.Join(dir, name),
	}

	file, err := os.OpenFile(port.HostPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, &Error{Name: port.Name, Err: err}
	}

	_ = file.Close()

	return port, nil
}

// CopyTo copies everything the guest wrote so far into the given writer.
//
// It returns an [Error] wrapping [ErrNoOutput] if the guest did not write
// anything.
func (p *Port) CopyTo(dst io.Writer) (int64, error) {
	file, err := os.Open(p.HostPath)
	if err != nil {
		return 0, &Error{Name: p.Name, Err: err}
	}
	defer file.Close()

	written, err := io.Copy(dst, file)
	if err != nil {
		return written, &Error{Name: p.Name, Err: fmt.Errorf("copy: %w", err)}
	}

	if written == 0 {
		return 0, &Error{Name: p.Name, Err: ErrNoOutput}
	}

	return written, nil
}
