// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// VhostVsockDevice is the host device used for guest vsock devices.
	VhostVsockDevice = "/dev/vhost-vsock"

	// vhostVsockSetGuestCID is the VHOST_VSOCK_SET_GUEST_CID ioctl request
	// number, _IOW(VHOST_VIRTIO, 0x60, __u64).
	vhostVsockSetGuestCID = 0x4008af60

	// FirstGuestCID is the lowest usable guest context ID. 0 to 2 are
	// reserved for hypervisor, local and host.
	FirstGuestCID uint32 = 3

	// LastGuestCID is the highest guest context ID tried when looking for a
	// free one.
	LastGuestCID uint32 = 10000
)

// GuestCIDSetter claims a vsock guest context ID. It returns [unix.EADDRINUSE]
// if the CID is already claimed by another VM.
type GuestCIDSetter func(cid uint32) error

// VhostVsock is an open vhost-vsock device with a claimed guest context ID.
//
// The file must be passed to the hypervisor which takes over the device.
type VhostVsock struct {
	File *os.File
	CID  uint32
}

// OpenVhostVsock opens the vhost-vsock device and claims the first free guest
// context ID.
func OpenVhostVsock() (*VhostVsock, error) {
	file, err := os.OpenFile(VhostVsockDevice, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open vhost-vsock: %w", err)
	}

	cid, err := AllocateGuestCID(func(cid uint32) error {
		return setGuestCID(file.Fd(), cid)
	})
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	return &VhostVsock{File: file, CID: cid}, nil
}

// Close closes the device file.
func (v *VhostVsock) Close() error {
	return v.File.Close() //nolint:wrapcheck
}

// AllocateGuestCID tries all CIDs from [FirstGuestCID] to [LastGuestCID] with
// the given setter and returns the first one it succeeds with.
func AllocateGuestCID(set GuestCIDSetter) (uint32, error) {
	for cid := FirstGuestCID; cid <= LastGuestCID; cid++ {
		err := set(cid)
		if err == nil {
			return cid, nil
		}

		if !errors.Is(err, unix.EADDRINUSE) {
			return 0, fmt.Errorf("set guest cid %d: %w", cid, err)
		}
	}

	return 0, ErrNoFreeGuestCID
}

func setGuestCID(fd uintptr, cid uint32) error {
	value := uint64(cid)

	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		fd,
		vhostVsockSetGuestCID,
		uintptr(unsafe.Pointer(&value)),
	)
	if errno != 0 {
		return errno
	}

	return nil
}
