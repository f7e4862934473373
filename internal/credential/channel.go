// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package credential

import (
	"github.com/aibor/bootvm/internal/sys"
)

const (
	// FirmwareTableLimit is the maximum size of all encoded credentials
	// delivered as SMBIOS OEM strings.
	FirmwareTableLimit = 65535

	// KernelArgLimit is the maximum size of the kernel command line
	// (COMMAND_LINE_SIZE on x86).
	KernelArgLimit = 2048
)

// Channel is a credential delivery channel.
type Channel string

// Credential delivery channels.
const (
	ChannelAuto          Channel = "auto"
	ChannelFirmwareTable Channel = "firmware"
	ChannelKernelArg     Channel = "kernel-arg"
)

// String implements [fmt.Stringer].
func (c *Channel) String() string {
	return string(*c)
}

// Set implements [pflag.Value].
func (c *Channel) Set(s string) error {
	switch Channel(s) {
	case ChannelAuto, ChannelFirmwareTable, ChannelKernelArg:
		*c = Channel(s)
	default:
		return ErrUnknownChannel
	}

	return nil
}

// Type implements [pflag.Value].
func (*Channel) Type() string {
	return "channel"
}

// Limit returns the transport size limit of the channel.
func (c Channel) Limit() int {
	if c == ChannelKernelArg {
		return KernelArgLimit
	}

	return FirmwareTableLimit
}

// SelectChannel returns the delivery channel for the given host.
//
// The firmware table is the default. The kernel command line is used if the
// firmware channel is suspect because of nested virtualization or a known
// buggy firmware. An explicitly requested channel other than [ChannelAuto]
// always wins.
func SelectChannel(requested Channel, host sys.Host) Channel {
	if requested != "" && requested != ChannelAuto {
		return requested
	}

	if host.Nested || host.BuggyFirmware {
		return ChannelKernelArg
	}

	return ChannelFirmwareTable
}
