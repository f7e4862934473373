// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package credential

import (
	"crypto/rand"
	"io"
	"strings"

	"golang.org/x/crypto/ssh"
)

// VolatileJournalArg makes journald keep logs in memory only. It is always
// added, since persistent journal storage on the shared root file system can
// livelock the guest under nested virtualization.
const VolatileJournalArg = "systemd.journald.storage=volatile"

// Options are the inputs for [Inject].
type Options struct {
	// SSH public keys to authorize for root.
	Keys []ssh.PublicKey

	// Generate an ephemeral key pair and authorize it in addition to Keys.
	GenerateKey bool

	// Randomness source for key generation. Defaults to [rand.Reader].
	Rand io.Reader

	// Vsock port the guest service manager reports readiness to. Zero
	// disables the notification credential.
	NotifyPort uint32

	// Extra credentials added as is.
	Extra []Credential

	// Caller provided kernel arguments.
	KernelArgs []string
}

// Payload is the computed credential payload bound to exactly one channel.
type Payload struct {
	Channel     Channel
	Credentials []Credential

	// CallerKernelArgs are the caller provided kernel arguments.
	CallerKernelArgs []string

	// AuxKernelArgs are the auxiliary boot options, like forced volatile
	// journal storage.
	AuxKernelArgs []string

	// GeneratedKey is the ephemeral key pair, if requested.
	GeneratedKey *KeyPair
}

// Inject computes the payload for the given channel.
//
// It fails with a [TooLargeError] if the rendered payload exceeds the limit
// of the channel and with a [KeygenError] if key generation fails.
func Inject(opts Options, channel Channel) (*Payload, error) {
	payload := &Payload{
		Channel:          channel,
		CallerKernelArgs: opts.KernelArgs,
		AuxKernelArgs:    []string{VolatileJournalArg},
	}

	keys := append([]ssh.PublicKey{}, opts.Keys...)

	if opts.GenerateKey {
		rnd := opts.Rand
		if rnd == nil {
			rnd = rand.Reader
		}

		keyPair, err := GenerateKeyPair(rnd)
		if err != nil {
			return nil, err
		}

		payload.GeneratedKey = keyPair
		keys = append(keys, keyPair.PublicKey)
	}

	if len(keys) > 0 {
		payload.Credentials = append(payload.Credentials, SSHAuthorizedKeys(keys))
	}

	if opts.NotifyPort != 0 {
		payload.Credentials = append(payload.Credentials, VsockNotify(opts.NotifyPort))
	}

	payload.Credentials = append(payload.Credentials, opts.Extra...)

	if size := payload.Size(); size > channel.Limit() {
		return nil, &TooLargeError{
			Channel: channel,
			Size:    size,
			Limit:   channel.Limit(),
		}
	}

	return payload, nil
}

// Size returns the size of the payload as rendered for its channel.
//
// For the kernel argument channel this is the length of all kernel arguments
// of the payload joined by spaces, since they share the command line.
func (p *Payload) Size() int {
	if p.Channel == ChannelKernelArg {
		return len(strings.Join(p.KernelArgs(), " "))
	}

	size := 0
	for _, value := range p.SMBIOSValues() {
		size += len(value)
	}

	return size
}

// SMBIOSValues returns the SMBIOS OEM strings for the firmware table channel.
// It is empty for any other channel.
func (p *Payload) SMBIOSValues() []string {
	if p.Channel == ChannelKernelArg {
		return nil
	}

	values := make([]string, 0, len(p.Credentials))
	for _, cred := range p.Credentials {
		values = append(values, cred.SMBIOSValue())
	}

	return values
}

// KernelArgs returns the ordered kernel arguments of the payload: caller
// provided arguments, the credential arguments if the kernel argument
// channel is used, and the auxiliary boot options.
func (p *Payload) KernelArgs() []string {
	args := append([]string{}, p.CallerKernelArgs...)

	if p.Channel == ChannelKernelArg {
		for _, cred := range p.Credentials {
			args = append(args, cred.KernelArg())
		}
	}

	return append(args, p.AuxKernelArgs...)
}
