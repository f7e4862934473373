// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package credential

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
)

const (
	smbiosPrefix  = "io.systemd.credential.binary:"
	kernelArgName = "systemd.set_credential_binary"

	// VsockHostCID is the vsock context ID of the host as seen from the
	// guest.
	VsockHostCID = 2
)

// Credential is a single named systemd credential.
type Credential struct {
	Name  string
	Value []byte
}

// Encoded returns the base64 encoded value.
func (c Credential) Encoded() string {
	return base64.StdEncoding.EncodeToString(c.Value)
}

// SMBIOSValue renders the credential as SMBIOS type 11 OEM string.
func (c Credential) SMBIOSValue() string {
	return smbiosPrefix + c.Name + "=" + c.Encoded()
}

// KernelArg renders the credential as kernel command line argument.
func (c Credential) KernelArg() string {
	return kernelArgName + "=" + c.Name + ":" + c.Encoded()
}

// SSHAuthorizedKeys returns a credential that makes systemd-tmpfiles write the
// given keys into root's authorized_keys file.
func SSHAuthorizedKeys(keys []ssh.PublicKey) Credential {
	var authorized strings.Builder
	for _, key := range keys {
		authorized.Write(ssh.MarshalAuthorizedKey(key))
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(authorized.String()))

	// "f+~" writes the base64 decoded argument, replacing existing content.
	tmpfiles := "d /root/.ssh 0750 - - -\n" +
		"f+~ /root/.ssh/authorized_keys 700 - - - " + encoded + "\n"

	return Credential{
		Name:  "tmpfiles.extra",
		Value: []byte(tmpfiles),
	}
}

// VsockNotify returns a credential that makes the guest service manager send
// its readiness notifications to the given vsock port on the host.
func VsockNotify(port uint32) Credential {
	value := fmt.Sprintf("vsock-stream:%d:%s", VsockHostCID,
		strconv.FormatUint(uint64(port), 10))

	return Credential{
		Name:  "vmm.notify_socket",
		Value: []byte(value),
	}
}
