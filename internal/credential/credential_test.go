// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package credential_test

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/aibor/bootvm/internal/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func mustKey(t *testing.T) ssh.PublicKey {
	t.Helper()

	keyPair, err := credential.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	return keyPair.PublicKey
}

func TestCredential_Render(t *testing.T) {
	cred := credential.Credential{Name: "test", Value: []byte("value")}

	assert.Equal(t, "dmFsdWU=", cred.Encoded())
	assert.Equal(t, "io.systemd.credential.binary:test=dmFsdWU=", cred.SMBIOSValue())
	assert.Equal(t, "systemd.set_credential_binary=test:dmFsdWU=", cred.KernelArg())
}

func TestVsockNotify(t *testing.T) {
	cred := credential.VsockNotify(1234)

	assert.Equal(t, "vmm.notify_socket", cred.Name)
	assert.Equal(t, "vsock-stream:2:1234", string(cred.Value))
}

func TestSSHAuthorizedKeys(t *testing.T) {
	key := mustKey(t)
	cred := credential.SSHAuthorizedKeys([]ssh.PublicKey{key})

	assert.Equal(t, "tmpfiles.extra", cred.Name)

	lines := strings.Split(strings.TrimSpace(string(cred.Value)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "d /root/.ssh 0750 - - -", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "f+~ /root/.ssh/authorized_keys 700 - - - "))
}

// decodeKernelArgKeys extracts the authorized_keys content from a rendered
// kernel argument credential.
func decodeKernelArgKeys(t *testing.T, arg string) []byte {
	t.Helper()

	value, found := strings.CutPrefix(arg, "systemd.set_credential_binary=tmpfiles.extra:")
	require.True(t, found, "argument should carry tmpfiles credential")

	tmpfiles, err := base64.StdEncoding.DecodeString(value)
	require.NoError(t, err)

	for _, line := range strings.Split(string(tmpfiles), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 7 && fields[0] == "f+~" {
			keys, err := base64.StdEncoding.DecodeString(fields[6])
			require.NoError(t, err)

			return keys
		}
	}

	require.Fail(t, "no authorized_keys line found")

	return nil
}

func TestInject_KernelArgRoundTrip(t *testing.T) {
	keys := []ssh.PublicKey{mustKey(t), mustKey(t)}

	payload, err := credential.Inject(credential.Options{
		Keys:       keys,
		KernelArgs: []string{"console=hvc0"},
	}, credential.ChannelKernelArg)
	require.NoError(t, err)

	args := payload.KernelArgs()
	require.Len(t, args, 3)
	assert.Equal(t, "console=hvc0", args[0])
	assert.Equal(t, credential.VolatileJournalArg, args[2])
	assert.Empty(t, payload.SMBIOSValues())

	expected := append(ssh.MarshalAuthorizedKey(keys[0]), ssh.MarshalAuthorizedKey(keys[1])...)
	assert.Equal(t, expected, decodeKernelArgKeys(t, args[1]))
}

func TestInject_FirmwareTable(t *testing.T) {
	payload, err := credential.Inject(credential.Options{
		Keys:       []ssh.PublicKey{mustKey(t)},
		NotifyPort: 4242,
	}, credential.ChannelFirmwareTable)
	require.NoError(t, err)

	values := payload.SMBIOSValues()
	require.Len(t, values, 2)
	assert.True(t, strings.HasPrefix(values[0], "io.systemd.credential.binary:tmpfiles.extra="))
	assert.Equal(t,
		"io.systemd.credential.binary:vmm.notify_socket=dnNvY2stc3RyZWFtOjI6NDI0Mg==",
		values[1],
	)

	assert.Equal(t, []string{credential.VolatileJournalArg}, payload.KernelArgs(),
		"credentials must not be on the kernel command line")
}

func TestInject_GenerateKey(t *testing.T) {
	payload, err := credential.Inject(credential.Options{
		GenerateKey: true,
	}, credential.ChannelKernelArg)
	require.NoError(t, err)
	require.NotNil(t, payload.GeneratedKey)

	keys := decodeKernelArgKeys(t, payload.KernelArgs()[0])
	assert.Equal(t, payload.GeneratedKey.AuthorizedKey(), keys)

	signer, err := ssh.ParsePrivateKey(payload.GeneratedKey.PrivateKeyPEM)
	require.NoError(t, err)
	assert.Equal(t, payload.GeneratedKey.PublicKey.Marshal(), signer.PublicKey().Marshal())
}

func TestInject_Errors(t *testing.T) {
	manyKeys := make([]ssh.PublicKey, 0, 30)
	for range 30 {
		manyKeys = append(manyKeys, mustKey(t))
	}

	tests := []struct {
		name        string
		opts        credential.Options
		channel     credential.Channel
		expectedErr error
	}{
		{
			name:        "too large for kernel command line",
			opts:        credential.Options{Keys: manyKeys},
			channel:     credential.ChannelKernelArg,
			expectedErr: &credential.TooLargeError{},
		},
		{
			name: "too large for firmware table",
			opts: credential.Options{
				Extra: []credential.Credential{
					{Name: "big", Value: make([]byte, credential.FirmwareTableLimit)},
				},
			},
			channel:     credential.ChannelFirmwareTable,
			expectedErr: &credential.TooLargeError{},
		},
		{
			name: "keygen failure",
			opts: credential.Options{
				GenerateKey: true,
				Rand:        strings.NewReader("short"),
			},
			channel:     credential.ChannelFirmwareTable,
			expectedErr: &credential.KeygenError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := credential.Inject(tt.opts, tt.channel)
			require.ErrorIs(t, err, tt.expectedErr)
			require.ErrorIs(t, err, credential.ErrCredential)
		})
	}
}

func TestInject_ManyKeysFitFirmwareTable(t *testing.T) {
	keys := make([]ssh.PublicKey, 0, 30)
	for range 30 {
		keys = append(keys, mustKey(t))
	}

	_, err := credential.Inject(credential.Options{Keys: keys}, credential.ChannelFirmwareTable)
	require.NoError(t, err)
}
