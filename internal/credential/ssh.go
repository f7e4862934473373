// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package credential

import (
	"bytes"
	"crypto/ed25519"
	"encoding/pem"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

const keyComment = "bootvm ephemeral key"

// KeyPair is an ephemeral SSH key pair.
type KeyPair struct {
	// PrivateKeyPEM is the OpenSSH private key in PEM encoding.
	PrivateKeyPEM []byte

	PublicKey ssh.PublicKey
}

// AuthorizedKey returns the public key in authorized_keys format.
func (k *KeyPair) AuthorizedKey() []byte {
	return ssh.MarshalAuthorizedKey(k.PublicKey)
}

// GenerateKeyPair generates an ed25519 key pair using the given randomness
// source.
func GenerateKeyPair(rand io.Reader) (*KeyPair, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, &KeygenError{Err: err}
	}

	block, err := ssh.MarshalPrivateKey(privKey, keyComment)
	if err != nil {
		return nil, &KeygenError{Err: fmt.Errorf("marshal private key: %w", err)}
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, &KeygenError{Err: fmt.Errorf("convert public key: %w", err)}
	}

	return &KeyPair{
		PrivateKeyPEM: pem.EncodeToMemory(block),
		PublicKey:     sshPubKey,
	}, nil
}

// ParseAuthorizedKeys parses all public keys in authorized_keys format from
// the given data. Empty lines and comments are skipped.
func ParseAuthorizedKeys(data []byte) ([]ssh.PublicKey, error) {
	var keys []ssh.PublicKey

	rest := bytes.TrimSpace(data)
	for len(rest) > 0 {
		key, _, _, next, err := ssh.ParseAuthorizedKey(rest)
		if err != nil {
			return nil, fmt.Errorf("parse ssh public key: %w", err)
		}

		keys = append(keys, key)
		rest = bytes.TrimSpace(next)
	}

	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	return keys, nil
}
