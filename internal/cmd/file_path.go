// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aibor/bootvm/internal/credential"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
)

// FilePath is a [pflag.Value] for a file path. It is made absolute and a
// leading "~" is expanded.
type FilePath string

func (f *FilePath) String() string {
	return string(*f)
}

func (f *FilePath) Set(s string) error {
	path, err := AbsoluteFilePath(s)

	*f = FilePath(path)

	return err
}

func (*FilePath) Type() string {
	return "path"
}

// FilePathList is a [pflag.Value] for repeatable or comma separated file
// paths. An empty value resets the list.
type FilePathList []string

func (f *FilePathList) String() string {
	return strings.Join(*f, ",")
}

func (f *FilePathList) Set(s string) error {
	if s == "" {
		*f = nil
		return nil
	}

	for _, e := range strings.Split(s, ",") {
		path, err := AbsoluteFilePath(e)
		if err != nil {
			return err
		}

		*f = append(*f, path)
	}

	return nil
}

func (*FilePathList) Type() string {
	return "paths"
}

// AbsoluteFilePath expands a leading "~" and returns the absolute path.
func AbsoluteFilePath(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyFilePath
	}

	path, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expand home: %w", err)
	}

	path, err = filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	return path, nil
}

// ValidateFilePath checks the file exists and is a regular file.
func ValidateFilePath(name string) error {
	stat, err := os.Stat(name)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if !stat.Mode().IsRegular() {
		return ErrNotRegularFile
	}

	return nil
}

// ReadSSHKeys reads the authorized keys files at the given paths.
func ReadSSHKeys(paths []string) ([]ssh.PublicKey, error) {
	var keys []ssh.PublicKey

	for _, path := range paths {
		err := ValidateFilePath(path)
		if err != nil {
			return nil, fmt.Errorf("ssh key file: %w", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read ssh key file: %w", err)
		}

		parsed, err := credential.ParseAuthorizedKeys(data)
		if err != nil {
			return nil, fmt.Errorf("ssh key file %s: %w", path, err)
		}

		keys = append(keys, parsed...)
	}

	return keys, nil
}
