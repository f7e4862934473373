// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
)

// usrMergeLinks are the top level symlinks into /usr of a merged-usr system.
var usrMergeLinks = map[string]string{
	"bin":   "usr/bin",
	"sbin":  "usr/sbin",
	"lib":   "usr/lib",
	"lib64": "usr/lib64",
}

var rootDirs = []string{"etc", "usr", "tmp", "run", "var/tmp", "dev", "proc"}

const (
	passwdContent = "root:x:0:0:root:/root:/bin/sh\n" +
		"nobody:x:65534:65534:Kernel Overflow User:/:/sbin/nologin\n"
	groupContent = "root:x:0:\n" +
		"kvm:x:36:\n" +
		"nobody:x:65534:\n"
)

// buildRoot creates the minimal root file system at dir.
//
// The host DNS resolver config is copied, so the hypervisor's user mode
// network stack can resolve names for the guest.
func buildRoot(fsys afero.Fs, dir string, resolvConf []byte) error {
	for _, name := range rootDirs {
		err := fsys.MkdirAll(filepath.Join(dir, name), 0o755)
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
	}

	if linker, ok := fsys.(afero.Linker); ok {
		for name, target := range usrMergeLinks {
			err := linker.SymlinkIfPossible(target, filepath.Join(dir, name))
			if err != nil && !errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("link %s: %w", name, err)
			}
		}
	} else {
		slog.Debug("Sandbox root file system does not support symlinks")
	}

	files := map[string][]byte{
		"etc/passwd": []byte(passwdContent),
		"etc/group":  []byte(groupContent),
	}

	if resolvConf != nil {
		files["etc/resolv.conf"] = resolvConf
	}

	for name, content := range files {
		err := afero.WriteFile(fsys, filepath.Join(dir, name), content, 0o644)
		if err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	return nil
}
