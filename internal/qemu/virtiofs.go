// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aibor/bootvm/internal/sys"
	"github.com/fsnotify/fsnotify"
)

// RootfsTag is the virtiofs tag of the root file system.
const RootfsTag = "rootfs"

// virtiofsdPaths are the install locations searched for virtiofsd.
var virtiofsdPaths = []string{
	"usr/libexec/virtiofsd",
	"usr/bin/virtiofsd",
	"usr/local/bin/virtiofsd",
	"usr/lib/virtiofsd",
}

// CacheMode is the virtiofsd cache mode.
type CacheMode string

// Cache modes.
const (
	CacheNever    CacheMode = "never"
	CacheMetadata CacheMode = "metadata"
)

// SelectCacheMode returns the cache mode for the given host.
//
// Under nested virtualization the guest journal can end up in a tight lookup
// loop on the uncached shared root directory, so metadata is cached there.
func SelectCacheMode(host sys.Host) CacheMode {
	if host.Nested {
		return CacheMetadata
	}

	return CacheNever
}

// FindVirtiofsd returns the path of the first virtiofsd binary found in the
// given file system, which is usually [os.DirFS] of "/".
func FindVirtiofsd(fsys fs.FS) (string, error) {
	for _, path := range virtiofsdPaths {
		if exists(fsys, path) {
			return "/" + path, nil
		}
	}

	return "", ErrVirtiofsdNotFound
}

// Virtiofsd describes a single virtiofsd instance serving one directory.
type Virtiofsd struct {
	Executable string
	SocketPath string
	SharedDir  string
	Tag        string
	ReadOnly   bool
	Cache      CacheMode
}

// Args returns the virtiofsd arguments.
func (v *Virtiofsd) Args() []string {
	cache := v.Cache
	if cache == "" {
		cache = CacheNever
	}

	args := []string{
		"--socket-path", v.SocketPath,
		"--shared-dir", v.SharedDir,
		"--cache=" + string(cache),
		"--sandbox=none",
		"--inode-file-handles=fallback",
	}

	if v.ReadOnly {
		args = append(args, "--readonly")
	}

	return args
}

// WaitForSocket blocks until the given socket path exists or the context is
// done.
func WaitForSocket(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch first, then check, so a creation in between is not missed.
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrSocketTimeout, path, ctx.Err())
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("%w: %s: watcher closed", ErrSocketTimeout, path)
			}

			if event.Has(fsnotify.Create) && filepath.Clean(event.Name) == filepath.Clean(path) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if ok && err != nil && !errors.Is(err, fsnotify.ErrEventOverflow) {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
	}
}

// SocketName returns a socket file name for the given virtiofs tag.
func SocketName(tag string) string {
	return "virtiofs-" + strings.ReplaceAll(tag, "/", "_") + ".sock"
}
