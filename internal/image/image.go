// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultEngine is the container engine binary.
const DefaultEngine = "podman"

const modulesDir = "usr/lib/modules"

// PullPolicy defines when an image is pulled.
type PullPolicy string

// Pull policies.
const (
	PullMissing PullPolicy = "missing"
	PullAlways  PullPolicy = "always"
	PullNever   PullPolicy = "never"
)

// String implements [fmt.Stringer].
func (p *PullPolicy) String() string {
	return string(*p)
}

// Set implements [pflag.Value].
func (p *PullPolicy) Set(s string) error {
	switch PullPolicy(s) {
	case PullMissing, PullAlways, PullNever:
		*p = PullPolicy(s)
	default:
		return fmt.Errorf("unknown pull policy: %s", s)
	}

	return nil
}

// Type implements [pflag.Value].
func (*PullPolicy) Type() string {
	return "policy"
}

// Runner runs external commands and returns their stdout.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Rootfs is a mounted image root file system.
type Rootfs struct {
	Ref string

	// Path is the host path of the mounted root file system.
	Path string

	KernelVersion string

	// Kernel and Initramfs are host paths.
	Kernel    string
	Initramfs string
}

// Bridge provides image root file systems through the container engine.
type Bridge struct {
	Runner Runner

	// Engine overrides [DefaultEngine].
	Engine string

	// OpenFS opens the mounted root file system for inspection. It defaults
	// to [os.DirFS].
	OpenFS func(dir string) fs.FS
}

func (b *Bridge) engine() string {
	if b.Engine == "" {
		return DefaultEngine
	}

	return b.Engine
}

func (b *Bridge) run(ctx context.Context, args ...string) (string, error) {
	out, err := b.Runner.Output(ctx, b.engine(), args...)
	return strings.TrimSpace(string(out)), err
}

// Ensure makes sure the image is present locally according to the policy.
func (b *Bridge) Ensure(ctx context.Context, ref string, policy PullPolicy) error {
	if ref == "" {
		return ErrEmptyReference
	}

	pull := policy == PullAlways

	if policy != PullAlways {
		_, err := b.run(ctx, "image", "exists", ref)
		if err != nil {
			if policy == PullNever {
				return &Error{ref, "check local image", err}
			}

			pull = true
		}
	}

	if !pull {
		return nil
	}

	slog.Info("Pull image", slog.String("image", ref))

	_, err := b.run(ctx, "pull", "--quiet", ref)
	if err != nil {
		return &Error{ref, "pull", err}
	}

	return nil
}

// Mount mounts the image and locates its kernel and initramfs.
//
// The image must be unmounted with [Bridge.Unmount] if Mount succeeded.
func (b *Bridge) Mount(ctx context.Context, ref string) (*Rootfs, error) {
	if ref == "" {
		return nil, ErrEmptyReference
	}

	mountPoint, err := b.run(ctx, "image", "mount", ref)
	if err != nil {
		return nil, &Error{ref, "mount", err}
	}

	if mountPoint == "" {
		return nil, &Error{ref, "mount", ErrNoMountPoint}
	}

	openFS := b.OpenFS
	if openFS == nil {
		openFS = os.DirFS
	}

	version, err := FindKernel(openFS(mountPoint))
	if err != nil {
		return nil, errors.Join(&Error{ref, "find kernel", err}, b.Unmount(ctx, ref))
	}

	rootfs := &Rootfs{
		Ref:           ref,
		Path:          mountPoint,
		KernelVersion: version,
		Kernel:        filepath.Join(mountPoint, modulesDir, version, "vmlinuz"),
		Initramfs:     filepath.Join(mountPoint, modulesDir, version, "initramfs.img"),
	}

	slog.Debug("Image mounted",
		slog.String("image", ref),
		slog.String("path", mountPoint),
		slog.String("kernel_version", version),
	)

	return rootfs, nil
}

// Unmount unmounts the image.
func (b *Bridge) Unmount(ctx context.Context, ref string) error {
	_, err := b.run(ctx, "image", "unmount", ref)
	if err != nil {
		return &Error{ref, "unmount", err}
	}

	return nil
}

// FindKernel returns the kernel version of the newest kernel directory in
// /usr/lib/modules of the given root file system that contains both vmlinuz
// and initramfs.img.
func FindKernel(fsys fs.FS) (string, error) {
	entries, err := fs.ReadDir(fsys, modulesDir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrKernelNotFound, err)
	}

	var versions []string

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := path.Join(modulesDir, entry.Name())
		if !isRegular(fsys, path.Join(dir, "vmlinuz")) ||
			!isRegular(fsys, path.Join(dir, "initramfs.img")) {
			continue
		}

		versions = append(versions, entry.Name())
	}

	if len(versions) == 0 {
		return "", ErrKernelNotFound
	}

	// Newest last.
	slices.SortFunc(versions, compareVersions)

	return versions[len(versions)-1], nil
}

func isRegular(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && info.Mode().IsRegular()
}
