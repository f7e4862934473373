// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: MIT

package initramfs

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"slices"
)

const (
	initrdUnitDir   = "usr/lib/systemd/system"
	initrdTargetDir = initrdUnitDir + "/initrd-fs.target.d"
	stagedUnitDir   = "usr/lib/bootvm/units"
	stagedFileDir   = "usr/lib/bootvm/bin"
)

// initrdUnits run in the initrd before switch-root. They are pulled in by
// drop-ins for initrd-fs.target.
var initrdUnits = []Unit{
	{
		Name: "bootvm-etc-overlay.service",
		Content: `[Unit]
Description=Writable overlay for /etc
DefaultDependencies=no
ConditionPathExists=/etc/initrd-release
Requires=sysroot.mount
After=sysroot.mount
Before=initrd-fs.target

[Service]
Type=oneshot
RemainAfterExit=yes
ExecStart=/bin/mkdir -p /run/bootvm/etc/upper /run/bootvm/etc/work
ExecStart=/bin/mount -t overlay overlay -o lowerdir=/sysroot/etc,upperdir=/run/bootvm/etc/upper,workdir=/run/bootvm/etc/work /sysroot/etc
`,
	},
	{
		Name: "bootvm-var-ephemeral.service",
		Content: `[Unit]
Description=Ephemeral /var
DefaultDependencies=no
ConditionPathExists=/etc/initrd-release
Requires=sysroot.mount
After=sysroot.mount
Before=initrd-fs.target

[Service]
Type=oneshot
RemainAfterExit=yes
ExecStart=/bin/mount -t tmpfs -o mode=0755 tmpfs /sysroot/var
`,
	},
	{
		Name: "bootvm-copy-units.service",
		Content: `[Unit]
Description=Install session units into the booted system
DefaultDependencies=no
ConditionPathExists=/etc/initrd-release
Requires=bootvm-etc-overlay.service
After=bootvm-etc-overlay.service
Before=initrd-fs.target

[Service]
Type=oneshot
RemainAfterExit=yes
ExecStart=/bin/mkdir -p /sysroot` + GuestUnitDir + ` /sysroot` + GuestScriptDir + `
ExecStart=/bin/cp -a /` + stagedUnitDir + `/. /sysroot` + GuestUnitDir + `/
ExecStart=/bin/cp -a /` + stagedFileDir + `/. /sysroot` + GuestScriptDir + `/
`,
	},
}

// Overlay is the set of units and files appended to the guest initramfs.
type Overlay struct {
	// Units are installed into the booted system.
	Units []Unit

	// Files are installed into [GuestScriptDir] of the booted system.
	Files []File
}

// Validate checks the unit and file names.
func (o *Overlay) Validate() error {
	var names []string

	for _, unit := range o.Units {
		if !validUnitName(unit.Name) {
			return fmt.Errorf("%w: %q", ErrInvalidUnitName, unit.Name)
		}

		if slices.Contains(names, unit.Name) {
			return fmt.Errorf("%w: %s", ErrDuplicateUnit, unit.Name)
		}

		names = append(names, unit.Name)
	}

	for _, file := range o.Files {
		if !validUnitName(file.Name) {
			return fmt.Errorf("%w: file name %q", ErrInvalidArgument, file.Name)
		}
	}

	return nil
}

// WriteArchive writes the overlay as CPIO archive to the given writer.
func (o *Overlay) WriteArchive(w io.Writer) error {
	err := o.Validate()
	if err != nil {
		return err
	}

	archive := NewCPIOWriter(w)

	err = o.write(archive)
	if err != nil {
		return err
	}

	return archive.Close()
}

func (o *Overlay) write(archive *CPIOWriter) error {
	dirs := []string{
		"usr",
		"usr/lib",
		"usr/lib/systemd",
		initrdUnitDir,
		initrdTargetDir,
		"usr/lib/bootvm",
		stagedUnitDir,
		stagedFileDir,
	}

	for _, dir := range dirs {
		if err := archive.WriteDirectory(dir); err != nil {
			return err
		}
	}

	for _, unit := range initrdUnits {
		err := archive.WriteFile(path.Join(initrdUnitDir, unit.Name), []byte(unit.Content), 0o644)
		if err != nil {
			return err
		}

		dropIn := fmt.Sprintf("[Unit]\nWants=%s\n", unit.Name)
		dropInPath := path.Join(initrdTargetDir, unit.Name[:len(unit.Name)-len(path.Ext(unit.Name))]+".conf")

		err = archive.WriteFile(dropInPath, []byte(dropIn), 0o644)
		if err != nil {
			return err
		}
	}

	var wantsDirs []string

	for _, unit := range o.Units {
		err := archive.WriteFile(path.Join(stagedUnitDir, unit.Name), []byte(unit.Content), 0o644)
		if err != nil {
			return err
		}

		for _, target := range unit.WantedBy {
			wantsDir := path.Join(stagedUnitDir, target+".wants")
			if !slices.Contains(wantsDirs, wantsDir) {
				if err := archive.WriteDirectory(wantsDir); err != nil {
					return err
				}

				wantsDirs = append(wantsDirs, wantsDir)
			}

			err := archive.WriteLink(path.Join(wantsDir, unit.Name), path.Join(GuestUnitDir, unit.Name))
			if err != nil {
				return err
			}
		}

		slog.Debug("Add guest unit to initramfs overlay", slog.String("unit", unit.Name))
	}

	for _, file := range o.Files {
		mode := file.Mode
		if mode == 0 {
			mode = 0o644
		}

		err := archive.WriteFile(path.Join(stagedFileDir, file.Name), file.Content, os.FileMode(mode))
		if err != nil {
			return err
		}
	}

	return nil
}

// Build writes a copy of the base initramfs with the overlay appended to the
// target path.
func Build(basePath, targetPath string, overlay *Overlay) error {
	base, err := os.Open(basePath)
	if err != nil {
		return fmt.Errorf("open base initramfs: %w", err)
	}
	defer base.Close()

	target, err := os.OpenFile(targetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create initramfs: %w", err)
	}

	err = build(target, base, overlay)

	return errors.Join(err, target.Close())
}

func build(dst io.Writer, base io.Reader, overlay *Overlay) error {
	size, err := io.Copy(dst, base)
	if err != nil {
		return fmt.Errorf("copy base initramfs: %w", err)
	}

	// Concatenated archives must start 4 byte aligned.
	if pad := (4 - size%4) % 4; pad != 0 {
		if _, err := dst.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("pad base initramfs: %w", err)
		}
	}

	err = overlay.WriteArchive(dst)
	if err != nil {
		return fmt.Errorf("write overlay: %w", err)
	}

	slog.Debug("Initramfs overlay appended",
		slog.Int64("base_size", size),
		slog.Int("units", len(overlay.Units)),
		slog.Int("files", len(overlay.Files)),
	)

	return nil
}
