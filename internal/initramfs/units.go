// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: MIT

package initramfs

import (
	"fmt"
	"strings"

	"github.com/aibor/bootvm/internal/exitcode"
)

// Guest paths the staged files are copied to before switch-root.
const (
	GuestUnitDir   = "/etc/systemd/system"
	GuestScriptDir = "/etc/bootvm"
)

// Well-known unit names.
const (
	StatusBootingUnit = "bootvm-status-booting.service"
	StatusReadyUnit   = "bootvm-status-ready.service"
	StatusFailedUnit  = "bootvm-status-failed.service"
	ExecuteUnitName   = "bootvm-execute.service"
	ExecuteScriptName = "execute.sh"
)

// Unit is a systemd unit file.
type Unit struct {
	Name    string
	Content string

	// WantedBy are the targets the unit is linked into.
	WantedBy []string
}

// File is a plain file installed into [GuestScriptDir].
type File struct {
	Name    string
	Content []byte
	Mode    uint32
}

// MountUnitName returns the systemd mount unit name for the given guest path.
//
// The leading slash is stripped, dashes inside path components are escaped as
// "\x2d" and the components are joined by dashes.
func MountUnitName(path string) string {
	components := strings.Split(strings.Trim(path, "/"), "/")
	for idx, component := range components {
		components[idx] = strings.ReplaceAll(component, "-", `\x2d`)
	}

	return strings.Join(components, "-") + ".mount"
}

// MountUnit returns a unit mounting the virtiofs share with the given tag at
// the given guest path.
func MountUnit(tag, path string, readOnly bool) Unit {
	options := "rw"
	if readOnly {
		options = "ro"
	}

	return Unit{
		Name: MountUnitName(path),
		Content: fmt.Sprintf(`[Unit]
Description=Mount virtiofs tag %[1]s at %[2]s
ConditionPathExists=!/etc/initrd-release
DefaultDependencies=no
Conflicts=umount.target
Before=local-fs.target umount.target
After=systemd-remount-fs.service

[Mount]
What=%[1]s
Where=%[2]s
Type=virtiofs
Options=%[3]s
TimeoutSec=10
`, tag, path, options),
		WantedBy: []string{"local-fs.target"},
	}
}

// StatusLines are the lines reported on the status port at the boot
// milestones.
type StatusLines struct {
	Booting string
	Ready   string
	Failed  string
}

// StatusUnits returns the units appending the given lines to the given guest
// serial port when the guest reaches basic.target, multi-user.target or
// emergency mode.
func StatusUnits(port string, lines StatusLines) []Unit {
	report := func(line string) string {
		return fmt.Sprintf(`/bin/sh -c 'echo "%s" >> %s'`, line, port)
	}

	return []Unit{
		{
			Name: StatusBootingUnit,
			Content: fmt.Sprintf(`[Unit]
Description=Report boot progress to the host
After=basic.target
ConditionPathExists=%s

[Service]
Type=oneshot
ExecStart=%s
`, port, report(lines.Booting)),
			WantedBy: []string{"basic.target"},
		},
		{
			Name: StatusReadyUnit,
			Content: fmt.Sprintf(`[Unit]
Description=Report boot completion to the host
After=multi-user.target
ConditionPathExists=%s

[Service]
Type=oneshot
RemainAfterExit=yes
ExecStart=%s
`, port, report(lines.Ready)),
			WantedBy: []string{"multi-user.target"},
		},
		{
			Name: StatusFailedUnit,
			Content: fmt.Sprintf(`[Unit]
Description=Report boot failure to the host
DefaultDependencies=no
ConditionPathExists=%s

[Service]
Type=oneshot
ExecStart=%s
`, port, report(lines.Failed)),
			WantedBy: []string{"emergency.target", "rescue.target"},
		},
	}
}

// ExecuteScript returns a shell script running the given command with its
// output redirected to the output port and its exit code reported to the
// status port.
func ExecuteScript(command []string, outputPort, statusPort string) []byte {
	quoted := make([]string, len(command))
	for idx, arg := range command {
		quoted[idx] = shellQuote(arg)
	}

	return []byte(fmt.Sprintf("#!/bin/sh\n%s > %s 2>&1 < /dev/null\n%s\n",
		strings.Join(quoted, " "), outputPort, exitcode.ShellReport(statusPort)))
}

// ExecuteUnit returns the unit running the execute script once the guest is
// up and powering it off afterwards.
func ExecuteUnit() Unit {
	return Unit{
		Name: ExecuteUnitName,
		Content: fmt.Sprintf(`[Unit]
Description=Execute command and power off
After=multi-user.target %s
SuccessAction=poweroff
FailureAction=poweroff

[Service]
Type=oneshot
ExecStart=/bin/sh %s/%s
`, StatusReadyUnit, GuestScriptDir, ExecuteScriptName),
		WantedBy: []string{"multi-user.target"},
	}
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuoting) == -1 {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}

	return !strings.ContainsRune("-_./=:,+@%", r)
}

func validUnitName(name string) bool {
	return name != "" && !strings.ContainsRune(name, '/')
}
