// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sandbox

// BwrapName is the name of the bubblewrap binary looked up in PATH.
const BwrapName = "bwrap"

// hostEtcPaths are host config paths bound read-only into the sandbox if they
// exist. The hypervisor and its helpers need them for library loading, name
// resolution and their own config.
var hostEtcPaths = []string{
	"/etc/alternatives",
	"/etc/ld.so.cache",
	"/etc/nsswitch.conf",
	"/etc/hosts",
	"/etc/qemu",
	"/etc/pki",
	"/etc/ssl",
}

// bwrapArgs builds the bubblewrap arguments for running the given command.
func (s *Sandbox) bwrapArgs(cmd Command) []string {
	args := []string{
		"--unshare-user-try",
		"--unshare-pid",
		"--unshare-ipc",
		"--unshare-uts",
	}

	// Detached processes must survive the controller.
	if !cmd.Detach {
		args = append(args, "--die-with-parent")
	}

	args = append(args,
		"--bind", s.Root, "/",
		"--ro-bind", "/usr", "/usr",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
	)

	for _, dev := range s.spec.Devices {
		args = append(args, "--dev-bind-try", dev, dev)
	}

	for _, path := range hostEtcPaths {
		args = append(args, "--ro-bind-try", path, path)
	}

	args = append(args, "--bind", s.spec.RunDir, s.spec.RunDir)

	if s.spec.Rootfs != "" {
		args = append(args, "--ro-bind", s.spec.Rootfs, s.spec.Rootfs)
	}

	for _, path := range s.spec.ReadOnlyBinds {
		args = append(args, "--ro-bind", path, path)
	}

	for _, path := range s.spec.Binds {
		args = append(args, "--bind", path, path)
	}

	args = append(args, "--chdir", s.spec.RunDir, "--")
	args = append(args, cmd.Path)

	return append(args, cmd.Args...)
}
