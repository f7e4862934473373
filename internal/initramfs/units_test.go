// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package initramfs_test

import (
	"testing"

	"github.com/aibor/bootvm/internal/initramfs"
	"github.com/stretchr/testify/assert"
)

func TestMountUnitName(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{path: "/mnt/data", expected: "mnt-data.mount"},
		{path: "/var/lib/data", expected: "var-lib-data.mount"},
		{path: "/data", expected: "data.mount"},
		{path: "/mnt/test-rw", expected: `mnt-test\x2drw.mount`},
		{path: "/run/virtiofs-mnt-a-b/", expected: `run-virtiofs\x2dmnt\x2da\x2db.mount`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, initramfs.MountUnitName(tt.path))
		})
	}
}

func TestMountUnit(t *testing.T) {
	unit := initramfs.MountUnit("data", "/mnt/data", true)

	assert.Equal(t, "mnt-data.mount", unit.Name)
	assert.Equal(t, []string{"local-fs.target"}, unit.WantedBy)
	assert.Contains(t, unit.Content, "What=data\n")
	assert.Contains(t, unit.Content, "Where=/mnt/data\n")
	assert.Contains(t, unit.Content, "Type=virtiofs\n")
	assert.Contains(t, unit.Content, "Options=ro\n")

	unit = initramfs.MountUnit("data", "/mnt/data", false)
	assert.Contains(t, unit.Content, "Options=rw\n")
}

func TestStatusUnits(t *testing.T) {
	units := initramfs.StatusUnits("/dev/virtio-ports/org.bootvm.status", initramfs.StatusLines{
		Booting: "basic.target booting",
		Ready:   "multi-user.target ready",
		Failed:  "emergency.target failed emergency mode",
	})

	names := make([]string, 0, len(units))
	for _, unit := range units {
		names = append(names, unit.Name)
	}

	assert.Equal(t, []string{
		initramfs.StatusBootingUnit,
		initramfs.StatusReadyUnit,
		initramfs.StatusFailedUnit,
	}, names)

	assert.Contains(t, units[1].Content,
		`ExecStart=/bin/sh -c 'echo "multi-user.target ready" >> /dev/virtio-ports/org.bootvm.status'`)
	assert.Equal(t, []string{"multi-user.target"}, units[1].WantedBy)
	assert.Equal(t, []string{"emergency.target", "rescue.target"}, units[2].WantedBy)
}

func TestExecuteScript(t *testing.T) {
	script := initramfs.ExecuteScript(
		[]string{"sh", "-c", "echo it's $HOME", ""},
		"/dev/virtio-ports/org.bootvm.execute",
		"/dev/virtio-ports/org.bootvm.execstatus",
	)

	expected := "#!/bin/sh\n" +
		`sh -c 'echo it'\''s $HOME' '' > /dev/virtio-ports/org.bootvm.execute 2>&1 < /dev/null` + "\n" +
		`echo "BOOTVM_EXIT_CODE: $?" > /dev/virtio-ports/org.bootvm.execstatus` + "\n"

	assert.Equal(t, expected, string(script))
}

func TestExecuteUnit(t *testing.T) {
	unit := initramfs.ExecuteUnit()

	assert.Equal(t, initramfs.ExecuteUnitName, unit.Name)
	assert.Contains(t, unit.Content, "ExecStart=/bin/sh /etc/bootvm/execute.sh\n")
	assert.Contains(t, unit.Content, "SuccessAction=poweroff\n")
	assert.Contains(t, unit.Content, "After=multi-user.target "+initramfs.StatusReadyUnit+"\n")
}
