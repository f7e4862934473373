// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// compareVersions compares kernel release strings like
// "6.12.0-55.el10.x86_64". Unparsable versions sort before parsable ones
// and lexically among each other.
func compareVersions(a, b string) int {
	va, errA := parseVersion(a)
	vb, errB := parseVersion(b)

	switch {
	case errA == nil && errB == nil:
		if c := va.Compare(vb); c != 0 {
			return c
		}

		return strings.Compare(a, b)
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

// parseVersion parses a kernel release. Underscores, like in "x86_64", are
// not valid in semantic versions and are replaced.
func parseVersion(s string) (*semver.Version, error) {
	return semver.NewVersion(strings.ReplaceAll(s, "_", "-")) //nolint:wrapcheck
}
