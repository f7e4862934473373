// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
)

var (
	panicRE = regexp.MustCompile(`^\[[0-9. ]+\] Kernel panic - not syncing: `)
	oomRE   = regexp.MustCompile(`^\[[0-9. ]+\] Out of memory: `)
)

// ScanConsoleLog scans the guest console output for fatal kernel messages.
//
// It returns [ErrGuestPanic] or [ErrGuestOom] for the first fatal message
// found and nil if there is none.
func ScanConsoleLog(src io.Reader) error {
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := scanner.Bytes()

		switch {
		case oomRE.Match(line):
			return ErrGuestOom
		case panicRE.Match(line):
			return ErrGuestPanic
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan console log: %w", err)
	}

	return nil
}
