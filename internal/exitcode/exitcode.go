// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package exitcode

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// Identifier is the identifier string for communicating the exit code of a
// guest command via a serial port.
const Identifier = "BOOTVM_EXIT_CODE"

const format = Identifier + ": %d"

// Sprint creates the full exit code string with the given exit code.
func Sprint(exitCode int) string {
	return fmt.Sprintf(format, exitCode)
}

// ShellReport returns a shell statement that writes the exit code of the
// previous shell command to the given path in the format [Parse] expects.
func ShellReport(path string) string {
	return fmt.Sprintf(`echo "%s: $?" > %s`, Identifier, path)
}

// Parse parses the given line for the exit code.
//
// The identifier can be anywhere in the line. It does not need to be at the
// beginning. Returns the exit code and whether it was found.
func Parse(line []byte) (int, bool) {
	start := bytes.Index(line, []byte(Identifier))
	if start < 0 {
		return 0, false
	}

	var exitCode int

	if _, err := fmt.Sscanf(string(line[start:]), format, &exitCode); err != nil {
		return 0, false
	}

	return exitCode, true
}

// Scan reads all lines from the given reader and returns the last exit code
// found.
func Scan(reader io.Reader) (int, bool, error) {
	var (
		exitCode int
		found    bool
	)

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		if code, ok := Parse(scanner.Bytes()); ok {
			exitCode, found = code, true
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, false, fmt.Errorf("scan: %w", err)
	}

	return exitCode, found, nil
}
