// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/aibor/bootvm/internal/sandbox"
	"github.com/spf13/afero"
)

const recordFileName = "session.json"

// Record is the durable description of a detached session.
type Record struct {
	ID      string    `json:"id"`
	Label   string    `json:"label"`
	Image   string    `json:"image"`
	Pid     int       `json:"pid"`
	RunDir  string    `json:"run_dir"`
	Created time.Time `json:"created"`

	// HelperPids are the virtiofsd processes serving the session.
	HelperPids []int `json:"helper_pids,omitempty"`

	// KeyPath is the ephemeral private key, if one was generated.
	KeyPath string `json:"key_path,omitempty"`

	// SSHPort is the host port forwarded to the guest's port 22, if any.
	SSHPort uint16 `json:"ssh_port,omitempty"`
}

// Alive returns true if the hypervisor of the session is still running.
func (r *Record) Alive() bool {
	return sandbox.ProcessAlive(r.Pid)
}

// Store keeps session records in one run directory per session.
type Store struct {
	Fs  afero.Fs
	Dir string
}

// RunDir returns the run directory of the session with the given id.
func (s *Store) RunDir(id string) string {
	return filepath.Join(s.Dir, id)
}

// Save writes the record into its run directory.
func (s *Store) Save(record *Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	err = s.Fs.MkdirAll(s.RunDir(record.ID), 0o700)
	if err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	err = afero.WriteFile(s.Fs, filepath.Join(s.RunDir(record.ID), recordFileName), data, 0o600)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	return nil
}

// Load reads the record of the session with the given id. A unique prefix
// of the id is sufficient.
func (s *Store) Load(id string) (*Record, error) {
	id, err := s.resolve(id)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.Fs, filepath.Join(s.RunDir(id), recordFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		return nil, fmt.Errorf("read session: %w", err)
	}

	var record Record

	err = json.Unmarshal(data, &record)
	if err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}

	return &record, nil
}

// List returns all records sorted by creation time. Run directories without
// a valid record are skipped.
func (s *Store) List() ([]*Record, error) {
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(ids))

	for _, id := range ids {
		record, err := s.Load(id)
		if err != nil {
			continue
		}

		records = append(records, record)
	}

	slices.SortFunc(records, func(a, b *Record) int {
		return a.Created.Compare(b.Created)
	})

	return records, nil
}

// Delete removes the run directory of the session. Removing an unknown
// session is not an error.
func (s *Store) Delete(id string) error {
	err := s.Fs.RemoveAll(s.RunDir(id))
	if err != nil {
		return fmt.Errorf("remove run dir: %w", err)
	}

	return nil
}

func (s *Store) ids() ([]string, error) {
	entries, err := afero.ReadDir(s.Fs, s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read session dir: %w", err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}

	return ids, nil
}

func (s *Store) resolve(prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty id", ErrNotFound)
	}

	ids, err := s.ids()
	if err != nil {
		return "", err
	}

	var matches []string

	for _, id := range ids {
		if id == prefix {
			return id, nil
		}

		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: ambiguous id prefix %s", ErrNotFound, prefix)
	}
}
