// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package boot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileWatchChannel watches a host file the guest appends status lines to.
//
// On every append only the newest complete line is parsed. Older lines of
// the same append are superseded. The channel is exhausted once the file is
// removed or renamed.
type FileWatchChannel struct {
	path    string
	watcher *fsnotify.Watcher

	offset  int64
	partial []byte

	closeOnce sync.Once
	closeErr  error
}

var _ Channel = (*FileWatchChannel)(nil)

// NewFileWatchChannel starts watching the file at path, which must exist.
func NewFileWatchChannel(path string) (*FileWatchChannel, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	err = watcher.Add(path)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	return &FileWatchChannel{
		path:    path,
		watcher: watcher,
	}, nil
}

// Name implements [Channel].
func (*FileWatchChannel) Name() string {
	return ChannelFile
}

// Next implements [Channel].
func (c *FileWatchChannel) Next(ctx context.Context) (Event, error) {
	for {
		// Read before waiting, so content written before the watch started
		// is not missed.
		line, err := c.readNewestLine()
		if err != nil {
			return Event{}, err
		}

		if line != nil {
			return ParseLine(ChannelFile, string(line))
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case event, ok := <-c.watcher.Events:
			if !ok {
				return Event{}, io.EOF
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return Event{}, io.EOF
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return Event{}, io.EOF
			}

			if err != nil && !errors.Is(err, fsnotify.ErrEventOverflow) {
				return Event{}, fmt.Errorf("watch %s: %w", c.path, err)
			}
		}
	}
}

// readNewestLine reads the data appended since the last call and returns the
// newest complete line or nil if there is none.
func (c *FileWatchChannel) readNewestLine() ([]byte, error) {
	file, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, io.EOF
		}

		return nil, fmt.Errorf("open %s: %w", c.path, err)
	}
	defer file.Close()

	_, err = file.Seek(c.offset, io.SeekStart)
	if err != nil {
		return nil, fmt.Errorf("seek %s: %w", c.path, err)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.path, err)
	}

	c.offset += int64(len(data))
	data = append(c.partial, data...)

	end := bytes.LastIndexByte(data, '\n')
	if end == -1 {
		c.partial = data
		return nil, nil
	}

	c.partial = bytes.Clone(data[end+1:])
	complete := data[:end]

	// Skip empty lines and carriage returns from the serial device.
	for len(complete) > 0 {
		start := bytes.LastIndexByte(complete, '\n') + 1

		line := bytes.TrimSpace(complete[start:])
		if len(line) > 0 {
			return line, nil
		}

		if start == 0 {
			break
		}

		complete = complete[:start-1]
	}

	return nil, nil
}

// Close implements [Channel].
func (c *FileWatchChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.watcher.Close()
	})

	return c.closeErr
}
