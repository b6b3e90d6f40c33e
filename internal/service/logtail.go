package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FollowLog streams lines appended to the instance's log file to the manager
// logger at debug level until ctx is cancelled. It is a diagnostic aid for
// watching a slow startup live; errors only end the follow, they are never
// fatal to the session.
func (m *Manager) FollowLog(ctx context.Context, inst *Instance) error {
	file, err := os.Open(inst.LogPath)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", inst.LogPath, err)
	}
	defer file.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create log watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(inst.LogPath); err != nil {
		return fmt.Errorf("failed to watch log %s: %w", inst.LogPath, err)
	}

	reader := bufio.NewReader(file)
	drain := func() {
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				m.logger.Debug("[%s] %s\n", inst.ID, strings.TrimRight(line, "\n"))
			}
			if err != nil {
				return
			}
		}
	}

	// Emit whatever was written before the watch began.
	drain()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Write) {
				drain()
			}
			if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
				return nil
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// TailLines returns up to n trailing lines of the file at path, for inclusion
// in failure diagnostics.
func TailLines(path string, n int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return lines, err
	}
	return lines, nil
}
