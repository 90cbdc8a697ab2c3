// Package dashboard implements the operator boundary: password login with
// JWT session cookies, runtime settings stored in a key/value file, and the
// debug endpoints for token and cache inspection.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Settings is a key/value store persisted to a plain KEY=VALUE file. Writes
// go through Set; external edits are picked up by the fsnotify watcher so a
// hand-edited file takes effect without a restart.
type Settings struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	values map[string]string
}

// NewSettings loads the settings file at path. A missing file is not an
// error; it is created on the first Set.
func NewSettings(path string, logger *slog.Logger) (*Settings, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Settings{
		path:   path,
		logger: logger,
		values: map[string]string{},
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// load replaces the in-memory values with the file contents.
func (s *Settings) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	values := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

// Get returns the value for key.
func (s *Settings) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Bool reads a boolean setting, falling back to def when the key is absent
// or unparseable. Accepts 1/0, true/false, yes/no, on/off.
func (s *Settings) Bool(key string, def bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// Int reads an integer setting, falling back to def.
func (s *Settings) Int(key string, def int) int {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// All returns a copy of all current values.
func (s *Settings) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Set merges the given values into the store and persists the file. An empty
// value deletes the key.
func (s *Settings) Set(values map[string]string) error {
	s.mu.Lock()
	for k, v := range values {
		if v == "" {
			delete(s.values, k)
			continue
		}
		s.values[k] = v
	}
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, s.values[k])
	}
	s.mu.Unlock()

	if err := os.WriteFile(s.path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}

// Watch reloads the settings file on change until the context is cancelled.
// Reload failures are logged and watching continues. Rapid event bursts are
// debounced so one save triggers one reload.
func (s *Settings) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating settings watcher: %w", err)
	}

	// Watch the directory: editors replace files on save, which drops a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching settings directory: %w", err)
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) || event.Op&fsnotify.Chmod == fsnotify.Chmod {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, func() {
					if err := s.load(); err != nil {
						s.logger.Warn("reloading settings failed", "error", err)
						return
					}
					s.logger.Info("settings reloaded", "path", s.path)
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("settings watcher error", "error", err)
			}
		}
	}()

	return nil
}
