package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch follows the session file until ctx is done, so a sign-in or
// sign-out made by another process reaches this process's subscribers.
// The directory is watched rather than the file, which is replaced on
// every save.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	// Catch up on anything that changed before the watch was in place.
	m.refresh()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != m.path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				m.refresh()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("session watcher error", zap.Error(err))
		}
	}
}

// refresh re-reads the file. A file that cannot be decoded is left alone
// since another writer may still be busy with it.
func (m *Manager) refresh() {
	s, err := m.Load()
	switch {
	case errors.Is(err, ErrNoSession):
		m.transition(false, nil)
	case err != nil:
		m.logger.Debug("session unreadable", zap.Error(err))
	case s.Expired(m.now()):
		m.transition(false, nil)
	default:
		m.transition(true, &s.User)
	}
}
