package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval backs up fsnotify in case the remove event is lost (NFS,
// editor rename tricks).
const pollInterval = time.Second

// WaitRemoved blocks until path no longer exists. It watches the parent
// directory for remove/rename events and polls as a fallback. Returns
// ctx.Err() when the context is cancelled first.
func WaitRemoved(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	// The file may have vanished between the caller's check and the watch.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed while waiting for %s", path)
			}
			if event.Name != path {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed while waiting for %s", path)
			}
			return fmt.Errorf("fsnotify error: %w", err)
		case <-ticker.C:
			if _, err := os.Stat(path); os.IsNotExist(err) {
				return nil
			}
		}
	}
}
