package presence

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch reloads the index whenever its file is changed by another process,
// such as a CLI invocation running alongside the daemon. It blocks until ctx
// is cancelled.
//
// The parent directory is watched rather than the file, because atomic saves
// replace the file by rename.
func (idx *Index) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(idx.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	idx.logger.Info("watching presence index", "path", idx.path)

	name := filepath.Clean(idx.path)
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			idx.logger.Debug("presence index changed", "op", event.Op)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, func() {
				if err := idx.Reload(); err != nil {
					idx.logger.Error("presence reload failed", "error", err)
					return
				}
				idx.logger.Debug("presence index reloaded", "keys", len(idx.Keys()))
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			idx.logger.Error("presence watcher error", "error", err)
		}
	}
}
