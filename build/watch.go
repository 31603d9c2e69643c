package build

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch calls fn after files below dir change, once the changes have been quiet
// for debounce. Folders created later are watched too. Watch blocks until ctx is
// done and calls fn from its own goroutine, never concurrently.
func Watch(ctx context.Context, log *zap.Logger, dir string, debounce time.Duration, fn func()) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("watch")
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer w.Close()
	if err := addDirsRecursive(w, dir, log); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Info("Watching for changes", zap.String("dir", dir), zap.Duration("debounce", debounce))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if shouldIgnoreEvent(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create == fsnotify.Create {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = addDirsRecursive(w, ev.Name, log)
				}
			}
			log.Debug("File change detected", zap.String("path", ev.Name), zap.Stringer("op", ev.Op))
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("Watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			fn()
		}
	}
}

func addDirsRecursive(w *fsnotify.Watcher, root string, log *zap.Logger) error {
	if _, err := os.Stat(root); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if err := w.Add(path); err != nil {
				log.Warn("Watch add failed", zap.String("dir", path), zap.Error(err))
			}
		}
		return nil
	})
}

// shouldIgnoreEvent reports editor swap and backup files.
func shouldIgnoreEvent(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".#") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		base == "4913"
}
