package knowledge

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period after the last file event before a
// sync starts.
const DefaultDebounce = 2 * time.Second

// Watch re-syncs the index whenever documents under the indexer directory
// change, until ctx is cancelled. Bursts of events within debounce collapse
// into one sync. New subdirectories are watched as they appear.
func (x *Indexer) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "knowledge: create watcher")
	}
	defer w.Close() //nolint:errcheck

	err = filepath.WalkDir(x.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "knowledge: watch %s", x.opts.Dir)
	}
	zap.L().Info("knowledge: watching documents", zap.String("dir", x.opts.Dir))

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 && isDir(ev.Name) {
				if err := w.Add(ev.Name); err != nil {
					zap.L().Warn("knowledge: watch new directory", zap.String("dir", ev.Name), zap.Error(err))
				}
			}
			if !relevant(ev) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			zap.L().Warn("knowledge: watcher error", zap.Error(err))

		case <-timer.C:
			if _, err := x.Sync(ctx, false); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				zap.L().Error("knowledge: sync after change failed", zap.Error(err))
			}
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(ev.Name)
	if IsExcluded(name) {
		return false
	}
	return IsSupported(name) || isDir(ev.Name) || ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
