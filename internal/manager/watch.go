// ABOUTME: Watches engine search paths and re-runs discovery when packages are installed or removed
// ABOUTME: Filesystem events are debounced so an install touching many files triggers one Refresh

package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mauromedda/forseti-go/internal/log"
)

// Watch refreshes the registry whenever something changes under the
// search paths, until ctx ends. Each search path, every package directory
// in it, and each package's bin/ are watched. onRefresh, when non-nil, is
// called after every refresh with its result.
func (m *Manager) Watch(ctx context.Context, onRefresh func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	for _, root := range m.opts.searchPaths {
		if err := watchTree(w, root); err != nil {
			return err
		}
	}

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
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
		case <-m.ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				// New package or bin/ directory: watch it too.
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := watchTree(w, ev.Name); err != nil {
						log.Debug("watching %s: %v", ev.Name, err)
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(m.opts.watchDebounce)
			} else {
				timer.Reset(m.opts.watchDebounce)
			}
			timerCh = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("engine watcher: %v", err)
		case <-timerCh:
			timerCh = nil
			err := m.Refresh(ctx)
			if err != nil {
				log.Warn("engine discovery: %v", err)
			}
			if onRefresh != nil {
				onRefresh(err)
			}
		}
	}
}

// watchTree adds dir and up to two levels below it (package, package/bin).
func watchTree(w *fsnotify.Watcher, dir string) error {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(dir, p)
		if rel != "." && depth(rel) > 2 {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	return nil
}

func depth(rel string) int {
	n := 1
	for _, r := range filepath.ToSlash(rel) {
		if r == '/' {
			n++
		}
	}
	return n
}
