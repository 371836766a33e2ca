// Package watch monitors the directories the probe tables point at and
// emits a debounced trigger whenever something changes under them, so
// a root tool appearing on disk causes a prompt re-evaluation instead
// of waiting for the next timer tick.
package watch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"shieldd/internal/config"
	"shieldd/internal/logging"
)

// Watcher debounces filesystem events into evaluation triggers.
type Watcher struct {
	fs       *fsnotify.Watcher
	triggers chan struct{}
	debounce time.Duration
	log      *logging.Logger
	watched  int
}

// New builds a watcher over the parent directories of every probed
// path plus any extra configured directories. Directories that do not
// exist are skipped; a watcher with nothing to watch is still valid
// and simply never fires.
func New(cfg config.WatchConfig, probes config.ProbesConfig, log *logging.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:       fs,
		triggers: make(chan struct{}, 1),
		debounce: time.Duration(cfg.DebounceMs) * time.Millisecond,
		log:      log.WithComponent("watch"),
	}
	if w.debounce <= 0 {
		w.debounce = 5 * time.Second
	}

	seen := make(map[string]bool)
	add := func(dir string) {
		if dir == "" || dir == "." || seen[dir] {
			return
		}
		seen[dir] = true
		if err := fs.Add(dir); err == nil {
			w.watched++
		}
	}

	for _, p := range probes.RootFilePaths {
		add(filepath.Dir(p))
	}
	for _, p := range probes.KernelRootPaths {
		add(filepath.Dir(p))
	}
	for _, p := range probes.BuildPropPaths {
		add(filepath.Dir(p))
	}
	for _, d := range probes.PackageDirs {
		add(d)
	}
	for _, d := range cfg.Paths {
		add(d)
	}

	w.log.Info("watcher initialized", "directories", w.watched)
	return w, nil
}

// Triggers returns the debounced trigger channel. At most one trigger
// is pending at a time.
func (w *Watcher) Triggers() <-chan struct{} {
	return w.triggers
}

// Run pumps filesystem events into triggers until the context ends.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)

		case <-fire:
			timer = nil
			fire = nil
			select {
			case w.triggers <- struct{}{}:
			default:
			}
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
