// Package watcher raises debounced filesystem change notifications for a
// source tree, so continuous indexing can re-merge only after a burst of
// edits settles.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/amanvec/internal/errors"
)

// Options configures the watcher.
type Options struct {
	// Debounce is how long to wait after the last event before emitting
	// a batch (0 = 500ms).
	Debounce time.Duration

	// ExcludeDirs are directory names never descended into.
	ExcludeDirs []string
}

// Watcher watches a directory tree and emits batches of changed paths.
type Watcher struct {
	opts     Options
	fsw      *fsnotify.Watcher
	events   chan []string
	errs     chan error
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a watcher for the tree rooted at root.
func New(root string, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.InternalError("failed to create filesystem watcher", err)
	}

	w := &Watcher{
		opts:    opts,
		fsw:     fsw,
		events:  make(chan []string, 16),
		errs:    make(chan error, 16),
		stopped: make(chan struct{}),
	}

	if err := w.addRecursive(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Start runs the event loop until the context is cancelled or Stop is
// called. The events channel is closed when the loop exits.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Events returns batches of changed paths, debounced.
func (w *Watcher) Events() <-chan []string {
	return w.events
}

// Errors returns non-fatal watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		_ = w.fsw.Close()
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.events)
	defer close(w.errs)

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]string, 0, len(pending))
		for p := range pending {
			batch = append(batch, p)
		}
		pending = make(map[string]struct{})
		select {
		case w.events <- batch:
		default:
			slog.Warn("watcher event buffer full, dropping batch",
				slog.Int("batch_size", len(batch)))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopped:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New directories must be picked up to keep the watch
			// recursive.
			if ev.Op&fsnotify.Create != 0 {
				if err := w.addRecursive(ev.Name); err != nil {
					slog.Debug("failed to watch new path",
						slog.String("path", ev.Name),
						slog.String("error", err.Error()))
				}
			}
			pending[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.opts.Debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			flush()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

// addRecursive watches path and every directory below it, skipping
// excluded directory names.
func (w *Watcher) addRecursive(root string) error {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Races with deletions are expected while watching.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		for _, name := range w.opts.ExcludeDirs {
			if d.Name() == name {
				return filepath.SkipDir
			}
		}
		return w.fsw.Add(p)
	})
	if err != nil {
		return errors.InternalError("failed to watch directory tree", err)
	}
	return nil
}
