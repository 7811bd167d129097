// Package watch feeds the content of a file into a tool session every time
// the file changes on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Sink receives file content. *session.Session satisfies it.
type Sink interface {
	SetInput(text string) error
}

// Watcher follows a single file.
type Watcher struct {
	path string
	sink Sink
	last string
	seen bool
}

// New returns a Watcher for path. Nothing is watched until Run.
func New(path string, sink Sink) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	return &Watcher{path: abs, sink: sink}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Run pushes the current content, then every changed version, until ctx is
// done. The parent directory is watched so editors that save by renaming a
// temp file over the target keep working.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	slog.Info("watch.started", "file", w.path)

	if err := w.push(); err != nil && !os.IsNotExist(err) {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("watch.stopped", "file", w.path)
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			switch {
			case ev.Op&fsnotify.Write != 0 || ev.Op&fsnotify.Create != 0:
				if err := w.push(); err != nil {
					slog.Warn("watch.read_failed", "file", w.path, "error", err)
				}
			case ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0:
				slog.Debug("watch.file_gone", "file", w.path, "op", ev.Op.String())
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch.error", "file", w.path, "error", err)
		}
	}
}

// push reads the file and hands it to the sink unless it is unchanged.
func (w *Watcher) push() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	text := string(data)
	if w.seen && text == w.last {
		return nil
	}
	w.last, w.seen = text, true
	if err := w.sink.SetInput(text); err != nil {
		return fmt.Errorf("set input: %w", err)
	}
	return nil
}
