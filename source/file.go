package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// File reads the report document from a path on disk. Changes come from an
// fsnotify watch on the parent directory, which also catches the
// write-temp-then-rename pattern export tools use.
type File struct {
	path   string
	logger *slog.Logger
}

// FileOption configures a File source.
type FileOption func(*File)

// WithFileLogger sets a custom logger.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(f *File) { f.logger = l }
}

// NewFile creates a file source for path.
func NewFile(path string, opts ...FileOption) *File {
	f := &File{path: path, logger: slog.Default()}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Name implements Source.
func (f *File) Name() string { return "file" }

// Fetch implements Source.
func (f *File) Fetch(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", f.path, err)
	}
	return data, nil
}

// Changes implements Source. Events for other files in the directory are
// filtered out; watch errors are logged and the watch continues.
func (f *File) Changes(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("source: fsnotify: %w", err)
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("source: watch %s: %w", f.path, err)
	}

	ch := make(chan struct{}, 1)
	target := filepath.Clean(f.path)
	go func() {
		defer close(ch)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
					f.logger.Debug("source: file changed", "path", f.path, "op", ev.Op.String())
					notify(ch)
				}
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				f.logger.Warn("source: file watch error", "path", f.path, "err", werr)
			}
		}
	}()
	return ch, nil
}
