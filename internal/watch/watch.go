// Package watch follows a directory for new step files and feeds them in
// step order.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"shift2me/internal/stepfile"
)

// DefaultDebounce is how long a file must stay quiet before it is reported.
const DefaultDebounce = 500 * time.Millisecond

type options struct {
	debounce time.Duration
	logger   *slog.Logger
	existing bool
}

// Option configures Watch.
type Option func(*options)

// WithDebounce sets the quiet period per file.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithLogger sets the logger for watcher diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithExisting also reports the step files already in the directory, in step
// order, once the watch is registered.
func WithExisting() Option {
	return func(o *options) { o.existing = true }
}

// Watch reports step files created or written in dir. onFile is called from
// the watching goroutine, one file at a time, once the file has been quiet
// for the debounce period. Watch blocks until ctx is done.
func Watch(ctx context.Context, dir string, onFile func(path string), opts ...Option) error {
	o := options{debounce: DefaultDebounce, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	o.logger.Info("watching for step files", "dir", dir, "debounce", o.debounce)
	if o.existing {
		files, err := Scan(dir)
		if err != nil {
			return err
		}
		for _, path := range files {
			onFile(path)
		}
	}

	ready := make(chan string)
	done := make(chan struct{})
	defer close(done)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, timer := range timers {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !stepfile.Match(event.Name) {
				continue
			}
			path := event.Name
			if timer, exists := timers[path]; exists {
				timer.Stop()
			}
			timers[path] = time.AfterFunc(o.debounce, func() {
				select {
				case ready <- path:
				case <-done:
				}
			})

		case path := <-ready:
			delete(timers, path)
			o.logger.Debug("step file settled", "path", path)
			onFile(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			o.logger.Warn("watcher error", "error", err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Scan returns the step files already present in dir, ordered by step
// number.
func Scan(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type found struct {
		step int
		path string
	}
	var files []found
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		step, err := stepfile.StepNumber(e.Name())
		if err != nil {
			continue
		}
		files = append(files, found{step: step, path: filepath.Join(dir, e.Name())})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].step < files[j].step })
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}
