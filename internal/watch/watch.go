// Package watch reports changes to flow sources so they can be re-linted or
// reloaded.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collects editor save bursts into one change.
const DefaultDebounce = 250 * time.Millisecond

// ChangeFunc is called with the sorted paths that changed since the last
// call. It runs on the watcher goroutine.
type ChangeFunc func(ctx context.Context, changed []string)

// Watcher watches flow globs and individual files.
type Watcher struct {
	globs    []string
	files    map[string]bool
	debounce time.Duration
	log      *zap.Logger
	onChange ChangeFunc
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the watcher waits for changes to settle.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the watcher's logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// New returns a watcher for files matching globs plus the listed files.
func New(globs, files []string, onChange ChangeFunc, opts ...Option) *Watcher {
	w := &Watcher{
		globs:    make([]string, 0, len(globs)),
		files:    make(map[string]bool, len(files)),
		debounce: DefaultDebounce,
		log:      zap.NewNop(),
		onChange: onChange,
	}
	for _, g := range globs {
		w.globs = append(w.globs, filepath.Clean(g))
	}
	for _, f := range files {
		if f != "" {
			w.files[filepath.Clean(f)] = true
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	dirs, err := w.dirs()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.log.Debug("watching directory", zap.String("path", dir))
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addDir(fsw, event.Name)
					continue
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.matches(event.Name) {
				continue
			}
			w.log.Debug("source changed",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))
			pending[filepath.Clean(event.Name)] = true
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			pending = make(map[string]bool)
			w.onChange(ctx, changed)
		}
	}
}

// dirs lists the directories to watch: every directory under the static
// base of each glob, and the directory of each file.
func (w *Watcher) dirs() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}

	for _, g := range w.globs {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(g))
		base = filepath.FromSlash(base)
		err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if name := d.Name(); path != base && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			add(path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", base, err)
		}
	}
	for f := range w.files {
		add(filepath.Dir(f))
	}
	sort.Strings(out)
	return out, nil
}

func (w *Watcher) addDir(fsw *fsnotify.Watcher, dir string) {
	if strings.HasPrefix(filepath.Base(dir), ".") {
		return
	}
	if err := fsw.Add(dir); err != nil {
		w.log.Warn("failed to watch new directory", zap.String("path", dir), zap.Error(err))
		return
	}
	w.log.Debug("added watch for new directory", zap.String("path", dir))
}

func (w *Watcher) matches(path string) bool {
	path = filepath.Clean(path)
	if w.files[path] {
		return true
	}
	for _, g := range w.globs {
		if ok, _ := doublestar.PathMatch(g, path); ok {
			return true
		}
	}
	return false
}
