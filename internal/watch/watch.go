// Package watch loads extract files as they appear in a directory.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultPatterns are the file names watched when none are configured.
var DefaultPatterns = []string{"*.csv", "*.xlsx", "*.zip"}

// DefaultSettle is how long a new file must go without writes before it is
// handed over.
const DefaultSettle = 500 * time.Millisecond

// Handler processes one settled file. Errors are logged, never fatal.
type Handler func(ctx context.Context, path string) error

// Watcher hands newly created files matching its patterns to a Handler.
// Only files created while the watcher runs are considered.
type Watcher struct {
	dir      string
	patterns []string
	handle   Handler
	settle   time.Duration
	log      *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// New creates a Watcher on dir. Empty patterns mean DefaultPatterns.
func New(dir string, patterns []string, h Handler, opts ...Option) *Watcher {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	w := &Watcher{
		dir:      dir,
		patterns: patterns,
		handle:   h,
		settle:   DefaultSettle,
		log:      zap.L().With(zap.String("component", "watch"), zap.String("dir", dir)),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Match reports whether the base name of path matches one of the patterns.
func (w *Watcher) Match(path string) bool {
	base := filepath.Base(path)
	for _, p := range w.patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// Run watches until ctx is done. Files are handled one at a time, in the
// order they settle.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "watch: create watcher")
	}
	defer fw.Close() //nolint:errcheck

	if err := fw.Add(w.dir); err != nil {
		return eris.Wrapf(err, "watch: add %s", w.dir)
	}
	w.log.Info("watching for extracts", zap.Strings("patterns", w.patterns))

	ready := make(chan string, 16)
	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	// touch (re)starts the settle timer of path. Writes only count for files
	// already pending.
	touch := func(path string, created bool) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok {
			t.Reset(w.settle)
			return
		}
		if !created {
			return
		}
		pending[path] = time.AfterFunc(w.settle, func() {
			mu.Lock()
			delete(pending, path)
			mu.Unlock()
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watcher stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.Match(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				w.log.Debug("file created", zap.String("path", ev.Name))
				touch(ev.Name, true)
			case ev.Has(fsnotify.Write):
				touch(ev.Name, false)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))

		case path := <-ready:
			w.log.Info("processing file", zap.String("path", path))
			if err := w.handle(ctx, path); err != nil {
				w.log.Error("failed to process file", zap.String("path", path), zap.Error(err))
			}
		}
	}
}
