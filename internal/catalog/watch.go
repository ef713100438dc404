package catalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/pkg/pattern"
)

// Registry is the registry surface the watcher needs.
type Registry interface {
	Registrar
	Deactivate(domain, name, version string) error
}

// Reload describes one reload of a watched file.
type Reload struct {
	Path        string
	Report      Report
	Deactivated int
	// Stale counts identities that reappeared in the file after being
	// deactivated. They stay inactive.
	Stale int
	Err   error
}

// Watcher re-reads catalog files when they change. New identities are
// registered; identities that disappeared from a file are deactivated.
// Editing a definition in place has no effect until its version changes.
// The same holds for a definition restored after removal: it stays
// deactivated until it comes back under a new version.
type Watcher struct {
	reg      Registry
	fsw      *fsnotify.Watcher
	paths    map[string]bool
	debounce time.Duration
	logger   *zap.Logger

	// loaded holds the identities each file supplied on its last read.
	loaded map[string]map[pattern.Key]bool
	// removed holds the identities this watcher deactivated, per file.
	removed map[string]map[pattern.Key]bool
	reloads chan Reload
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce coalesces events on a file within d.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchLogger sets the logger.
func WithWatchLogger(logger *zap.Logger) WatchOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher watches paths. Their directories are watched so that editors
// replacing a file by rename are noticed.
func NewWatcher(reg Registry, paths []string, opts ...WatchOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		reg:      reg,
		fsw:      fsw,
		paths:    make(map[string]bool, len(paths)),
		debounce: 250 * time.Millisecond,
		logger:   zap.NewNop(),
		loaded:   make(map[string]map[pattern.Key]bool, len(paths)),
		removed:  make(map[string]map[pattern.Key]bool, len(paths)),
		reloads:  make(chan Reload, 16),
	}
	for _, opt := range opts {
		opt(w)
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		w.paths[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Reloads delivers the outcome of every reload. Results are dropped when
// nobody reads them.
func (w *Watcher) Reloads() <-chan Reload {
	return w.reloads
}

// Run loads every watched file, then reloads files as they change until
// ctx is done. It closes the underlying watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for path := range w.paths {
		w.reload(ctx, path)
	}

	fire := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			path := filepath.Clean(event.Name)
			if !w.paths[path] {
				continue
			}
			if t, ok := timers[path]; ok {
				t.Reset(w.debounce)
				continue
			}
			timers[path] = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- path:
				case <-ctx.Done():
				}
			})

		case path := <-fire:
			delete(timers, path)
			w.reload(ctx, path)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context, path string) {
	res := Reload{Path: path}
	defer func() {
		select {
		case w.reloads <- res:
		default:
		}
	}()

	defs, err := FileSource{Path: path}.Definitions(ctx)
	if err != nil {
		res.Err = err
		w.logger.Warn("catalog reload failed; keeping previous patterns", zap.String("path", path), zap.Error(err))
		return
	}

	res.Report, res.Err = Register(w.reg, defs)

	removed := w.removed[path]
	if removed == nil {
		removed = make(map[pattern.Key]bool)
		w.removed[path] = removed
	}

	current := make(map[pattern.Key]bool, len(res.Report.Keys))
	for _, k := range res.Report.Keys {
		current[k] = true
		if removed[k] {
			delete(removed, k)
			res.Stale++
			w.logger.Info("restored pattern stays deactivated; publish it under a new version to enable it",
				zap.String("path", path),
				zap.String("domain", k.Domain),
				zap.String("pattern", k.Name),
				zap.String("version", k.Version),
			)
		}
	}
	for k := range w.loaded[path] {
		if current[k] {
			continue
		}
		err := w.reg.Deactivate(k.Domain, k.Name, k.Version)
		switch {
		case err == nil:
			res.Deactivated++
			removed[k] = true
		case errors.Is(err, pattern.ErrPatternNotFound):
		default:
			res.Err = errors.Join(res.Err, err)
		}
	}
	w.loaded[path] = current

	w.logger.Info("catalog reloaded",
		zap.String("path", path),
		zap.Int("registered", res.Report.Registered),
		zap.Int("existing", res.Report.Existing),
		zap.Int("failed", res.Report.Failed),
		zap.Int("deactivated", res.Deactivated),
		zap.Int("stale", res.Stale),
	)
}
