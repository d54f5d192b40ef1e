package conflict

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RulesWatcher reloads a YAML rule file into a Resolver whenever it changes.
//
// The parent directory is watched so that editors which replace the file by
// rename are picked up. A file that fails to parse is logged and the
// previous rules stay in effect.
type RulesWatcher struct {
	path     string
	resolver *Resolver
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	done     chan struct{}
	stopOnce sync.Once

	// OnReload, when set, is called after every reload attempt.
	OnReload func(err error)
}

// NewRulesWatcher creates a watcher for path. Call Start to begin watching.
func NewRulesWatcher(path string, resolver *Resolver, logger *slog.Logger) (*RulesWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return &RulesWatcher{
		path:     abs,
		resolver: resolver,
		watcher:  w,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start registers the watch and spawns the event loop. The loop exits when
// ctx is cancelled or Stop is called.
func (w *RulesWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Stop ends watching. Safe to call more than once.
func (w *RulesWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

func (w *RulesWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rules watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *RulesWatcher) reload() {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.Warn("conflict rules reload failed, keeping previous rules",
			slog.String("path", w.path), slog.String("error", err.Error()))
	} else {
		w.resolver.SetRules(rules)
		w.logger.Info("conflict rules reloaded", slog.String("path", w.path))
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
}
