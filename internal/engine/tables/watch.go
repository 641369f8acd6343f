package tables

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
	"go.uber.org/zap"
)

const reloadDebounce = 150 * time.Millisecond

// Adjust edits a freshly loaded table before it is swapped in.
type Adjust func(t *engine.Table)

// Swapper accepts a new table. *engine.Classifier implements it.
type Swapper interface {
	Swap(t *engine.Table) error
	Version() string
}

// Watcher reloads a table file into a Swapper whenever the file changes.
// A file that fails to load or validate is logged and the active table stays.
type Watcher struct {
	path    string
	target  Swapper
	adjust  Adjust
	fsw     *fsnotify.Watcher
	logger  *zap.Logger
	swapped chan string // receives the new version after each successful swap
}

// NewWatcher watches the directory containing path, so editors that replace
// the file by rename are picked up too. adjust, when non-nil, is applied to
// every reloaded table; pass the same one used for the startup table.
func NewWatcher(path string, target Swapper, adjust Adjust, logger *zap.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("NewWatcher: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("NewWatcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("NewWatcher: %w", err)
	}
	return &Watcher{
		path:    abs,
		target:  target,
		adjust:  adjust,
		fsw:     fsw,
		logger:  logger,
		swapped: make(chan string, 1),
	}, nil
}

// Swapped delivers the table version after each successful reload. Sends are
// dropped when nobody is listening.
func (w *Watcher) Swapped() <-chan string {
	return w.swapped
}

// Run processes file events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("table watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	t, err := Load(w.path)
	if err != nil {
		w.logger.Error("table reload failed, keeping active table",
			zap.String("path", w.path),
			zap.String("active_version", w.target.Version()),
			zap.Error(err),
		)
		return
	}
	if w.adjust != nil {
		w.adjust(t)
	}
	if err := w.target.Swap(t); err != nil {
		w.logger.Error("table swap failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("classifier table reloaded",
		zap.String("path", w.path),
		zap.String("version", t.Version),
	)
	select {
	case w.swapped <- t.Version:
	default:
	}
}
