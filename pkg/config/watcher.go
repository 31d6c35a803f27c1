package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yairfalse/permitwatch/internal/logger"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the settings file when it changes on disk. Only
// settings that pass validation are delivered; a broken edit is logged
// and the previous settings stay in effect.
type Watcher struct {
	path    string
	log     logger.Logger
	fsw     *fsnotify.Watcher
	updates chan *Settings
}

// NewWatcher watches the directory holding path, so editors that replace
// the file via rename are picked up too
func NewWatcher(path string, log logger.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create settings watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to resolve settings path: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:    abs,
		log:     log.WithField("settings", abs),
		fsw:     fsw,
		updates: make(chan *Settings, 1),
	}, nil
}

// Updates delivers reloaded settings. Only the latest value is kept.
func (w *Watcher) Updates() <-chan *Settings {
	return w.updates
}

// Run processes file events until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(reloadDebounce)
			fire = debounce.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("settings watcher error", err)

		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	settings, err := Load(w.path)
	if err != nil {
		w.log.Error("ignoring invalid settings change", err)
		return
	}
	w.log.Info("settings file changed, new settings apply from the next check")

	// keep only the newest settings
	select {
	case <-w.updates:
	default:
	}
	w.updates <- settings
}
