package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jingkaihe/pitfile/internal/errx"
)

// DefaultDebounce collapses bursts of editor writes into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a Store when its document changes on the backing tree.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	log      *slog.Logger
	debounce time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	timerMu      sync.Mutex
	pendingTimer *time.Timer
}

// NewWatcher watches the directory holding the store's document. Editors
// often replace files by rename, so the directory is watched rather than
// the file.
func NewWatcher(store *Store, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errx.Wrap(ErrWatchConfig, err)
	}
	if err := fw.Add(filepath.Dir(store.Path())); err != nil {
		fw.Close()
		return nil, errx.Wrap(ErrWatchConfig, err)
	}
	return &Watcher{
		store:    store,
		watcher:  fw,
		log:      logger.With("component", "config-watcher"),
		debounce: debounce,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins delivering events.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("watching policy", "path", w.store.Path())
}

// Stop ends the watch and cancels any pending reload.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	w.wg.Wait()

	w.timerMu.Lock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.timerMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.store.Path() {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	w.log.Debug("policy changed", "op", event.Op.String())
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, func() {
		_ = w.store.Reload()
	})
}
