package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"aide/internal/async"
	"aide/internal/logging"
)

const defaultWatchDebounce = 750 * time.Millisecond

// Watcher monitors the config file and reloads it asynchronously.
// Consumers pull the latest snapshot with Current or subscribe to Updates.
type Watcher struct {
	path     string
	logger   logging.Logger
	debounce time.Duration
	onChange func(*Config)

	mu      sync.Mutex
	current *Config
	timer   *time.Timer
	watcher *fsnotify.Watcher

	updates  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// WatcherOption customizes watcher behavior.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets the debounce window for reloads.
func WithWatchDebounce(debounce time.Duration) WatcherOption {
	return func(w *Watcher) {
		if debounce > 0 {
			w.debounce = debounce
		}
	}
}

// WithWatchLogger sets the logger for watcher diagnostics.
func WithWatchLogger(logger logging.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logging.OrNop(logger)
	}
}

// WithOnChange registers a hook invoked with each successfully reloaded
// configuration.
func WithOnChange(fn func(*Config)) WatcherOption {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

// NewWatcher constructs a watcher for the config path. The initial
// snapshot is served until the first reload.
func NewWatcher(path string, initial *Config, opts ...WatcherOption) (*Watcher, error) {
	if initial == nil {
		return nil, fmt.Errorf("initial config required")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config path required")
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	path = filepath.Clean(path)

	w := &Watcher{
		path:     path,
		logger:   logging.OrNop(nil),
		debounce: defaultWatchDebounce,
		current:  initial,
		updates:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching the config file for changes.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsWatcher
	w.mu.Unlock()

	// Watch the directory, not the file: editors replace files by rename
	// and the new inode would otherwise escape the watch.
	dir := filepath.Dir(w.path)
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		w.mu.Lock()
		w.watcher = nil
		w.mu.Unlock()
		return err
	}

	async.Go(w.logger, "config.watch", w.watchLoop)
	if ctx != nil {
		async.Go(w.logger, "config.watch.ctx", func() {
			<-ctx.Done()
			w.Stop()
		})
	}
	return nil
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
			w.watcher = nil
		}
		w.mu.Unlock()
	})
}

// Current returns the latest loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Updates signals after each applied reload. The channel is coalescing;
// read Current for the snapshot.
func (w *Watcher) Updates() <-chan struct{} {
	return w.updates
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if filepath.Clean(event.Name) != w.path {
		return
	}
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous config: %v", err)
		return
	}

	w.mu.Lock()
	unchanged := reflect.DeepEqual(w.current, cfg)
	if !unchanged {
		w.current = cfg
	}
	w.mu.Unlock()
	if unchanged {
		return
	}

	w.logger.Info("Config reloaded from %s", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
	select {
	case w.updates <- struct{}{}:
	default:
	}
}
