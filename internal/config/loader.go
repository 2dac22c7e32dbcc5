package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"slotd/internal/logging"
)

// Loader loads the configuration and optionally watches the file for
// changes, reloading and notifying callbacks. Timing and logging settings
// take effect at the next session; ports and storage need a restart.
type Loader struct {
	path     string
	mu       sync.RWMutex
	config   *Config
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewLoader creates a configuration loader for the given path.
func NewLoader(path string) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{path: path, ctx: ctx, cancel: cancel}
}

// Load reads and validates the configuration file.
func (l *Loader) Load() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the most recently loaded configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers a callback invoked after a successful reload.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts watching the configuration file's directory for changes.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	l.watcher = watcher

	// Watch the directory so editor save-via-rename is seen.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return err
	}

	l.done = make(chan struct{})
	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	defer close(l.done)

	// Debounce: editors produce bursts of events per save.
	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-l.ctx.Done():
			return

		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(l.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("config watch error", "err", err)

		case <-reload:
			cfg, err := Load(l.path)
			if err != nil {
				logging.Warn("config reload failed, keeping previous", "err", err)
				continue
			}
			l.mu.Lock()
			l.config = cfg
			callbacks := make([]func(*Config), len(l.onChange))
			copy(callbacks, l.onChange)
			l.mu.Unlock()

			logging.Info("config reloaded", "path", l.path)
			for _, fn := range callbacks {
				fn(cfg)
			}
		}
	}
}

// Close stops watching.
func (l *Loader) Close() {
	l.cancel()
	if l.watcher != nil {
		l.watcher.Close()
		<-l.done
	}
}
