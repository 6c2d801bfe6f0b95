package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/geekxflood/snmpgateway/logging"
)

// DefaultDebounce is the delay between a file event and the reload, letting
// editors finish writing.
const DefaultDebounce = 100 * time.Millisecond

// Options configure a Manager.
type Options struct {
	// Path is the configuration file. Empty means defaults only and no watching.
	Path     string
	Debounce time.Duration
	Logger   logging.Logger
}

// Manager holds the current configuration and reloads it when the file changes.
type Manager struct {
	path     string
	debounce time.Duration
	logger   logging.Logger

	mu        sync.RWMutex
	current   Gateway
	callbacks []func(Gateway, error)

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager loads the initial configuration.
func NewManager(opts Options) (*Manager, error) {
	cfg, err := Load(opts.Path)
	if err != nil {
		return nil, err
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewComponentLogger("config", "watcher")
	}

	path := opts.Path
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return &Manager{
		path:     path,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		current:  cfg,
	}, nil
}

// Config returns the current configuration.
func (m *Manager) Config() Gateway {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Path returns the watched file, or "" when running on defaults.
func (m *Manager) Path() string {
	return m.path
}

// OnChange registers fn to be called after every reload attempt. On error the
// previous configuration stays current and fn receives it with the error.
func (m *Manager) OnChange(fn func(Gateway, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Reload re-reads the file and notifies listeners.
func (m *Manager) Reload() (Gateway, error) {
	next, err := Load(m.path)

	m.mu.Lock()
	if err == nil {
		m.current = next
	}
	current := m.current
	callbacks := append(([]func(Gateway, error))(nil), m.callbacks...)
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("configuration reload failed, keeping previous configuration", "path", m.path, "error", err)
	} else {
		m.logger.Info("configuration reloaded", "path", m.path)
	}

	for _, fn := range callbacks {
		fn(current, err)
	}
	return current, err
}

// Watch starts watching the configuration file until ctx is done or Close is
// called. The parent directory is watched so atomic renames are seen.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return errors.New("no configuration file to watch")
	}

	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if m.watcher != nil {
		return errors.New("watch already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch config directory %s: %w", filepath.Dir(m.path), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.watcher = watcher
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.watch(ctx, watcher, m.done)

	m.logger.Info("watching configuration", "path", m.path)
	return nil
}

func (m *Manager) watch(ctx context.Context, watcher *fsnotify.Watcher, done chan<- struct{}) {
	defer close(done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != m.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(m.debounce)
			} else {
				timer.Reset(m.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			_, _ = m.Reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("file watcher error", "error", err)
		}
	}
}

// Close stops watching. It is safe to call more than once.
func (m *Manager) Close() error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if m.watcher == nil {
		return nil
	}

	m.cancel()
	err := m.watcher.Close()
	<-m.done

	m.watcher = nil
	m.cancel = nil
	return err
}
