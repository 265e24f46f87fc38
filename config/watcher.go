package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"ratchetBot/internal/ports"
)

// Watcher re-loads the env file when it changes and publishes valid snapshots.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   ports.Logger
	load     func(path string) (*Config, error)

	fsw     *fsnotify.Watcher
	updates chan *Config
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Path     string
	Debounce time.Duration // Default 500ms
	Logger   ports.Logger
}

// NewWatcher starts watching the directory of cfg.Path. Editors often replace files on save,
// so the directory is watched and events are filtered by name.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for config watcher")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("config watcher needs a file path: %w", ports.ErrConfigurationError)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		load:     Reload,
		fsw:      fsw,
		updates:  make(chan *Config, 1),
	}, nil
}

// Updates delivers each new valid snapshot. Only the latest unread snapshot is kept.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Run processes file events until ctx is done. It closes the watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	op := "ConfigWatcher"
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
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, op+": File watcher error", map[string]interface{}{"error": err.Error()})

		case <-fire:
			fire = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	op := "ConfigWatcher"
	cfg, err := w.load(w.path)
	if err != nil {
		w.logger.Error(ctx, err, op+": Ignoring invalid configuration", map[string]interface{}{"path": w.path})
		return
	}
	w.publish(cfg)
	w.logger.Info(ctx, op+": Configuration reloaded", map[string]interface{}{
		"path":          w.path,
		"stopLossPct":   cfg.StopLossPercent,
		"maxOpenTrades": cfg.MaxOpenTrades,
		"quoteAssets":   cfg.QuoteAssets,
	})
}

// publish replaces any unread snapshot with cfg.
func (w *Watcher) publish(cfg *Config) {
	for {
		select {
		case w.updates <- cfg:
			return
		default:
		}
		select {
		case <-w.updates:
		default:
		}
	}
}
