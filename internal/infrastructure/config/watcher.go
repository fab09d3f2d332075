package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/usagebill/backend/internal/domain/billing"
	"go.uber.org/zap"
)

// Watcher keeps the current configuration and policy snapshot and rebuilds
// them when the config file or the mapping file changes. A reload that
// fails validation keeps the previous snapshot.
type Watcher struct {
	v      *viper.Viper
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	cfg      atomic.Pointer[Config]
	policy   atomic.Pointer[billing.Policy]
	onReload []func(*Config)
}

// NewWatcher loads the configuration at path (or the default search path
// when empty) and builds the first policy snapshot
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{v: v, logger: logger, now: time.Now}
	if err := w.Reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Current returns the active policy snapshot
func (w *Watcher) Current() *billing.Policy {
	return w.policy.Load()
}

// Config returns the active configuration
func (w *Watcher) Config() *Config {
	return w.cfg.Load()
}

// OnReload registers fn to run after every successful reload
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// Reload rebuilds the configuration and policy from disk
func (w *Watcher) Reload() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cfg, err := fromViper(w.v)
	if err != nil {
		return err
	}
	policy, err := BuildPolicy(cfg, w.now())
	if err != nil {
		return fmt.Errorf("build policy: %w", err)
	}
	w.cfg.Store(cfg)
	w.policy.Store(policy)
	for _, fn := range w.onReload {
		fn(cfg)
	}
	return nil
}

// Watch follows the config file through viper and the mapping file through
// fsnotify until ctx is done
func (w *Watcher) Watch(ctx context.Context) error {
	if w.v.ConfigFileUsed() != "" {
		w.v.OnConfigChange(func(e fsnotify.Event) {
			w.reload("config", e.Name)
		})
		w.v.WatchConfig()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create mapping watcher: %w", err)
	}
	defer fw.Close()

	mapping, err := filepath.Abs(w.Config().Pipeline.MappingFile)
	if err != nil {
		return err
	}
	// editors replace files by rename, so the directory is watched
	if err := fw.Add(filepath.Dir(mapping)); err != nil {
		return fmt.Errorf("watch mapping directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != mapping {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.reload("mapping", event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Mapping watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(kind, file string) {
	if err := w.Reload(); err != nil {
		w.logger.Error("Configuration reload failed, keeping previous snapshot",
			zap.String("kind", kind),
			zap.String("file", file),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("Configuration reloaded",
		zap.String("kind", kind),
		zap.String("file", file),
		zap.Time("loaded_at", w.Current().LoadedAt()),
	)
}
