package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads the pipeline knobs when the config file changes.
// Only PipelineConfig is swapped at runtime; everything else requires a
// restart since it is wired into clients at startup.
type Watcher struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}

	mu       sync.RWMutex
	pipeline PipelineConfig
}

// NewWatcher creates a watcher seeded with the current pipeline config
func NewWatcher(initial PipelineConfig, logger *zap.Logger) (*Watcher, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "/app/config/unipost.yaml"
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     cfgPath,
		logger:   logger,
		watcher:  fw,
		stopCh:   make(chan struct{}),
		pipeline: initial,
	}

	// Watch the directory; editors replace files on save so watching the
	// file itself misses rename-based writes.
	if err := fw.Add(filepath.Dir(cfgPath)); err != nil {
		// Directory may not exist in env-only deployments
		logger.Warn("Config watch unavailable", zap.String("dir", filepath.Dir(cfgPath)), zap.Error(err))
	}

	go w.run()
	return w, nil
}

// Pipeline returns the current pipeline knobs
func (w *Watcher) Pipeline() PipelineConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pipeline
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	close(w.stopCh)
	_ = w.watcher.Close()
}

func (w *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce editor save storms
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load()
	if err != nil {
		w.logger.Error("Config reload failed, keeping previous values", zap.Error(err))
		return
	}

	w.mu.Lock()
	prev := w.pipeline
	w.pipeline = cfg.Pipeline
	w.mu.Unlock()

	w.logger.Info("Pipeline config reloaded",
		zap.Int("top_k", cfg.Pipeline.TopK),
		zap.Int("prev_top_k", prev.TopK),
		zap.Int("context_budget", cfg.Pipeline.ContextBudget),
	)
}
