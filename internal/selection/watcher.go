// Package selection - watcher.go provides QuantConfig file hot-reload support.
//
// The watcher polls the QuantConfig file for changes (stat-based, every 5
// seconds) and notifies registered callbacks when regime/sizing parameters
// change. Credentials, account numbers, and server selection are never
// reloadable — those require a process restart.
package selection

import (
	"log"
	"os"
	"sync"
	"time"
)

// QuantConfigWatcher monitors the QuantConfig YAML file for changes and
// invokes callbacks when it changes and passes validation.
type QuantConfigWatcher struct {
	path     string
	logger   *log.Logger
	mu       sync.RWMutex
	current  *QuantConfig
	lastMod  time.Time
	onChange []func(old, new *QuantConfig)
	done     chan struct{}
	stopped  bool
}

// NewQuantConfigWatcher creates a watcher for the given file path. The
// watcher does not start until Start is called.
func NewQuantConfigWatcher(path string, initial *QuantConfig, logger *log.Logger) *QuantConfigWatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &QuantConfigWatcher{
		path:    path,
		logger:  logger,
		current: initial,
		done:    make(chan struct{}),
	}
}

// OnChange registers a callback invoked whenever the file changes and the
// new config validates successfully.
func (w *QuantConfigWatcher) OnChange(fn func(old, new *QuantConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins polling in a background goroutine.
func (w *QuantConfigWatcher) Start() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.lastMod = info.ModTime()
	w.logger.Printf("[quant-config-watcher] watching %s (poll interval: 5s)", w.path)

	go w.pollLoop()
	return nil
}

// Stop stops the watcher. Safe to call multiple times.
func (w *QuantConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.done)
		w.logger.Println("[quant-config-watcher] stopped")
	}
}

// Current returns the most recently loaded valid config.
func (w *QuantConfigWatcher) Current() *QuantConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *QuantConfigWatcher) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

func (w *QuantConfigWatcher) checkForChanges() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Printf("[quant-config-watcher] stat error: %v", err)
		return
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}
	w.lastMod = info.ModTime()

	newCfg, err := Load(w.path)
	if err != nil {
		w.logger.Printf("[quant-config-watcher] reload error (keeping old config): %v", err)
		return
	}

	w.mu.RLock()
	oldCfg := w.current
	w.mu.RUnlock()

	if !quantConfigChanged(oldCfg, newCfg) {
		w.logger.Printf("[quant-config-watcher] file changed but no effective difference, skipping")
		return
	}

	w.logger.Printf("[quant-config-watcher] regime %s -> %s, max_stocks %d -> %d",
		oldCfg.Regime.Current, newCfg.Regime.Current,
		oldCfg.Active().MaxStocks, newCfg.Active().MaxStocks)

	w.mu.Lock()
	w.current = newCfg
	callbacks := make([]func(old, new *QuantConfig), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(oldCfg, newCfg)
	}
}

func quantConfigChanged(old, new *QuantConfig) bool {
	if old.Regime.Current != new.Regime.Current {
		return true
	}
	if old.Active() != new.Active() {
		return true
	}
	if old.Momentum != new.Momentum {
		return true
	}
	if old.PositionSizing != new.PositionSizing {
		return true
	}
	return false
}
