package heap

import (
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads the sizing configuration whenever its file
// changes, applying valid updates to the store and keeping the last
// good configuration when a reload fails. Updates take effect at the
// next scheduled evaluation, since the task reads the store once per
// run.
type ConfigWatcher struct {
	w      *fsnotify.Watcher
	path   string
	store  *ConfigStore
	logger *log.Logger
	done   chan struct{}
}

// NewConfigWatcher starts watching path. The file's directory is
// watched rather than the file itself so atomic rename-into-place
// writes (the common editor and config-management pattern) are seen.
func NewConfigWatcher(path string, store *ConfigStore, logger *log.Logger) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}
	if logger == nil {
		logger = log.New(os.Stderr, "heap-config: ", log.LstdFlags)
	}

	cw := &ConfigWatcher{
		w:      w,
		path:   abs,
		store:  store,
		logger: logger,
		done:   make(chan struct{}),
	}
	go cw.loop()
	return cw, nil
}

func (cw *ConfigWatcher) loop() {
	defer close(cw.done)
	for {
		select {
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != cw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cw.reload()
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			cw.logger.Printf("config watch error: %v", err)
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := LoadSizingConfig(cw.path)
	if err != nil {
		cw.logger.Printf("config reload rejected, keeping previous: %v", err)
		return
	}
	if err := cw.store.Update(cfg); err != nil {
		cw.logger.Printf("config update refused: %v", err)
		return
	}
	cw.logger.Printf("config updated to version %d: interval=%v delay=%v min_regions=%d enabled=%v",
		cw.store.Version(), cfg.EvaluationInterval, cfg.UncommitDelay, cfg.MinRegionsToUncommit, cfg.Enabled)
}

// Close stops the watcher and waits for its loop to exit.
func (cw *ConfigWatcher) Close() error {
	err := cw.w.Close()
	<-cw.done
	return err
}
