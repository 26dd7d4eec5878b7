package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/keystone/pkg/observability"
)

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch observes the YAML file at path and calls onChange with each freshly
// loaded, valid configuration. Invalid edits are logged and ignored. The
// directory is watched rather than the file so editors that replace the file
// (rename over) are still seen.
func Watch(path string, logger *observability.Logger, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{watcher: fw, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(abs)
				if err != nil {
					logger.WithError(err).Warn("Ignoring invalid config change")
					continue
				}
				logger.WithField("path", abs).Info("Configuration reloaded")
				onChange(cfg)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Config watcher error")
			}
		}
	}()

	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

// LogLevelReloader returns an onChange callback that applies the reloaded
// log level to logger.
func LogLevelReloader(logger *observability.Logger) func(*Config) {
	return func(cfg *Config) {
		logger.SetLevel(cfg.Observability.Level())
	}
}
