package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watch reloads the Manager whenever its backing file is rewritten, until
// ctx is canceled. Reload errors (including a reboot-only key change) are
// logged and the previous configuration is kept in effect.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := m.Reload(); err != nil {
					log.Errorf("config: reload after %s: %v", event.Name, err)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("config: watcher error: %v", err)
			}
		}
	}()
	return nil
}
