package agents

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the registry whenever its file is changed on disk, until ctx
// is done. The directory is watched rather than the file so editors that
// replace the file on save are picked up.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create registry watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(r.path)
	if err != nil {
		return fmt.Errorf("resolve registry path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch registry directory: %w", err)
	}

	r.log.Info().Msg("Watching agent registry for changes")

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil || name != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(reloadDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("Agent registry watcher error")

		case <-timer.C:
			if _, err := r.Reload(); err != nil {
				r.log.Error().Err(err).Msg("Agent registry reload failed, keeping previous agents")
			}
		}
	}
}
