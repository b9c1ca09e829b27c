package quirks

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the bursts of events editors produce on save
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the table whenever the file at path changes, until ctx is
// cancelled. The containing directory is watched so that files replaced by
// rename are picked up. A reload that fails keeps the previous quirks.
func (t *Table) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("quirks: create watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("quirks: watch %s: %w", path, err)
	}

	t.log.Info().Str("path", path).Msg("watching quirks file for changes")

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			t.log.Info().Str("path", path).Msg("quirks watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			t.log.Debug().Str("op", event.Op.String()).Msg("quirks file changed")

			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(reloadDebounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			if err := t.reload(path); err != nil {
				t.log.Error().Err(err).Msg("quirks reload failed, keeping previous table")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.log.Warn().Err(err).Msg("quirks watcher error")
		}
	}
}
