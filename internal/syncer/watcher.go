package syncer

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const watchDebounce = 500 * time.Millisecond

// FileWatcher notices external writes to the local data file and reports
// them through a debounced callback. The parent directory is watched rather
// than the file itself so atomic rename-into-place writes are seen.
type FileWatcher struct {
	path string
	log  zerolog.Logger

	// OnChange fires after writes to the data file settle.
	OnChange func()
}

func NewFileWatcher(path string, log zerolog.Logger) *FileWatcher {
	return &FileWatcher{
		path: path,
		log:  log.With().Str("component", "filewatcher").Logger(),
	}
}

// Run watches until the context is cancelled.
func (w *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.log.Info().Str("path", w.path).Msg("watching data file for external changes")

	var debounce *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			w.log.Debug().Msg("data file changed on disk")
			if w.OnChange != nil {
				w.OnChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("file watch error")
		}
	}
}
