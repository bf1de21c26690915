package analysis

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounce window for editors that emit bursts of write events.
const reloadDebounce = 500 * time.Millisecond

// WatchRules reloads the rules file into the analyzer whenever it changes.
// It blocks until ctx is cancelled and is intended to run as a goroutine.
func WatchRules(ctx context.Context, path string, analyzer *Analyzer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops
	// a watch added on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	log.Info().Str("path", path).Msg("Watching analysis rules file")

	target := filepath.Clean(path)
	var pending *time.Timer
	pendingC := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, func() {
				select {
				case pendingC <- struct{}{}:
				default:
				}
			})

		case <-pendingC:
			rules, err := LoadRules(path)
			if err != nil {
				log.Error().Err(err).Str("path", path).Msg("Rules reload failed, keeping previous rules")
				continue
			}
			analyzer.SetRules(rules)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Rules watcher error")
		}
	}
}
