package container

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Watch reports changes to external container files until ctx is done.
// paths maps a cleaned file path to its descriptor id. Parent directories are
// watched because editors and sync tools replace files by rename. Bursts of
// events for one file within debounce are coalesced into one callback.
func Watch(ctx context.Context, paths map[string]string, debounce time.Duration, log logging.Logger, onChange func(descriptorID string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dirs := make(map[string]struct{})
	for p := range paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for d := range dirs {
		if err := watcher.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}

	pending := make(map[string]*time.Timer)
	fire := make(chan string)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			id, known := paths[filepath.Clean(ev.Name)]
			if !known || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)) {
				continue
			}
			if t, ok := pending[id]; ok {
				t.Reset(debounce)
				continue
			}
			pending[id] = time.AfterFunc(debounce, func() {
				select {
				case fire <- id:
				case <-ctx.Done():
				}
			})
		case id := <-fire:
			delete(pending, id)
			onChange(id)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn(ctx, "container watcher error", "error", err)
		}
	}
}
