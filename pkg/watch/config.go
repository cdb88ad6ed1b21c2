package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ja7ad/policyd/pkg/clock"
	"github.com/ja7ad/policyd/pkg/engine"
	"github.com/ja7ad/policyd/pkg/policy"
)

// ConfigWatcher reports edits of the policy file. It watches the parent
// directory so that editors and atomic savers replacing the file by
// rename are seen too. Bursts of events are coalesced by Debounce.
type ConfigWatcher struct {
	File     *policy.File
	Debounce time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

func (c *ConfigWatcher) Run(ctx context.Context, out chan<- engine.Event) error {
	log := orLogger(c.Logger)
	clk := orClock(c.Clock)
	debounce := orDuration(c.Debounce, DefaultDebounce)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	path := filepath.Clean(c.File.Path())
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		log.Warn("policy file watch disabled", "dir", dir, "err", err)
		return nil
	}
	log.Debug("watching policy file", "path", path)

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			fire = clk.After(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("policy file watch", "err", err)

		case <-fire:
			fire = nil
			s, rev, err := c.File.LoadRevision()
			if err != nil {
				log.Warn("policy file changed but could not be loaded", "path", path, "err", err)
				continue
			}
			if !emit(ctx, out, engine.ConfigChanged{Store: s, Revision: rev}) {
				return nil
			}
		}
	}
}
