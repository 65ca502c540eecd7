package routes

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	applog "github.com/devhost-sh/devhost/internal/log"
)

// watchPollInterval is how often Watch looks for a config file that did not
// exist when it started.
const watchPollInterval = 500 * time.Millisecond

// Watch invalidates the cache whenever the active config file is written.
// It watches the containing directory rather than the file itself so that
// editor rename-and-replace saves are still seen. If no config file exists
// yet, Watch waits for one to appear before attaching. The TTL path keeps
// working if the watcher cannot start, so failures here only cost freshness.
func (c *Cache) Watch(ctx context.Context) error {
	path := c.awaitConfig(ctx)
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	applog.Debug("watching route config", "dir", dir, "file", path)

	base := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("config watcher events channel closed")
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			applog.Debug("route config changed on disk", "event", event.Op.String())
			c.Invalidate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("config watcher errors channel closed")
			}
			applog.Warn("config watcher error", "err", err)
		}
	}
}

// awaitConfig blocks until a config file exists somewhere on the candidate
// list, or ctx is canceled (returning ""). A file created after startup is
// loaded promptly via Invalidate instead of waiting out the TTL.
func (c *Cache) awaitConfig(ctx context.Context) string {
	if path := c.ActivePath(); path != "" {
		return path
	}

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ""
		case <-ticker.C:
			if path := c.ActivePath(); path != "" {
				c.Invalidate()
				return path
			}
		}
	}
}
