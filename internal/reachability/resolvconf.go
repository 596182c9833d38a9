package reachability

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// DefaultResolvConf is the resolver configuration watched on Linux hosts.
const DefaultResolvConf = "/etc/resolv.conf"

// Notifier receives raw change hints.
type Notifier interface {
	Notify(ctx context.Context)
}

// ResolvConfSource turns rewrites of the resolver configuration into raw
// observations. Network managers rewrite it on every link change, usually
// by rename, so the parent directory is watched and events are filtered
// by name.
type ResolvConfSource struct {
	Path   string
	Logger *slog.Logger
}

// Run watches until ctx is done. Every matching event calls n.Notify;
// the Monitor's debounce absorbs the burst.
func (s *ResolvConfSource) Run(ctx context.Context, n Notifier) error {
	path := s.Path
	if path == "" {
		path = DefaultResolvConf
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	name := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != name {
				continue
			}

			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}

			s.Logger.Debug("resolver configuration changed",
				slog.String("op", event.Op.String()),
			)
			n.Notify(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			s.Logger.Warn("resolver watch error", slog.String("error", err.Error()))
		}
	}
}
