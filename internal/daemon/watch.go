package daemon

import (
	"context"
	"log/slog"

	"github.com/kevinmichaelchen/ixchel/internal/watcher"
)

// WatchRepo starts an optional file watcher on repoRoot and enqueues a
// sync on every coalesced batch of changes, until ctx is cancelled.
// Bursts of file events collapse into the watcher's own debounce window
// and then into at most one queued job per {repo_root,tool} via
// EnqueueSync's coalescing (spec.md §5 "bursts of enqueue_sync from
// watchers or editors collapse to at most one queued job per repo").
func (d *Daemon) WatchRepo(ctx context.Context, repoRoot string) error {
	w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = w.Stop()
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-w.Events():
				if !ok {
					return
				}
				d.onWatchBatch(repoRoot, batch)
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				slog.Warn("watcher error", slog.String("repo_root", repoRoot), slog.String("error", err.Error()))
			}
		}
	}()

	return w.Start(ctx, repoRoot)
}

func (d *Daemon) onWatchBatch(repoRoot string, batch []watcher.FileEvent) {
	if len(batch) == 0 {
		return
	}
	result, err := d.EnqueueSync(EnqueueSyncParams{RepoRoot: repoRoot, Tool: "watcher"})
	if err != nil {
		slog.Warn("watch-triggered enqueue_sync failed",
			slog.String("repo_root", repoRoot), slog.String("error", err.Error()))
		return
	}
	slog.Debug("watch-triggered sync enqueued",
		slog.String("repo_root", repoRoot),
		slog.String("sync_id", result.SyncID),
		slog.Int("events", len(batch)),
		slog.Bool("coalesced", result.Coalesced))
}
