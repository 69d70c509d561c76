package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a pricing file into a Table when the file changes on
// disk. Reloads go through Table.Update, so the table stays append-only
// and price history is preserved across reloads.
//
// Writes are debounced: editors and config-management tools often emit
// several events per save, and only the last state of the file matters.
type Watcher struct {
	table    *Table
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher that feeds path into table. A zero
// debounce defaults to 200ms.
func NewWatcher(table *Table, path string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{
		table:    table,
		path:     path,
		debounce: debounce,
		logger:   slog.Default().With("component", "pricing.watcher"),
	}
}

// Watch blocks until ctx is cancelled, reloading the pricing file on
// change. The watch is registered on the parent directory so that
// rename-into-place updates (the common atomic-write pattern) are seen.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	w.logger.Info("pricing watcher started",
		"path", w.path,
		"debounce_ms", w.debounce.Milliseconds(),
	)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("pricing watcher stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("pricing watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	entries, err := LoadFile(w.path)
	if err != nil {
		// Keep serving the previous table on a bad file.
		w.logger.Error("pricing reload failed", "path", w.path, "error", err)
		return
	}

	version, err := w.table.Update(entries...)
	if err != nil {
		w.logger.Error("pricing update rejected", "path", w.path, "error", err)
		return
	}

	w.logger.Info("pricing reloaded", "path", w.path, "entries", len(entries), "version", version)
}
