package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// LoadDirectory parses every *.xml file in dir as one catalog version and
// returns the assembled VersionedCatalog. Files are loaded in name order;
// duplicate effective dates fail the load.
func LoadDirectory(dir string) (*VersionedCatalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".xml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	vc := &VersionedCatalog{}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		snap, err := ParseXML(data)
		if err != nil {
			return nil, err
		}
		if err := vc.Add(snap); err != nil {
			return nil, err
		}
	}
	return vc, nil
}

// Watcher hot-loads new catalog versions dropped into a directory. Malformed
// or duplicate files are logged and skipped; the previously loaded versions
// stay in effect.
type Watcher struct {
	dir      string
	catalog  *VersionedCatalog
	logger   *slog.Logger
	onReload func(*Snapshot)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// WithReloadCallback registers a callback invoked after each successfully
// loaded version.
func WithReloadCallback(fn func(*Snapshot)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher creates a watcher feeding new versions from dir into vc.
func NewWatcher(vc *VersionedCatalog, dir string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:     dir,
		catalog: vc,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch blocks processing filesystem events until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close() //nolint:errcheck // best-effort close on shutdown

	if err := fw.Add(w.dir); err != nil {
		return err
	}

	w.logger.Info("watching catalog directory", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".xml") {
				continue
			}
			w.load(event.Name)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("catalog watcher error", "error", err)
		}
	}
}

func (w *Watcher) load(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Error("failed to read catalog file", "path", path, "error", err)
		return
	}

	snap, err := ParseXML(data)
	if err != nil {
		w.logger.Error("failed to parse catalog file", "path", path, "error", err)
		return
	}

	if err := w.catalog.Add(snap); err != nil {
		w.logger.Warn("catalog version not added", "path", path, "error", err)
		return
	}

	w.logger.Info("catalog version loaded",
		"path", path,
		"catalog", snap.Name,
		"effective_date", snap.EffectiveDate,
	)

	if w.onReload != nil {
		w.onReload(snap)
	}
}
