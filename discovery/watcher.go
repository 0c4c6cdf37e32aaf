package discovery

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher marks engines stale when their executables change on disk. It
// watches the containing directories rather than the files themselves so
// that the write-to-temp-then-rename pattern used by linkers is caught.
type Watcher struct {
	log     log.Logger
	fsw     *fsnotify.Watcher
	engines map[string]*Engine // keyed by cleaned executable path
}

// NewWatcher registers the executables of all given engines.
func NewWatcher(logger log.Logger, engines []*Engine) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &Watcher{
		log:     logger,
		fsw:     fsw,
		engines: make(map[string]*Engine, len(engines)),
	}

	dirs := make(map[string]bool)
	for _, engine := range engines {
		path := filepath.Clean(engine.Runnable().Path)
		w.engines[path] = engine
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	return w, nil
}

// Run dispatches filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			engine, known := w.engines[filepath.Clean(event.Name)]
			if !known {
				continue
			}
			w.log.Debug("Executable changed on disk", "path", event.Name, "op", event.Op)
			engine.MarkStale()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("Watcher error", "err", err)
		}
	}
}
