package extension

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/veyra/stitchd/errors"
	"github.com/veyra/stitchd/logger"
	"github.com/veyra/stitchd/provider"
)

// ReloadWatcher watches loaded extension module files and hot-swaps the
// registry binding when a module is rewritten on disk. Dispatches already
// holding the prior adapter complete against it; new lookups see the
// fresh instance.
type ReloadWatcher struct {
	host     *Host
	registry *provider.Registry
	watcher  *fsnotify.Watcher

	mu       sync.Mutex
	specs    map[string]Spec // module file path -> original load spec
	debounce time.Duration

	timerMu sync.Mutex
	timers  map[string]*time.Timer // pending debounce per module file path
}

// NewReloadWatcher creates a watcher bound to a host and registry.
func NewReloadWatcher(host *Host, registry *provider.Registry) (*ReloadWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	return &ReloadWatcher{
		host:     host,
		registry: registry,
		watcher:  fw,
		specs:    make(map[string]Spec),
		debounce: 500 * time.Millisecond,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Track watches the module file behind a loaded adapter. The original
// spec is replayed on change, with the alias pinned so the binding name
// stays stable across reloads.
func (w *ReloadWatcher) Track(adapter *Adapter, spec Spec) error {
	path := adapter.ModulePath()
	spec.Alias = adapter.Name()
	spec.FilePath = path
	spec.Module = ""
	spec.BaseDir = ""

	w.mu.Lock()
	_, already := w.specs[path]
	w.specs[path] = spec
	w.mu.Unlock()

	if already {
		return nil
	}
	if err := w.watcher.Add(path); err != nil {
		return errors.Wrapf(err, "watch module file %s", path)
	}
	return nil
}

// Start begins watching for module file changes until ctx is done.
func (w *ReloadWatcher) Start(ctx context.Context) {
	go w.watchLoop(ctx)
}

// Close stops the watcher.
func (w *ReloadWatcher) Close() error {
	return w.watcher.Close()
}

func (w *ReloadWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.scheduleReload(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Logger.Warnw("Extension watcher error", "error", err)
		}
	}
}

// scheduleReload debounces rapid successive writes to the same file. The
// fired timer removes itself from the map so entries do not accumulate.
func (w *ReloadWatcher) scheduleReload(ctx context.Context, path string) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.timerMu.Lock()
		delete(w.timers, path)
		w.timerMu.Unlock()
		w.reload(ctx, path)
	})
}

func (w *ReloadWatcher) reload(ctx context.Context, path string) {
	w.mu.Lock()
	spec, ok := w.specs[path]
	w.mu.Unlock()
	if !ok {
		return
	}

	adapter, err := w.host.Load(ctx, spec)
	if err != nil {
		// Keep the prior binding; a broken rewrite must not unregister
		// a working provider.
		logger.Logger.Errorw("Extension reload failed, keeping prior binding",
			"module", path,
			"error", err,
		)
		return
	}

	w.registry.Register(adapter.Name(), adapter)
	logger.Logger.Infow("Extension provider reloaded",
		"module", path,
		"name", adapter.Name(),
	)
}
