package profile

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher invalidates a Loader's cache when profile or ability files change
// on disk. Events are coalesced with a short quiet window so editors that
// write in bursts trigger a single rescan.
type Watcher struct {
	loader  *Loader
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
	quiet   time.Duration
}

// NewWatcher starts watching the loader's directories. Directories that do
// not exist yet are skipped; call Close to stop.
func NewWatcher(loader *Loader, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		loader:  loader,
		logger:  logger,
		watcher: fw,
		quiet:   200 * time.Millisecond,
	}

	for _, dir := range []string{loader.agentsDir, loader.abilitiesDir} {
		if err := fw.Add(dir); err != nil {
			logger.Debug().Err(err).Str("dir", dir).Msg("not watching directory")
		}
	}
	return w, nil
}

// Run processes filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.quiet)
				fire = timer.C
			} else {
				timer.Reset(w.quiet)
			}
		case <-fire:
			timer = nil
			fire = nil
			w.logger.Debug().Msg("profile files changed, invalidating cache")
			w.loader.Invalidate()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("profile watcher error")
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
