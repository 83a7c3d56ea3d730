package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ProvidersWatcher polls providers.yaml and hands each new version to Apply.
type ProvidersWatcher struct {
	Path     string
	Interval time.Duration

	// Apply stores a parsed config. When it fails the version stays pending and
	// is offered again on the next tick.
	Apply func(ctx context.Context, cfg *ProvidersConfig) error
	// OnError, if set, is told about every reload that did not take effect.
	OnError func(err error)
	Logger  zerolog.Logger

	applied fileStamp
}

type fileStamp struct {
	mod  time.Time
	size int64
}

func (s fileStamp) same(o fileStamp) bool {
	return s.size == o.size && s.mod.Equal(o.mod)
}

// Start applies the current file and then polls in the background until ctx is done.
// A file that cannot be loaded or applied at startup is an error.
func (w *ProvidersWatcher) Start(ctx context.Context) error {
	if w.Path == "" {
		w.Path = "configs/providers.yaml"
	}
	if w.Interval <= 0 {
		w.Interval = 30 * time.Second
	}
	if w.Apply == nil {
		return fmt.Errorf("providers watcher: Apply is required")
	}

	if _, err := w.check(ctx, true); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

func (w *ProvidersWatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := w.check(ctx, false)
			if err != nil {
				w.Logger.Warn().Err(err).Str("path", w.Path).Msg("providers config reload failed")
				if w.OnError != nil {
					w.OnError(err)
				}
				continue
			}
			if changed {
				w.Logger.Info().Str("path", w.Path).Msg("providers config reloaded")
			}
		}
	}
}

// check reports whether a new version was applied. Any change of mtime or size
// counts, so restoring an older file is picked up too.
func (w *ProvidersWatcher) check(ctx context.Context, force bool) (bool, error) {
	info, err := os.Stat(w.Path)
	if err != nil {
		return false, fmt.Errorf("stat providers config: %w", err)
	}
	stamp := fileStamp{mod: info.ModTime(), size: info.Size()}
	if !force && stamp.same(w.applied) {
		return false, nil
	}

	cfg, err := LoadProvidersConfig(w.Path)
	if err != nil {
		// Not retried until the file changes again.
		w.applied = stamp
		return false, err
	}
	if err := w.Apply(ctx, cfg); err != nil {
		return false, fmt.Errorf("apply providers config: %w", err)
	}
	w.applied = stamp
	return true, nil
}
