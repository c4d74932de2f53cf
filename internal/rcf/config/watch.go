package config

import (
	"context"
	"encoding/json"
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcflog"
)

// Reloadable is the subset of a running forest that a config hot
// reload is allowed to touch after construction, per SPEC_FULL.md
// section 9: SampleSize/Dimensions/NumTrees pick the NodeStore width
// tier once and never change afterward.
type Reloadable interface {
	SetCacheFraction(fraction float64)
}

// Watch watches path for writes and, on each one, re-reads the file
// and applies its BoundingBoxCacheFraction to target; no other field
// of the reloaded file is applied.
// It runs until ctx is cancelled. Malformed or invalid files are
// logged and ignored rather than applied, so a bad edit never takes
// down a running forest.
func Watch(ctx context.Context, path string, target Reloadable, logger rcflog.Logger) error {
	if logger == nil {
		logger = rcflog.Noop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()

		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				applyReload(path, target, logger)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}

				logger.Warn("config: watch error on %s: %v", path, err)
			}
		}
	}()

	return nil
}

func applyReload(path string, target Reloadable, logger rcflog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("config: reload read failed for %s: %v", path, err)

		return
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warn("config: reload parse failed for %s: %v", path, err)

		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Warn("config: reload validation failed for %s: %v", path, err)

		return
	}

	target.SetCacheFraction(cfg.BoundingBoxCacheFraction)
	logger.Info("config: reloaded %s (bounding_box_cache_fraction=%v)", path, cfg.BoundingBoxCacheFraction)
}
