package alert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/linnemanlabs/go-core/log"
	"gopkg.in/yaml.v3"
)

const reloadDebounce = 500 * time.Millisecond

// seedFile is the on-disk layout of a seed alert file.
//
//	alerts:
//	  - id: evt_001
//	    alert: Brute force attack detected
//	    location: Moscow, RU
//	    user_current_location: New York, US
//	    attempts: 45
//	    timestamp: 2026-01-02T15:04:05Z
type seedFile struct {
	Alerts []Alert `yaml:"alerts"`
}

// LoadSeeds reads seed alerts from a YAML file. Alerts without a timestamp get
// now; alerts without an ID or with negative attempts are rejected.
func LoadSeeds(path string, now time.Time) ([]Alert, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator config
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	var errs []error
	out := make([]Alert, 0, len(sf.Alerts))
	for i, a := range sf.Alerts {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("seed alert %d: id is required", i))
			continue
		}
		if a.Attempts < 0 {
			errs = append(errs, fmt.Errorf("seed alert %s: attempts must be >= 0", a.ID))
			continue
		}
		if a.Timestamp.IsZero() {
			a.Timestamp = now.UTC()
		}
		out = append(out, a)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Watcher reloads a seed file on change and appends alerts with new IDs to the
// feed. Alerts already in the feed are never replaced.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	feed    *Feed
	logger  log.Logger
}

// NewWatcher watches the directory holding path so editor rename-and-replace
// saves are still seen.
func NewWatcher(path string, feed *Feed, logger log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.Nop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve seed path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		watcher: fw,
		path:    abs,
		feed:    feed,
		logger:  logger,
	}, nil
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			w.Reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "seed watcher error", "error", err)
		}
	}
}

// Reload reads the seed file once and returns how many alerts were added.
func (w *Watcher) Reload(ctx context.Context) int {
	seeds, err := LoadSeeds(w.path, time.Now())
	if err != nil {
		w.logger.Error(ctx, err, "seed reload failed", "path", w.path)
		return 0
	}
	added := 0
	for i := len(seeds) - 1; i >= 0; i-- {
		if w.feed.AddIfAbsent(seeds[i]) {
			added++
		}
	}
	if added > 0 {
		w.logger.Info(ctx, "seed alerts added", "path", w.path, "added", added)
	}
	return added
}
