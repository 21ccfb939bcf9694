package registry

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/jingkaihe/routelet/pkg/logger"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the registry when manifest directories change. Each reload
// builds a fresh snapshot; consumers swap the pointer and in-flight dispatches
// keep reading the snapshot they started with.
type Watcher struct {
	dirs     []string
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period collapsed into a single reload
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a watcher over the given manifest directories. Missing
// directories are skipped; at least one must be watchable.
func NewWatcher(dirs []string, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	w := &Watcher{
		dirs:     dirs,
		debounce: defaultDebounce,
		fsw:      fsw,
	}
	for _, opt := range opts {
		opt(w)
	}

	watched := 0
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			continue
		}
		watched++
	}
	if watched == 0 {
		fsw.Close()
		return nil, errors.New("no watchable manifest directories")
	}

	return w, nil
}

// Snapshots returns a channel delivering a fresh snapshot after each burst of
// manifest changes. The channel closes when ctx is cancelled. Load errors are
// logged; the snapshot still carries every handler that remained valid.
func (w *Watcher) Snapshots(ctx context.Context) <-chan *Snapshot {
	out := make(chan *Snapshot)

	go func() {
		defer close(out)
		defer w.fsw.Close()

		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(w.debounce)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(w.debounce)
				}
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				logger.G(ctx).WithError(err).Warn("manifest watch error")
			case <-timerC:
				timer = nil
				timerC = nil

				snap, loadErrs := Load(ctx, w.dirs...)
				for i := range loadErrs {
					logger.G(ctx).WithError(&loadErrs[i]).Warn("manifest rejected on reload")
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
