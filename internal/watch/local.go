package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce collapses bursts of filesystem events into one change
// notification.
const DefaultDebounce = 100 * time.Millisecond

var _ Watcher = (*LocalWatcher)(nil)

// LocalWatcher watches a file through fsnotify. The parent directory is
// watched rather than the file itself so delete-and-recreate rotation still
// produces events for the tracked name.
type LocalWatcher struct {
	path     string
	debounce time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLocalWatcher creates a watcher for path. A zero debounce means
// DefaultDebounce.
func NewLocalWatcher(path string, debounce time.Duration, log zerolog.Logger) *LocalWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &LocalWatcher{path: filepath.Clean(path), debounce: debounce, log: log}
}

// Start begins watching. The returned channel delivers at most one pending
// change at a time; bursts within the debounce window collapse.
func (w *LocalWatcher) Start(ctx context.Context) (<-chan Event, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch: watch %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Event, 1)
	done := make(chan struct{})

	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go w.loop(ctx, fsw, events, done)
	return events, nil
}

func (w *LocalWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, events chan<- Event, done chan struct{}) {
	defer close(done)
	defer close(events)
	defer fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	pending := false

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Debounce: arm the timer on the first event of a burst.
			if !pending {
				pending = true
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			}

		case <-fire:
			pending = false
			fire = nil
			select {
			case events <- Event{Kind: EventChange}:
			default:
				// A change is already queued; one notification is
				// enough, the reader re-reads everything new anyway.
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Debug().Err(err).Str("path", w.path).Msg("fsnotify error")
		}
	}
}

// Stop terminates the watcher and waits for the event channel to close, so
// no event can be delivered after Stop returns.
func (w *LocalWatcher) Stop() {
	w.mu.Lock()
	if w.stopped || w.cancel == nil {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
}
