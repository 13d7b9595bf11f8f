// Package watch detects "source has new content" for local and remote logs.
// Watchers post events onto a channel they own; consumers read the channel
// instead of receiving callbacks, which keeps reentrancy out of the picture.
package watch

import "context"

// EventKind says what a watcher observed.
type EventKind int

const (
	// EventChange means the source probably has new or changed content.
	EventChange EventKind = iota
	// EventDegraded means consecutive probe errors crossed the threshold.
	// Polling continues at the widened interval; not fatal.
	EventDegraded
)

// Event is a change notification. Events carry no payload beyond their
// kind: the facade re-reads the source to learn what actually happened.
type Event struct {
	Kind EventKind
	Err  error // last probe error, set for EventDegraded
}

// Watcher runs a background change detector. Exactly two implementations
// exist: LocalWatcher (event-driven) and RemotePoller (timer-driven).
type Watcher interface {
	// Start launches the watcher and returns its event channel. The
	// channel is closed when the watcher stops.
	Start(ctx context.Context) (<-chan Event, error)

	// Stop terminates the watcher. No events are delivered after Stop
	// returns; an in-flight probe is abandoned, never waited on.
	Stop()
}
