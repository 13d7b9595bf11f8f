package engine

import "fmt"

// NoticeKind classifies an out-of-band condition the viewer should surface
// without treating it as fatal.
type NoticeKind int

const (
	// NoticeSourceTruncated means the source shrank or was replaced and
	// the visible content restarted from the beginning.
	NoticeSourceTruncated NoticeKind = iota
	// NoticeWatcherDegraded means change detection is failing repeatedly;
	// polling continues at the maximum interval.
	NoticeWatcherDegraded
	// NoticeRemoteUnavailable means a remote read exhausted its retries.
	// The last good content stays visible.
	NoticeRemoteUnavailable
)

// Notice is a condition attached to a refresh result.
type Notice struct {
	Kind NoticeKind
	Err  error
}

func (n *Notice) String() string {
	switch n.Kind {
	case NoticeSourceTruncated:
		return "log truncated, restarting from beginning"
	case NoticeWatcherDegraded:
		return fmt.Sprintf("change detection degraded: %v", n.Err)
	case NoticeRemoteUnavailable:
		return fmt.Sprintf("remote unavailable: %v", n.Err)
	default:
		return "unknown notice"
	}
}
