package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func waitForEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed before an event arrived")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a change event")
		return Event{}
	}
}

func TestLocalWatcherReportsAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0o644))

	w := NewLocalWatcher(path, 20*time.Millisecond, zerolog.Nop())
	events, err := w.Start(context.Background())
	require.NoError(t, err)
	defer w.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("two\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ev := waitForEvent(t, events)
	require.Equal(t, EventChange, ev.Kind)
}

func TestLocalWatcherCoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	w := NewLocalWatcher(path, 50*time.Millisecond, zerolog.Nop())
	events, err := w.Start(context.Background())
	require.NoError(t, err)
	defer w.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err = f.WriteString("line\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	waitForEvent(t, events)

	// The burst happened inside one debounce window; after draining the
	// single queued notification the channel must go quiet.
	select {
	case ev, ok := <-events:
		if ok {
			t.Fatalf("unexpected second event %v for a single burst", ev)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLocalWatcherSeesRecreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	w := NewLocalWatcher(path, 20*time.Millisecond, zerolog.Nop())
	events, err := w.Start(context.Background())
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, []byte("new\n"), 0o644))

	ev := waitForEvent(t, events)
	require.Equal(t, EventChange, ev.Kind)
}

func TestLocalWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	w := NewLocalWatcher(path, 20*time.Millisecond, zerolog.Nop())
	events, err := w.Start(context.Background())
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.log"), []byte("noise\n"), 0o644))

	select {
	case ev, ok := <-events:
		if ok {
			t.Fatalf("unexpected event %v for an unrelated file", ev)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func TestLocalWatcherStopClosesChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	w := NewLocalWatcher(path, 20*time.Millisecond, zerolog.Nop())
	events, err := w.Start(context.Background())
	require.NoError(t, err)

	w.Stop()
	for range events {
		t.Fatal("no event may arrive after Stop returns")
	}

	// Stop is idempotent.
	w.Stop()
}
