package sshpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	runs    []string
	closed  bool
	fail    bool
	payload []byte
}

func (c *fakeClient) Run(ctx context.Context, command string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, command)
	if c.fail {
		return nil, errors.New("command failed")
	}
	return c.payload, nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestPool(t *testing.T, dial DialFunc, idle time.Duration) *Pool {
	t.Helper()
	p := New(Options{
		Dial:        dial,
		IdleTimeout: idle,
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(p.Close)
	return p
}

func countingDialer(clients *[]*fakeClient) DialFunc {
	var mu sync.Mutex
	return func(ctx context.Context, user, addr string) (Client, error) {
		mu.Lock()
		defer mu.Unlock()
		c := &fakeClient{payload: []byte("ok\n")}
		*clients = append(*clients, c)
		return c, nil
	}
}

func TestAcquireReusesConnectionForSameTarget(t *testing.T) {
	var clients []*fakeClient
	p := newTestPool(t, countingDialer(&clients), time.Minute)

	ctx := context.Background()
	a, err := p.Acquire(ctx, "deploy", "host1", 22)
	require.NoError(t, err)
	b, err := p.Acquire(ctx, "deploy", "host1", 22)
	require.NoError(t, err)

	assert.Len(t, clients, 1, "same target must share one connection")
	assert.Equal(t, 2, p.Refs("deploy", "host1", 22))

	a.Release()
	assert.Equal(t, 1, p.Refs("deploy", "host1", 22))
	assert.False(t, clients[0].isClosed(), "connection must survive while referenced")

	b.Release()
	assert.Equal(t, 0, p.Refs("deploy", "host1", 22))
	assert.False(t, clients[0].isClosed(), "release keeps the entry pooled for reuse")
}

func TestAcquireSeparateTargetsSeparateConnections(t *testing.T) {
	var clients []*fakeClient
	p := newTestPool(t, countingDialer(&clients), time.Minute)

	ctx := context.Background()
	_, err := p.Acquire(ctx, "deploy", "host1", 22)
	require.NoError(t, err)
	_, err = p.Acquire(ctx, "deploy", "host2", 22)
	require.NoError(t, err)
	_, err = p.Acquire(ctx, "deploy", "host1", 2222)
	require.NoError(t, err)

	assert.Len(t, clients, 3)
}

func TestFailedCommandMarksEntryUnhealthy(t *testing.T) {
	var clients []*fakeClient
	p := newTestPool(t, countingDialer(&clients), time.Minute)

	ctx := context.Background()
	conn, err := p.Acquire(ctx, "deploy", "host1", 22)
	require.NoError(t, err)

	clients[0].fail = true
	_, err = conn.Run(ctx, "cat /var/log/app.log")
	require.Error(t, err)
	conn.Release()

	// The next Acquire must redial instead of handing out the dead entry.
	_, err = p.Acquire(ctx, "deploy", "host1", 22)
	require.NoError(t, err)
	assert.Len(t, clients, 2)
}

func TestRunRedialsAfterTransientFailure(t *testing.T) {
	var clients []*fakeClient
	p := newTestPool(t, countingDialer(&clients), time.Minute)

	ctx := context.Background()
	conn, err := p.Acquire(ctx, "deploy", "host1", 22)
	require.NoError(t, err)

	clients[0].fail = true
	_, err = conn.Run(ctx, "cat /var/log/app.log")
	require.Error(t, err)
	clients[0].fail = false

	// The same borrowed handle must recover on a fresh connection once
	// the fault clears.
	out, err := conn.Run(ctx, "cat /var/log/app.log")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok\n"), out)
	require.Len(t, clients, 2)
	assert.True(t, clients[0].isClosed(), "displaced connection must be torn down")
	assert.Equal(t, 1, p.Refs("deploy", "host1", 22))

	conn.Release()
	assert.Equal(t, 0, p.Refs("deploy", "host1", 22))
}

func TestReleaseAfterRedialKeepsReplacementReferenced(t *testing.T) {
	var clients []*fakeClient
	p := newTestPool(t, countingDialer(&clients), time.Minute)

	ctx := context.Background()
	a, err := p.Acquire(ctx, "deploy", "host1", 22)
	require.NoError(t, err)

	clients[0].fail = true
	_, err = a.Run(ctx, "true")
	require.Error(t, err)

	// B displaces the dead entry with a fresh connection while A still
	// holds the old one.
	b, err := p.Acquire(ctx, "deploy", "host1", 22)
	require.NoError(t, err)
	require.Len(t, clients, 2)

	// A's release must hit the entry it borrowed, not B's replacement.
	a.Release()
	assert.Equal(t, 1, p.Refs("deploy", "host1", 22))
	assert.True(t, clients[0].isClosed(), "displaced connection closes once unreferenced")
	assert.False(t, clients[1].isClosed())

	// The replacement survives a sweep while B still holds it.
	p.evictIdle(time.Now().Add(2 * time.Minute))
	assert.False(t, clients[1].isClosed())

	_, err = b.Run(ctx, "true")
	require.NoError(t, err)
	b.Release()
}

func TestIdleEviction(t *testing.T) {
	var clients []*fakeClient
	p := newTestPool(t, countingDialer(&clients), time.Minute)

	ctx := context.Background()
	conn, err := p.Acquire(ctx, "deploy", "host1", 22)
	require.NoError(t, err)
	conn.Release()

	// Referenced entries are never evicted, idle ones past the timeout are.
	p.evictIdle(time.Now().Add(2 * time.Minute))
	assert.True(t, clients[0].isClosed())
	assert.Equal(t, 0, p.Refs("deploy", "host1", 22))
}

func TestEvictionSkipsReferencedEntries(t *testing.T) {
	var clients []*fakeClient
	p := newTestPool(t, countingDialer(&clients), time.Minute)

	_, err := p.Acquire(context.Background(), "deploy", "host1", 22)
	require.NoError(t, err)

	p.evictIdle(time.Now().Add(2 * time.Minute))
	assert.False(t, clients[0].isClosed())
}

func TestAcquireAfterClose(t *testing.T) {
	var clients []*fakeClient
	p := New(Options{Dial: countingDialer(&clients), Logger: zerolog.Nop()})
	p.Close()

	_, err := p.Acquire(context.Background(), "deploy", "host1", 22)
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestCloseTearsDownConnections(t *testing.T) {
	var clients []*fakeClient
	p := New(Options{Dial: countingDialer(&clients), Logger: zerolog.Nop()})

	conn, err := p.Acquire(context.Background(), "deploy", "host1", 22)
	require.NoError(t, err)
	p.Close()

	assert.True(t, clients[0].isClosed())
	_, err = conn.Run(context.Background(), "true")
	require.Error(t, err)
}

func TestRunAfterRelease(t *testing.T) {
	var clients []*fakeClient
	p := newTestPool(t, countingDialer(&clients), time.Minute)

	conn, err := p.Acquire(context.Background(), "deploy", "host1", 22)
	require.NoError(t, err)
	conn.Release()

	_, err = conn.Run(context.Background(), "true")
	require.Error(t, err)
}

func TestReleaseEnforcesIdleCap(t *testing.T) {
	var clients []*fakeClient
	p := New(Options{
		Dial:        countingDialer(&clients),
		IdleTimeout: time.Minute,
		MaxIdle:     1,
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(p.Close)

	ctx := context.Background()
	a, err := p.Acquire(ctx, "deploy", "host1", 22)
	require.NoError(t, err)
	b, err := p.Acquire(ctx, "deploy", "host2", 22)
	require.NoError(t, err)
	c, err := p.Acquire(ctx, "deploy", "host3", 22)
	require.NoError(t, err)

	// Releasing all three leaves only the most recently used pooled.
	a.Release()
	b.Release()
	c.Release()

	closed := 0
	for _, cl := range clients {
		if cl.isClosed() {
			closed++
		}
	}
	assert.Equal(t, 2, closed)

	// A referenced connection never counts against the cap.
	d, err := p.Acquire(ctx, "deploy", "host4", 22)
	require.NoError(t, err)
	require.Equal(t, 1, p.Refs("deploy", "host4", 22))
	d.Release()
}
