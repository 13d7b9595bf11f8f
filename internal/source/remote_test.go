package source

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalog/dalog/internal/sshpool"
)

// scriptedRunner answers remote commands from a canned content string, the
// way a cooperative remote shell would.
type scriptedRunner struct {
	content  string
	commands []string
	failN    int // fail the first N calls
}

func (s *scriptedRunner) Run(ctx context.Context, command string) ([]byte, error) {
	s.commands = append(s.commands, command)
	if s.failN > 0 {
		s.failN--
		return nil, errors.New("connection reset")
	}
	switch {
	case strings.HasPrefix(command, "stat -c %s"):
		return []byte(strconv.Itoa(len(s.content)) + "\n"), nil
	case strings.HasPrefix(command, "cat"):
		return []byte(s.content), nil
	}
	return nil, errors.New("unknown command: " + command)
}

func testRemoteReader(runner Runner) *RemoteReader {
	return newRemoteReader(
		Descriptor{Kind: KindRemote, User: "u", Host: "h", Port: 22, Path: "/var/log/app.log"},
		runner,
		1000,
		RemoteOptions{CommandTimeout: time.Second, MaxAttempts: 3, BackoffBase: time.Millisecond},
	)
}

func TestRemoteTail(t *testing.T) {
	runner := &scriptedRunner{content: "Line 1\nLine 2\nLine 3\n"}
	r := testRemoteReader(runner)

	lines, cur, err := r.Tail(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, LogLine{Content: "Line 1", Number: 1}, lines[0])
	assert.Equal(t, LogLine{Content: "Line 3", Number: 3}, lines[2])
	assert.Equal(t, 3, cur.Lines)
	assert.Equal(t, int64(21), cur.Size)
}

func TestRemoteTailKeepsNewestLines(t *testing.T) {
	runner := &scriptedRunner{content: "a\nb\nc\nd\ne\n"}
	r := testRemoteReader(runner)

	lines, cur, err := r.Tail(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, LogLine{Content: "d", Number: 4}, lines[0])
	assert.Equal(t, LogLine{Content: "e", Number: 5}, lines[1])
	assert.Equal(t, 5, cur.Lines)
	assert.Equal(t, int64(10), cur.Size)
	// The counters and the content must come from a single snapshot so
	// lines appended mid-read cannot skew the ordinals.
	require.Len(t, runner.commands, 1)
	assert.True(t, strings.HasPrefix(runner.commands[0], "cat"))
}

func TestRemoteCommandsAreQuoted(t *testing.T) {
	runner := &scriptedRunner{content: "x\n"}
	r := newRemoteReader(
		Descriptor{Kind: KindRemote, User: "u", Host: "h", Port: 22, Path: "/var/log/app log; rm -rf /"},
		runner, 10,
		RemoteOptions{CommandTimeout: time.Second, MaxAttempts: 1, BackoffBase: time.Millisecond},
	)

	_, _ = r.Probe(context.Background())
	require.NotEmpty(t, runner.commands)
	// The hostile path must arrive as a single quoted argument.
	assert.Contains(t, runner.commands[0], `'/var/log/app log; rm -rf /'`)
}

func TestRemoteReadFromNewLines(t *testing.T) {
	runner := &scriptedRunner{content: "a\nb\n"}
	r := testRemoteReader(runner)

	_, cur, err := r.Tail(context.Background(), 1000)
	require.NoError(t, err)

	runner.content = "a\nb\nc\nd\n"
	delta, err := r.ReadFrom(context.Background(), cur)
	require.NoError(t, err)
	assert.False(t, delta.Truncated)
	require.Len(t, delta.Lines, 2)
	assert.Equal(t, LogLine{Content: "c", Number: 3}, delta.Lines[0])
	assert.Equal(t, LogLine{Content: "d", Number: 4}, delta.Lines[1])

	again, err := r.ReadFrom(context.Background(), delta.Cursor)
	require.NoError(t, err)
	assert.Empty(t, again.Lines)
}

func TestRemoteReadFromShrunkFile(t *testing.T) {
	runner := &scriptedRunner{content: "a\nb\nc\nd\n"}
	r := testRemoteReader(runner)

	_, cur, err := r.Tail(context.Background(), 1000)
	require.NoError(t, err)

	runner.content = "fresh\n"
	delta, err := r.ReadFrom(context.Background(), cur)
	require.NoError(t, err)
	assert.True(t, delta.Truncated)
	require.Len(t, delta.Lines, 1)
	assert.Equal(t, LogLine{Content: "fresh", Number: 1}, delta.Lines[0])
}

func TestRemoteRetriesThenSucceeds(t *testing.T) {
	runner := &scriptedRunner{content: "a\n", failN: 2}
	r := testRemoteReader(runner)

	delta, err := r.ReadFrom(context.Background(), Cursor{})
	require.NoError(t, err)
	require.Len(t, delta.Lines, 1)
	assert.GreaterOrEqual(t, len(runner.commands), 3)
}

func TestRemoteUnavailableAfterRetries(t *testing.T) {
	runner := &scriptedRunner{content: "a\n", failN: 100}
	r := testRemoteReader(runner)

	_, err := r.ReadFrom(context.Background(), Cursor{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

// flakyClient serves scripted answers through the pool, or fails every
// command when dead, the way a dropped SSH connection would.
type flakyClient struct {
	runner *scriptedRunner
	dead   bool
}

func (c *flakyClient) Run(ctx context.Context, command string) ([]byte, error) {
	if c.dead {
		return nil, errors.New("broken pipe")
	}
	return c.runner.Run(ctx, command)
}

func (c *flakyClient) Close() error { return nil }

func TestRemoteReaderRecoversAfterConnectionDrop(t *testing.T) {
	script := &scriptedRunner{content: "a\nb\n"}
	var clients []*flakyClient
	pool := sshpool.New(sshpool.Options{
		Logger: zerolog.Nop(),
		Dial: func(ctx context.Context, user, addr string) (sshpool.Client, error) {
			c := &flakyClient{runner: script, dead: len(clients) == 0}
			clients = append(clients, c)
			return c, nil
		},
	})
	defer pool.Close()

	desc := Descriptor{Kind: KindRemote, User: "u", Host: "h", Port: 22, Path: "/var/log/app.log"}
	r, err := NewRemoteReader(context.Background(), desc, pool, 1000, RemoteOptions{
		CommandTimeout: time.Second,
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
	})
	require.NoError(t, err)
	defer r.Close()

	// The first connection dies on its first command. The retry loop must
	// come back on a fresh connection rather than fail for the lifetime
	// of the reader.
	lines, cur, err := r.Tail(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, 2, cur.Lines)
	require.Len(t, clients, 2)

	// Later reads keep using the replacement.
	delta, err := r.ReadFrom(context.Background(), cur)
	require.NoError(t, err)
	assert.Empty(t, delta.Lines)
	require.Len(t, clients, 2)
}

func TestRemoteProbe(t *testing.T) {
	runner := &scriptedRunner{content: "abcdef\n"}
	r := testRemoteReader(runner)

	sig, err := r.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, sig.Exists)
	assert.Equal(t, int64(7), sig.Size)
}
