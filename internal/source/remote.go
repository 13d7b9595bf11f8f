package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"

	"github.com/dalog/dalog/internal/sshpool"
)

// ErrRemoteUnavailable is surfaced after retries against a remote source
// are exhausted. It never terminates the process.
var ErrRemoteUnavailable = errors.New("remote source unavailable")

// Runner executes one remote command. *sshpool.Conn satisfies it; tests
// substitute a scripted implementation.
type Runner interface {
	Run(ctx context.Context, command string) ([]byte, error)
}

// RemoteOptions tunes remote command execution.
type RemoteOptions struct {
	// CommandTimeout bounds a single remote command.
	CommandTimeout time.Duration
	// MaxAttempts bounds retries of a failed command.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
	Logger      zerolog.Logger
}

const (
	defaultCommandTimeout = 30 * time.Second
	defaultMaxAttempts    = 3
	defaultBackoffBase    = 500 * time.Millisecond
)

// RemoteReader reads a log file over a pooled SSH connection. Remote byte
// offsets are not trusted across arbitrary shells, so incremental reads
// refetch the content in a single snapshot and diff by line count.
type RemoteReader struct {
	desc      Descriptor
	runner    Runner
	release   func()
	tailLimit int
	opts      RemoteOptions
	log       zerolog.Logger
}

// NewRemoteReader borrows a pooled connection for desc and returns a reader
// over it. Close releases the connection reference back to the pool.
func NewRemoteReader(ctx context.Context, desc Descriptor, pool *sshpool.Pool, tailLimit int, opts RemoteOptions) (*RemoteReader, error) {
	conn, err := pool.Acquire(ctx, desc.User, desc.Host, desc.Port)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	r := newRemoteReader(desc, conn, tailLimit, opts)
	r.release = conn.Release
	return r, nil
}

func newRemoteReader(desc Descriptor, runner Runner, tailLimit int, opts RemoteOptions) *RemoteReader {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	return &RemoteReader{
		desc:      desc,
		runner:    runner,
		tailLimit: tailLimit,
		opts:      opts,
		log:       opts.Logger,
	}
}

// Tail fetches the file in one snapshot and keeps the newest maxLines
// lines. One command per read means the size, line count, and content all
// describe the same instant; separate counting commands would race appends.
func (r *RemoteReader) Tail(ctx context.Context, maxLines int) ([]LogLine, Cursor, error) {
	out, err := r.run(ctx, shellquote.Join("cat", r.desc.Path))
	if err != nil {
		return nil, Cursor{}, err
	}

	lines := splitComplete(out)
	total := len(lines)
	first := 0
	if maxLines > 0 && total > maxLines {
		first = total - maxLines
	}
	kept := make([]LogLine, 0, total-first)
	for i := first; i < total; i++ {
		kept = append(kept, LogLine{Content: lines[i], Number: i + 1})
	}
	return kept, Cursor{Size: int64(len(out)), Lines: total}, nil
}

// ReadFrom refetches the whole file in one snapshot and emits the lines past
// cur.Lines. A shrunken file is treated as truncation, exactly like local
// rotation. One read per refresh avoids the double-count window a separate
// probe-then-fetch pair would open.
func (r *RemoteReader) ReadFrom(ctx context.Context, cur Cursor) (Delta, error) {
	out, err := r.run(ctx, shellquote.Join("cat", r.desc.Path))
	if err != nil {
		return Delta{}, err
	}

	size := int64(len(out))
	lines := splitComplete(out)
	total := len(lines)

	next := Cursor{Size: size, Lines: total}
	if total < cur.Lines || size < cur.Size {
		first := 0
		if r.tailLimit > 0 && total > r.tailLimit {
			first = total - r.tailLimit
		}
		fresh := make([]LogLine, 0, total-first)
		for i := first; i < total; i++ {
			fresh = append(fresh, LogLine{Content: lines[i], Number: i + 1})
		}
		return Delta{Lines: fresh, Cursor: next, Truncated: true}, nil
	}

	var added []LogLine
	for i := cur.Lines; i < total; i++ {
		added = append(added, LogLine{Content: lines[i], Number: i + 1})
	}
	return Delta{Lines: added, Cursor: next}, nil
}

// Probe runs the cheap size check used by the remote watcher. No retries;
// the watcher does its own error accounting.
func (r *RemoteReader) Probe(ctx context.Context) (Signature, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.CommandTimeout)
	defer cancel()
	out, err := r.runner.Run(ctx, shellquote.Join("stat", "-c", "%s", r.desc.Path))
	if err != nil {
		return Signature{}, err
	}
	size, err := parseCount(out)
	if err != nil {
		return Signature{}, fmt.Errorf("remote stat: %w", err)
	}
	return Signature{Size: size, Exists: true}, nil
}

// Close releases the pooled connection reference. The pool decides when the
// underlying connection actually goes away.
func (r *RemoteReader) Close() error {
	if r.release != nil {
		r.release()
		r.release = nil
	}
	return nil
}

// run executes a command with a per-attempt timeout and exponential backoff
// between attempts. Exhausting attempts surfaces ErrRemoteUnavailable.
func (r *RemoteReader) run(ctx context.Context, command string) ([]byte, error) {
	var lastErr error
	delay := r.opts.BackoffBase
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.CommandTimeout)
		out, err := r.runner.Run(attemptCtx, command)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		r.log.Debug().Err(err).Int("attempt", attempt).Str("target", r.desc.PoolKey()).
			Msg("remote command failed")

		if attempt == r.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, lastErr)
}

// parseCount extracts the leading integer of command output, tolerating any
// trailing filename.
func parseCount(out []byte) (int64, error) {
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, errors.New("empty output")
	}
	return strconv.ParseInt(fields[0], 10, 64)
}

// splitComplete splits content into complete lines, dropping a trailing
// partial line and tolerating CRLF endings.
func splitComplete(content []byte) []string {
	last := bytes.LastIndexByte(content, '\n')
	if last < 0 {
		return nil
	}
	raw := bytes.Split(content[:last], []byte("\n"))
	lines := make([]string, len(raw))
	for i, b := range raw {
		lines[i] = decodeLine(bytes.TrimSuffix(b, []byte("\r")))
	}
	return lines
}
