// Package sshpool maintains reusable SSH connections keyed by target host.
// All remote reads and watches against the same user@host:port share one
// connection; entries are reference-counted and evicted after sitting idle.
package sshpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("sshpool: pool is closed")

// Client runs commands on an established SSH connection.
type Client interface {
	Run(ctx context.Context, command string) ([]byte, error)
	Close() error
}

// DialFunc establishes a Client. Injectable so tests never open sockets.
type DialFunc func(ctx context.Context, user, addr string) (Client, error)

// Options configures a Pool.
type Options struct {
	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath string
	// Policy decides what happens on an unknown host key.
	Policy HostKeyPolicy
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration
	// IdleTimeout evicts unreferenced entries after this long.
	IdleTimeout time.Duration
	// MaxIdle caps how many unreferenced connections stay pooled; the
	// least recently used beyond the cap are closed on release. Zero
	// means no cap.
	MaxIdle int
	// Dial defaults to a real SSH dial.
	Dial DialFunc
	// Logger records host key acceptance and evictions.
	Logger zerolog.Logger
}

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultIdleTimeout    = 5 * time.Minute
)

type entry struct {
	key      string
	client   Client
	refs     int
	lastUsed time.Time
	healthy  bool
	retired  bool // displaced from the map; closed once refs drain
	closed   bool
}

// Pool owns every connection handle. Borrowers get a Conn and must call
// Release when done; the pool, not the borrower, decides final teardown.
type Pool struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a pool and starts its idle-eviction sweep.
func New(opts Options) *Pool {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Dial == nil {
		opts.Dial = newSSHDialer(opts)
	}
	p := &Pool{
		opts:    opts,
		log:     opts.Logger,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.sweep()
	return p
}

// Conn is a borrowed reference to a pooled connection. It remembers its
// target so a dead connection can be replaced transparently on the next Run.
type Conn struct {
	pool *Pool
	user string
	host string
	port int

	mu       sync.Mutex
	entry    *entry
	released bool
}

// Acquire returns a connection to user@host:port, dialing one if no live
// entry exists. The returned Conn holds a reference until Release.
func (p *Pool) Acquire(ctx context.Context, user, host string, port int) (*Conn, error) {
	e, err := p.acquireEntry(ctx, user, host, port)
	if err != nil {
		return nil, err
	}
	return &Conn{pool: p, user: user, host: host, port: port, entry: e}, nil
}

// acquireEntry reuses the live entry for the target or dials a replacement.
// The returned entry carries one reference the caller must give back through
// releaseEntry.
func (p *Pool) acquireEntry(ctx context.Context, user, host string, port int) (*entry, error) {
	key := fmt.Sprintf("%s@%s:%d", user, host, port)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if e, ok := p.entries[key]; ok {
		if e.healthy {
			e.refs++
			e.lastUsed = time.Now()
			p.mu.Unlock()
			return e, nil
		}
		// Dead entry: displace it before dialing a replacement. Any
		// borrower still holding it keeps it alive until its own
		// release.
		p.retireLocked(e)
	}
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()
	client, err := p.opts.Dial(dialCtx, user, fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		client.Close()
		return nil, ErrPoolClosed
	}
	// Another borrower may have dialed the same host while we were
	// unlocked; keep the first established entry.
	if e, ok := p.entries[key]; ok {
		if e.healthy {
			client.Close()
			e.refs++
			e.lastUsed = time.Now()
			return e, nil
		}
		p.retireLocked(e)
	}
	e := &entry{key: key, client: client, refs: 1, lastUsed: time.Now(), healthy: true}
	p.entries[key] = e
	p.log.Debug().Str("target", key).Msg("ssh connection established")
	return e, nil
}

// Run executes command on the borrowed connection. A failed command marks
// the entry unhealthy; the next Run on this Conn redials through the pool
// instead of reusing the dead client, so transient faults heal on retry.
func (c *Conn) Run(ctx context.Context, command string) ([]byte, error) {
	e, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	out, err := e.client.Run(ctx, command)
	if err != nil {
		c.pool.markUnhealthy(e)
	}
	return out, err
}

// current returns the borrowed entry, swapping in a freshly acquired one
// when the old connection has died underneath us.
func (c *Conn) current(ctx context.Context) (*entry, error) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil, errors.New("sshpool: use of released connection")
	}
	e := c.entry
	c.mu.Unlock()

	p := c.pool
	p.mu.Lock()
	if e.healthy && !e.closed {
		e.lastUsed = time.Now()
		p.mu.Unlock()
		return e, nil
	}
	p.mu.Unlock()

	fresh, err := p.acquireEntry(ctx, c.user, c.host, c.port)
	if err != nil {
		return nil, fmt.Errorf("sshpool: reconnect to %s@%s:%d: %w", c.user, c.host, c.port, err)
	}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		p.releaseEntry(fresh)
		return nil, errors.New("sshpool: use of released connection")
	}
	old := c.entry
	c.entry = fresh
	c.mu.Unlock()
	// If a concurrent Run on this Conn already swapped to the same fresh
	// entry, this still drops exactly the one duplicate reference.
	p.releaseEntry(old)
	return fresh, nil
}

// Release returns the reference to the pool. The connection stays pooled
// for reuse until the idle sweep reclaims it.
func (c *Conn) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	e := c.entry
	c.mu.Unlock()
	c.pool.releaseEntry(e)
}

// releaseEntry gives back one reference. Retired entries are closed once
// their last borrower lets go; live entries stay pooled under the idle cap.
func (p *Pool) releaseEntry(e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.refs > 0 {
		e.refs--
	}
	e.lastUsed = time.Now()
	if e.retired {
		if e.refs == 0 {
			p.closeEntryLocked(e)
		}
		return
	}
	p.enforceMaxIdleLocked()
}

// retireLocked removes an entry from the map so a replacement can take its
// key. Caller holds p.mu.
func (p *Pool) retireLocked(e *entry) {
	if e.retired {
		return
	}
	e.retired = true
	delete(p.entries, e.key)
	if e.refs == 0 {
		p.closeEntryLocked(e)
	}
}

func (p *Pool) closeEntryLocked(e *entry) {
	if e.closed {
		return
	}
	e.closed = true
	e.client.Close()
}

// enforceMaxIdleLocked closes the least recently used idle entries beyond
// the MaxIdle cap. Caller holds p.mu.
func (p *Pool) enforceMaxIdleLocked() {
	if p.opts.MaxIdle <= 0 {
		return
	}
	for {
		idle := 0
		var oldestKey string
		var oldest *entry
		for key, e := range p.entries {
			if e.refs != 0 {
				continue
			}
			idle++
			if oldest == nil || e.lastUsed.Before(oldest.lastUsed) {
				oldestKey, oldest = key, e
			}
		}
		if idle <= p.opts.MaxIdle {
			return
		}
		p.closeEntryLocked(oldest)
		delete(p.entries, oldestKey)
		p.log.Debug().Str("target", oldestKey).Msg("ssh connection evicted over idle cap")
	}
}

func (p *Pool) markUnhealthy(e *entry) {
	p.mu.Lock()
	e.healthy = false
	p.mu.Unlock()
}

// Refs reports the reference count for a target, for tests and diagnostics.
func (p *Pool) Refs(user, host string, port int) int {
	key := fmt.Sprintf("%s@%s:%d", user, host, port)
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return e.refs
	}
	return 0
}

// sweep periodically closes entries that sat unreferenced past IdleTimeout.
func (p *Pool) sweep() {
	defer p.wg.Done()
	interval := p.opts.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.evictIdle(time.Now())
		}
	}
}

func (p *Pool) evictIdle(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		if e.refs == 0 && (now.Sub(e.lastUsed) > p.opts.IdleTimeout || !e.healthy) {
			p.closeEntryLocked(e)
			delete(p.entries, key)
			p.log.Debug().Str("target", key).Msg("ssh connection evicted")
		}
	}
}

// Close tears down every connection and stops the sweep. In-flight commands
// on borrowed connections fail from then on.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for key, e := range p.entries {
		e.retired = true
		p.closeEntryLocked(e)
		delete(p.entries, key)
	}
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
}
