package watch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dalog/dalog/internal/source"
)

// PollConfig tunes the adaptive polling loop.
type PollConfig struct {
	// BaseInterval is the poll rate while the source is active.
	BaseInterval time.Duration
	// MaxInterval caps the backoff while the source is idle.
	MaxInterval time.Duration
	// ErrorThreshold is how many consecutive probe errors are tolerated
	// before an EventDegraded is posted.
	ErrorThreshold int
}

const (
	DefaultBaseInterval   = 2 * time.Second
	DefaultMaxInterval    = 30 * time.Second
	DefaultErrorThreshold = 5
)

func (c *PollConfig) fill() {
	if c.BaseInterval <= 0 {
		c.BaseInterval = DefaultBaseInterval
	}
	if c.MaxInterval < c.BaseInterval {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = DefaultErrorThreshold
	}
}

// WatchState is the adaptive poller's bookkeeping, mutated only by the
// poll loop that owns it.
type WatchState struct {
	Interval             time.Duration
	ConsecutiveUnchanged int
	ConsecutiveErrors    int
}

// ProbeFunc is the cheap size/identity check a poll performs.
type ProbeFunc func(ctx context.Context) (source.Signature, error)

var _ Watcher = (*RemotePoller)(nil)

// RemotePoller detects remote changes by polling a cheap probe on an
// adaptive interval: tight while the source is active, backing off
// exponentially while it is idle.
type RemotePoller struct {
	probe ProbeFunc
	cfg   PollConfig
	log   zerolog.Logger

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	state WatchState
	last  source.Signature
	first bool
}

// NewRemotePoller creates a poller around probe.
func NewRemotePoller(probe ProbeFunc, cfg PollConfig, log zerolog.Logger) *RemotePoller {
	cfg.fill()
	return &RemotePoller{
		probe: probe,
		cfg:   cfg,
		log:   log,
		state: WatchState{Interval: cfg.BaseInterval},
		first: true,
	}
}

// State returns a copy of the current poll state, for tests and status
// display.
func (p *RemotePoller) State() WatchState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start launches the poll loop.
func (p *RemotePoller) Start(ctx context.Context) (<-chan Event, error) {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Event, 1)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.loop(ctx, events, done)
	return events, nil
}

func (p *RemotePoller) loop(ctx context.Context, events chan<- Event, done chan struct{}) {
	defer close(done)
	defer close(events)

	for {
		interval := p.State().Interval
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		sig, err := p.probe(ctx)
		// Checked before delivering anything: Stop must win the race
		// against an in-flight probe.
		if ctx.Err() != nil {
			return
		}

		if ev, send := p.observe(sig, err); send {
			select {
			case events <- ev:
			default:
			}
		}
	}
}

// observe folds one probe result into the adaptive state and reports
// whether an event should be posted.
func (p *RemotePoller) observe(sig source.Signature, err error) (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.state.ConsecutiveErrors++
		p.state.Interval = p.cfg.MaxInterval
		if p.state.ConsecutiveErrors == p.cfg.ErrorThreshold {
			p.log.Warn().Err(err).Int("errors", p.state.ConsecutiveErrors).
				Msg("remote watcher degraded")
			return Event{Kind: EventDegraded, Err: err}, true
		}
		return Event{}, false
	}
	p.state.ConsecutiveErrors = 0

	if p.first {
		p.first = false
		p.last = sig
		return Event{}, false
	}

	if sig != p.last {
		p.last = sig
		p.state.ConsecutiveUnchanged = 0
		p.state.Interval = p.cfg.BaseInterval
		return Event{Kind: EventChange}, true
	}

	p.state.ConsecutiveUnchanged++
	next := p.state.Interval * 2
	if next > p.cfg.MaxInterval {
		next = p.cfg.MaxInterval
	}
	p.state.Interval = next
	return Event{}, false
}

// Stop terminates the poll loop without waiting for an in-flight probe to
// finish delivering: the loop checks the cancellation flag before posting.
func (p *RemotePoller) Stop() {
	p.mu.Lock()
	if p.stopped || p.cancel == nil {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
}
