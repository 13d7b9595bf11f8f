// Package engine ties readers, watchers, pattern rules and the connection
// pool into one surface the viewer talks to. A Handle is one open source;
// refreshes are serialized per handle and coalesced, so a burst of change
// events costs at most one read that is already in flight plus one more.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dalog/dalog/internal/pattern"
	"github.com/dalog/dalog/internal/security"
	"github.com/dalog/dalog/internal/source"
	"github.com/dalog/dalog/internal/sshpool"
	"github.com/dalog/dalog/internal/watch"
)

// ErrHandleClosed is returned when operating on a closed handle.
var ErrHandleClosed = errors.New("engine: handle closed")

const (
	DefaultMaxTailLines   = 1000
	DefaultMaxBufferLines = 10000
)

// Config carries the engine-wide tunables.
type Config struct {
	Security security.PathConfig
	Remote   source.RemoteOptions
	Poll     watch.PollConfig
	SSH      sshpool.Options

	// MaxTailLines is the initial tail depth when Options does not
	// override it.
	MaxTailLines int
	// MaxBufferLines caps retained raw lines per handle.
	MaxBufferLines int
	// Debounce collapses local filesystem event bursts.
	Debounce time.Duration
}

func (c *Config) fill() {
	if c.MaxTailLines <= 0 {
		c.MaxTailLines = DefaultMaxTailLines
	}
	if c.MaxBufferLines <= 0 {
		c.MaxBufferLines = DefaultMaxBufferLines
	}
	if c.Debounce <= 0 {
		c.Debounce = watch.DefaultDebounce
	}
}

// Options tunes a single Open call.
type Options struct {
	// MaxTailLines overrides the engine default for this source.
	MaxTailLines int
	// CaseSensitiveSearch applies to Handle.Search.
	CaseSensitiveSearch bool
}

// State is the lifecycle position of a handle.
type State int32

const (
	StateOpening State = iota
	StateReady
	StateRefreshing
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RefreshResult is what one refresh produced. Lines holds only the newly
// visible lines; the full picture lives in the handle's provider.
type RefreshResult struct {
	Lines     []ProcessedLine
	Truncated bool
	Notice    *Notice
}

// Engine is the facade over sources, watchers and pattern rules. Exclusion
// and style rules are engine-wide and apply to every open handle.
type Engine struct {
	cfg  Config
	log  zerolog.Logger
	pool *sshpool.Pool

	exclusions *pattern.ExclusionSet
	styles     *pattern.StyleSet

	mu      sync.Mutex
	handles map[*Handle]struct{}
	closed  bool
}

// New creates an engine. The SSH pool is created lazily in the sense that
// no connection is dialed until a remote source is opened.
func New(cfg Config, log zerolog.Logger) *Engine {
	cfg.fill()
	sshOpts := cfg.SSH
	sshOpts.Logger = log
	return &Engine{
		cfg:        cfg,
		log:        log,
		pool:       sshpool.New(sshOpts),
		exclusions: pattern.NewExclusionSet(),
		styles:     pattern.NewStyleSet(),
		handles:    make(map[*Handle]struct{}),
	}
}

// Handle is one open log source with its reader, watcher and line buffer.
type Handle struct {
	eng    *Engine
	desc   source.Descriptor
	reader source.Reader
	watch  watch.Watcher
	buf    *Buffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	kick    chan struct{}
	updates chan RefreshResult

	caseSearch bool

	// refreshMu serializes refreshes; the kick channel coalesces the
	// backlog to at most one pending.
	refreshMu sync.Mutex

	stateMu sync.Mutex
	state   State
	cursor  source.Cursor
}

// Open validates spec, tails the source and starts change watching.
func (e *Engine) Open(ctx context.Context, spec string, opts Options) (*Handle, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrHandleClosed
	}
	e.mu.Unlock()

	tail := opts.MaxTailLines
	if tail <= 0 {
		tail = e.cfg.MaxTailLines
	}

	h := &Handle{
		eng:        e,
		buf:        NewBuffer(e.cfg.MaxBufferLines),
		kick:       make(chan struct{}, 1),
		updates:    make(chan RefreshResult, 16),
		state:      StateOpening,
		caseSearch: opts.CaseSensitiveSearch,
	}

	if err := h.open(ctx, spec, tail); err != nil {
		h.setState(StateFailed)
		return nil, err
	}

	hctx, cancel := context.WithCancel(context.Background())
	h.ctx, h.cancel = hctx, cancel

	events, err := h.watch.Start(hctx)
	if err != nil {
		cancel()
		h.reader.Close()
		h.setState(StateFailed)
		return nil, err
	}

	h.wg.Add(2)
	go h.consume(events)
	go h.worker()
	h.setState(StateReady)

	e.mu.Lock()
	e.handles[h] = struct{}{}
	e.mu.Unlock()

	e.log.Info().Str("source", h.desc.String()).Int("lines", h.buf.Count()).
		Msg("source opened")
	return h, nil
}

func (h *Handle) open(ctx context.Context, spec string, tail int) error {
	e := h.eng

	if source.IsRemoteSpec(spec) {
		desc, err := source.Parse(spec)
		if err != nil {
			return err
		}
		opts := e.cfg.Remote
		opts.Logger = e.log
		reader, err := source.NewRemoteReader(ctx, desc, e.pool, tail, opts)
		if err != nil {
			return err
		}
		h.desc, h.reader = desc, reader
		h.watch = watch.NewRemotePoller(reader.Probe, e.cfg.Poll, e.log)
	} else {
		path, err := security.ValidatePath(spec, e.cfg.Security)
		if err != nil {
			return err
		}
		reader, err := source.NewLocalReader(path, tail)
		if err != nil {
			return err
		}
		h.desc = source.Descriptor{Kind: source.KindLocal, Path: path}
		h.reader = reader
		h.watch = watch.NewLocalWatcher(path, e.cfg.Debounce, e.log)
	}

	lines, cursor, err := h.reader.Tail(ctx, tail)
	if err != nil {
		h.reader.Close()
		return err
	}
	h.buf.Append(lines, e.process)
	h.cursor = cursor
	return nil
}

// process applies exclusion then styling. Excluded lines never surface.
func (e *Engine) process(ln source.LogLine) (ProcessedLine, bool) {
	if e.exclusions.Exclude(ln.Content) {
		return ProcessedLine{}, false
	}
	return ProcessedLine{LogLine: ln, Spans: e.styles.Spans(ln.Content)}, true
}

// Refresh reads whatever the source appended since the last read. Callers
// racing the watcher-driven worker are safe; refreshes serialize.
func (e *Engine) Refresh(ctx context.Context, h *Handle) (RefreshResult, error) {
	return h.refresh(ctx)
}

func (h *Handle) refresh(ctx context.Context) (RefreshResult, error) {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()

	if h.State() == StateClosed {
		return RefreshResult{}, ErrHandleClosed
	}
	h.setState(StateRefreshing)
	defer h.setState(StateReady)

	h.stateMu.Lock()
	cur := h.cursor
	h.stateMu.Unlock()

	delta, err := h.reader.ReadFrom(ctx, cur)
	if err != nil {
		if errors.Is(err, source.ErrRemoteUnavailable) {
			// Keep the last good content on screen.
			return RefreshResult{Notice: &Notice{Kind: NoticeRemoteUnavailable, Err: err}}, nil
		}
		return RefreshResult{}, err
	}

	var res RefreshResult
	if delta.Truncated {
		h.buf.Reset()
		res.Truncated = true
		res.Notice = &Notice{Kind: NoticeSourceTruncated}
	}
	res.Lines = h.buf.Append(delta.Lines, h.eng.process)

	h.stateMu.Lock()
	h.cursor = delta.Cursor
	h.stateMu.Unlock()
	return res, nil
}

// consume turns watcher events into refresh kicks and notices.
func (h *Handle) consume(events <-chan watch.Event) {
	defer h.wg.Done()
	for ev := range events {
		switch ev.Kind {
		case watch.EventChange:
			select {
			case h.kick <- struct{}{}:
			default:
			}
		case watch.EventDegraded:
			h.post(RefreshResult{Notice: &Notice{Kind: NoticeWatcherDegraded, Err: ev.Err}})
		}
	}
}

func (h *Handle) worker() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.kick:
		}

		res, err := h.refresh(h.ctx)
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			h.eng.log.Warn().Err(err).Str("source", h.desc.String()).
				Msg("refresh failed")
			continue
		}
		if len(res.Lines) > 0 || res.Truncated || res.Notice != nil {
			h.post(res)
		}
	}
}

func (h *Handle) post(res RefreshResult) {
	select {
	case h.updates <- res:
	case <-h.ctx.Done():
	}
}

// Updates delivers watcher-driven refresh results and notices. The channel
// stays open for the handle's lifetime; stop reading after Close.
func (h *Handle) Updates() <-chan RefreshResult { return h.updates }

// Provider exposes the visible lines for rendering.
func (h *Handle) Provider() LineProvider { return h.buf }

// Search finds the next visible line at or after from containing term.
func (h *Handle) Search(term string, from int) int {
	return h.buf.Search(term, from, h.caseSearch)
}

// Descriptor reports what this handle is reading.
func (h *Handle) Descriptor() source.Descriptor { return h.desc }

// State reports the handle's lifecycle position.
func (h *Handle) State() State {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.state
}

func (h *Handle) setState(s State) {
	h.stateMu.Lock()
	// Closed is terminal.
	if h.state != StateClosed {
		h.state = s
	}
	h.stateMu.Unlock()
}

// AddExclusion registers an exclusion rule and reprocesses every open
// handle. Regex patterns are screened before acceptance.
func (e *Engine) AddExclusion(pat string, isRegex, caseSensitive bool) error {
	if err := e.exclusions.Add(pat, isRegex, caseSensitive); err != nil {
		return err
	}
	e.reprocessAll()
	return nil
}

// RemoveExclusion drops a rule by its pattern text.
func (e *Engine) RemoveExclusion(pat string) {
	e.exclusions.Remove(pat)
	e.reprocessAll()
}

// Exclusions lists the registered exclusion patterns.
func (e *Engine) Exclusions() []string { return e.exclusions.Patterns() }

// AddStyle registers a named style rule and reprocesses every open handle.
// Adding under an existing name replaces that rule.
func (e *Engine) AddStyle(name, pat string, attrs pattern.Attrs) error {
	if err := e.styles.Add(name, pat, attrs); err != nil {
		return err
	}
	e.reprocessAll()
	return nil
}

// RemoveStyle drops a style rule by name.
func (e *Engine) RemoveStyle(name string) {
	e.styles.Remove(name)
	e.reprocessAll()
}

func (e *Engine) reprocessAll() {
	e.mu.Lock()
	hs := make([]*Handle, 0, len(e.handles))
	for h := range e.handles {
		hs = append(hs, h)
	}
	e.mu.Unlock()

	for _, h := range hs {
		h.buf.Rebuild(e.process)
		// An empty result still tells the viewer to re-render.
		h.post(RefreshResult{})
	}
}

// Close tears down one handle: the watcher stops first so no event arrives
// after close, then the reader releases its file or pooled connection.
func (e *Engine) Close(h *Handle) {
	e.mu.Lock()
	delete(e.handles, h)
	e.mu.Unlock()
	h.close()
}

func (h *Handle) close() {
	h.stateMu.Lock()
	if h.state == StateClosed {
		h.stateMu.Unlock()
		return
	}
	h.state = StateClosed
	h.stateMu.Unlock()

	h.watch.Stop()
	h.cancel()
	h.wg.Wait()
	if err := h.reader.Close(); err != nil {
		h.eng.log.Debug().Err(err).Str("source", h.desc.String()).
			Msg("close reader")
	}
}

// CloseAll closes every handle and the SSH pool.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	e.closed = true
	hs := make([]*Handle, 0, len(e.handles))
	for h := range e.handles {
		hs = append(hs, h)
	}
	e.handles = make(map[*Handle]struct{})
	e.mu.Unlock()

	for _, h := range hs {
		h.close()
	}
	e.pool.Close()
}
