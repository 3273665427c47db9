package client

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"courier/pkg/governor"
	"courier/pkg/logger"
)

// pollFloors mirror the server's minimum intervals per mode. The server's
// suggested interval can only raise these, never lower them.
var pollFloors = map[governor.PollMode]time.Duration{
	governor.PollForeground: 3 * time.Second,
	governor.PollInbox:      10 * time.Second,
	governor.PollBackground: 20 * time.Second,
}

// Poller drives the fetch loop for one thread, feeding confirmed messages
// into a Timeline and adapting its cadence to server hints. Errors are
// soft: the loop backs off and keeps going, and the last error is exposed
// for the UI to surface.
type Poller struct {
	api      *Client
	thread   string
	mode     governor.PollMode
	timeline *Timeline

	mu      sync.Mutex
	cursor  string
	hints   governor.Hints
	errRun  int
	lastErr error

	rng *rand.Rand

	// OnUpdate fires after each successful poll that changed the cursor
	// or delivered items. May be nil.
	OnUpdate func()
}

func NewPoller(api *Client, thread string, mode governor.PollMode, timeline *Timeline) *Poller {
	if _, ok := pollFloors[mode]; !ok {
		mode = governor.PollForeground
	}
	return &Poller{
		api:      api,
		thread:   thread,
		mode:     mode,
		timeline: timeline,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetMode switches cadence, e.g. foreground when the thread is on screen
// and background when the app loses focus. Takes effect next tick.
func (p *Poller) SetMode(mode governor.PollMode) {
	if _, ok := pollFloors[mode]; !ok {
		return
	}
	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()
}

// PollNow performs one fetch.
func (p *Poller) PollNow(ctx context.Context) error {
	p.mu.Lock()
	cursor, mode := p.cursor, p.mode
	p.mu.Unlock()

	resp, err := p.api.PollMessages(ctx, p.thread, cursor, mode)
	if err != nil {
		p.mu.Lock()
		p.errRun++
		p.lastErr = err
		if ra := RetryAfterOf(err); ra > 0 {
			p.hints.RetryAfterMs = ra.Milliseconds()
		}
		p.mu.Unlock()
		return err
	}

	p.timeline.ApplyConfirmed(resp.Items...)
	changed := len(resp.Items) > 0
	p.mu.Lock()
	if resp.NextCursor != "" && resp.NextCursor != p.cursor {
		p.cursor = resp.NextCursor
		changed = true
	}
	p.hints = resp.ServerHints
	p.errRun = 0
	p.lastErr = nil
	p.mu.Unlock()
	if changed && p.OnUpdate != nil {
		p.OnUpdate()
	}
	return nil
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	for {
		if err := p.PollNow(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("poll_failed", "thread", p.thread, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.nextInterval()):
		}
	}
}

// nextInterval is the adaptive cadence: the larger of the mode floor and
// the server's suggestion, stretched by 5 to 15 percent of jitter so a
// fleet of clients never beats in lockstep. Consecutive failures double
// the wait up to the backoff ceiling.
func (p *Poller) nextInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	base := pollFloors[p.mode]
	if s := time.Duration(p.hints.SuggestedPollIntervalMs) * time.Millisecond; s > base {
		base = s
	}
	if p.errRun > 0 {
		backoff := base << uint(p.errRun-1)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		if ra := time.Duration(p.hints.RetryAfterMs) * time.Millisecond; ra > backoff {
			backoff = ra
		}
		base = backoff
	}
	jitter := 0.05 + 0.10*p.rng.Float64()
	return base + time.Duration(float64(base)*jitter)
}

// Cursor returns the current resume point.
func (p *Poller) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// LastError reports the most recent poll failure, nil after a success.
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}
