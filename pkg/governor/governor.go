// Package governor converts load into advisory verdicts: whether a send or
// poll may proceed, how long a denied caller should wait, and how often a
// polling client should come back. Counters are process-local sliding
// windows; a restart resets them, which is fine for load-shedding that is
// advisory rather than a correctness mechanism.
package governor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PressureLevel string

const (
	PressureLow    PressureLevel = "low"
	PressureMedium PressureLevel = "medium"
	PressureHigh   PressureLevel = "high"
)

type PollMode string

const (
	PollForeground PollMode = "foreground"
	PollBackground PollMode = "background"
	PollInbox      PollMode = "inbox"
)

// Hints advise the client regardless of whether the request was allowed.
type Hints struct {
	Pressure                PressureLevel `json:"pressure"`
	SuggestedPollIntervalMs int64         `json:"suggested_poll_interval_ms"`
	RetryAfterMs            int64         `json:"retry_after_ms,omitempty"`
}

// Verdict is the outcome of an allowance check.
type Verdict struct {
	Allowed      bool
	RetryAfterMs int64
	Hints        Hints
}

// RateLimiter is the capability the service depends on. The in-memory
// Governor is the default; a shared-store implementation can replace it in
// multi-instance deployments without touching call sites.
type RateLimiter interface {
	CheckSend(actorID, threadID string) Verdict
	CheckPoll(actorID, target string, mode PollMode) Verdict
}

// Config carries window sizes and hard caps. Zero fields take defaults.
type Config struct {
	SendWindow    time.Duration
	SendPerActor  int
	SendPerThread int
	SendGlobal    int

	PollWindow    time.Duration
	PollPerActor  int
	PollPerThread int
	PollGlobal    int
}

func (c Config) withDefaults() Config {
	if c.SendWindow <= 0 {
		c.SendWindow = 10 * time.Second
	}
	if c.SendPerActor <= 0 {
		c.SendPerActor = 12
	}
	if c.SendPerThread <= 0 {
		c.SendPerThread = 20
	}
	if c.SendGlobal <= 0 {
		c.SendGlobal = 600
	}
	if c.PollWindow <= 0 {
		c.PollWindow = 10 * time.Second
	}
	if c.PollPerActor <= 0 {
		c.PollPerActor = 30
	}
	if c.PollPerThread <= 0 {
		c.PollPerThread = 40
	}
	if c.PollGlobal <= 0 {
		c.PollGlobal = 2400
	}
	return c
}

// pollFloors are the minimum suggested poll intervals per mode. Background
// tabs poll slowest so many open tabs do not stampede the server.
var pollFloors = map[PollMode]int64{
	PollForeground: 3000,
	PollInbox:      10000,
	PollBackground: 20000,
}

// pollModeScale widens per-actor and per-target caps for cheap modes.
var pollModeScale = map[PollMode]int{
	PollForeground: 1,
	PollInbox:      1,
	PollBackground: 2,
}

var denials = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "courier_governor_denials_total",
	Help: "Allowance checks denied, by operation and tripped scope.",
}, []string{"op", "scope"})

// Governor implements RateLimiter with in-memory sliding windows.
type Governor struct {
	cfg Config

	mu      sync.Mutex
	windows map[string][]int64 // key -> event timestamps (ns), oldest first
	now     func() time.Time
}

func New(cfg Config) *Governor {
	return &Governor{cfg: cfg.withDefaults(), windows: map[string][]int64{}, now: time.Now}
}

// counter describes one sliding-window check: its key, its hard cap, and
// the base backoff a denial on this scope carries. Finer scopes back off
// shorter than global ones.
type counter struct {
	key         string
	cap         int
	scope       string
	baseRetryMs int64
}

// check trims each counter to its window, computes the pressure score as
// the max count/cap ratio, denies when any counter is at cap, and records
// the event only when allowed so a call never both passes and fails to
// count.
func (g *Governor) check(op string, window time.Duration, counters []counter) (bool, int64, PressureLevel, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	nowNS := g.now().UTC().UnixNano()
	horizon := nowNS - window.Nanoseconds()

	score := 0.0
	for _, c := range counters {
		evs := g.trimLocked(c.key, horizon)
		if c.cap <= 0 {
			continue
		}
		r := float64(len(evs)) / float64(c.cap)
		if r > score {
			score = r
		}
		if len(evs) >= c.cap {
			// wait until the oldest event in this window expires, but
			// at least the scope's base backoff
			retry := c.baseRetryMs
			if len(evs) > 0 {
				expiresMs := (evs[0] + window.Nanoseconds() - nowNS) / int64(time.Millisecond)
				if expiresMs > retry {
					retry = expiresMs
				}
			}
			denials.WithLabelValues(op, c.scope).Inc()
			return false, retry, PressureHigh, c.scope
		}
	}

	for _, c := range counters {
		g.windows[c.key] = append(g.windows[c.key], nowNS)
	}
	return true, 0, levelFor(score), ""
}

func (g *Governor) trimLocked(key string, horizon int64) []int64 {
	evs := g.windows[key]
	i := 0
	for i < len(evs) && evs[i] <= horizon {
		i++
	}
	if i > 0 {
		evs = append([]int64(nil), evs[i:]...)
		if len(evs) == 0 {
			delete(g.windows, key)
		} else {
			g.windows[key] = evs
		}
	}
	return evs
}

func levelFor(score float64) PressureLevel {
	switch {
	case score < 0.55:
		return PressureLow
	case score < 1.0:
		return PressureMedium
	default:
		return PressureHigh
	}
}

// CheckSend gates one send attempt by an actor into a thread.
func (g *Governor) CheckSend(actorID, threadID string) Verdict {
	allowed, retry, level, _ := g.check("send", g.cfg.SendWindow, []counter{
		{key: "send:thread:" + threadID, cap: g.cfg.SendPerThread, scope: "thread", baseRetryMs: 1000},
		{key: "send:actor:" + actorID, cap: g.cfg.SendPerActor, scope: "actor", baseRetryMs: 2000},
		{key: "send:global", cap: g.cfg.SendGlobal, scope: "global", baseRetryMs: 5000},
	})
	v := Verdict{Allowed: allowed, RetryAfterMs: retry}
	v.Hints = Hints{
		Pressure:                level,
		SuggestedPollIntervalMs: suggestedInterval(PollForeground, level),
	}
	if !allowed {
		v.Hints.RetryAfterMs = retry
	}
	return v
}

// CheckPoll gates one poll cycle. target is the thread id, or the actor's
// inbox for thread-list polls.
func (g *Governor) CheckPoll(actorID, target string, mode PollMode) Verdict {
	if _, ok := pollFloors[mode]; !ok {
		mode = PollForeground
	}
	scale := pollModeScale[mode]
	allowed, retry, level, _ := g.check("poll", g.cfg.PollWindow, []counter{
		{key: "poll:target:" + target, cap: g.cfg.PollPerThread * scale, scope: "target", baseRetryMs: 1000},
		{key: "poll:actor:" + actorID, cap: g.cfg.PollPerActor * scale, scope: "actor", baseRetryMs: 2000},
		{key: "poll:global", cap: g.cfg.PollGlobal, scope: "global", baseRetryMs: 5000},
	})
	v := Verdict{Allowed: allowed, RetryAfterMs: retry}
	v.Hints = Hints{
		Pressure:                level,
		SuggestedPollIntervalMs: suggestedInterval(mode, level),
	}
	if !allowed {
		v.Hints.RetryAfterMs = retry
	}
	return v
}

// suggestedInterval maps (mode, pressure) to a poll interval, never below
// the mode's floor.
func suggestedInterval(mode PollMode, level PressureLevel) int64 {
	floor := pollFloors[mode]
	switch level {
	case PressureMedium:
		return floor * 2
	case PressureHigh:
		return floor * 4
	default:
		return floor
	}
}
