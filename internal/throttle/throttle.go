// Package throttle tracks per-domain cooldown windows and paces requests
// so that discovery and fetching do not trip bot protection.
//
// Each domain is either OPEN or COOLING_DOWN. A block signal moves the
// domain to COOLING_DOWN until blocked_until; the domain reopens on its own
// once the clock passes that point, or immediately when cleared.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/finwatch/internal/clock"
	"github.com/nao1215/finwatch/internal/model"
)

// DefaultCooldown is applied when Block is called without a duration.
const DefaultCooldown = 15 * time.Minute

// State of a domain.
type State string

// Domain states.
const (
	StateOpen        State = "OPEN"
	StateCoolingDown State = "COOLING_DOWN"
)

// ErrCoolingDown is returned by Wait for a domain in a cooldown window.
var ErrCoolingDown = errors.New("domain is cooling down")

// Throttle holds cooldown and pacing state for every domain seen. It is
// safe for concurrent use and meant to be shared by all strategies and
// fetchers of a process.
type Throttle struct {
	mu       sync.Mutex
	blocked  map[string]time.Time
	limiters map[string]*rate.Limiter

	clock    clock.Clock
	cooldown time.Duration
	minDelay time.Duration
	logger   *slog.Logger
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithClock sets the time source used for cooldown windows.
func WithClock(c clock.Clock) Option {
	return func(t *Throttle) {
		t.clock = c
	}
}

// WithDefaultCooldown sets the cooldown used when Block gets a zero duration.
func WithDefaultCooldown(d time.Duration) Option {
	return func(t *Throttle) {
		if d > 0 {
			t.cooldown = d
		}
	}
}

// WithMinDelay sets the minimum spacing between two requests to the same
// domain. Zero disables pacing.
func WithMinDelay(d time.Duration) Option {
	return func(t *Throttle) {
		if d >= 0 {
			t.minDelay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Throttle) {
		t.logger = logger
	}
}

// New creates a Throttle.
func New(opts ...Option) *Throttle {
	t := &Throttle{
		blocked:  make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
		clock:    clock.Real{},
		cooldown: DefaultCooldown,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// State returns the current state of domain.
func (t *Throttle) State(domain string) State {
	if t.Allow(domain) {
		return StateOpen
	}
	return StateCoolingDown
}

// Allow reports whether requests to domain may be issued now. Expired
// cooldown records are dropped.
func (t *Throttle) Allow(domain string) bool {
	domain = key(domain)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowLocked(domain, t.clock.Now())
}

func (t *Throttle) allowLocked(domain string, now time.Time) bool {
	until, ok := t.blocked[domain]
	if !ok {
		return true
	}
	if !now.Before(until) {
		delete(t.blocked, domain)
		return true
	}
	return false
}

// BlockedUntil returns the end of the domain's cooldown window, if any.
func (t *Throttle) BlockedUntil(domain string) (time.Time, bool) {
	domain = key(domain)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowLocked(domain, t.clock.Now()) {
		return time.Time{}, false
	}
	return t.blocked[domain], true
}

// Block records a block signal for domain. The window only ever grows: an
// existing later deadline is kept. A non-positive cooldown uses the
// default. It returns the resulting blocked_until.
func (t *Throttle) Block(domain string, cooldown time.Duration) time.Time {
	domain = key(domain)
	if cooldown <= 0 {
		cooldown = t.cooldown
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	until := t.clock.Now().Add(cooldown)
	if existing, ok := t.blocked[domain]; ok && existing.After(until) {
		until = existing
	}
	t.blocked[domain] = until

	t.logger.Warn("domain cooling down",
		"domain", domain,
		"blocked_until", until,
		"cooldown", cooldown,
	)
	return until
}

// Clear removes the cooldown for domain.
func (t *Throttle) Clear(domain string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.blocked, key(domain))
}

// ClearAll removes every cooldown.
func (t *Throttle) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blocked = make(map[string]time.Time)
}

// Cooldowns lists active cooldowns, longest remaining first.
func (t *Throttle) Cooldowns() []model.DomainCooldown {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	out := make([]model.DomainCooldown, 0, len(t.blocked))
	for domain := range t.blocked {
		if t.allowLocked(domain, now) {
			continue
		}
		until := t.blocked[domain]
		out = append(out, model.DomainCooldown{
			Domain:       domain,
			BlockedUntil: until,
			Remaining:    until.Sub(now),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Remaining != out[j].Remaining {
			return out[i].Remaining > out[j].Remaining
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// Restore loads cooldowns saved by an earlier process. Expired entries
// are ignored and existing later deadlines are kept.
func (t *Throttle) Restore(cooldowns []model.DomainCooldown) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	for _, c := range cooldowns {
		if !now.Before(c.BlockedUntil) {
			continue
		}
		domain := key(c.Domain)
		if existing, ok := t.blocked[domain]; ok && existing.After(c.BlockedUntil) {
			continue
		}
		t.blocked[domain] = c.BlockedUntil
	}
}

// Wait blocks until a request to domain may be sent. It fails fast with
// ErrCoolingDown while the domain is cooling down, and otherwise enforces
// the minimum delay between requests to the same domain.
func (t *Throttle) Wait(ctx context.Context, domain string) error {
	domain = key(domain)

	t.mu.Lock()
	if !t.allowLocked(domain, t.clock.Now()) {
		until := t.blocked[domain]
		t.mu.Unlock()
		return fmt.Errorf("%w: %s until %s", ErrCoolingDown, domain, until.Format(time.RFC3339))
	}
	limiter := t.limiterLocked(domain)
	t.mu.Unlock()

	return limiter.Wait(ctx)
}

func (t *Throttle) limiterLocked(domain string) *rate.Limiter {
	if l, ok := t.limiters[domain]; ok {
		return l
	}
	limit := rate.Inf
	if t.minDelay > 0 {
		limit = rate.Every(t.minDelay)
	}
	l := rate.NewLimiter(limit, 1)
	t.limiters[domain] = l
	return l
}

func key(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
