package throttle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/finwatch/internal/clock"
	"github.com/nao1215/finwatch/internal/model"
)

func newTestThrottle(c clock.Clock) *Throttle {
	return New(
		WithClock(c),
		WithDefaultCooldown(10*time.Minute),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestThrottleBlockWindow(t *testing.T) {
	t.Parallel()

	c := clock.Fixed()
	th := newTestThrottle(c)

	if th.State("ir.acme.com") != StateOpen {
		t.Fatal("unknown domain should be OPEN")
	}

	until := th.Block("IR.Acme.com", 5*time.Minute)
	if !until.Equal(c.Now().Add(5 * time.Minute)) {
		t.Errorf("Block() = %v, want now+5m", until)
	}

	// Requests are refused right up to T+C.
	c.Advance(5*time.Minute - time.Nanosecond)
	if th.Allow("ir.acme.com") {
		t.Error("domain must stay blocked before T+C")
	}
	if err := th.Wait(context.Background(), "ir.acme.com"); !errors.Is(err, ErrCoolingDown) {
		t.Errorf("Wait() error = %v, want ErrCoolingDown", err)
	}

	// And resume at T+C.
	c.Advance(time.Nanosecond)
	if !th.Allow("ir.acme.com") {
		t.Error("domain must reopen at T+C")
	}
	if err := th.Wait(context.Background(), "ir.acme.com"); err != nil {
		t.Errorf("Wait() after cooldown error = %v", err)
	}
}

func TestThrottleBlockOnlyExtends(t *testing.T) {
	t.Parallel()

	c := clock.Fixed()
	th := newTestThrottle(c)

	long := th.Block("a.com", time.Hour)
	short := th.Block("a.com", time.Minute)
	if !short.Equal(long) {
		t.Errorf("shorter block shrank the window: %v < %v", short, long)
	}

	th.Block("b.com", 0)
	until, ok := th.BlockedUntil("b.com")
	if !ok || !until.Equal(c.Now().Add(10*time.Minute)) {
		t.Errorf("zero cooldown should use the default, got %v %v", until, ok)
	}
}

func TestThrottleClear(t *testing.T) {
	t.Parallel()

	th := newTestThrottle(clock.Fixed())
	th.Block("a.com", time.Hour)
	th.Block("b.com", time.Hour)

	th.Clear("A.COM")
	if !th.Allow("a.com") {
		t.Error("Clear should reopen the domain")
	}
	if th.Allow("b.com") {
		t.Error("Clear must not touch other domains")
	}

	th.ClearAll()
	if len(th.Cooldowns()) != 0 {
		t.Error("ClearAll should remove every cooldown")
	}
}

func TestThrottleCooldownsSorted(t *testing.T) {
	t.Parallel()

	c := clock.Fixed()
	th := newTestThrottle(c)
	th.Block("short.com", time.Minute)
	th.Block("long.com", time.Hour)
	th.Block("expired.com", time.Second)
	c.Advance(2 * time.Second)

	got := th.Cooldowns()
	if len(got) != 2 {
		t.Fatalf("Cooldowns() returned %d entries, want 2", len(got))
	}
	if got[0].Domain != "long.com" || got[1].Domain != "short.com" {
		t.Errorf("Cooldowns() order = %s, %s", got[0].Domain, got[1].Domain)
	}
	if got[0].Remaining != time.Hour-2*time.Second {
		t.Errorf("Remaining = %v", got[0].Remaining)
	}
}

func TestThrottleRestore(t *testing.T) {
	t.Parallel()

	c := clock.Fixed()
	th := newTestThrottle(c)
	th.Restore([]model.DomainCooldown{
		{Domain: "A.com", BlockedUntil: c.Now().Add(time.Hour)},
		{Domain: "old.com", BlockedUntil: c.Now().Add(-time.Hour)},
	})

	if th.Allow("a.com") {
		t.Error("restored cooldown should block")
	}
	if !th.Allow("old.com") {
		t.Error("expired cooldown should be ignored")
	}
}

func TestThrottleWaitPacesSameDomain(t *testing.T) {
	t.Parallel()

	th := New(WithMinDelay(40*time.Millisecond), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx := context.Background()

	start := time.Now()
	for range 3 {
		if err := th.Wait(ctx, "pace.com"); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("three requests took %v, want at least ~80ms of pacing", elapsed)
	}

	// A different domain has its own limiter.
	other := time.Now()
	if err := th.Wait(ctx, "other.com"); err != nil {
		t.Fatal(err)
	}
	if time.Since(other) > 30*time.Millisecond {
		t.Error("first request to a new domain should not wait")
	}
}

func TestThrottleWaitCancelled(t *testing.T) {
	t.Parallel()

	th := New(WithMinDelay(time.Hour), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := th.Wait(context.Background(), "slow.com"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := th.Wait(ctx, "slow.com"); err == nil {
		t.Error("Wait() should fail when the context ends before the next slot")
	}
}

func TestThrottleConcurrentUse(t *testing.T) {
	t.Parallel()

	th := newTestThrottle(clock.Fixed())
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				th.Block("shared.com", time.Minute)
			} else {
				_ = th.Allow("shared.com")
				_ = th.Cooldowns()
			}
		}()
	}
	wg.Wait()

	if th.Allow("shared.com") {
		t.Error("domain should be blocked after concurrent blocks")
	}
}
