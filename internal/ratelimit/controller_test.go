package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lbj9527/tgrelay/internal/errs"
	"github.com/lbj9527/tgrelay/internal/ratelimit"
	"github.com/lbj9527/tgrelay/internal/transport"
)

func TestAdmit_GrantsWithinBurst(t *testing.T) {
	t.Parallel()

	c := ratelimit.New(ratelimit.DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.Admit(ctx, ratelimit.OpSend, "s1"); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
}

func TestAdmit_CancelledContext(t *testing.T) {
	t.Parallel()

	cfg := ratelimit.DefaultConfig()
	cfg.GlobalRPS = 0.001
	cfg.GlobalBurst = 1
	c := ratelimit.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Admit(ctx, ratelimit.OpSend, "s1")
	if err == nil {
		t.Fatal("Admit() with cancelled context returned nil error")
	}
	if !errs.Is(err, errs.KindCancellation) {
		t.Fatalf("Admit() error kind = %v, want cancellation", errs.KindOf(err))
	}
}

func TestObserve_NonFloodErrorTakesNoAction(t *testing.T) {
	t.Parallel()

	c := ratelimit.New(ratelimit.DefaultConfig())
	action, wait := c.Observe(ratelimit.OpSend, errors.New("boom"))
	if action != ratelimit.ActionNone {
		t.Fatalf("Observe() action = %v, want ActionNone", action)
	}
	if wait != 0 {
		t.Fatalf("Observe() wait = %v, want 0", wait)
	}
}

func TestObserve_ClassifiesTransportRateLimited(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		wait   time.Duration
		action ratelimit.Action
	}{
		{name: "shortWaitAbsorbs", wait: 2 * time.Second, action: ratelimit.ActionAbsorb},
		{name: "longWaitSuspendsSession", wait: 30 * time.Second, action: ratelimit.ActionSuspendSession},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := ratelimit.New(ratelimit.DefaultConfig())
			action, wait := c.Observe(ratelimit.OpSend, &transport.RateLimited{Wait: tc.wait})
			if action != tc.action {
				t.Fatalf("Observe() action = %v, want %v", action, tc.action)
			}
			if wait != tc.wait {
				t.Fatalf("Observe() wait = %v, want %v", wait, tc.wait)
			}
		})
	}
}

func TestSnapshot_TracksAbsorbedAndSuspendedSeparately(t *testing.T) {
	t.Parallel()

	c := ratelimit.New(ratelimit.DefaultConfig())
	c.Observe(ratelimit.OpSend, &transport.RateLimited{Wait: 2 * time.Second})  // absorb
	c.Observe(ratelimit.OpSend, &transport.RateLimited{Wait: 30 * time.Second}) // suspend
	c.Observe(ratelimit.OpSend, &transport.RateLimited{Wait: 30 * time.Second}) // suspend

	snap := c.Snapshot()
	var absorbed, suspended int64
	for _, cs := range snap.Classes {
		if cs.Class == ratelimit.OpSend {
			absorbed = cs.FloodsAbsorbed
			suspended = cs.Suspended
		}
	}
	if absorbed != 1 {
		t.Fatalf("FloodsAbsorbed = %d, want 1", absorbed)
	}
	if suspended != 2 {
		t.Fatalf("Suspended = %d, want 2", suspended)
	}
}

func TestObserve_RetunesDownAfterRepeatedFloods(t *testing.T) {
	t.Parallel()

	c := ratelimit.New(ratelimit.DefaultConfig())
	for i := 0; i < 3; i++ {
		c.Observe(ratelimit.OpSend, &transport.RateLimited{Wait: time.Second})
	}

	snap := c.Snapshot()
	found := false
	for _, cs := range snap.Classes {
		if cs.Class == ratelimit.OpSend {
			found = true
			if cs.Factor >= 1.0 {
				t.Fatalf("class %v factor = %v after 3 floods, want < 1.0", cs.Class, cs.Factor)
			}
			if cs.FloodWaits != 3 {
				t.Fatalf("class %v FloodWaits = %d, want 3", cs.Class, cs.FloodWaits)
			}
		}
	}
	if !found {
		t.Fatal("Snapshot() did not report OpSend class")
	}
}
