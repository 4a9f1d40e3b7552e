package sitehealth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dealwatch/harvester/config"
)

type countingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *countingNotifier) NotifyReauthNeeded(_ context.Context, site, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, site)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// waitCount polls for the asynchronous notification delivery.
func waitCount(t *testing.T, n *countingNotifier, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n.count() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("notifications = %d, want %d", n.count(), want)
}

func newTestRegistry(notifier ReauthNotifier) (*Registry, *time.Time) {
	r := NewRegistry(config.HealthConfig{
		LongBackoff:    60 * time.Minute,
		ShortBackoff:   15 * time.Minute,
		ErrorThreshold: 3,
	}, notifier)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	r.now = func() time.Time { return *clock }
	return r, clock
}

func TestLoginRequiredTransitionsAndNotifiesOnce(t *testing.T) {
	notifier := &countingNotifier{}
	r, _ := newTestRegistry(notifier)

	r.MarkError("vinted", KindLoginRequired, "login wall")

	d := r.CanUse("vinted")
	if d.Usable {
		t.Fatal("site must be unusable during backoff")
	}
	if d.Status != StatusNeedsReauth {
		t.Fatalf("status = %s, want %s", d.Status, StatusNeedsReauth)
	}
	waitCount(t, notifier, 1)

	// Repeating the error must not notify again: the latch blocks any new
	// delivery goroutine.
	r.MarkError("vinted", KindLoginRequired, "still walled")
	r.MarkError("vinted", KindChallenge, "captcha too")
	time.Sleep(20 * time.Millisecond)
	if notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1 (one-shot latch)", notifier.count())
	}

	// Success resets the latch; the next reauth fires again.
	r.MarkSuccess("vinted")
	if d := r.CanUse("vinted"); !d.Usable || d.Degraded {
		t.Fatalf("after success: %+v", d)
	}
	r.MarkError("vinted", KindLoginRequired, "walled again")
	waitCount(t, notifier, 2)
}

func TestBackoffClearsOnReadAndFlagsDegraded(t *testing.T) {
	r, clock := newTestRegistry(nil)

	r.MarkError("vinted", KindLoginRequired, "login wall")

	d := r.CanUse("vinted")
	if d.Usable {
		t.Fatal("usable during backoff")
	}
	if d.RemainMin < 59 || d.RemainMin > 61 {
		t.Fatalf("RemainMin = %d, want ~60", d.RemainMin)
	}

	// One minute before expiry: still cooling down.
	*clock = clock.Add(59 * time.Minute)
	if d := r.CanUse("vinted"); d.Usable {
		t.Fatal("usable 1 minute before backoff elapses")
	}

	// Past expiry: usable again, but degraded, and the backoff is cleared
	// as a side effect of the read.
	*clock = clock.Add(2 * time.Minute)
	d = r.CanUse("vinted")
	if !d.Usable {
		t.Fatal("must be usable after backoff elapses")
	}
	if !d.Degraded {
		t.Fatal("needs_reauth past backoff must be flagged degraded")
	}

	snap := r.Snapshot()
	if len(snap) != 1 || !snap[0].BackoffUntil.IsZero() {
		t.Fatalf("backoff not cleared on read: %+v", snap)
	}
}

func TestBlockedGetsDoubleBackoff(t *testing.T) {
	r, clock := newTestRegistry(nil)

	r.MarkError("ebay", KindBlocked, "cloudflare")

	*clock = clock.Add(90 * time.Minute)
	if d := r.CanUse("ebay"); d.Usable {
		t.Fatal("blocked backoff is 2x long window; 90m must still be cooling")
	}

	*clock = clock.Add(31 * time.Minute)
	if d := r.CanUse("ebay"); !d.Usable {
		t.Fatal("usable after 2x long window")
	}
}

func TestTransientErrorsNeedThreshold(t *testing.T) {
	r, _ := newTestRegistry(nil)

	r.MarkError("leboncoin", KindError, "timeout")
	r.MarkError("leboncoin", KindError, "timeout")

	if d := r.CanUse("leboncoin"); !d.Usable {
		t.Fatal("below threshold: isolated errors must not trip backoff")
	}

	r.MarkError("leboncoin", KindError, "timeout")

	d := r.CanUse("leboncoin")
	if d.Usable {
		t.Fatal("threshold reached: short backoff must apply")
	}
	if d.Status != StatusError {
		t.Fatalf("status = %s, want %s", d.Status, StatusError)
	}
	if d.RemainMin > 16 {
		t.Fatalf("RemainMin = %d, want <= 16 (short backoff)", d.RemainMin)
	}
}

func TestSuccessClearsErrorCount(t *testing.T) {
	r, _ := newTestRegistry(nil)

	r.MarkError("vinted", KindError, "timeout")
	r.MarkError("vinted", KindError, "timeout")
	r.MarkSuccess("vinted")
	r.MarkError("vinted", KindError, "timeout")
	r.MarkError("vinted", KindError, "timeout")

	if d := r.CanUse("vinted"); !d.Usable {
		t.Fatal("success must reset the consecutive error count")
	}
}

func TestMarkExpiredIsDegradedWithoutBackoff(t *testing.T) {
	r, _ := newTestRegistry(nil)

	r.MarkExpired("vinted", "session died mid-flight")

	d := r.CanUse("vinted")
	if !d.Usable {
		t.Fatal("expired carries no backoff")
	}
	if !d.Degraded {
		t.Fatal("expired must be flagged degraded")
	}
}

func TestResetReturnsToUnknown(t *testing.T) {
	r, _ := newTestRegistry(nil)

	r.MarkError("vinted", KindBlocked, "cloudflare")
	r.Reset("vinted")

	d := r.CanUse("vinted")
	if !d.Usable || d.Status != StatusUnknown {
		t.Fatalf("after reset: %+v", d)
	}
}
