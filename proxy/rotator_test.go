package proxy

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dealwatch/harvester/config"
)

func newTestRotator(t *testing.T, cfg config.ProxyConfig) (*Rotator, *time.Time) {
	t.Helper()
	r, err := NewRotator(cfg)
	if err != nil {
		t.Fatalf("NewRotator: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	r.now = func() time.Time { return *clock }
	return r, clock
}

func TestNewRotatorParsesDelimitedList(t *testing.T) {
	r, _ := newTestRotator(t, config.ProxyConfig{
		Endpoints: "http://p1:8080, http://p2:8080;socks5://p3:1080",
	})

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		ep, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[ep] = true
	}
	if len(seen) != 3 {
		t.Fatalf("round robin visited %d endpoints, want 3", len(seen))
	}
}

func TestNewRotatorRejectsBadInput(t *testing.T) {
	if _, err := NewRotator(config.ProxyConfig{Endpoints: "not a url"}); err == nil {
		t.Error("expected error for invalid URL")
	}
	if _, err := NewRotator(config.ProxyConfig{
		Endpoints: "http://p1:8080",
		Strategy:  "fastest",
	}); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestEmptyPoolMeansDirectEgress(t *testing.T) {
	r, _ := newTestRotator(t, config.ProxyConfig{})

	if !r.Empty() {
		t.Fatal("Empty() = false for no endpoints")
	}
	ep, err := r.Next()
	if err != nil || ep != "" {
		t.Fatalf("Next() = (%q, %v), want (\"\", nil)", ep, err)
	}
}

func TestRoundRobinCycles(t *testing.T) {
	r, _ := newTestRotator(t, config.ProxyConfig{
		Endpoints: "http://p1:8080,http://p2:8080",
		Strategy:  "round_robin",
	})

	a, _ := r.Next()
	b, _ := r.Next()
	c, _ := r.Next()
	if a == b {
		t.Fatal("round robin returned the same endpoint twice in a row")
	}
	if c != a {
		t.Fatalf("round robin did not cycle: got %q, %q, %q", a, b, c)
	}
}

func TestRandomStrategyStaysInPool(t *testing.T) {
	r, _ := newTestRotator(t, config.ProxyConfig{
		Endpoints: "http://p1:8080,http://p2:8080,http://p3:8080",
		Strategy:  "random",
	})

	pool := map[string]bool{
		"http://p1:8080": true,
		"http://p2:8080": true,
		"http://p3:8080": true,
	}
	for i := 0; i < 10; i++ {
		ep, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !pool[ep] {
			t.Fatalf("selection %d = %q, not a configured endpoint", i, ep)
		}
	}
}

func TestFailureThresholdTriggersCooldown(t *testing.T) {
	r, clock := newTestRotator(t, config.ProxyConfig{
		Endpoints:   "http://p1:8080,http://p2:8080",
		MaxFailures: 2,
		Cooldown:    10 * time.Minute,
	})

	r.MarkFailure("http://p1:8080")
	r.MarkFailure("http://p1:8080")

	// p1 is cooling down: every selection must return p2.
	for i := 0; i < 4; i++ {
		ep, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if ep != "http://p2:8080" {
			t.Fatalf("selection %d = %q, want p2 while p1 cools down", i, ep)
		}
	}

	// Cooldown self-clears and the failure count resets.
	*clock = clock.Add(11 * time.Minute)
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ep, _ := r.Next()
		seen[ep] = true
	}
	if !seen["http://p1:8080"] {
		t.Fatal("p1 must rejoin rotation after cooldown")
	}

	snap := r.Snapshot()
	for _, ps := range snap {
		if ps.Endpoint == "http://p1:8080" && ps.Failures != 0 {
			t.Fatalf("failures = %d, want 0 after cooldown clears", ps.Failures)
		}
	}
}

func TestAllProxiesCoolingDown(t *testing.T) {
	r, _ := newTestRotator(t, config.ProxyConfig{
		Endpoints:   "http://p1:8080",
		MaxFailures: 1,
		Cooldown:    10 * time.Minute,
	})

	r.MarkFailure("http://p1:8080")

	if _, err := r.Next(); !errors.Is(err, ErrNoProxyAvailable) {
		t.Fatalf("err = %v, want ErrNoProxyAvailable", err)
	}
}

func TestMarkSuccessResetsFailures(t *testing.T) {
	r, _ := newTestRotator(t, config.ProxyConfig{
		Endpoints:   "http://p1:8080",
		MaxFailures: 3,
	})

	r.MarkFailure("http://p1:8080")
	r.MarkFailure("http://p1:8080")
	r.MarkSuccess("http://p1:8080")
	r.MarkFailure("http://p1:8080")

	if _, err := r.Next(); err != nil {
		t.Fatalf("proxy entered cooldown despite success reset: %v", err)
	}
}

func TestSnapshotRedactsCredentials(t *testing.T) {
	r, _ := newTestRotator(t, config.ProxyConfig{
		Endpoints: "http://user:secret@p1:8080",
	})

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot = %d entries, want 1", len(snap))
	}
	if strings.Contains(snap[0].Endpoint, "secret") {
		t.Fatalf("snapshot leaked credentials: %q", snap[0].Endpoint)
	}
}
