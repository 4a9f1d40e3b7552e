package browser

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/dealwatch/harvester/config"
	"github.com/dealwatch/harvester/models"
)

// newTestPool builds a pool with a stubbed launcher so no Chrome process
// is involved. Counters report launches and kills.
func newTestPool(cfg config.PoolConfig, launches, kills *atomic.Int32) *Pool {
	p := NewPool(cfg, config.BrowserConfig{})
	p.launch = func(config.BrowserConfig, string) (*rod.Browser, func(), error) {
		if launches != nil {
			launches.Add(1)
		}
		return &rod.Browser{}, func() {
			if kills != nil {
				kills.Add(1)
			}
		}, nil
	}
	p.probe = func(*rod.Browser) error { return nil }
	return p
}

func TestAcquireRespectsMaxContexts(t *testing.T) {
	p := newTestPool(config.PoolConfig{
		MaxContexts:    2,
		AcquireTimeout: 50 * time.Millisecond,
	}, nil, nil)

	ctx := context.Background()
	l1, err := p.AcquireContext(ctx)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	l2, err := p.AcquireContext(ctx)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	if m := p.Metrics(); m.ActiveLeases != 2 {
		t.Fatalf("active = %d, want 2", m.ActiveLeases)
	}

	// The pool is full: the third acquisition must time out.
	_, err = p.AcquireContext(ctx)
	if code := models.CodeOf(err); code != models.ErrCodeAcquireTimeout {
		t.Fatalf("code = %s, want %s", code, models.ErrCodeAcquireTimeout)
	}

	l1.Release()
	l2.Release()
	if m := p.Metrics(); m.ActiveLeases != 0 {
		t.Fatalf("active after release = %d, want 0", m.ActiveLeases)
	}
}

func TestReleaseGrantsFIFO(t *testing.T) {
	p := newTestPool(config.PoolConfig{
		MaxContexts:    1,
		AcquireTimeout: 2 * time.Second,
	}, nil, nil)

	ctx := context.Background()
	held, err := p.AcquireContext(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	order := make(chan int, 2)
	start := func(id int) {
		go func() {
			l, err := p.AcquireContext(ctx)
			if err != nil {
				t.Errorf("waiter %d: %v", id, err)
				return
			}
			order <- id
			l.Release()
		}()
	}

	start(1)
	waitForPending(t, p, 1)
	start(2)
	waitForPending(t, p, 2)

	held.Release()

	first := <-order
	second := <-order
	if first != 1 || second != 2 {
		t.Fatalf("grant order = [%d, %d], want [1, 2]", first, second)
	}
}

func TestDoubleReleaseIsNoOp(t *testing.T) {
	p := newTestPool(config.PoolConfig{MaxContexts: 1, AcquireTimeout: time.Second}, nil, nil)

	l, err := p.AcquireContext(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	l.Release()
	l.Release()

	if m := p.Metrics(); m.ActiveLeases != 0 {
		t.Fatalf("active = %d, want 0 (double release must not go negative)", m.ActiveLeases)
	}

	// The slot must still be grantable exactly once.
	l2, err := p.AcquireContext(context.Background())
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if m := p.Metrics(); m.ActiveLeases != 1 {
		t.Fatalf("active = %d, want 1", m.ActiveLeases)
	}
	l2.Release()
}

func TestAcquireCanceledContext(t *testing.T) {
	p := newTestPool(config.PoolConfig{MaxContexts: 1, AcquireTimeout: time.Second}, nil, nil)

	l, _ := p.AcquireContext(context.Background())
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.AcquireContext(ctx); err == nil {
		t.Fatal("expected context error for queued waiter")
	}
}

func TestShutdownRejectsWaiters(t *testing.T) {
	p := newTestPool(config.PoolConfig{
		MaxContexts:     1,
		AcquireTimeout:  5 * time.Second,
		ShutdownTimeout: 50 * time.Millisecond,
	}, nil, nil)

	l, _ := p.AcquireContext(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := p.AcquireContext(context.Background())
		errc <- err
	}()
	waitForPending(t, p, 1)

	done := make(chan struct{})
	go func() {
		_ = p.Shutdown(context.Background())
		close(done)
	}()

	if err := <-errc; err == nil {
		t.Fatal("queued waiter must be rejected on shutdown")
	}

	l.Release()
	<-done

	if _, err := p.AcquireContext(context.Background()); err == nil {
		t.Fatal("acquire after shutdown must fail")
	}
}

func TestScheduleRelaunchDeferredUntilDrain(t *testing.T) {
	var launches, kills atomic.Int32
	p := newTestPool(config.PoolConfig{
		MaxContexts:    1,
		AcquireTimeout: time.Second,
		RelaunchWait:   5 * time.Second,
	}, &launches, &kills)

	l, err := p.AcquireContext(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if launches.Load() != 1 {
		t.Fatalf("launches = %d, want 1", launches.Load())
	}

	p.ScheduleRelaunch("test")
	if kills.Load() != 0 {
		t.Fatal("relaunch must be deferred while a lease is outstanding")
	}

	l.Release()
	if kills.Load() != 1 {
		t.Fatalf("kills = %d, want 1 (relaunch fires when leases drain)", kills.Load())
	}

	// The next acquisition launches a fresh process.
	l2, err := p.AcquireContext(context.Background())
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if launches.Load() != 2 {
		t.Fatalf("launches = %d, want 2", launches.Load())
	}
	l2.Release()
}

func TestDeadBrowserRelaunchedOnAcquire(t *testing.T) {
	var launches atomic.Int32
	p := newTestPool(config.PoolConfig{MaxContexts: 1, AcquireTimeout: time.Second}, &launches, nil)

	failProbe := false
	p.probe = func(*rod.Browser) error {
		if failProbe {
			failProbe = false
			return context.DeadlineExceeded
		}
		return nil
	}

	l, _ := p.AcquireContext(context.Background())
	l.Release()

	// Simulate a dead handle: the probe fails once, forcing a relaunch.
	failProbe = true
	l2, err := p.AcquireContext(context.Background())
	if err != nil {
		t.Fatalf("acquire after dead probe: %v", err)
	}
	defer l2.Release()

	if launches.Load() != 2 {
		t.Fatalf("launches = %d, want 2", launches.Load())
	}
}

func waitForPending(t *testing.T, p *Pool, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.Metrics().PendingWaiters >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("never saw %d pending waiters", n)
}
