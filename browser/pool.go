// Package browser owns the shared headless-browser process and multiplexes
// isolated browsing contexts over it. One Pool per worker process: all
// auth and scrape flows acquire contexts through it, and it is the only
// component allowed to launch or kill the browser.
package browser

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/google/uuid"

	"github.com/dealwatch/harvester/config"
	"github.com/dealwatch/harvester/models"
)

// waiter is one queued AcquireContext call. Release grants slots to
// waiters in FIFO order by closing ready.
type waiter struct {
	ready    chan struct{}
	granted  bool
	rejected bool
}

// Pool multiplexes up to MaxContexts leased contexts over a single shared
// browser process, with memory backpressure and crash-aware relaunch.
// Safe for concurrent use.
type Pool struct {
	cfg  config.PoolConfig
	bcfg config.BrowserConfig

	// launch and probe are swapped out by tests.
	launch   launchFunc
	probe    func(*rod.Browser) error
	proxyFor func() (string, error)

	mem *memorySampler

	mu            sync.Mutex
	browser       *rod.Browser
	kill          func()
	currentProxy  string
	active        int
	waiters       []*waiter
	relaunchWant  bool
	relaunchTimer *time.Timer
	closed        bool
	drained       chan struct{}
}

// Option customises pool construction.
type Option func(*Pool)

// WithProxyProvider makes every (re)launch consult the provider for an
// egress proxy URL. An empty string means direct egress.
func WithProxyProvider(fn func() (string, error)) Option {
	return func(p *Pool) { p.proxyFor = fn }
}

// NewPool creates a Pool. The browser is launched lazily on the first
// acquisition, not here.
func NewPool(poolCfg config.PoolConfig, browserCfg config.BrowserConfig, opts ...Option) *Pool {
	if poolCfg.MaxContexts < 1 {
		poolCfg.MaxContexts = 1
	}
	if poolCfg.AcquireTimeout <= 0 {
		poolCfg.AcquireTimeout = 30 * time.Second
	}
	if poolCfg.ShutdownTimeout <= 0 {
		poolCfg.ShutdownTimeout = 30 * time.Second
	}
	if poolCfg.RelaunchWait <= 0 {
		poolCfg.RelaunchWait = 45 * time.Second
	}

	p := &Pool{
		cfg:    poolCfg,
		bcfg:   browserCfg,
		launch: defaultLaunch,
		probe:  defaultProbe,
		mem:    newMemorySampler(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AcquireContext grants a context lease, blocking on a FIFO queue when all
// slots are taken. Memory pressure is checked before queueing:
//
//   - resident ≥ critical ceiling → ErrCodeMemoryCritical, relaunch scheduled;
//   - resident ≥ high ceiling → ErrCodeMemoryHigh;
//   - resident ≥ low-water mark → warning logged, lease still granted.
func (p *Pool) AcquireContext(ctx context.Context) (*Lease, error) {
	if err := p.checkMemory(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, models.NewEngineError(models.ErrCodeInternal, "pool is shut down", nil)
	}

	if p.active < p.cfg.MaxContexts {
		p.active++
		return p.leaseLocked()
	}

	// All slots taken: join the FIFO queue.
	w := &waiter{ready: make(chan struct{})}
	p.waiters = append(p.waiters, w)
	pending := len(p.waiters)
	p.mu.Unlock()

	slog.Debug("context acquisition queued", "pending", pending)

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		p.mu.Lock()
		if w.rejected {
			p.mu.Unlock()
			return nil, models.NewEngineError(models.ErrCodeInternal, "pool is shut down", nil)
		}
		return p.leaseLocked()

	case <-timer.C:
		if p.abandonWaiter(w) {
			return nil, models.NewEngineError(models.ErrCodeAcquireTimeout,
				"no context slot freed within the acquire timeout", nil)
		}
		// Granted while the timer fired: take the slot after all.
		<-w.ready
		p.mu.Lock()
		if w.rejected {
			p.mu.Unlock()
			return nil, models.NewEngineError(models.ErrCodeInternal, "pool is shut down", nil)
		}
		return p.leaseLocked()

	case <-ctx.Done():
		if p.abandonWaiter(w) {
			return nil, ctx.Err()
		}
		<-w.ready
		p.mu.Lock()
		if !w.rejected {
			p.releaseSlotLocked()
		}
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// leaseLocked builds a Lease for an already-reserved slot. Unlocks mu.
func (p *Pool) leaseLocked() (*Lease, error) {
	b, err := p.ensureAliveLocked(false)
	if err != nil {
		p.releaseSlotLocked()
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Unlock()

	return &Lease{
		ID:      uuid.NewString(),
		pool:    p,
		browser: b,
	}, nil
}

// abandonWaiter removes w from the queue if it has not been granted yet.
// Returns true when the waiter was successfully withdrawn.
func (p *Pool) abandonWaiter(w *waiter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.granted {
		return false
	}
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	return true
}

// releaseSlot is called by Lease.Release. The freed slot is handed to the
// first queued waiter; with none pending the active count drops and a
// deferred relaunch may fire.
func (p *Pool) releaseSlot() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseSlotLocked()
}

func (p *Pool) releaseSlotLocked() {
	if len(p.waiters) > 0 && !p.closed {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.granted = true
		close(w.ready)
		return // slot transferred, active count unchanged
	}

	p.active--
	if p.active < 0 {
		// Double release is a no-op upstream; guard anyway.
		p.active = 0
	}

	if p.active == 0 {
		if p.relaunchWant {
			p.doRelaunchLocked("leases drained")
		}
		if p.drained != nil {
			close(p.drained)
			p.drained = nil
		}
	}
}

// EnsureAlive returns a live browser handle, transparently relaunching if
// the cached handle is disconnected. force always tears down and relaunches.
func (p *Pool) EnsureAlive(force bool) (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureAliveLocked(force)
}

// ensureAliveLocked performs the health probe that replaces event-based
// disconnect detection: every acquisition path verifies the cached handle
// and relaunches on failure. Caller must hold mu.
func (p *Pool) ensureAliveLocked(force bool) (*rod.Browser, error) {
	if force {
		p.teardownLocked()
	}

	if p.browser != nil {
		if err := p.probe(p.browser); err != nil {
			slog.Warn("browser handle is dead, relaunching", "error", err)
			p.teardownLocked()
		}
	}

	if p.browser == nil {
		if err := p.launchLocked(); err != nil {
			return nil, err
		}
	}
	return p.browser, nil
}

func (p *Pool) launchLocked() error {
	proxy := ""
	if p.proxyFor != nil {
		selected, err := p.proxyFor()
		if err != nil {
			slog.Warn("proxy selection failed, launching with direct egress", "error", err)
		} else {
			proxy = selected
		}
	}

	b, kill, err := p.launch(p.bcfg, proxy)
	if err != nil {
		return models.NewEngineError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	p.browser = b
	p.kill = kill
	p.currentProxy = proxy
	slog.Info("browser launched", "proxy", proxy != "")
	return nil
}

func (p *Pool) teardownLocked() {
	if p.kill != nil {
		p.kill()
	}
	p.browser = nil
	p.kill = nil
	p.currentProxy = ""
}

// ScheduleRelaunch requests a browser relaunch. While leases are
// outstanding the relaunch is deferred and executes when the active count
// reaches zero; if that does not happen within RelaunchWait it executes
// anyway, accepting that in-flight leases will error.
func (p *Pool) ScheduleRelaunch(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.relaunchWant || p.closed {
		return
	}

	if p.active == 0 {
		p.relaunchWant = true
		p.doRelaunchLocked(reason)
		return
	}

	slog.Warn("relaunch deferred until leases drain",
		"reason", reason,
		"active", p.active,
		"forceAfter", p.cfg.RelaunchWait,
	)
	p.relaunchWant = true
	p.relaunchTimer = time.AfterFunc(p.cfg.RelaunchWait, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.relaunchWant {
			p.doRelaunchLocked("relaunch wait elapsed, forcing")
		}
	})
}

// doRelaunchLocked tears the browser down; the next acquisition launches a
// fresh process. Caller must hold mu.
func (p *Pool) doRelaunchLocked(reason string) {
	slog.Info("relaunching browser", "reason", reason)
	p.relaunchWant = false
	if p.relaunchTimer != nil {
		p.relaunchTimer.Stop()
		p.relaunchTimer = nil
	}
	p.teardownLocked()
}

// CurrentProxy returns the proxy the live browser was launched with
// ("" for direct egress).
func (p *Pool) CurrentProxy() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentProxy
}

// Metrics exposes pool state for upstream admission control and the ops API.
func (p *Pool) Metrics() models.PoolMetrics {
	sample := p.mem.Sample()

	p.mu.Lock()
	defer p.mu.Unlock()
	return models.PoolMetrics{
		Connected:      p.browser != nil,
		ActiveLeases:   p.active,
		PendingWaiters: len(p.waiters),
		MaxContexts:    p.cfg.MaxContexts,
		ResidentBytes:  sample.ResidentBytes,
		HeapBytes:      sample.HeapBytes,
	}
}

// Shutdown waits (bounded) for active leases to drain, rejects any queued
// waiters, then force-closes the browser. Call on graceful shutdown to
// prevent zombie Chrome processes.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true

	for _, w := range p.waiters {
		w.rejected = true
		w.granted = true
		close(w.ready)
	}
	p.waiters = nil

	var drained chan struct{}
	if p.active > 0 {
		drained = make(chan struct{})
		p.drained = drained
	}
	active := p.active
	p.mu.Unlock()

	if drained != nil {
		slog.Info("pool shutting down: waiting for leases to drain", "active", active)
		timer := time.NewTimer(p.cfg.ShutdownTimeout)
		defer timer.Stop()
		select {
		case <-drained:
		case <-timer.C:
			slog.Warn("lease drain timed out, force-closing browser")
		case <-ctx.Done():
			slog.Warn("shutdown context canceled, force-closing browser")
		}
	}

	p.mu.Lock()
	p.teardownLocked()
	p.mu.Unlock()

	slog.Info("pool shutdown complete")
	return nil
}

// checkMemory applies the three-tier resident-memory policy.
func (p *Pool) checkMemory() error {
	sample := p.mem.Sample()
	residentMB := int64(sample.ResidentBytes / (1 << 20))

	switch {
	case p.cfg.MemCriticalMB > 0 && residentMB >= p.cfg.MemCriticalMB:
		p.ScheduleRelaunch("resident memory above critical ceiling")
		return models.NewEngineError(models.ErrCodeMemoryCritical,
			"resident memory above critical ceiling, browser relaunch scheduled", nil)
	case p.cfg.MemHighWaterMB > 0 && residentMB >= p.cfg.MemHighWaterMB:
		return models.NewEngineError(models.ErrCodeMemoryHigh,
			"resident memory above high-water mark", nil)
	case p.cfg.MemLowWaterMB > 0 && residentMB >= p.cfg.MemLowWaterMB:
		slog.Warn("resident memory above low-water mark", "residentMB", residentMB)
	}
	return nil
}
