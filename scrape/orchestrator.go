// Package scrape drives the per-monitor scraping pipeline: health gate,
// auth resolution, navigation, page diagnosis, scrolling and extraction,
// with retry and per-site failure classification around the whole thing.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"golang.org/x/time/rate"

	"github.com/dealwatch/harvester/antidetect"
	"github.com/dealwatch/harvester/auth"
	"github.com/dealwatch/harvester/browser"
	"github.com/dealwatch/harvester/config"
	"github.com/dealwatch/harvester/dedupe"
	"github.com/dealwatch/harvester/models"
	"github.com/dealwatch/harvester/proxy"
	"github.com/dealwatch/harvester/retry"
	"github.com/dealwatch/harvester/sitehealth"
)

// titleDupThreshold is the Hamming distance under which two listing
// titles (at the same price) count as the same item posted twice.
const titleDupThreshold = 2

// Orchestrator is the top-level per-monitor driver. One per process,
// constructed at startup and shared across scrape goroutines.
type Orchestrator struct {
	cfg      config.ScrapeConfig
	resolver *auth.Resolver
	registry *sitehealth.Registry
	store    auth.SessionStore
	pool     *browser.Pool

	proxies *proxy.Rotator
	solver  CaptchaSolver
	policy  retry.Policy

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// OrchestratorOption customises orchestrator construction.
type OrchestratorOption func(*Orchestrator)

// WithSolver plugs in an external captcha-solving service. Without one,
// challenge pages fail closed.
func WithSolver(s CaptchaSolver) OrchestratorOption {
	return func(o *Orchestrator) { o.solver = s }
}

// WithProxies wires proxy health feedback: scrape outcomes are reported
// to the rotator for the proxy the browser is currently egressing through.
func WithProxies(r *proxy.Rotator) OrchestratorOption {
	return func(o *Orchestrator) { o.proxies = r }
}

// WithRetryPolicy overrides the default scrape retry preset.
func WithRetryPolicy(p retry.Policy) OrchestratorOption {
	return func(o *Orchestrator) { o.policy = p }
}

// NewOrchestrator builds the orchestrator and validates the shipped
// selector profiles so a bad selector fails at startup, not mid-scrape.
func NewOrchestrator(cfg config.ScrapeConfig, resolver *auth.Resolver, registry *sitehealth.Registry,
	store auth.SessionStore, pool *browser.Pool, opts ...OrchestratorOption) (*Orchestrator, error) {

	if err := ValidateProfiles(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:      cfg,
		resolver: resolver,
		registry: registry,
		store:    store,
		pool:     pool,
		policy:   retry.ScrapePolicy(),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// SiteHealth exposes the per-site health snapshot for the ops API.
func (o *Orchestrator) SiteHealth() []models.SiteHealth {
	return o.registry.Snapshot()
}

// Scrape runs one monitor end to end and returns the validated listings.
//
// Lifecycle:
//
//  1. Health gate     – refuse while the site's backoff window is open
//  2. Politeness      – per-site rate limit on navigations
//  3. Retry loop      – the attempt below, under the scrape backoff preset
//  4. Classification  – final outcome written into the health registry
//     and fed back to the proxy rotator
func (o *Orchestrator) Scrape(ctx context.Context, monitor models.Monitor) (*models.Report, error) {
	site := monitor.Site
	profile := ProfileFor(site)

	// ── 1. Health gate ────────────────────────────────────────────────
	decision := o.registry.CanUse(site)
	if !decision.Usable {
		return nil, models.NewEngineError(models.ErrCodeSiteCoolingDown,
			fmt.Sprintf("site %s is cooling down for %d more minutes (%s: %s)",
				site, decision.RemainMin, decision.Status, decision.Reason), nil)
	}

	degraded := false
	if decision.Degraded {
		switch monitor.AuthMode {
		case models.AuthCookiesRequired:
			return nil, models.NewEngineError(models.ErrCodeNeedsReauth,
				fmt.Sprintf("site %s needs reauthentication and monitor %s requires cookies",
					site, monitor.ID), nil)
		case models.AuthCookiesOptional:
			if !monitor.AllowDegraded {
				return nil, models.NewEngineError(models.ErrCodeNeedsReauth,
					fmt.Sprintf("site %s needs reauthentication and monitor %s does not allow degraded mode",
						site, monitor.ID), nil)
			}
			degraded = true
		}
	}

	// ── 2. Per-site politeness ────────────────────────────────────────
	if err := o.limiter(site).Wait(ctx); err != nil {
		return nil, err
	}

	// ── 3. Retry loop ─────────────────────────────────────────────────
	attempts := 0
	onRetry := func(attempt int, delay time.Duration, err error, class retry.Class) {
		slog.Warn("scrape attempt failed, retrying",
			"monitor", monitor.ID,
			"site", site,
			"attempt", attempt,
			"delay", delay,
			"class", string(class),
			"error", err,
		)
		if class == retry.ClassBrowserCrash {
			// A dead browser will fail every context the same way; get a
			// fresh process before the next attempt.
			o.pool.ScheduleRelaunch("browser crash during scrape")
		}
	}

	report, err := retry.DoValue(ctx, o.policy, onRetry, func(ctx context.Context) (*models.Report, error) {
		attempts++
		return o.attempt(ctx, monitor, profile, degraded)
	})

	// ── 4. Outcome classification ─────────────────────────────────────
	if err != nil {
		o.recordFailure(site, err)
		o.reportProxy(err)
		return nil, err
	}

	o.registry.MarkSuccess(site)
	o.reportProxy(nil)

	report.Attempts = attempts
	return report, nil
}

// attempt is one full navigate-diagnose-extract pass. Cleanup of the auth
// context is guaranteed regardless of outcome.
func (o *Orchestrator) attempt(ctx context.Context, monitor models.Monitor, profile *SiteProfile, degraded bool) (*models.Report, error) {
	// ── 1. Resolve auth ───────────────────────────────────────────────
	mode := monitor.AuthMode
	if degraded {
		mode = models.AuthAnonymous
	}
	ac, err := o.resolver.Resolve(ctx, auth.Request{
		UserID:     monitor.UserID,
		Site:       monitor.Site,
		Mode:       mode,
		AntiDetect: o.antiDetect(),
	})
	if err != nil {
		switch models.CodeOf(err) {
		case models.ErrCodeSessionRequired, models.ErrCodeNeedsReauth:
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	defer ac.Cleanup()

	// ── 2. Navigate with a bounded timeout ────────────────────────────
	// Only navigation itself runs under NavigationTimeout; diagnosis,
	// scrolling and extraction carry their own bounds.
	p := ac.Page.Context(ctx)
	navPage := p.Timeout(o.cfg.NavigationTimeout)

	if err := navPage.Navigate(monitor.SearchURL); err != nil {
		return nil, models.NewEngineError(models.ErrCodeNavigation,
			"navigation to search URL failed", err)
	}
	if err := navPage.WaitLoad(); err != nil {
		// The page may still be usable; diagnosis decides.
		slog.Debug("wait-load did not settle", "site", monitor.Site, "error", err)
	}

	// ── 3. Diagnose ───────────────────────────────────────────────────
	diag, err := Diagnose(p, profile)
	if err != nil {
		return nil, models.NewEngineError(models.ErrCodeNavigation,
			"failed to snapshot page for diagnosis", err)
	}

	if diag.Type == PageBlocked && o.solver != nil &&
		(diag.Signals.CaptchaPresent || diag.Signals.ChallengePresent) {
		diag, err = o.trySolve(ctx, p, profile)
		if err != nil {
			return nil, err
		}
	}

	switch diag.Type {
	case PageLoginRequired:
		return nil, o.handleLoginWall(ctx, monitor, ac.Authenticated)

	case PageBlocked:
		code := models.ErrCodeSiteBlocked
		if diag.Signals.CaptchaPresent || diag.Signals.ChallengePresent {
			code = models.ErrCodeChallenge
		}
		return nil, models.NewEngineError(code,
			fmt.Sprintf("site %s is blocking the worker (title: %q)", monitor.Site, diag.Signals.Title), nil)

	case PageNoResults:
		// A legitimate empty result set, not an error.
		return o.buildReport(monitor, nil, nil, diag, "", 0, degraded || !ac.Authenticated), nil

	case PageEmpty:
		return nil, models.NewEngineError(models.ErrCodeNavigation,
			"page rendered empty", nil)
	}

	// ── 4. Results container, with a progressive timeout ladder ───────
	selector, err := o.waitContainer(p, profile)
	if err != nil {
		return nil, err
	}

	// ── 5. Scroll to trigger lazy loading ─────────────────────────────
	scrolls, scrollErr := driveScroll(ctx, pageScroller{page: p}, profile, o.cfg)
	if scrollErr != nil {
		// Extract whatever did load.
		slog.Warn("scrolling aborted early", "site", monitor.Site, "scrolls", scrolls, "error", scrollErr)
	}

	// ── 6. Extract and validate ───────────────────────────────────────
	html, err := p.HTML()
	if err != nil {
		return nil, models.NewEngineError(models.ErrCodeNavigation,
			"failed to read final page HTML", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.NewEngineError(models.ErrCodeInternal,
			"failed to parse final page HTML", err)
	}

	items, skipped := Extract(doc, profile, monitor)
	items = o.dropNearDuplicates(items, skipped)

	if len(items) == 0 {
		slog.Info("extraction yielded zero items",
			"monitor", monitor.ID,
			"site", monitor.Site,
			"selector", selector,
			"skipped", skipped,
		)
	}

	return o.buildReport(monitor, items, skipped, diag, selector, scrolls, degraded || !ac.Authenticated), nil
}

// handleLoginWall distinguishes "our session died" from "this site simply
// wants a login". The former flags the stored session in the external
// store so the owner gets prompted to log in again.
func (o *Orchestrator) handleLoginWall(ctx context.Context, monitor models.Monitor, authenticated bool) error {
	if authenticated {
		reason := "login wall shown to an authenticated session"
		if o.store != nil && monitor.UserID != "" {
			if _, err := o.store.MarkNeedsReauth(ctx, monitor.UserID, monitor.Site, reason); err != nil {
				slog.Warn("failed to flag stored session", "site", monitor.Site, "error", err)
			}
		}
		o.registry.MarkExpired(monitor.Site, reason)
		return retry.Permanent(models.NewEngineError(models.ErrCodeNeedsReauth,
			fmt.Sprintf("stored session for site %s is no longer logged in", monitor.Site), nil))
	}
	return retry.Permanent(models.NewEngineError(models.ErrCodeSessionRequired,
		fmt.Sprintf("site %s presents a login wall to anonymous traffic", monitor.Site), nil))
}

// trySolve runs the configured captcha solver once and re-diagnoses. The
// solver error is swallowed into a typed challenge error so the caller's
// branch logic stays uniform.
func (o *Orchestrator) trySolve(ctx context.Context, p *rod.Page, profile *SiteProfile) (Diagnosis, error) {
	if err := o.solver.Solve(ctx, p); err != nil {
		return Diagnosis{}, models.NewEngineError(models.ErrCodeChallenge,
			"captcha solver failed to clear the challenge", err)
	}
	diag, err := Diagnose(p, profile)
	if err != nil {
		return Diagnosis{}, models.NewEngineError(models.ErrCodeNavigation,
			"failed to re-diagnose page after solving", err)
	}
	return diag, nil
}

// waitContainer walks the ordered fallback selector list, giving each
// successive selector a longer wait from the timeout ladder. When a site
// ships new markup the stale selectors miss quickly and the generic
// fallbacks get the most patience.
func (o *Orchestrator) waitContainer(p *rod.Page, profile *SiteProfile) (string, error) {
	timeouts := o.cfg.ContainerTimeouts
	if len(timeouts) == 0 {
		timeouts = []time.Duration{5 * time.Second}
	}

	for i, sel := range profile.ResultContainers {
		t := timeouts[min(i, len(timeouts)-1)]
		if err := p.Timeout(t).WaitElementsMoreThan(sel, 0); err == nil {
			return sel, nil
		}
		slog.Debug("results container selector missed",
			"site", profile.Site, "selector", sel, "waited", t)
	}

	return "", models.NewEngineError(models.ErrCodeContainerNotFound,
		fmt.Sprintf("no results container matched any of %d fallback selectors for site %s",
			len(profile.ResultContainers), profile.Site), nil)
}

// dropNearDuplicates removes listings whose title (at the same price) is a
// near-duplicate of an earlier listing in the same result set.
func (o *Orchestrator) dropNearDuplicates(items []models.Item, skipped map[string]int) []models.Item {
	dd := dedupe.NewDeduper(titleDupThreshold)
	kept := items[:0]
	for _, item := range items {
		key := fmt.Sprintf("%s|%.2f", item.Title, item.Price)
		if dd.Seen(key) {
			skipped[models.SkipDuplicate]++
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func (o *Orchestrator) buildReport(monitor models.Monitor, items []models.Item, skipped map[string]int,
	diag Diagnosis, selector string, scrolls int, degraded bool) *models.Report {

	if items == nil {
		items = []models.Item{}
	}
	return &models.Report{
		MonitorID: monitor.ID,
		Site:      monitor.Site,
		Items:     items,
		Skipped:   skipped,
		PageType:  string(diag.Type),
		Degraded:  degraded && monitor.AuthMode != models.AuthAnonymous,
		Selector:  selector,
		Scrolls:   scrolls,
	}
}

// recordFailure classifies a final error into the health registry.
// Worker-local failures (memory pressure, acquire timeouts) are not the
// site's fault and leave its health untouched.
func (o *Orchestrator) recordFailure(site string, err error) {
	switch models.CodeOf(err) {
	case models.ErrCodeSessionRequired, models.ErrCodeNeedsReauth:
		o.registry.MarkError(site, sitehealth.KindLoginRequired, err.Error())
	case models.ErrCodeChallenge:
		o.registry.MarkError(site, sitehealth.KindChallenge, err.Error())
	case models.ErrCodeSiteBlocked:
		o.registry.MarkError(site, sitehealth.KindBlocked, err.Error())
	case models.ErrCodeMemoryCritical, models.ErrCodeMemoryHigh, models.ErrCodeAcquireTimeout:
		// worker-local, not a site problem
	default:
		o.registry.MarkError(site, sitehealth.KindError, err.Error())
	}
}

// reportProxy feeds the scrape outcome back to the rotator for the proxy
// the browser currently egresses through. Only block-shaped failures count
// against a proxy; a missing selector is not its fault.
func (o *Orchestrator) reportProxy(err error) {
	if o.proxies == nil {
		return
	}
	endpoint := o.pool.CurrentProxy()
	if endpoint == "" {
		return
	}
	if err == nil {
		o.proxies.MarkSuccess(endpoint)
		return
	}
	switch models.CodeOf(err) {
	case models.ErrCodeSiteBlocked, models.ErrCodeChallenge, models.ErrCodeNavigation, models.ErrCodeTimeout:
		o.proxies.MarkFailure(endpoint)
	}
}

// limiter returns the per-site navigation limiter, creating it lazily.
func (o *Orchestrator) limiter(site string) *rate.Limiter {
	o.mu.Lock()
	defer o.mu.Unlock()

	l, ok := o.limiters[site]
	if !ok {
		perSecond := o.cfg.SiteRatePerMinute / 60.0
		if perSecond <= 0 {
			perSecond = 0.1
		}
		burst := o.cfg.SiteRateBurst
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(perSecond), burst)
		o.limiters[site] = l
	}
	return l
}

func (o *Orchestrator) antiDetect() antidetect.Config {
	return antidetect.Config{
		BlockedResources: o.cfg.BlockedResourceTypes,
		BlockAds:         o.cfg.BlockAds,
		Stealth:          true,
	}
}
