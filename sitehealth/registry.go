// Package sitehealth tracks per-site authentication health as a backoff
// state machine. It decouples why a scrape failed from what the next
// attempt should do, and prevents hot-looping against a site that is
// actively blocking the worker.
package sitehealth

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dealwatch/harvester/config"
	"github.com/dealwatch/harvester/models"
)

// Status is the health state of one site.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusOK          Status = "ok"
	StatusNeedsReauth Status = "needs_reauth"
	StatusExpired     Status = "expired"
	StatusBlocked     Status = "blocked"
	StatusError       Status = "error"
)

// ErrorKind classifies a scrape failure reported via MarkError.
type ErrorKind string

const (
	KindLoginRequired ErrorKind = "login_required"
	KindChallenge     ErrorKind = "challenge"
	KindBlocked       ErrorKind = "blocked"
	KindError         ErrorKind = "error"
)

// ReauthNotifier receives the one-shot notification fired when a site
// first enters needs_reauth. Implementations must be safe for concurrent
// use; delivery failures are logged, not propagated.
type ReauthNotifier interface {
	NotifyReauthNeeded(ctx context.Context, site, reason string) error
}

// state is the mutable record for one site. Mutated only under Registry.mu.
type state struct {
	status              Status
	reason              string
	lastCheckedAt       time.Time
	lastSuccessAt       time.Time
	lastErrorAt         time.Time
	consecutiveErrors   int
	backoffUntil        time.Time
	needsReauthNotified bool
}

// Decision is the answer to "may this site be scraped right now?".
type Decision struct {
	Usable bool

	// Degraded is true when the site is usable again after a
	// needs_reauth backoff: callers should expect to run unauthenticated.
	Degraded bool

	Status    Status
	Reason    string
	RetryIn   time.Duration
	RemainMin int
}

// Registry holds the health state machine for every site. Entries are
// never deleted, only reset. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sites    map[string]*state
	cfg      config.HealthConfig
	notifier ReauthNotifier

	now func() time.Time // overridable for tests
}

// NewRegistry creates a Registry. notifier may be nil (notifications are
// then dropped with a debug log).
func NewRegistry(cfg config.HealthConfig, notifier ReauthNotifier) *Registry {
	if cfg.LongBackoff <= 0 {
		cfg.LongBackoff = 60 * time.Minute
	}
	if cfg.ShortBackoff <= 0 {
		cfg.ShortBackoff = 15 * time.Minute
	}
	if cfg.ErrorThreshold < 1 {
		cfg.ErrorThreshold = 3
	}
	return &Registry{
		sites:    make(map[string]*state),
		cfg:      cfg,
		notifier: notifier,
		now:      time.Now,
	}
}

// MarkSuccess transitions a site to ok from any state, clearing error
// counters, backoff and the reauth-notified latch.
func (r *Registry) MarkSuccess(site string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.siteLocked(site)
	s.status = StatusOK
	s.reason = ""
	s.consecutiveErrors = 0
	s.backoffUntil = time.Time{}
	s.needsReauthNotified = false
	s.lastCheckedAt = r.now()
	s.lastSuccessAt = r.now()
}

// MarkError records a classified failure and applies the matching backoff:
//
//   - login_required / challenge → needs_reauth, long backoff, one-shot
//     reauth notification;
//   - blocked → blocked, 2× long backoff;
//   - error → counts consecutive errors; only past the threshold does the
//     site transition to error with the short backoff. Isolated transient
//     errors do not trip backoff.
func (r *Registry) MarkError(site string, kind ErrorKind, reason string) {
	r.mu.Lock()

	s := r.siteLocked(site)
	now := r.now()
	s.lastCheckedAt = now
	s.lastErrorAt = now
	s.reason = reason

	var notify bool
	switch kind {
	case KindLoginRequired, KindChallenge:
		s.status = StatusNeedsReauth
		s.backoffUntil = now.Add(r.cfg.LongBackoff)
		s.consecutiveErrors = 0
		if !s.needsReauthNotified {
			s.needsReauthNotified = true
			notify = true
		}
	case KindBlocked:
		s.status = StatusBlocked
		s.backoffUntil = now.Add(2 * r.cfg.LongBackoff)
		s.consecutiveErrors = 0
	default:
		s.consecutiveErrors++
		if s.consecutiveErrors >= r.cfg.ErrorThreshold {
			s.status = StatusError
			s.backoffUntil = now.Add(r.cfg.ShortBackoff)
		}
	}
	r.mu.Unlock()

	slog.Warn("site health degraded",
		"site", site,
		"kind", string(kind),
		"reason", reason,
	)

	// Delivery runs off the scrape path: a slow webhook endpoint must not
	// stall the caller. The latch was already set under the lock, so at
	// most one goroutine exists per needs_reauth episode.
	if notify {
		go r.fireReauthNotification(site, reason)
	}
}

// MarkExpired flags a site whose stored session stopped working mid-flight.
// Unlike needs_reauth it carries no backoff: the next attempt may still run
// anonymously.
func (r *Registry) MarkExpired(site, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.siteLocked(site)
	s.status = StatusExpired
	s.reason = reason
	s.lastCheckedAt = r.now()
	s.lastErrorAt = r.now()
}

// CanUse answers whether a site may be scraped now. An expired backoff is
// cleared as a side effect of this read; a needs_reauth site past its
// backoff is usable but flagged degraded.
func (r *Registry) CanUse(site string) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.siteLocked(site)
	now := r.now()

	if !s.backoffUntil.IsZero() {
		if now.Before(s.backoffUntil) {
			remain := s.backoffUntil.Sub(now)
			return Decision{
				Usable:    false,
				Status:    s.status,
				Reason:    s.reason,
				RetryIn:   remain,
				RemainMin: int(remain.Minutes()) + 1,
			}
		}
		// Backoff elapsed: clear it on read.
		s.backoffUntil = time.Time{}
	}

	degraded := s.status == StatusNeedsReauth || s.status == StatusExpired
	return Decision{
		Usable:   true,
		Degraded: degraded,
		Status:   s.status,
		Reason:   s.reason,
	}
}

// Reset returns a site to the unknown state, clearing all counters.
func (r *Registry) Reset(site string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites[site] = &state{status: StatusUnknown}
}

// Snapshot returns every site's health for the ops API, sorted by site key.
func (r *Registry) Snapshot() []models.SiteHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]models.SiteHealth, 0, len(r.sites))
	for site, s := range r.sites {
		remain := 0
		if !s.backoffUntil.IsZero() && now.Before(s.backoffUntil) {
			remain = int(s.backoffUntil.Sub(now).Minutes()) + 1
		}
		out = append(out, models.SiteHealth{
			Site:                site,
			Status:              string(s.status),
			Reason:              s.reason,
			ConsecutiveErrors:   s.consecutiveErrors,
			LastCheckedAt:       s.lastCheckedAt,
			LastSuccessAt:       s.lastSuccessAt,
			LastErrorAt:         s.lastErrorAt,
			BackoffUntil:        s.backoffUntil,
			BackoffRemainingMin: remain,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out
}

// siteLocked returns the state record for a site, creating it on first
// touch. Caller must hold mu.
func (r *Registry) siteLocked(site string) *state {
	s, ok := r.sites[site]
	if !ok {
		s = &state{status: StatusUnknown}
		r.sites[site] = s
	}
	return s
}

func (r *Registry) fireReauthNotification(site, reason string) {
	if r.notifier == nil {
		slog.Debug("reauth needed but no notifier configured", "site", site)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.notifier.NotifyReauthNeeded(ctx, site, reason); err != nil {
		slog.Warn("reauth notification failed", "site", site, "error", err)
	}
}
