// Package proxy maintains a pool of egress proxies with per-proxy failure
// counters and time-boxed cooldown.
package proxy

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mazen160/go-random"

	"github.com/dealwatch/harvester/config"
	"github.com/dealwatch/harvester/models"
)

// ErrNoProxyAvailable is returned when every configured proxy is cooling down.
var ErrNoProxyAvailable = errors.New("proxy: no proxy available (all in cooldown)")

// Strategy selects the next proxy from the healthy subset.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyLeastUsed  Strategy = "least_used"
	StrategyRandom     Strategy = "random"
)

// Record tracks one proxy endpoint's health.
type Record struct {
	Endpoint string // normalized URL, credentials included if configured

	failures      int
	successes     int
	lastUsed      time.Time
	lastFailure   time.Time
	cooldownUntil time.Time
}

// Rotator hands out proxies according to the configured strategy and
// excludes proxies that crossed the failure threshold until their cooldown
// clears. Safe for concurrent use.
type Rotator struct {
	mu          sync.Mutex
	records     []*Record
	strategy    Strategy
	maxFailures int
	cooldown    time.Duration
	rrIndex     int

	now func() time.Time // overridable for tests
}

// NewRotator parses the delimited endpoint list from configuration and
// builds a rotator. An empty endpoint list yields a rotator whose Next
// always returns ("", nil): direct egress.
func NewRotator(cfg config.ProxyConfig) (*Rotator, error) {
	endpoints := splitEndpoints(cfg.Endpoints)

	records := make([]*Record, 0, len(endpoints))
	for _, ep := range endpoints {
		u, err := url.Parse(ep)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, errors.New("proxy: invalid proxy URL " + ep)
		}
		records = append(records, &Record{Endpoint: u.String()})
	}

	strategy := Strategy(cfg.Strategy)
	switch strategy {
	case StrategyRoundRobin, StrategyLeastUsed, StrategyRandom:
	case "":
		strategy = StrategyRoundRobin
	default:
		return nil, errors.New("proxy: unknown strategy " + cfg.Strategy)
	}

	maxFailures := cfg.MaxFailures
	if maxFailures < 1 {
		maxFailures = 3
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}

	return &Rotator{
		records:     records,
		strategy:    strategy,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}, nil
}

// Empty reports whether the rotator has no proxies configured.
func (r *Rotator) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records) == 0
}

// Next returns the endpoint of the next usable proxy. With no proxies
// configured it returns "" (direct egress). When all proxies are in
// cooldown it returns ErrNoProxyAvailable.
func (r *Rotator) Next() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) == 0 {
		return "", nil
	}

	healthy := r.healthyLocked()
	if len(healthy) == 0 {
		return "", ErrNoProxyAvailable
	}

	var pick *Record
	switch r.strategy {
	case StrategyLeastUsed:
		pick = healthy[0]
		for _, rec := range healthy[1:] {
			if rec.lastUsed.Before(pick.lastUsed) {
				pick = rec
			}
		}
	case StrategyRandom:
		idx, err := random.IntRange(0, len(healthy))
		if err != nil {
			idx = 0
		}
		pick = healthy[idx]
	default: // round robin over the full list, skipping unhealthy entries
		for range r.records {
			rec := r.records[r.rrIndex%len(r.records)]
			r.rrIndex++
			if r.usableLocked(rec) {
				pick = rec
				break
			}
		}
	}

	if pick == nil {
		return "", ErrNoProxyAvailable
	}
	pick.lastUsed = r.now()
	return pick.Endpoint, nil
}

// MarkSuccess records a successful scrape through the proxy and clears its
// failure counter.
func (r *Rotator) MarkSuccess(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.findLocked(endpoint); rec != nil {
		rec.successes++
		rec.failures = 0
	}
}

// MarkFailure records a failed scrape through the proxy. Crossing the
// failure threshold sends the proxy into cooldown.
func (r *Rotator) MarkFailure(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.findLocked(endpoint)
	if rec == nil {
		return
	}
	rec.failures++
	rec.lastFailure = r.now()
	if rec.failures >= r.maxFailures {
		rec.cooldownUntil = r.now().Add(r.cooldown)
		slog.Warn("proxy entering cooldown",
			"endpoint", redact(rec.Endpoint),
			"failures", rec.failures,
			"cooldown", r.cooldown,
		)
	}
}

// Snapshot returns the current state of every proxy for the ops API.
func (r *Rotator) Snapshot() []models.ProxyStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.ProxyStatus, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, models.ProxyStatus{
			Endpoint:    redact(rec.Endpoint),
			Failures:    rec.failures,
			Successes:   rec.successes,
			LastUsed:    rec.lastUsed,
			LastFailure: rec.lastFailure,
			InCooldown:  !r.usableLocked(rec),
		})
	}
	return out
}

// usableLocked also self-clears an expired cooldown. Caller must hold mu.
func (r *Rotator) usableLocked(rec *Record) bool {
	if rec.cooldownUntil.IsZero() {
		return true
	}
	if r.now().Before(rec.cooldownUntil) {
		return false
	}
	rec.cooldownUntil = time.Time{}
	rec.failures = 0
	return true
}

func (r *Rotator) healthyLocked() []*Record {
	healthy := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		if r.usableLocked(rec) {
			healthy = append(healthy, rec)
		}
	}
	return healthy
}

func (r *Rotator) findLocked(endpoint string) *Record {
	for _, rec := range r.records {
		if rec.Endpoint == endpoint {
			return rec
		}
	}
	return nil
}

// splitEndpoints accepts comma- or semicolon-delimited proxy lists.
func splitEndpoints(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// redact strips userinfo from a proxy URL for logs and API output.
func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.User == nil {
		return endpoint
	}
	u.User = url.User(u.User.Username())
	return u.String()
}
