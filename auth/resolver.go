// Package auth resolves how a scrape runs: under a user's restored
// session, through a site-specific provider, or anonymously. Resolution
// follows a fixed cascade and never silently downgrades a monitor that
// requires cookies.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"

	"github.com/dealwatch/harvester/antidetect"
	"github.com/dealwatch/harvester/browser"
	"github.com/dealwatch/harvester/config"
	"github.com/dealwatch/harvester/models"
)

// Source identifies which cascade step produced the authenticated context.
type Source string

const (
	SourceProvider  Source = "provider"
	SourceStored    Source = "stored_session"
	SourceAnonymous Source = "anonymous"
)

// Request carries everything resolution needs for one scrape.
type Request struct {
	UserID string
	Site   string
	Mode   models.AuthMode

	// AntiDetect is applied to the page before it is handed back, so
	// stealth patches land before the first navigation.
	AntiDetect antidetect.Config
}

// Context is a ready-to-navigate page plus the lease backing it. Callers
// must call Cleanup exactly once when done; extra calls are no-ops.
type Context struct {
	Authenticated bool
	Source        Source
	Page          *rod.Page

	lease     *browser.Lease
	closers   []func()
	closeOnce sync.Once
}

// Cleanup closes the page, stops interception and returns the context
// slot to the pool. Idempotent.
func (c *Context) Cleanup() {
	c.closeOnce.Do(func() {
		for i := len(c.closers) - 1; i >= 0; i-- {
			c.closers[i]()
		}
		if c.lease != nil {
			c.lease.Release()
		}
	})
}

// Provider is a site-specific authentication strategy (API-token login,
// OAuth refresh, one-off credential flows). Returning (nil, nil) means
// the provider has no material for this request and the cascade moves on.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, req Request, acquire func() (*browser.Lease, error)) (*Context, error)
}

// Resolver walks the cascade: site provider, stored session, then
// anonymous. Monitors that require cookies fail fast when neither of the
// first two steps yields material, before any browser slot is taken.
type Resolver struct {
	store     SessionStore
	pool      *browser.Pool
	cfg       config.SessionConfig
	providers map[string]Provider
}

func NewResolver(store SessionStore, pool *browser.Pool, cfg config.SessionConfig) *Resolver {
	return &Resolver{
		store:     store,
		pool:      pool,
		cfg:       cfg,
		providers: make(map[string]Provider),
	}
}

// RegisterProvider installs a site-specific strategy. Last registration
// per site wins.
func (r *Resolver) RegisterProvider(site string, p Provider) {
	r.providers[site] = p
}

// Resolve produces an authenticated (or deliberately anonymous) page for
// the request. The error carries AUTH_SESSION_REQUIRED when the monitor
// requires cookies and no usable material exists.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Context, error) {
	acquire := func() (*browser.Lease, error) {
		return r.pool.AcquireContext(ctx)
	}

	// 1. Site-specific provider.
	if p, ok := r.providers[req.Site]; ok {
		ac, err := p.Resolve(ctx, req, acquire)
		if err != nil {
			if req.Mode == models.AuthCookiesRequired {
				return nil, models.NewEngineError(models.ErrCodeNeedsReauth,
					fmt.Sprintf("auth provider %q failed for site %s", p.Name(), req.Site), err)
			}
			slog.Warn("auth provider failed, falling through",
				"provider", p.Name(), "site", req.Site, "error", err)
		}
		if ac != nil {
			ac.Source = SourceProvider
			return ac, nil
		}
	}

	// 2. Stored session. Material is loaded and decrypted BEFORE a slot
	// is acquired, so a monitor with no session never occupies the pool.
	state, haveSession, err := r.loadSession(ctx, req)
	if err != nil {
		if req.Mode == models.AuthCookiesRequired {
			return nil, err
		}
		slog.Warn("stored session unusable, falling through",
			"site", req.Site, "user_id", req.UserID, "error", err)
	}
	if haveSession {
		return r.openWithSession(req, state, acquire)
	}

	// 3. No material left. Required mode refuses rather than degrade.
	if req.Mode == models.AuthCookiesRequired {
		return nil, models.NewEngineError(models.ErrCodeSessionRequired,
			fmt.Sprintf("site %s requires a logged-in session and none is stored for user %s",
				req.Site, req.UserID), nil)
	}

	return r.openAnonymous(req, acquire)
}

func (r *Resolver) loadSession(ctx context.Context, req Request) (*storageState, bool, error) {
	// No store, no user or no decryption key: the stored-session step is
	// disabled entirely.
	if r.store == nil || req.UserID == "" || r.cfg.EncryptionKey == "" {
		return nil, false, nil
	}
	blob, ok, err := r.store.LoadEncryptedSession(ctx, req.UserID, req.Site)
	if err != nil {
		return nil, false, models.NewEngineError(models.ErrCodeInternal,
			"failed to load stored session", err)
	}
	if !ok {
		return nil, false, nil
	}
	state, err := decryptStorageState(blob, r.cfg.EncryptionKey)
	if err != nil {
		return nil, false, models.NewEngineError(models.ErrCodeNeedsReauth,
			fmt.Sprintf("stored session for site %s is corrupt", req.Site), err)
	}
	return state, true, nil
}

func (r *Resolver) openWithSession(req Request, state *storageState, acquire func() (*browser.Lease, error)) (*Context, error) {
	ac, err := r.openPage(req, acquire)
	if err != nil {
		return nil, err
	}
	if err := applyStorageState(ac.Page, state); err != nil {
		ac.Cleanup()
		return nil, models.NewEngineError(models.ErrCodeInternal,
			"failed to restore session onto page", err)
	}
	ac.Authenticated = true
	ac.Source = SourceStored
	return ac, nil
}

func (r *Resolver) openAnonymous(req Request, acquire func() (*browser.Lease, error)) (*Context, error) {
	ac, err := r.openPage(req, acquire)
	if err != nil {
		return nil, err
	}
	if err := applyAnonymousIdentity(ac.Page); err != nil {
		ac.Cleanup()
		return nil, models.NewEngineError(models.ErrCodeInternal,
			"failed to apply anonymous identity", err)
	}
	ac.Authenticated = false
	ac.Source = SourceAnonymous
	return ac, nil
}

// openPage acquires a slot, opens an isolated page and applies the
// anti-detection layer. On any failure the slot is returned immediately.
func (r *Resolver) openPage(req Request, acquire func() (*browser.Lease, error)) (*Context, error) {
	lease, err := acquire()
	if err != nil {
		return nil, err
	}

	page, closePage, err := lease.NewPage()
	if err != nil {
		lease.Release()
		return nil, err
	}

	stopHijack, err := antidetect.Apply(page, req.AntiDetect)
	if err != nil {
		closePage()
		lease.Release()
		return nil, models.NewEngineError(models.ErrCodeInternal,
			"failed to apply anti-detection layer", err)
	}

	return &Context{
		Page:    page,
		lease:   lease,
		closers: []func(){closePage, stopHijack},
	}, nil
}
