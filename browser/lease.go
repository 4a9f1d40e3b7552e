package browser

import (
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/dealwatch/harvester/models"
)

// Lease is the ownership token for one context slot. The holder may create
// isolated pages under it until Release; the underlying browser process
// stays shared and must never be closed through a lease.
type Lease struct {
	ID string

	pool    *Pool
	browser *rod.Browser
	once    sync.Once
}

// Browser returns the shared browser handle backing this lease.
func (l *Lease) Browser() *rod.Browser {
	return l.browser
}

// NewPage creates a page inside a fresh incognito browser context: an
// isolated cookie/storage jar multiplexed over the shared process. The
// returned close function disposes exactly that page and context, never
// the shared browser, and is safe to call more than once.
func (l *Lease) NewPage() (*rod.Page, func(), error) {
	inc, err := l.browser.Incognito()
	if err != nil {
		return nil, nil, models.NewEngineError(models.ErrCodeBrowserCrash,
			"failed to create incognito context", err)
	}

	page, err := inc.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, nil, models.NewEngineError(models.ErrCodeBrowserCrash,
			"failed to create page", err)
	}

	var closeOnce sync.Once
	closeFn := func() {
		closeOnce.Do(func() {
			_ = page.Close()
		})
	}
	return page, closeFn, nil
}

// Release returns the context slot to the pool. Idempotent: the second and
// later calls are no-ops and never double-decrement the active count.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.releaseSlot()
	})
}
