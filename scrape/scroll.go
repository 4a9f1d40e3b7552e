package scrape

import (
	"context"
	"time"

	"github.com/go-rod/rod"

	"github.com/dealwatch/harvester/config"
)

// Scroller abstracts the page operations the scroll strategies need, so
// strategies stay testable without a live browser.
type Scroller interface {
	// Height returns the current document scroll height in pixels.
	Height() (float64, error)

	// ScrollTo scrolls the viewport to the given vertical offset.
	ScrollTo(y float64) error

	// VisibleItemCount samples the visible listing count via a
	// prioritized selector list (first selector with matches wins).
	VisibleItemCount(selectors []string) (int, error)
}

// FixedScroll divides the page height into steps equal increments and
// scrolls through them with a pause between each. Deterministic: always
// performs exactly steps scroll operations. Returns the scrolls performed.
func FixedScroll(ctx context.Context, s Scroller, steps int, pause time.Duration) (int, error) {
	if steps < 1 {
		steps = 1
	}

	height, err := s.Height()
	if err != nil {
		return 0, err
	}

	increment := height / float64(steps)
	for i := 1; i <= steps; i++ {
		if err := s.ScrollTo(increment * float64(i)); err != nil {
			return i - 1, err
		}
		if err := sleepCtx(ctx, pause); err != nil {
			return i, err
		}
	}
	return steps, nil
}

// AdaptiveScroll repeatedly scrolls to the bottom, sampling the visible
// item count after each scroll, and stops early once the count fails to
// grow for stableThreshold consecutive samples or after maxAttempts. This
// bounds cost on infinite-scroll pages without per-site tuning. Returns
// the scrolls performed.
func AdaptiveScroll(ctx context.Context, s Scroller, selectors []string, maxAttempts, stableThreshold int, pause time.Duration) (int, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if stableThreshold < 1 {
		stableThreshold = 1
	}

	prev := 0
	stable := 0
	scrolls := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		height, err := s.Height()
		if err != nil {
			return scrolls, err
		}
		if err := s.ScrollTo(height); err != nil {
			return scrolls, err
		}
		scrolls++

		if err := sleepCtx(ctx, pause); err != nil {
			return scrolls, err
		}

		count, err := s.VisibleItemCount(selectors)
		if err != nil {
			return scrolls, err
		}

		if count > prev {
			stable = 0
		} else {
			stable++
			if stable >= stableThreshold {
				break
			}
		}
		prev = count
	}
	return scrolls, nil
}

// driveScroll runs the scroll strategy the profile asks for: a fixed pass
// when FixedScrollSteps is set, adaptive sampling otherwise.
func driveScroll(ctx context.Context, s Scroller, profile *SiteProfile, cfg config.ScrapeConfig) (int, error) {
	if profile.FixedScrollSteps > 0 {
		return FixedScroll(ctx, s, profile.FixedScrollSteps, cfg.ScrollPause)
	}
	return AdaptiveScroll(ctx, s, profile.ListingSelectors,
		cfg.MaxScrollAttempts, cfg.ScrollStableThreshold, cfg.ScrollPause)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pageScroller adapts a live page to the Scroller interface.
type pageScroller struct {
	page *rod.Page
}

func (p pageScroller) Height() (float64, error) {
	res, err := p.page.Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, err
	}
	return res.Value.Num(), nil
}

func (p pageScroller) ScrollTo(y float64) error {
	_, err := p.page.Eval(`(y) => window.scrollTo(0, y)`, y)
	return err
}

func (p pageScroller) VisibleItemCount(selectors []string) (int, error) {
	for _, sel := range selectors {
		res, err := p.page.Eval(`(sel) => document.querySelectorAll(sel).length`, sel)
		if err != nil {
			return 0, err
		}
		if n := res.Value.Int(); n > 0 {
			return n, nil
		}
	}
	return 0, nil
}
