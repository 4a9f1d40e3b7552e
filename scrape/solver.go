package scrape

import (
	"context"

	"github.com/go-rod/rod"
)

// CaptchaSolver is the pluggable boundary to an external challenge-solving
// service. It operates on the live page: a successful Solve leaves the
// page past the challenge and ready for re-diagnosis. When no solver is
// configured, challenge handling fails closed.
type CaptchaSolver interface {
	Solve(ctx context.Context, page *rod.Page) error
}
