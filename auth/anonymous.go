package auth

import (
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/mazen160/go-random"
)

// userAgents is a rotation of current desktop browser identities. Kept
// static so a build works offline; refresh the list when bumping browser
// major versions.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
}

// viewports covers the common desktop resolutions. Randomizing among real
// sizes avoids the telltale headless default of 800x600.
var viewports = [][2]int{
	{1920, 1080},
	{1920, 1200},
	{1680, 1050},
	{1600, 900},
	{1536, 864},
	{1440, 900},
	{1366, 768},
}

func pick[T any](items []T) T {
	idx, err := random.IntRange(0, len(items))
	if err != nil {
		idx = 0
	}
	return items[idx]
}

// applyAnonymousIdentity gives a fresh page a randomized but plausible
// desktop identity: rotated user agent and a real-world viewport size.
func applyAnonymousIdentity(page *rod.Page) error {
	ua := pick(userAgents)
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      ua,
		AcceptLanguage: "en-US,en;q=0.9",
	}); err != nil {
		return err
	}

	vp := pick(viewports)
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp[0],
		Height:            vp[1],
		DeviceScaleFactor: 1,
		Mobile:            false,
	}); err != nil {
		// Viewport is cosmetic next to the user agent; keep going.
		slog.Debug("viewport override failed", "error", err)
	}
	return nil
}
