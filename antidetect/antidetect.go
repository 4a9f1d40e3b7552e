// Package antidetect applies resource-blocking rules and stealth patches
// to browser pages so automated traffic resembles ordinary browsing.
package antidetect

import (
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

// Config declares what to apply to a page before navigation.
type Config struct {
	// BlockedResources lists resource types to block ("Image",
	// "Stylesheet", "Font", "Media", "Script").
	BlockedResources []string

	// BlockAds blocks requests to known ad/tracking domains.
	BlockAds bool

	// Stealth injects the go-rod/stealth evasion bundle.
	Stealth bool

	// PatchFingerprint installs the lighter hand-rolled patches
	// (navigator.webdriver, plugins, languages, permissions) for pages
	// where the full stealth bundle is unwanted.
	PatchFingerprint bool

	// ExtraHeaders is merged into every request from the page.
	ExtraHeaders map[string]string
}

// fingerprintJS neutralises the automation signals that cheap bot checks
// probe for. Evaluated on every new document, before site scripts run.
const fingerprintJS = `() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'plugins', {
		get: () => [1, 2, 3, 4, 5],
	});
	Object.defineProperty(navigator, 'languages', {
		get: () => ['en-US', 'en'],
	});
	if (window.navigator.permissions && window.navigator.permissions.query) {
		const originalQuery = window.navigator.permissions.query;
		window.navigator.permissions.query = (parameters) =>
			parameters.name === 'notifications'
				? Promise.resolve({ state: Notification.permission })
				: originalQuery(parameters);
	}
}`

// Apply installs the configured evasions and interception rules on the
// page. Stealth and fingerprint patches only take effect for navigations
// that happen after Apply, so it must run before page.Navigate. The
// returned cleanup stops the hijack router (nil-safe to defer).
func Apply(page *rod.Page, cfg Config) (func(), error) {
	if cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}

	if cfg.PatchFingerprint && !cfg.Stealth {
		// The stealth bundle already covers these; only patch by hand
		// when the bundle is off.
		if _, err := page.EvalOnNewDocument(fingerprintJS); err != nil {
			slog.Warn("fingerprint patch failed", "error", err)
		}
	}

	if len(cfg.ExtraHeaders) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(cfg.ExtraHeaders),
		}.Call(page)
	}

	router := mountHijack(page, cfg.BlockedResources, cfg.BlockAds)
	cleanup := func() {
		if router != nil {
			_ = router.Stop()
		}
	}
	return cleanup, nil
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders
// type (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
