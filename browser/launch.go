package browser

import (
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/dealwatch/harvester/config"
)

// launchFunc starts a browser process and returns the connected handle
// plus a kill function that tears the process down.
type launchFunc func(cfg config.BrowserConfig, proxy string) (*rod.Browser, func(), error)

// defaultLaunch starts a Chromium process tuned for long-running scraping
// under constrained memory. Sandboxing, GPU and background networking are
// disabled; single-process mode is deliberately NOT used so a renderer
// crash cannot take down the whole pool.
func defaultLaunch(cfg config.BrowserConfig, proxy string) (*rod.Browser, func(), error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if proxy != "" {
		l = l.Proxy(proxy)
	}

	l.Set(flags.Flag("disable-gpu"))
	l.Set(flags.Flag("disable-background-networking"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("connect to browser: %w", err)
	}

	kill := func() {
		_ = b.Close()
		l.Kill()
	}
	return b, kill, nil
}

// defaultProbe verifies the cached handle still answers CDP calls.
func defaultProbe(b *rod.Browser) error {
	_, err := proto.BrowserGetVersion{}.Call(b)
	return err
}
