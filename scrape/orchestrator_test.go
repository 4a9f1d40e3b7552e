package scrape

import (
	"context"
	"testing"
	"time"

	"github.com/dealwatch/harvester/config"
	"github.com/dealwatch/harvester/models"
	"github.com/dealwatch/harvester/sitehealth"
)

func newGateOrchestrator(t *testing.T) (*Orchestrator, *sitehealth.Registry) {
	t.Helper()

	registry := sitehealth.NewRegistry(config.HealthConfig{
		LongBackoff:    time.Hour,
		ShortBackoff:   15 * time.Minute,
		ErrorThreshold: 3,
	}, nil)

	orch, err := NewOrchestrator(config.ScrapeConfig{}, nil, registry, nil, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return orch, registry
}

func TestScrapeRefusesCoolingDownSite(t *testing.T) {
	orch, registry := newGateOrchestrator(t)

	registry.MarkError("vinted", sitehealth.KindLoginRequired, "login wall")

	_, err := orch.Scrape(context.Background(), models.Monitor{
		ID:        "m1",
		Site:      "vinted",
		SearchURL: "https://www.vinted.fr/catalog?search_text=jacket",
		AuthMode:  models.AuthAnonymous,
	})
	if models.CodeOf(err) != models.ErrCodeSiteCoolingDown {
		t.Fatalf("err = %v, want code %s", err, models.ErrCodeSiteCoolingDown)
	}
}

func TestScrapeRefusesDegradedSiteForCookieMonitors(t *testing.T) {
	orch, registry := newGateOrchestrator(t)

	// Expired leaves the site usable but degraded: no backoff window.
	registry.MarkExpired("vinted", "session died mid-flight")

	monitor := models.Monitor{
		ID:        "m1",
		UserID:    "u1",
		Site:      "vinted",
		SearchURL: "https://www.vinted.fr/catalog?search_text=jacket",
	}

	monitor.AuthMode = models.AuthCookiesRequired
	_, err := orch.Scrape(context.Background(), monitor)
	if models.CodeOf(err) != models.ErrCodeNeedsReauth {
		t.Fatalf("cookies_required: err = %v, want code %s", err, models.ErrCodeNeedsReauth)
	}

	// cookies_optional only proceeds when the monitor opted into running
	// without its session.
	monitor.AuthMode = models.AuthCookiesOptional
	monitor.AllowDegraded = false
	_, err = orch.Scrape(context.Background(), monitor)
	if models.CodeOf(err) != models.ErrCodeNeedsReauth {
		t.Fatalf("cookies_optional: err = %v, want code %s", err, models.ErrCodeNeedsReauth)
	}
}
